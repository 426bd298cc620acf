//go:build windows

package i18n

import "golang.org/x/sys/windows"

// getPlatformLocales returns the user's preferred UI languages, falling back
// to the system list.
func getPlatformLocales() []string {
	langs, err := windows.GetUserPreferredUILanguages(windows.MUI_LANGUAGE_NAME)
	if err != nil || len(langs) == 0 {
		langs, _ = windows.GetSystemPreferredUILanguages(windows.MUI_LANGUAGE_NAME)
	}

	var locales []string
	for _, l := range langs {
		if l != "" {
			locales = append(locales, l)
		}
	}
	return locales
}
