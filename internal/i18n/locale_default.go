//go:build !windows

package i18n

// getPlatformLocales has nothing to add outside Windows; LANG and friends
// are read by selectLanguage.
func getPlatformLocales() []string {
	return nil
}
