package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ThomasHoins/Intunewin/internal/i18n"
)

// applyCommandLocalization updates command and flag descriptions after i18n is initialized.
func applyCommandLocalization() {
	rootCmd.Short = i18n.T("cmd.root.short")
	rootCmd.Long = i18n.T("cmd.root.long")

	localizeFlags(rootCmd, true, map[string]string{
		"config":     "flags.config",
		"verbose":    "flags.verbose",
		"debug":      "flags.debug",
		"log-file":   "flags.logFile",
		"no-color":   "flags.noColor",
		"lang":       "flags.lang",
		"report-dir": "flags.reportDir",
	})

	packageCmd.Short = i18n.T("cmd.package.short")
	packageCmd.Long = i18n.T("cmd.package.long")
	localizeFlags(packageCmd, false, map[string]string{
		"output": "flags.output",
		"script": "flags.script",
		"pad":    "flags.pad",
	})

	inspectCmd.Short = i18n.T("cmd.inspect.short")
	inspectCmd.Long = i18n.T("cmd.inspect.long")
	localizeFlags(inspectCmd, false, map[string]string{"format": "flags.format"})

	publishCmd.Short = i18n.T("cmd.publish.short")
	publishCmd.Long = i18n.T("cmd.publish.long")
	localizeFlags(publishCmd, false, map[string]string{
		"script":    "flags.script",
		"uninstall": "flags.uninstall",
		"output":    "flags.output",
		"pad":       "flags.pad",
		"upload":    "flags.upload",
		"format":    "flags.format",
	})

	initCmd.Short = i18n.T("cmd.init.short")
	initCmd.Long = i18n.T("cmd.init.long")
	localizeFlags(initCmd, false, map[string]string{"force": "flags.force"})

	doctorCmd.Short = i18n.T("cmd.doctor.short")
	doctorCmd.Long = i18n.T("cmd.doctor.long")
	localizeFlags(doctorCmd, false, map[string]string{"online": "flags.online"})

	versionCmd.Short = i18n.T("cmd.version.short")
	versionCmd.Long = i18n.T("cmd.version.long")
}

func localizeFlags(cmd *cobra.Command, persistent bool, ids map[string]string) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for name, id := range ids {
		if flag := flags.Lookup(name); flag != nil {
			flag.Usage = i18n.T(id)
		}
	}
}
