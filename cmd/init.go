package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ThomasHoins/Intunewin/internal/config"
	"github.com/ThomasHoins/Intunewin/internal/i18n"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration template",
	Long: `Write intunewin.yaml with the default settings and placeholder tenant
values. The path defaults to --config or ./intunewin.yaml.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.FileName + ".yaml"
		switch {
		case len(args) == 1:
			path = args[0]
		case cfgFile != "":
			path = cfgFile
		}

		if err := config.SaveTemplate(path, initForce); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), i18n.T("msg.init.created", map[string]interface{}{"Path": path}))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing file")
}
