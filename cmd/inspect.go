package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/ThomasHoins/Intunewin/pkg/intunewin"
)

var inspectFormat string

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.intunewin>",
	Short: "Show the manifest of an .intunewin container",
	Long: `Open a container, parse its Detection.xml and print the manifest
together with the measured size of the encrypted payload.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(inspectFormat); err != nil {
			return err
		}

		pkg, err := intunewin.ReadPackage(args[0])
		if err != nil {
			return err
		}
		defer func() {
			if err := pkg.Close(); err != nil {
				logger.Warn("Failed to remove %s: %v", pkg.WorkDir, err)
			}
		}()

		return printValue(cmd.OutOrStdout(), pkg.Manifest, inspectFormat)
	},
}

func checkFormat(format string) error {
	if format == "json" || format == "yaml" {
		return nil
	}
	return apperrors.NewValidationError("INVALID_FORMAT", fmt.Sprintf("unknown output format %q", format)).
		WithSuggestion("Use --format json or --format yaml")
}

// printValue writes v as indented JSON or YAML
func printValue(w io.Writer, v interface{}, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return checkFormat(format)
	}
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", "json", "Output format (json, yaml)")
}
