package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ThomasHoins/Intunewin/internal/i18n"
	"github.com/ThomasHoins/Intunewin/pkg/intunewin"
	"github.com/ThomasHoins/Intunewin/pkg/models"
	"github.com/ThomasHoins/Intunewin/pkg/system"
	"github.com/ThomasHoins/Intunewin/pkg/utils"
)

var (
	packageOutput string
	packageScript string
	packagePad    bool
)

// newPackager is replaced in tests
var newPackager = func(cfg *models.Config) *intunewin.Packager {
	return intunewin.NewPackager(cfg.Packaging.ToolPath)
}

var packageCmd = &cobra.Command{
	Use:   "package <source>",
	Short: "Create an .intunewin container from a folder",
	Long: `Run the Win32 content prep tool on a source folder. The setup file
defaults to packaging.install_script from the configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		path, err := packageSource(cmd.Context(), cfg, packageRequest{
			Source:    args[0],
			Script:    packageScript,
			OutputDir: packageOutput,
			Pad:       packagePad || cfg.Packaging.Pad,
		})
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), i18n.T("msg.package.created", map[string]interface{}{"Path": path}))
		return nil
	},
}

type packageRequest struct {
	Source    string
	Script    string
	OutputDir string
	Pad       bool
}

// packageSource pads the source when asked, runs the packager and removes
// the padding again.
func packageSource(ctx context.Context, cfg *models.Config, req packageRequest) (string, error) {
	source, err := filepath.Abs(req.Source)
	if err != nil {
		return "", err
	}

	script := req.Script
	if script == "" {
		script = cfg.Packaging.InstallScript
	}
	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(source)
	}

	if req.Pad && cfg.Packaging.MinSizeMB > 0 {
		added, cleanup, err := intunewin.PadSource(source, int64(cfg.Packaging.MinSizeMB)<<20)
		if err != nil {
			return "", err
		}
		defer func() {
			if err := cleanup(); err != nil {
				logger.Warn("Failed to remove padding from %s: %v", source, err)
			}
		}()
		if added > 0 {
			logger.Info("Padded %s with %s", source, utils.FormatBytes(added))
		}
	}

	// The container is about as large as the source.
	if size, err := intunewin.SourceSize(source); err == nil {
		if err := system.NewResourceChecker(logger).EnsureSpace(outputDir, size); err != nil {
			return "", err
		}
	}

	p := newPackager(cfg)
	p.Logger = logger
	return p.Package(ctx, source, script, outputDir)
}

func init() {
	rootCmd.AddCommand(packageCmd)

	packageCmd.Flags().StringVarP(&packageOutput, "output", "o", "", "Output directory (default: parent of the source folder)")
	packageCmd.Flags().StringVarP(&packageScript, "script", "s", "", "Setup file inside the source folder")
	packageCmd.Flags().BoolVar(&packagePad, "pad", false, "Pad the source up to packaging.min_size_mb before packaging")
}
