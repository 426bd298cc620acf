package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ThomasHoins/Intunewin/internal/config"
	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/ThomasHoins/Intunewin/internal/i18n"
	"github.com/ThomasHoins/Intunewin/internal/version"
	"github.com/ThomasHoins/Intunewin/pkg/detection"
	"github.com/ThomasHoins/Intunewin/pkg/graph"
	"github.com/ThomasHoins/Intunewin/pkg/intunewin"
	"github.com/ThomasHoins/Intunewin/pkg/metadata"
	"github.com/ThomasHoins/Intunewin/pkg/models"
)

var (
	publishScript    string
	publishUninstall string
	publishOutput    string
	publishPad       bool
	publishUpload    bool
	publishFormat    string
)

// Seams for tests
var (
	isTerminal   = term.IsTerminal
	readPassword = term.ReadPassword
)

var publishCmd = &cobra.Command{
	Use:   "publish <source>",
	Short: "Package a folder and publish it as a Win32 app",
	Long: `Package the source folder, read the app metadata from the install
script, derive a detection rule and upload the container to Intune.

With --upload=false the app record is printed instead of uploaded.
An app whose content is already committed is left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkFormat(publishFormat); err != nil {
			return err
		}

		return runPublish(cmd.Context(), cfg, publishRequest{
			Source:    args[0],
			Script:    publishScript,
			Uninstall: publishUninstall,
			OutputDir: publishOutput,
			Pad:       publishPad || cfg.Packaging.Pad,
			Upload:    publishUpload,
			Format:    publishFormat,
		}, cmd.OutOrStdout())
	},
}

type publishRequest struct {
	Source    string
	Script    string
	Uninstall string
	OutputDir string
	Pad       bool
	Upload    bool
	Format    string
}

// newGraphDriver is replaced in tests
var newGraphDriver = func(ctx context.Context, cfg *models.Config) (*graph.Driver, error) {
	creds, err := completeCredentials(config.Credentials(cfg), os.Stdin)
	if err != nil {
		return nil, err
	}

	hc := &http.Client{Timeout: cfg.Graph.Timeout}
	tokens, err := graph.NewTokenSource(ctx, creds, hc)
	if err != nil {
		return nil, err
	}

	client := graph.NewClient(cfg.Graph.BaseURL, tokens,
		graph.WithHTTPClient(hc),
		graph.WithLogger(logger),
		graph.WithUserAgent(version.UserAgent()))
	logger.Debug("Graph session %s", client.SessionID())

	return graph.NewDriver(client, graph.DriverOptions{
		PollInterval: cfg.Upload.PollInterval,
		PollAttempts: cfg.Upload.PollAttempts,
		ChunkSize:    int64(cfg.Upload.ChunkSizeMB) << 20,
		RenewAfter:   cfg.Upload.RenewAfter,
		Logger:       logger,
		Progress:     func(line string) { logger.Info("%s", line) },
	}), nil
}

func runPublish(ctx context.Context, cfg *models.Config, req publishRequest, out io.Writer) error {
	source, err := filepath.Abs(req.Source)
	if err != nil {
		return err
	}
	if info, err := os.Stat(source); err != nil || !info.IsDir() {
		return apperrors.NewNotFoundError("SOURCE_NOT_FOUND", fmt.Sprintf("source folder %s not found", req.Source)).
			WithContext("source", req.Source)
	}

	script := req.Script
	if script == "" {
		script = cfg.Packaging.InstallScript
	}
	uninstall := req.Uninstall
	if uninstall == "" {
		uninstall = cfg.Packaging.UninstallScript
	}

	extractor := metadata.NewExtractor()
	extractor.Logger = logger
	meta, err := extractor.Extract(filepath.Join(source, script))
	if err != nil {
		return err
	}

	pkgPath, err := packageSource(ctx, cfg, packageRequest{
		Source:    source,
		Script:    script,
		OutputDir: req.OutputDir,
		Pad:       req.Pad,
	})
	if err != nil {
		return err
	}

	pkg, err := intunewin.ReadPackage(pkgPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := pkg.Close(); err != nil {
			logger.Warn("Failed to remove %s: %v", pkg.WorkDir, err)
		}
	}()

	descriptor := buildDescriptor(ctx, cfg, source, script, uninstall, meta, pkg)

	if !req.Upload {
		return printValue(out, descriptor, req.Format)
	}

	driver, err := newGraphDriver(ctx, cfg)
	if err != nil {
		return err
	}

	res, err := driver.Publish(ctx, descriptor, pkg)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		logger.Warn("%s", w)
	}

	if res.Stopped {
		fmt.Fprintln(out, i18n.T("msg.publish.softStop", map[string]interface{}{
			"Name": descriptor.DisplayName,
			"ID":   res.Session.AppID,
		}))
		if res.Stop != nil {
			for _, s := range res.Stop.Suggestions {
				fmt.Fprintf(out, "  - %s\n", s)
			}
		}
		return nil
	}

	fmt.Fprintf(out, "%s / %s / %s\n", res.Session.AppID, descriptor.DisplayName, descriptor.DisplayVersion)
	return nil
}

func buildDescriptor(ctx context.Context, cfg *models.Config, source, script, uninstall string, meta *metadata.AppMetadata, pkg *intunewin.Package) *models.AppDescriptor {
	builder := detection.NewBuilder(cfg.Detection)
	builder.Logger = logger
	if cfg.Detection.AllowLocalInstall {
		builder.Installer = detection.NewScriptInstaller(source, script, uninstall)
	}

	in := detection.Input{
		ScriptText:      meta.ScriptText,
		SourceDir:       source,
		TargetFile:      meta.FileName,
		DeclaredVersion: meta.Version,
		AppName:         meta.DisplayName,
	}
	msi := msiInformation(pkg.Manifest.MsiInfo)
	if msi != nil {
		in.ManifestProductCode = msi.ProductCode
	}

	rule := builder.BuildRule(ctx, in)
	for _, w := range rule.Warnings {
		logger.Warn("%s", w)
	}

	var icon *models.Icon
	if meta.IconPath != "" {
		var err error
		if icon, err = metadata.EncodeIcon(meta.IconPath); err != nil {
			logger.Warn("Icon %s skipped: %v", meta.IconPath, err)
		}
	}

	setup := pkg.Manifest.SetupFile
	if setup == "" {
		setup = script
	}

	return metadata.BuildDescriptor(metadata.DescriptorInput{
		Metadata:        meta,
		PackageFileName: filepath.Base(pkg.Path),
		SetupFile:       setup,
		UninstallScript: uninstall,
		Rule:            rule.Rule,
		Msi:             msi,
		Icon:            icon,
		Defaults:        cfg.App,
	})
}

func msiInformation(m *intunewin.MsiInfo) *models.MsiInformation {
	if m == nil || m.MsiProductCode == "" {
		return nil
	}
	return &models.MsiInformation{
		ProductCode:    m.MsiProductCode,
		ProductVersion: m.MsiProductVersion,
		UpgradeCode:    m.MsiUpgradeCode,
		RequiresReboot: m.MsiRequiresReboot,
		PackageType:    m.PackageType(),
		Publisher:      m.MsiPublisher,
	}
}

// completeCredentials prompts for the client secret when only the tenant
// and client id are configured and stdin is a terminal.
func completeCredentials(creds models.Credentials, stdin *os.File) (models.Credentials, error) {
	if creds.AccessToken != "" || creds.ClientSecret != "" {
		return creds, nil
	}
	if creds.TenantID == "" || creds.ClientID == "" || !isTerminal(int(stdin.Fd())) {
		return creds, nil
	}

	fmt.Fprint(os.Stderr, i18n.T("msg.prompt.secret", map[string]interface{}{"ClientID": creds.ClientID}))
	secret, err := readPassword(int(stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return creds, apperrors.WrapError(err, apperrors.ErrorTypeAuth, graph.ErrAuthFailed.Code, "failed to read client secret")
	}
	creds.ClientSecret = strings.TrimSpace(string(secret))
	return creds, nil
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().StringVarP(&publishScript, "script", "s", "", "Install script inside the source folder")
	publishCmd.Flags().StringVarP(&publishUninstall, "uninstall", "u", "", "Uninstall script inside the source folder")
	publishCmd.Flags().StringVarP(&publishOutput, "output", "o", "", "Output directory for the container")
	publishCmd.Flags().BoolVar(&publishPad, "pad", false, "Pad the source up to packaging.min_size_mb before packaging")
	publishCmd.Flags().BoolVar(&publishUpload, "upload", true, "Upload to Intune; with --upload=false only print the app record")
	publishCmd.Flags().StringVarP(&publishFormat, "format", "f", "json", "Output format of the app record (json, yaml)")
}
