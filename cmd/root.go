package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ThomasHoins/Intunewin/internal/config"
	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/ThomasHoins/Intunewin/internal/i18n"
	"github.com/ThomasHoins/Intunewin/internal/version"
	"github.com/ThomasHoins/Intunewin/pkg/models"
	"github.com/ThomasHoins/Intunewin/pkg/utils"
)

const defaultReportDir = ".intunewin/reports"

var (
	cfgFile   string
	verbose   bool
	debugMode bool
	logFile   string
	noColor   bool
	langFlag  string
	reportDir string

	logger utils.Logger = utils.GetGlobalLogger()
)

var rootCmd = &cobra.Command{
	Use:   "intunewin",
	Short: "Package and publish Win32 apps to Microsoft Intune",
	Long: `intunewin wraps an application folder into an .intunewin container,
reads the app metadata from its install script, derives a detection rule and
uploads the result to Intune through Microsoft Graph.`,
	Version:       version.Short(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if c, ok := logger.(io.Closer); ok {
			c.Close()
		}
	},
}

// Execute runs the root command. Errors are printed once, here, and end the
// process with a non-zero status.
func Execute() {
	if err := i18n.Init(langFromArgs(os.Args[1:])); err != nil {
		fmt.Fprintf(os.Stderr, "i18n init failed: %v\n", err)
	}
	applyCommandLocalization()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		return
	}

	reportError(cmd, err, time.Since(start))
	stop()
	os.Exit(1)
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Config file (default ./intunewin.yaml or ~/.config/intunewin/intunewin.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	flags.BoolVar(&debugMode, "debug", false, "Debug output and always write an error report")
	flags.StringVar(&logFile, "log-file", "", "Also write the log to this file")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.StringVar(&langFlag, "lang", "", "Message language (en, de)")
	flags.StringVar(&reportDir, "report-dir", "", "Write a JSON error report to this directory on failure")
}

func setupLogging() error {
	lc := utils.DefaultLoggerConfig()
	if verbose || debugMode {
		lc.Level = utils.LogLevelDebug
	}
	lc.EnableColor = !noColor && term.IsTerminal(int(os.Stderr.Fd()))
	lc.FilePath = logFile

	if err := utils.InitGlobalLogger(lc); err != nil {
		return apperrors.WrapError(err, apperrors.ErrorTypeFileSystem, "LOG_FILE", "failed to open log file").
			WithContext("path", logFile)
	}
	logger = utils.GetGlobalLogger()
	return nil
}

func loadConfig() (*models.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger.Debug("Configuration loaded (graph %s)", cfg.Graph.BaseURL)
	return cfg, nil
}

// langFromArgs finds --lang before cobra has parsed anything, so help texts
// can be localized too.
func langFromArgs(args []string) string {
	for i, a := range args {
		switch {
		case a == "--":
			return ""
		case strings.HasPrefix(a, "--lang="):
			return strings.TrimPrefix(a, "--lang=")
		case a == "--lang" && i+1 < len(args):
			return args[i+1]
		}
	}
	return ""
}

func reportError(cmd *cobra.Command, err error, elapsed time.Duration) {
	ie, ok := apperrors.As(err)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprint(os.Stderr, ie.FormatDetailed())

	dir := reportDir
	if dir == "" && debugMode {
		dir = defaultReportDir
	}
	if dir == "" || cmd == nil {
		return
	}

	reporter := apperrors.NewErrorReporter(dir, version.Short())
	report := reporter.GenerateReport(ie, &apperrors.OperationContext{
		Command:   cmd.CommandPath(),
		Arguments: cmd.Flags().Args(),
		Flags:     changedFlags(cmd),
		Duration:  elapsed,
	})
	path, saveErr := reporter.SaveReport(report)
	if saveErr != nil {
		fmt.Fprintf(os.Stderr, "failed to save error report: %v\n", saveErr)
		return
	}
	if debugMode {
		reporter.DisplayReport(os.Stderr, report)
	}
	fmt.Fprintf(os.Stderr, "Error report: %s\n", path)
}

func changedFlags(cmd *cobra.Command) map[string]string {
	out := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		out[f.Name] = f.Value.String()
	})
	return out
}
