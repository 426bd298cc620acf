package cmd

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ThomasHoins/Intunewin/internal/config"
	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/ThomasHoins/Intunewin/internal/i18n"
	"github.com/ThomasHoins/Intunewin/pkg/graph"
	"github.com/ThomasHoins/Intunewin/pkg/models"
	"github.com/ThomasHoins/Intunewin/pkg/system"
	"github.com/ThomasHoins/Intunewin/pkg/utils"
)

var doctorOnline bool

// checkResult is one line of the doctor report
type checkResult struct {
	Name       string
	OK         bool
	Warning    bool
	Detail     string
	Suggestion string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment for packaging and publishing",
	Long: `The doctor command checks:
- the configuration file
- the Win32 content prep tool
- Graph credentials (and, with --online, that a token can be acquired)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "intunewin doctor")
		fmt.Fprintln(out, strings.Repeat("=", 50))

		results := runChecks(cmd, time.Now())
		failed := printChecks(out, results)

		fmt.Fprintln(out, strings.Repeat("=", 50))
		if failed == 0 {
			fmt.Fprintln(out, i18n.T("msg.doctor.ok"))
			return nil
		}
		return apperrors.NewValidationError("CHECKS_FAILED",
			i18n.T("msg.doctor.failed", map[string]interface{}{"Count": failed}))
	},
}

func runChecks(cmd *cobra.Command, now time.Time) []checkResult {
	var results []checkResult

	platform := checkResult{Name: "Platform", OK: true, Detail: runtime.GOOS + "/" + runtime.GOARCH}
	if runtime.GOOS != "windows" {
		platform.Warning = true
		platform.Suggestion = "Packaging and detection probes (MSI, file versions, registry) need Windows"
	}
	results = append(results, platform)

	cfg, err := loadConfig()
	if err != nil {
		results = append(results, checkResult{Name: "Configuration", Detail: err.Error(),
			Suggestion: "Run 'intunewin init' to write a template"})
		return results
	}
	results = append(results, checkResult{Name: "Configuration", OK: true, Detail: cfg.Graph.BaseURL})

	tool, err := newPackager(cfg).ResolveTool()
	if err != nil {
		r := checkResult{Name: "Packaging tool", Detail: err.Error()}
		if ie, ok := apperrors.As(err); ok && len(ie.Suggestions) > 0 {
			r.Suggestion = ie.Suggestions[0]
		}
		results = append(results, r)
	} else {
		results = append(results, checkResult{Name: "Packaging tool", OK: true, Detail: tool})
	}

	results = append(results, checkWorkspace("."))
	results = append(results, checkCredentials(config.Credentials(cfg), now))

	if doctorOnline {
		results = append(results, checkToken(cmd, cfg))
	}
	return results
}

// checkWorkspace verifies the directory containers are written to by default
func checkWorkspace(dir string) checkResult {
	r := checkResult{Name: "Workspace"}
	rc := system.NewResourceChecker(logger)

	if err := rc.CheckWritable(dir); err != nil {
		r.Detail = err.Error()
		return r
	}
	info, err := rc.CheckDiskSpace(dir)
	if err != nil {
		r.OK = true
		r.Warning = true
		r.Detail = err.Error()
		return r
	}

	r.OK = true
	r.Detail = fmt.Sprintf("%s free (%.0f%% used)", utils.FormatBytes(int64(info.Free)), info.UsedPct)
	if info.Free < 1<<30 {
		r.Warning = true
		r.Suggestion = "Less than 1 GiB free; large packages may not fit"
	}
	return r
}

func checkCredentials(creds models.Credentials, now time.Time) checkResult {
	r := checkResult{Name: "Credentials"}

	switch {
	case creds.AccessToken != "":
		info, err := graph.InspectToken(creds.AccessToken)
		if err != nil {
			r.Detail = err.Error()
			return r
		}
		if !info.ExpiresAt.IsZero() && !now.Before(info.ExpiresAt) {
			r.Detail = "access token expired at " + info.ExpiresAt.Format(time.RFC3339)
			r.Suggestion = "Acquire a new token or configure a client secret"
			return r
		}
		r.OK = true
		r.Detail = fmt.Sprintf("static token for tenant %s, roles: %s", info.TenantID, strings.Join(info.Roles, ", "))
	case creds.HasSecret():
		r.OK = true
		r.Detail = "client credentials for " + creds.ClientID
	case creds.TenantID != "" && creds.ClientID != "":
		r.OK = true
		r.Warning = true
		r.Detail = "client secret missing, publish will prompt for it"
	default:
		r.Detail = "tenant.id and tenant.client_id are not set"
		r.Suggestion = "Set them in intunewin.yaml or INTUNEWIN_TENANT_ID / INTUNEWIN_TENANT_CLIENT_ID"
	}
	return r
}

func checkToken(cmd *cobra.Command, cfg *models.Config) checkResult {
	r := checkResult{Name: "Token"}
	tokens, err := graph.NewTokenSource(cmd.Context(), config.Credentials(cfg), nil)
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	tok, err := tokens.Token()
	if err != nil {
		r.Detail = err.Error()
		r.Suggestion = "Check the client secret and the app registration's Graph permissions"
		return r
	}
	r.OK = true
	r.Detail = "acquired, expires " + tok.Expiry.Format(time.RFC3339)
	return r
}

func printChecks(w io.Writer, results []checkResult) int {
	failed := 0
	for _, r := range results {
		mark := "✅"
		switch {
		case !r.OK:
			mark = "❌"
			failed++
		case r.Warning:
			mark = "⚠️ "
		}
		fmt.Fprintf(w, "%s %-15s %s\n", mark, r.Name, r.Detail)
		if r.Suggestion != "" {
			fmt.Fprintf(w, "   💡 %s\n", r.Suggestion)
		}
	}
	return failed
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().BoolVar(&doctorOnline, "online", false, "Also acquire a Graph token")
}
