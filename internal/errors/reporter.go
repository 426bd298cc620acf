package errors

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// ErrorReport represents a comprehensive error report
type ErrorReport struct {
	Timestamp   time.Time         `json:"timestamp"`
	Error       *IntuneError      `json:"error"`
	Environment *EnvironmentInfo  `json:"environment"`
	Context     *OperationContext `json:"context"`
}

// EnvironmentInfo contains information about the runtime environment
type EnvironmentInfo struct {
	OS            string `json:"os"`
	Platform      string `json:"platform,omitempty"`
	PlatformVer   string `json:"platform_version,omitempty"`
	KernelVersion string `json:"kernel_version,omitempty"`
	Architecture  string `json:"architecture"`
	GoVersion     string `json:"go_version"`
	ToolVersion   string `json:"tool_version"`
	WorkingDir    string `json:"working_dir"`
	Hostname      string `json:"hostname,omitempty"`
}

// OperationContext contains information about the operation that failed
type OperationContext struct {
	Command     string            `json:"command"`
	Arguments   []string          `json:"arguments"`
	Flags       map[string]string `json:"flags"`
	Duration    time.Duration     `json:"duration"`
	StepsFailed []string          `json:"steps_failed,omitempty"`
}

// ErrorReporter writes error reports for failed runs
type ErrorReporter struct {
	reportDir   string
	toolVersion string
	hostInfo    func() (*host.InfoStat, error)
}

// NewErrorReporter creates a new error reporter
func NewErrorReporter(reportDir, toolVersion string) *ErrorReporter {
	return &ErrorReporter{
		reportDir:   reportDir,
		toolVersion: toolVersion,
		hostInfo:    host.Info,
	}
}

// GenerateReport builds a report for err; environment lookups are best effort
func (er *ErrorReporter) GenerateReport(err *IntuneError, context *OperationContext) *ErrorReport {
	return &ErrorReport{
		Timestamp:   time.Now(),
		Error:       err,
		Context:     context,
		Environment: er.gatherEnvironmentInfo(),
	}
}

// SaveReport saves an error report to disk and returns its path
func (er *ErrorReporter) SaveReport(report *ErrorReport) (string, error) {
	if err := os.MkdirAll(er.reportDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	filename := fmt.Sprintf("error_report_%s_%s.json", report.Timestamp.Format("20060102_150405"), report.Error.Code)
	path := filepath.Join(er.reportDir, filename)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	return path, nil
}

// DisplayReport writes a short human-readable summary of the report
func (er *ErrorReporter) DisplayReport(w io.Writer, report *ErrorReport) {
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Time:    %s\n", report.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Type:    %s\n", report.Error.Type.String())
	fmt.Fprintf(w, "Code:    %s\n", report.Error.Code)
	fmt.Fprintf(w, "Message: %s\n", report.Error.Message)

	if report.Context != nil {
		fmt.Fprintf(w, "Command: %s %s\n", report.Context.Command, strings.Join(report.Context.Arguments, " "))
		if report.Context.Duration > 0 {
			fmt.Fprintf(w, "Duration: %v\n", report.Context.Duration.Round(time.Millisecond))
		}
	}

	if env := report.Environment; env != nil {
		fmt.Fprintf(w, "Host:    %s %s (%s/%s)\n", env.Platform, env.PlatformVer, env.OS, env.Architecture)
	}
	fmt.Fprintln(w, strings.Repeat("=", 60))
}

func (er *ErrorReporter) gatherEnvironmentInfo() *EnvironmentInfo {
	info := &EnvironmentInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		GoVersion:    runtime.Version(),
		ToolVersion:  er.toolVersion,
	}

	if wd, err := os.Getwd(); err == nil {
		info.WorkingDir = wd
	}

	if er.hostInfo != nil {
		if hi, err := er.hostInfo(); err == nil && hi != nil {
			info.Hostname = hi.Hostname
			info.Platform = hi.Platform
			info.PlatformVer = hi.PlatformVersion
			info.KernelVersion = hi.KernelVersion
		}
	}

	return info
}
