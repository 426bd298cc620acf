package intunewin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/ThomasHoins/Intunewin/pkg/utils"
)

// DefaultToolPath is the Microsoft Win32 Content Prep Tool executable
const DefaultToolPath = "IntuneWinAppUtil.exe"

// CommandRunner runs an external command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Packager wraps IntuneWinAppUtil.exe
type Packager struct {
	ToolPath string
	Runner   CommandRunner
	LookPath func(string) (string, error)
	Logger   utils.LeveledLogger
}

// NewPackager creates a packager for the given tool path
func NewPackager(toolPath string) *Packager {
	if toolPath == "" {
		toolPath = DefaultToolPath
	}
	return &Packager{
		ToolPath: toolPath,
		Runner:   execRunner{},
		LookPath: exec.LookPath,
		Logger:   utils.NopLogger(),
	}
}

// ResolveTool returns the absolute path of the packaging tool.
func (p *Packager) ResolveTool() (string, error) {
	resolved, err := p.LookPath(p.ToolPath)
	if err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrorTypeDependency, "PACKAGER_MISSING",
			fmt.Sprintf("packaging tool %s not found", p.ToolPath)).
			WithSuggestions([]string{
				"Download IntuneWinAppUtil.exe from github.com/microsoft/Microsoft-Win32-Content-Prep-Tool",
				"Set packaging.tool_path in the configuration file",
			})
	}
	return resolved, nil
}

// OutputName returns the file name the tool writes for setupFile.
func OutputName(setupFile string) string {
	base := filepath.Base(setupFile)
	return strings.TrimSuffix(base, filepath.Ext(base)) + Extension
}

// Package runs the tool on source and returns the path of the produced
// container in outputDir.
func (p *Packager) Package(ctx context.Context, source, setupFile, outputDir string) (string, error) {
	info, err := os.Stat(source)
	if err != nil || !info.IsDir() {
		return "", apperrors.NewNotFoundError("SOURCE_NOT_FOUND", fmt.Sprintf("source folder %s not found", source)).
			WithContext("source", source)
	}
	if _, err := os.Stat(filepath.Join(source, setupFile)); err != nil {
		return "", apperrors.NewNotFoundError("SOURCE_NOT_FOUND", fmt.Sprintf("setup file %s not found in %s", setupFile, source)).
			WithContext("source", source).
			WithContext("setup", setupFile)
	}

	tool, err := p.ResolveTool()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrorTypeFileSystem, "OUTPUT_MISSING",
			"failed to create output directory").
			WithContext("dir", outputDir)
	}

	args := []string{"-c", source, "-s", setupFile, "-o", outputDir, "-q"}
	p.Logger.Debug("Running %s with args: %v", tool, args)

	out, err := p.Runner.Run(ctx, tool, args...)
	if err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrorTypeDependency, "PACKAGER_FAILED",
			"packaging tool failed").
			WithContext("output", lastLines(string(out), 5))
	}

	result := filepath.Join(outputDir, OutputName(setupFile))
	if _, err := os.Stat(result); err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrorTypeFileSystem, "OUTPUT_MISSING",
			fmt.Sprintf("packaging tool did not produce %s", filepath.Base(result))).
			WithContext("dir", outputDir)
	}

	p.Logger.Info("Created %s", result)
	return result, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
