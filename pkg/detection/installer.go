package detection

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ScriptInstaller runs the package's own install and uninstall scripts
// from the source folder.
type ScriptInstaller struct {
	Dir             string
	InstallScript   string
	UninstallScript string

	run func(ctx context.Context, dir, script string) ([]byte, error)
}

// NewScriptInstaller creates an installer for the scripts in dir
func NewScriptInstaller(dir, install, uninstall string) *ScriptInstaller {
	return &ScriptInstaller{Dir: dir, InstallScript: install, UninstallScript: uninstall, run: runScript}
}

// Install runs the install script and waits for it
func (s *ScriptInstaller) Install(ctx context.Context) error {
	return s.exec(ctx, s.InstallScript)
}

// Uninstall runs the uninstall script and waits for it
func (s *ScriptInstaller) Uninstall(ctx context.Context) error {
	if s.UninstallScript == "" {
		return fmt.Errorf("no uninstall script configured")
	}
	return s.exec(ctx, s.UninstallScript)
}

func (s *ScriptInstaller) exec(ctx context.Context, script string) error {
	out, err := s.run(ctx, s.Dir, script)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", script, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func runScript(ctx context.Context, dir, script string) ([]byte, error) {
	var cmd *exec.Cmd
	if strings.EqualFold(filepath.Ext(script), ".ps1") {
		cmd = exec.CommandContext(ctx, "powershell.exe", "-NoProfile", "-ExecutionPolicy", "Bypass", "-File", script)
	} else {
		cmd = exec.CommandContext(ctx, "cmd.exe", "/c", script)
	}
	cmd.Dir = dir
	return cmd.CombinedOutput()
}
