package detection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ThomasHoins/Intunewin/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func newTestBuilder(versions map[string]string) *Builder {
	b := NewBuilder(models.DetectionConfig{SearchDepth: 3})
	b.ReadProductCode = func(string) (string, error) { return "", errors.New("unexpected") }
	b.ReadFileVersion = func(p string) (string, error) {
		if v, ok := versions[filepath.Base(p)]; ok {
			return v, nil
		}
		return "", errors.New("no version resource")
	}
	b.LookupUninstall = func(string) (*UninstallEntry, error) { return nil, nil }
	return b
}

type fakeInstaller struct {
	onInstall  func()
	installs   int
	uninstalls int
	installErr error
}

func (f *fakeInstaller) Install(context.Context) error {
	f.installs++
	if f.installErr != nil {
		return f.installErr
	}
	if f.onInstall != nil {
		f.onInstall()
	}
	return nil
}

func (f *fakeInstaller) Uninstall(context.Context) error {
	f.uninstalls++
	return nil
}

func TestBuildRule_MSI(t *testing.T) {
	src := t.TempDir()
	touch(t, filepath.Join(src, "files", "7z2301-x64.msi"))

	b := newTestBuilder(nil)
	b.ReadProductCode = func(p string) (string, error) {
		assert.Equal(t, "7z2301-x64.msi", filepath.Base(p))
		return "{23170F69-40C1-2702-2301-000001000000}", nil
	}

	res := b.BuildRule(context.Background(), Input{
		ScriptText: `msiexec /i "%~dp0files\7z2301-x64.msi" /qn`,
		SourceDir:  src,
		TargetFile: "7z.exe",
	})

	require.IsType(t, models.MSIProductCodeRule{}, res.Rule)
	assert.Equal(t, "{23170F69-40C1-2702-2301-000001000000}", res.Rule.(models.MSIProductCodeRule).ProductCode)
	assert.Equal(t, SourceMSI, res.Source)
	assert.False(t, res.ManualConfigurationRequired)
}

func TestBuildRule_MSIFromManifest(t *testing.T) {
	b := newTestBuilder(nil)
	res := b.BuildRule(context.Background(), Input{
		ScriptText:          "MsiExec.exe /i setup.msi /qn",
		ManifestProductCode: "{ABC}",
	})
	assert.Equal(t, models.NewProductCodeRule("{ABC}"), res.Rule)
}

func TestBuildRule_MSIAmbiguousFallsThrough(t *testing.T) {
	src := t.TempDir()
	touch(t, filepath.Join(src, "a.msi"))
	touch(t, filepath.Join(src, "b.msi"))

	res := newTestBuilder(nil).BuildRule(context.Background(), Input{
		ScriptText: "msiexec /i a.msi",
		SourceDir:  src,
	})
	assert.Equal(t, SourceNone, res.Source)
	assert.True(t, res.ManualConfigurationRequired)
	assert.Len(t, res.Warnings, 2)
}

func TestBuildRule_FileSearch(t *testing.T) {
	root := t.TempDir()
	exe := filepath.Join(root, "Notepad++", "notepad++.exe")
	touch(t, exe)

	res := newTestBuilder(map[string]string{"notepad++.exe": "8.7.5.0"}).BuildRule(context.Background(), Input{
		ScriptText:      "npp.8.7.5.Installer.x64.exe /S",
		TargetFile:      "Notepad++.exe",
		DeclaredVersion: "8.7.5.0",
		SearchRoots:     []string{filepath.Join(root, "missing"), root},
	})

	require.IsType(t, models.FileSystemRule{}, res.Rule)
	rule := res.Rule.(models.FileSystemRule)
	assert.Equal(t, filepath.Join(root, "Notepad++"), rule.Path)
	assert.Equal(t, "notepad++.exe", rule.FileOrFolderName)
	assert.Equal(t, "greaterThanOrEqual", rule.Operator)
	assert.Equal(t, "8.7.5.0", rule.ComparisonValue)
	assert.Equal(t, SourceFileSearch, res.Source)
	assert.Empty(t, res.Warnings)
}

func TestBuildRule_FileSearchVersionMismatch(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "App", "app.exe"))

	res := newTestBuilder(map[string]string{"app.exe": "2.0.1.0"}).BuildRule(context.Background(), Input{
		TargetFile:      "app.exe",
		DeclaredVersion: "2.0.0",
		SearchRoots:     []string{root},
	})

	rule := res.Rule.(models.FileSystemRule)
	assert.Equal(t, "2.0.0", rule.ComparisonValue, "declared version is the comparison value")
	assert.Equal(t, "2.0.1.0", res.InstalledVersion)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "2.0.1.0")
}

func TestBuildRule_FileSearchRespectsDepth(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a", "b", "c", "d", "app.exe"))

	assert.Empty(t, FindFile([]string{root}, "app.exe", 3))
	assert.NotEmpty(t, FindFile([]string{root}, "app.exe", 4))
}

func TestBuildRule_LocalInstall(t *testing.T) {
	root := t.TempDir()
	inst := &fakeInstaller{onInstall: func() { touch(t, filepath.Join(root, "Vendor", "tool.exe")) }}

	b := newTestBuilder(map[string]string{"tool.exe": "1.2.3.4"})
	b.AllowLocalInstall = true
	b.Installer = inst

	res := b.BuildRule(context.Background(), Input{TargetFile: "tool.exe", SearchRoots: []string{root}})

	assert.Equal(t, SourceLocalInstall, res.Source)
	assert.Equal(t, "1.2.3.4", res.Rule.(models.FileSystemRule).ComparisonValue)
	assert.Equal(t, 1, inst.installs)
	assert.Equal(t, 1, inst.uninstalls)
}

func TestBuildRule_LocalInstallRegistryFallback(t *testing.T) {
	inst := &fakeInstaller{}
	b := newTestBuilder(nil)
	b.AllowLocalInstall = true
	b.Installer = inst
	b.LookupUninstall = func(name string) (*UninstallEntry, error) {
		return &UninstallEntry{Key: `SOFTWARE\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall\Tool`, DisplayName: name, Version: "5.0"}, nil
	}

	res := b.BuildRule(context.Background(), Input{TargetFile: "tool.exe", AppName: "Tool", SearchRoots: []string{t.TempDir()}})

	require.IsType(t, models.RegistryRule{}, res.Rule)
	rule := res.Rule.(models.RegistryRule)
	assert.True(t, rule.Check32BitOn64System)
	assert.Equal(t, "5.0", rule.ComparisonValue)
	assert.Equal(t, SourceRegistry, res.Source)
	assert.Equal(t, 1, inst.uninstalls)
}

func TestBuildRule_LocalInstallFailure(t *testing.T) {
	inst := &fakeInstaller{installErr: errors.New("exit 1603")}
	b := newTestBuilder(nil)
	b.AllowLocalInstall = true
	b.Installer = inst

	res := b.BuildRule(context.Background(), Input{TargetFile: "tool.exe", SearchRoots: []string{t.TempDir()}})
	assert.Equal(t, SourceNone, res.Source)
	assert.Zero(t, inst.uninstalls)
	assert.Len(t, res.Warnings, 2)
}

func TestBuildRule_NoSignal(t *testing.T) {
	res := newTestBuilder(nil).BuildRule(context.Background(), Input{ScriptText: "setup.exe /quiet"})

	assert.Equal(t, models.RuleKindAbsent, res.Rule.Kind())
	assert.True(t, res.ManualConfigurationRequired)
	require.Len(t, res.Warnings, 1)
}

func TestSameVersion(t *testing.T) {
	assert.True(t, SameVersion("8.7.5", "8.7.5.0"))
	assert.False(t, SameVersion("8.7.5.1", "8.7.5.0"))
	assert.True(t, SameVersion("build-a", "BUILD-A"))
}

func TestScriptInstaller(t *testing.T) {
	var calls []string
	s := NewScriptInstaller(`C:\src`, "install.bat", "uninstall.bat")
	s.run = func(_ context.Context, dir, script string) ([]byte, error) {
		calls = append(calls, dir+"|"+script)
		if script == "uninstall.bat" {
			return []byte("access denied\r\n"), errors.New("exit status 5")
		}
		return nil, nil
	}

	require.NoError(t, s.Install(context.Background()))
	err := s.Uninstall(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Equal(t, []string{`C:\src|install.bat`, `C:\src|uninstall.bat`}, calls)
}
