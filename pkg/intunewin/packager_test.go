package intunewin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	name string
	args []string
	run  func(args []string) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.name = name
	f.args = args
	return f.run(args)
}

func newSource(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "install.bat"), []byte("@echo off\r\n"), 0644))
	return src
}

func newTestPackager(runner CommandRunner) *Packager {
	p := NewPackager("")
	p.Runner = runner
	p.LookPath = func(s string) (string, error) { return `C:\tools\` + s, nil }
	return p
}

func TestPackager_Package(t *testing.T) {
	src := newSource(t)
	out := filepath.Join(t.TempDir(), "out")

	runner := &fakeRunner{run: func(args []string) ([]byte, error) {
		return nil, os.WriteFile(filepath.Join(args[5], "install.intunewin"), []byte("zip"), 0644)
	}}

	path, err := newTestPackager(runner).Package(context.Background(), src, "install.bat", out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "install.intunewin"), path)
	assert.Equal(t, `C:\tools\IntuneWinAppUtil.exe`, runner.name)
	assert.Equal(t, []string{"-c", src, "-s", "install.bat", "-o", out, "-q"}, runner.args)
}

func TestPackager_Errors(t *testing.T) {
	src := newSource(t)
	out := t.TempDir()
	ok := &fakeRunner{run: func([]string) ([]byte, error) { return nil, nil }}

	_, err := newTestPackager(ok).Package(context.Background(), filepath.Join(src, "nope"), "install.bat", out)
	assert.True(t, errors.Is(err, apperrors.Sentinel(apperrors.ErrorTypeNotFound, "SOURCE_NOT_FOUND")))

	_, err = newTestPackager(ok).Package(context.Background(), src, "setup.cmd", out)
	assert.True(t, errors.Is(err, apperrors.Sentinel(apperrors.ErrorTypeNotFound, "SOURCE_NOT_FOUND")))

	missingTool := newTestPackager(ok)
	missingTool.LookPath = func(string) (string, error) { return "", errors.New("not found") }
	_, err = missingTool.Package(context.Background(), src, "install.bat", out)
	assert.True(t, errors.Is(err, apperrors.Sentinel(apperrors.ErrorTypeDependency, "PACKAGER_MISSING")))

	failing := &fakeRunner{run: func([]string) ([]byte, error) { return []byte("line1\nboom"), errors.New("exit 1") }}
	_, err = newTestPackager(failing).Package(context.Background(), src, "install.bat", out)
	require.True(t, errors.Is(err, apperrors.Sentinel(apperrors.ErrorTypeDependency, "PACKAGER_FAILED")))
	e, _ := apperrors.As(err)
	assert.Contains(t, e.Context["output"], "boom")

	_, err = newTestPackager(ok).Package(context.Background(), src, "install.bat", out)
	assert.True(t, errors.Is(err, apperrors.Sentinel(apperrors.ErrorTypeFileSystem, "OUTPUT_MISSING")))
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "install.intunewin", OutputName("install.bat"))
	assert.Equal(t, "setup.intunewin", OutputName("setup.msi"))
}

func TestPadSource(t *testing.T) {
	src := newSource(t)
	before, err := SourceSize(src)
	require.NoError(t, err)

	added, cleanup, err := PadSource(src, 64*1024)
	require.NoError(t, err)
	assert.EqualValues(t, 64*1024-before, added)

	after, err := SourceSize(src)
	require.NoError(t, err)
	assert.EqualValues(t, 64*1024, after)

	require.NoError(t, cleanup())
	assert.NoFileExists(t, filepath.Join(src, PaddingFile))
}

func TestPadSource_AlreadyLargeEnough(t *testing.T) {
	src := newSource(t)
	added, cleanup, err := PadSource(src, 1)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.NoError(t, cleanup())
	assert.NoFileExists(t, filepath.Join(src, PaddingFile))
}
