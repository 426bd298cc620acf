package cmd

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThomasHoins/Intunewin/internal/config"
	"github.com/ThomasHoins/Intunewin/pkg/intunewin"
	"github.com/ThomasHoins/Intunewin/pkg/models"
	"github.com/ThomasHoins/Intunewin/pkg/utils"
)

const testManifest = `<ApplicationInfo ToolVersion="1.8.6">
  <Name>install.bat</Name>
  <UnencryptedContentSize>1024</UnencryptedContentSize>
  <FileName>IntunePackage.intunewin</FileName>
  <SetupFile>install.bat</SetupFile>
  <EncryptionInfo>
    <EncryptionKey>a2V5</EncryptionKey>
    <MacKey>bWFj</MacKey>
    <InitializationVector>aXY=</InitializationVector>
    <Mac>bWFjdmFs</Mac>
    <ProfileIdentifier>ProfileVersion1</ProfileIdentifier>
    <FileDigest>ZGlnZXN0</FileDigest>
    <FileDigestAlgorithm>SHA256</FileDigestAlgorithm>
  </EncryptionInfo>
</ApplicationInfo>`

// containerRunner stands in for the packaging tool and writes a minimal
// container into the -o directory.
type containerRunner struct {
	calls  int
	during func()
}

func (r *containerRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	r.calls++
	if r.during != nil {
		r.during()
	}

	var out, setup string
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "-o":
			out = args[i+1]
		case "-s":
			setup = args[i+1]
		}
	}

	f, err := os.Create(filepath.Join(out, intunewin.OutputName(setup)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, body := range map[string]string{
		"IntuneWinPackage/Metadata/Detection.xml":           testManifest,
		"IntuneWinPackage/Contents/IntunePackage.intunewin": strings.Repeat("x", 2048),
	} {
		w, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(body)); err != nil {
			return nil, err
		}
	}
	return nil, zw.Close()
}

func useFakePackager(t *testing.T, r *containerRunner) {
	t.Helper()
	orig := newPackager
	newPackager = func(cfg *models.Config) *intunewin.Packager {
		return &intunewin.Packager{
			ToolPath: "IntuneWinAppUtil.exe",
			Runner:   r,
			LookPath: func(s string) (string, error) { return s, nil },
			Logger:   utils.NopLogger(),
		}
	}
	t.Cleanup(func() { newPackager = orig })
}

func writeSource(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "notepadpp")
	require.NoError(t, os.MkdirAll(src, 0755))
	script := "REM DESCRIPTION Notepad++\r\n" +
		"REM MANUFACTURER Don Ho\r\n" +
		"REM VERSION 8.6.2\r\n" +
		"REM FILENAME notepad++.exe\r\n" +
		"npp.8.6.2.Installer.x64.exe /S\r\n"
	require.NoError(t, os.WriteFile(filepath.Join(src, "install.bat"), []byte(script), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "uninstall.bat"), []byte("uninstall.exe /S\r\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "description.txt"), []byte("A text editor."), 0644))
	return src
}

func TestRunPublish_DryRun(t *testing.T) {
	runner := &containerRunner{}
	useFakePackager(t, runner)

	src := writeSource(t)
	installRoot := t.TempDir()
	appDir := filepath.Join(installRoot, "Notepad++")
	require.NoError(t, os.MkdirAll(appDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "notepad++.exe"), []byte("MZ"), 0644))

	cfg := config.Default()
	cfg.Detection.SearchRoots = []string{installRoot}
	outDir := t.TempDir()

	var out bytes.Buffer
	err := runPublish(context.Background(), &cfg, publishRequest{
		Source:    src,
		OutputDir: outDir,
		Format:    "json",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)

	var d map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &d))
	assert.Equal(t, "Notepad++", d["displayName"])
	assert.Equal(t, "Don Ho", d["publisher"])
	assert.Equal(t, "8.6.2", d["displayVersion"])
	assert.Equal(t, "A text editor.", d["description"])
	assert.Equal(t, "install.intunewin", d["fileName"])
	assert.Equal(t, "install.bat", d["installCommandLine"])
	assert.Equal(t, "uninstall.bat", d["uninstallCommandLine"])

	rules := d["rules"].([]interface{})
	require.Len(t, rules, 1)
	rule := rules[0].(map[string]interface{})
	assert.Equal(t, "fileSystem", rule["kind"])
	assert.Equal(t, appDir, rule["path"])
	assert.Equal(t, "notepad++.exe", rule["fileOrFolderName"])
	assert.Equal(t, "8.6.2", rule["comparisonValue"])

	_, err = os.Stat(intunewin.WorkDirFor(filepath.Join(outDir, "install.intunewin")))
	assert.True(t, os.IsNotExist(err), "working directory is removed")
}

func TestRunPublish_MissingSource(t *testing.T) {
	cfg := config.Default()
	err := runPublish(context.Background(), &cfg, publishRequest{Source: filepath.Join(t.TempDir(), "nope"), Format: "json"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestPackageSource_PadsAndCleansUp(t *testing.T) {
	src := writeSource(t)
	padding := filepath.Join(src, intunewin.PaddingFile)

	var sawPadding bool
	runner := &containerRunner{during: func() {
		_, err := os.Stat(padding)
		sawPadding = err == nil
	}}
	useFakePackager(t, runner)

	cfg := config.Default()
	cfg.Packaging.MinSizeMB = 1

	path, err := packageSource(context.Background(), &cfg, packageRequest{Source: src, OutputDir: t.TempDir(), Pad: true})
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.True(t, sawPadding)
	assert.NoFileExists(t, padding)
}

func TestLangFromArgs(t *testing.T) {
	assert.Equal(t, "de", langFromArgs([]string{"publish", "--lang=de", "src"}))
	assert.Equal(t, "en", langFromArgs([]string{"--lang", "en", "doctor"}))
	assert.Equal(t, "", langFromArgs([]string{"publish", "--", "--lang=de"}))
	assert.Equal(t, "", langFromArgs([]string{"--lang"}))
}

func TestPrintValue(t *testing.T) {
	m := &intunewin.Manifest{Name: "install.bat", SetupFile: "install.bat", EncryptedContentSize: 42}

	var buf bytes.Buffer
	require.NoError(t, printValue(&buf, m, "yaml"))
	assert.Contains(t, buf.String(), "setup_file: install.bat")
	assert.Contains(t, buf.String(), "encrypted_content_size: 42")

	buf.Reset()
	require.NoError(t, printValue(&buf, m, "json"))
	assert.Contains(t, buf.String(), `"encryptedContentSize": 42`)

	assert.Error(t, printValue(&buf, m, "xml"))
}

func TestMsiInformation(t *testing.T) {
	assert.Nil(t, msiInformation(nil))
	assert.Nil(t, msiInformation(&intunewin.MsiInfo{}))

	got := msiInformation(&intunewin.MsiInfo{
		MsiProductCode:      "{ABC}",
		MsiProductVersion:   "1.0",
		MsiIsMachineInstall: true,
		MsiRequiresReboot:   true,
	})
	require.NotNil(t, got)
	assert.Equal(t, "{ABC}", got.ProductCode)
	assert.Equal(t, "perMachine", got.PackageType)
	assert.True(t, got.RequiresReboot)
}

func TestCompleteCredentials(t *testing.T) {
	origTerm, origRead := isTerminal, readPassword
	t.Cleanup(func() { isTerminal, readPassword = origTerm, origRead })

	isTerminal = func(int) bool { return true }
	readPassword = func(int) ([]byte, error) { return []byte("s3cret\n"), nil }

	creds, err := completeCredentials(models.Credentials{TenantID: "t", ClientID: "c"}, os.Stdin)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", creds.ClientSecret)

	readPassword = func(int) ([]byte, error) { t.Fatal("must not prompt"); return nil, nil }
	creds, err = completeCredentials(models.Credentials{TenantID: "t", ClientID: "c", ClientSecret: "x"}, os.Stdin)
	require.NoError(t, err)
	assert.Equal(t, "x", creds.ClientSecret)

	isTerminal = func(int) bool { return false }
	creds, err = completeCredentials(models.Credentials{TenantID: "t", ClientID: "c"}, os.Stdin)
	require.NoError(t, err)
	assert.Empty(t, creds.ClientSecret)

	isTerminal = func(int) bool { return true }
	readPassword = func(int) ([]byte, error) { return nil, errors.New("eof") }
	_, err = completeCredentials(models.Credentials{TenantID: "t", ClientID: "c"}, os.Stdin)
	assert.Error(t, err)
}

func TestCheckCredentials(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, checkCredentials(models.Credentials{}, now).OK)
	assert.True(t, checkCredentials(models.Credentials{TenantID: "t", ClientID: "c", ClientSecret: "s"}, now).OK)

	partial := checkCredentials(models.Credentials{TenantID: "t", ClientID: "c"}, now)
	assert.True(t, partial.OK)
	assert.True(t, partial.Warning)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": now.Add(-time.Hour).Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)
	r := checkCredentials(models.Credentials{AccessToken: expired}, now)
	assert.False(t, r.OK)
	assert.Contains(t, r.Detail, "expired")
}

func TestPrintChecks(t *testing.T) {
	var buf bytes.Buffer
	failed := printChecks(&buf, []checkResult{
		{Name: "Configuration", OK: true, Detail: "ok"},
		{Name: "Packaging tool", Detail: "missing", Suggestion: "install it"},
	})
	assert.Equal(t, 1, failed)
	assert.Contains(t, buf.String(), "install it")
}
