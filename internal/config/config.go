package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/ThomasHoins/Intunewin/pkg/models"
)

// FileName is the config file base name searched for when --config is not given
const FileName = "intunewin"

// EnvPrefix prefixes every environment override, e.g. INTUNEWIN_TENANT_CLIENT_SECRET
const EnvPrefix = "INTUNEWIN"

// ErrInvalid matches every configuration error
var ErrInvalid = apperrors.Sentinel(apperrors.ErrorTypeConfiguration, "CONFIG_INVALID")

// Default returns the built-in configuration
func Default() models.Config {
	return models.Config{
		Graph: models.GraphConfig{
			BaseURL:   "https://graph.microsoft.com/beta",
			Authority: "https://login.microsoftonline.com",
			Timeout:   2 * time.Minute,
		},
		Upload: models.UploadConfig{
			PollInterval: 10 * time.Second,
			PollAttempts: 600,
			ChunkSizeMB:  6,
			RenewAfter:   7 * time.Minute,
		},
		Packaging: models.PackagingConfig{
			ToolPath:        "IntuneWinAppUtil.exe",
			InstallScript:   "install.bat",
			UninstallScript: "uninstall.bat",
			MinSizeMB:       9,
		},
		Detection: models.DetectionConfig{
			SearchRoots: []string{`C:\Program Files`, `C:\Program Files (x86)`},
			SearchDepth: 3,
		},
		App: models.AppConfig{
			RunAsAccount:    "system",
			RestartBehavior: "suppress",
			Architecture:    "x64",
			MinimumOS:       "v10_1607",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("tenant.id", "")
	v.SetDefault("tenant.client_id", "")
	v.SetDefault("tenant.client_secret", "")
	v.SetDefault("tenant.access_token", "")

	v.SetDefault("graph.base_url", d.Graph.BaseURL)
	v.SetDefault("graph.authority", d.Graph.Authority)
	v.SetDefault("graph.timeout", d.Graph.Timeout)

	v.SetDefault("upload.poll_interval", d.Upload.PollInterval)
	v.SetDefault("upload.poll_attempts", d.Upload.PollAttempts)
	v.SetDefault("upload.chunk_size_mb", d.Upload.ChunkSizeMB)
	v.SetDefault("upload.renew_after", d.Upload.RenewAfter)

	v.SetDefault("packaging.tool_path", d.Packaging.ToolPath)
	v.SetDefault("packaging.install_script", d.Packaging.InstallScript)
	v.SetDefault("packaging.uninstall_script", d.Packaging.UninstallScript)
	v.SetDefault("packaging.min_size_mb", d.Packaging.MinSizeMB)
	v.SetDefault("packaging.pad", d.Packaging.Pad)

	v.SetDefault("detection.search_roots", d.Detection.SearchRoots)
	v.SetDefault("detection.search_depth", d.Detection.SearchDepth)
	v.SetDefault("detection.allow_local_install", d.Detection.AllowLocalInstall)

	v.SetDefault("app.run_as_account", d.App.RunAsAccount)
	v.SetDefault("app.restart_behavior", d.App.RestartBehavior)
	v.SetDefault("app.architecture", d.App.Architecture)
	v.SetDefault("app.minimum_os", d.App.MinimumOS)
}

// Load loads configuration from file and environment. An explicit path must
// exist; without one a missing file just means defaults.
func Load(configPath string) (*models.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", FileName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperrors.WrapError(err, apperrors.ErrorTypeConfiguration, ErrInvalid.Code,
				"failed to read config file").WithContext("path", configPath)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeConfiguration, ErrInvalid.Code,
			"failed to unmarshal config")
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges. Credentials are not required here; commands
// that talk to Graph check them separately.
func Validate(cfg *models.Config) error {
	var problems []string

	if u, err := url.Parse(cfg.Graph.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("graph.base_url %q is not an absolute URL", cfg.Graph.BaseURL))
	}
	if cfg.Upload.PollInterval <= 0 {
		problems = append(problems, "upload.poll_interval must be positive")
	}
	if cfg.Upload.PollAttempts <= 0 {
		problems = append(problems, "upload.poll_attempts must be positive")
	}
	if cfg.Upload.ChunkSizeMB <= 0 || cfg.Upload.ChunkSizeMB > 100 {
		problems = append(problems, "upload.chunk_size_mb must be between 1 and 100")
	}
	if cfg.Upload.RenewAfter < 0 {
		problems = append(problems, "upload.renew_after must not be negative")
	}
	if cfg.Packaging.MinSizeMB < 0 {
		problems = append(problems, "packaging.min_size_mb must not be negative")
	}
	if cfg.Detection.SearchDepth < 0 {
		problems = append(problems, "detection.search_depth must not be negative")
	}

	if len(problems) == 0 {
		return nil
	}
	return apperrors.NewConfigurationError(ErrInvalid.Code, "invalid configuration: "+strings.Join(problems, "; ")).
		WithSuggestion("Fix the listed keys in intunewin.yaml or the matching INTUNEWIN_* variables")
}

// Credentials builds the Graph credentials from cfg
func Credentials(cfg *models.Config) models.Credentials {
	return models.Credentials{
		TenantID:     cfg.Tenant.ID,
		ClientID:     cfg.Tenant.ClientID,
		ClientSecret: cfg.Tenant.ClientSecret,
		AccessToken:  cfg.Tenant.AccessToken,
		Authority:    cfg.Graph.Authority,
	}
}

const templateHeader = `# intunewin configuration
#
# Every key can be overridden from the environment, for example
# INTUNEWIN_TENANT_CLIENT_SECRET or INTUNEWIN_UPLOAD_POLL_INTERVAL.
# Keep client_secret out of this file when it is shared.

`

// SaveTemplate writes the default configuration with placeholder tenant
// values to path. An existing file is only replaced when force is set.
func SaveTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return apperrors.NewConfigurationError("CONFIG_EXISTS", "config file already exists").
				WithContext("path", path).
				WithSuggestion("Use --force to overwrite it")
		}
	}

	cfg := Default()
	cfg.Tenant = models.TenantConfig{
		ID:       "00000000-0000-0000-0000-000000000000",
		ClientID: "00000000-0000-0000-0000-000000000000",
	}

	var buf bytes.Buffer
	buf.WriteString(templateHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return apperrors.WrapError(err, apperrors.ErrorTypeFileSystem, "WRITE_FAILED", "failed to create config directory")
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return apperrors.WrapError(err, apperrors.ErrorTypeFileSystem, "WRITE_FAILED", "failed to write config template")
	}
	return nil
}
