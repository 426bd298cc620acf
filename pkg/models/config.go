package models

import "time"

// Config represents the application configuration
type Config struct {
	Tenant    TenantConfig    `mapstructure:"tenant" yaml:"tenant" json:"tenant"`
	Graph     GraphConfig     `mapstructure:"graph" yaml:"graph" json:"graph"`
	Upload    UploadConfig    `mapstructure:"upload" yaml:"upload" json:"upload"`
	Packaging PackagingConfig `mapstructure:"packaging" yaml:"packaging" json:"packaging"`
	Detection DetectionConfig `mapstructure:"detection" yaml:"detection" json:"detection"`
	App       AppConfig       `mapstructure:"app" yaml:"app" json:"app"`
}

// TenantConfig identifies the Entra ID tenant and the app registration used
// to call Graph. Either ClientSecret or AccessToken must be set.
type TenantConfig struct {
	ID           string `mapstructure:"id" yaml:"id" json:"id"`
	ClientID     string `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret" json:"-"`
	AccessToken  string `mapstructure:"access_token" yaml:"access_token" json:"-"`
}

// GraphConfig contains Graph endpoint settings
type GraphConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Authority string        `mapstructure:"authority" yaml:"authority" json:"authority"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// UploadConfig controls polling and blob transfer
type UploadConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
	PollAttempts int           `mapstructure:"poll_attempts" yaml:"poll_attempts" json:"poll_attempts"`
	ChunkSizeMB  int           `mapstructure:"chunk_size_mb" yaml:"chunk_size_mb" json:"chunk_size_mb"`
	RenewAfter   time.Duration `mapstructure:"renew_after" yaml:"renew_after" json:"renew_after"`
}

// PackagingConfig controls the external packaging tool
type PackagingConfig struct {
	ToolPath        string `mapstructure:"tool_path" yaml:"tool_path" json:"tool_path"`
	InstallScript   string `mapstructure:"install_script" yaml:"install_script" json:"install_script"`
	UninstallScript string `mapstructure:"uninstall_script" yaml:"uninstall_script" json:"uninstall_script"`
	MinSizeMB       int    `mapstructure:"min_size_mb" yaml:"min_size_mb" json:"min_size_mb"`
	Pad             bool   `mapstructure:"pad" yaml:"pad" json:"pad"`
}

// DetectionConfig controls detection rule discovery
type DetectionConfig struct {
	SearchRoots       []string `mapstructure:"search_roots" yaml:"search_roots" json:"search_roots"`
	SearchDepth       int      `mapstructure:"search_depth" yaml:"search_depth" json:"search_depth"`
	AllowLocalInstall bool     `mapstructure:"allow_local_install" yaml:"allow_local_install" json:"allow_local_install"`
}

// AppConfig holds defaults applied to every published app
type AppConfig struct {
	RunAsAccount    string `mapstructure:"run_as_account" yaml:"run_as_account" json:"run_as_account"`
	RestartBehavior string `mapstructure:"restart_behavior" yaml:"restart_behavior" json:"restart_behavior"`
	Architecture    string `mapstructure:"architecture" yaml:"architecture" json:"architecture"`
	MinimumOS       string `mapstructure:"minimum_os" yaml:"minimum_os" json:"minimum_os"`
}

// Credentials authenticate against Graph. They are built from Config and
// handed to the client explicitly; nothing is kept in package state.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	AccessToken  string // pre-acquired bearer token, takes precedence
	Authority    string
}

// HasSecret reports whether client credentials are complete
func (c Credentials) HasSecret() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}
