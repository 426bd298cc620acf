package models

import (
	"fmt"
	"strings"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
)

// ErrRuleConflict is returned by Validate when rule kinds are mixed.
var ErrRuleConflict = apperrors.Sentinel(apperrors.ErrorTypeValidation, "RULE_CONFLICT")

// ReturnCodeType is the outcome Intune assigns to an installer exit code
type ReturnCodeType string

const (
	ReturnCodeSuccess    ReturnCodeType = "success"
	ReturnCodeSoftReboot ReturnCodeType = "softReboot"
	ReturnCodeHardReboot ReturnCodeType = "hardReboot"
	ReturnCodeRetry      ReturnCodeType = "retry"
	ReturnCodeFailed     ReturnCodeType = "failed"
)

// ReturnCode maps an installer exit code to an outcome
type ReturnCode struct {
	ReturnCode int            `json:"returnCode" yaml:"return_code"`
	Type       ReturnCodeType `json:"type" yaml:"type"`
}

// DefaultReturnCodes returns the mapping Intune proposes for new apps.
func DefaultReturnCodes() []ReturnCode {
	return []ReturnCode{
		{ReturnCode: 0, Type: ReturnCodeSuccess},
		{ReturnCode: 1707, Type: ReturnCodeSuccess},
		{ReturnCode: 3010, Type: ReturnCodeSoftReboot},
		{ReturnCode: 1641, Type: ReturnCodeHardReboot},
		{ReturnCode: 1618, Type: ReturnCodeRetry},
	}
}

// InstallExperience controls the install context on the device
type InstallExperience struct {
	RunAsAccount          string `json:"runAsAccount" yaml:"run_as_account"`                   // system, user
	DeviceRestartBehavior string `json:"deviceRestartBehavior" yaml:"device_restart_behavior"` // suppress, allow, basedOnReturnCode, force
	MaxRunTimeInMinutes   int    `json:"maxRunTimeInMinutes" yaml:"max_run_time_in_minutes"`
}

// Icon is an image attached to the app record
type Icon struct {
	Type  string `json:"type"`
	Value string `json:"value"` // base64
}

// MsiInformation describes an MSI based package
type MsiInformation struct {
	ProductCode    string `json:"productCode" yaml:"product_code"`
	ProductVersion string `json:"productVersion" yaml:"product_version"`
	UpgradeCode    string `json:"upgradeCode,omitempty" yaml:"upgrade_code,omitempty"`
	RequiresReboot bool   `json:"requiresReboot" yaml:"requires_reboot"`
	PackageType    string `json:"packageType" yaml:"package_type"` // perMachine, perUser, dualPurpose
	ProductName    string `json:"productName,omitempty" yaml:"product_name,omitempty"`
	Publisher      string `json:"publisher,omitempty" yaml:"publisher,omitempty"`
}

// AppDescriptor is the Win32 LOB app record submitted to Intune.
type AppDescriptor struct {
	DisplayName          string `json:"displayName" yaml:"display_name"`
	DisplayVersion       string `json:"displayVersion,omitempty" yaml:"display_version,omitempty"`
	Publisher            string `json:"publisher" yaml:"publisher"`
	Description          string `json:"description" yaml:"description"`
	Notes                string `json:"notes,omitempty" yaml:"notes,omitempty"`
	Owner                string `json:"owner,omitempty" yaml:"owner,omitempty"`
	InstallCommandLine   string `json:"installCommandLine" yaml:"install_command_line"`
	UninstallCommandLine string `json:"uninstallCommandLine" yaml:"uninstall_command_line"`
	Architecture         string `json:"architecture,omitempty" yaml:"architecture,omitempty"` // x86, x64, arm, neutral
	MinimumOS            string `json:"minimumOS,omitempty" yaml:"minimum_os,omitempty"`      // v10_1607 style release key
	FileName             string `json:"fileName" yaml:"file_name"`                            // name of the .intunewin file
	SetupFilePath        string `json:"setupFilePath" yaml:"setup_file_path"`

	Rules             Rules             `json:"rules" yaml:"rules"`
	InstallExperience InstallExperience `json:"installExperience" yaml:"install_experience"`
	ReturnCodes       []ReturnCode      `json:"returnCodes" yaml:"return_codes"`
	LargeIcon         *Icon             `json:"largeIcon,omitempty" yaml:"large_icon,omitempty"`
	MsiInformation    *MsiInformation   `json:"msiInformation,omitempty" yaml:"msi_information,omitempty"`
}

// Validate checks the descriptor before it is sent. A ScriptRule or
// AbsentRule must be the only rule; mixing them with manual rules is
// rejected with ErrRuleConflict.
func (d *AppDescriptor) Validate() error {
	var missing []string
	if strings.TrimSpace(d.DisplayName) == "" {
		missing = append(missing, "display name")
	}
	if strings.TrimSpace(d.InstallCommandLine) == "" {
		missing = append(missing, "install command line")
	}
	if strings.TrimSpace(d.UninstallCommandLine) == "" {
		missing = append(missing, "uninstall command line")
	}
	if len(missing) > 0 {
		return apperrors.NewValidationError("DESCRIPTOR_INCOMPLETE",
			fmt.Sprintf("app descriptor is missing: %s", strings.Join(missing, ", ")))
	}

	if len(d.Rules) <= 1 {
		return nil
	}
	for _, r := range d.Rules {
		switch r.Kind() {
		case RuleKindScript, RuleKindAbsent:
			return apperrors.NewValidationError(ErrRuleConflict.Code,
				fmt.Sprintf("a %s detection rule cannot be combined with other rules", r.Kind())).
				WithContext("rules", fmt.Sprint(len(d.Rules)))
		}
	}
	return nil
}

// HasDetection reports whether at least one rule will be sent to the server.
func (d *AppDescriptor) HasDetection() bool {
	for _, r := range d.Rules {
		if r.Kind() != RuleKindAbsent {
			return true
		}
	}
	return false
}
