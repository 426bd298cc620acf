package graph

import (
	"fmt"
	"time"

	"github.com/ThomasHoins/Intunewin/pkg/models"
)

const (
	odataWin32LobApp    = "#microsoft.graph.win32LobApp"
	odataContentFile    = "#microsoft.graph.mobileAppContentFile"
	odataFileRule       = "#microsoft.graph.win32LobAppFileSystemRule"
	odataRegistryRule   = "#microsoft.graph.win32LobAppRegistryRule"
	odataProductRule    = "#microsoft.graph.win32LobAppProductCodeRule"
	odataScriptRule     = "#microsoft.graph.win32LobAppPowerShellScriptRule"
	odataReturnCode     = "#microsoft.graph.win32LobAppReturnCode"
	odataInstallExp     = "#microsoft.graph.win32LobAppInstallExperience"
	odataMsiInfo        = "#microsoft.graph.win32LobAppMsiInformation"
	odataMimeContent    = "#microsoft.graph.mimeContent"
	ruleTypeDetection   = "detection"
	defaultMinimumOS    = "v10_1607"
	defaultArchitecture = "x64"
)

// MobileApp is the subset of a mobileApp resource the driver reads
type MobileApp struct {
	ODataType               string `json:"@odata.type"`
	ID                      string `json:"id"`
	DisplayName             string `json:"displayName"`
	DisplayVersion          string `json:"displayVersion"`
	CommittedContentVersion string `json:"committedContentVersion"`
	UploadState             int    `json:"uploadState"`
}

// ContentVersion is a mobileAppContent resource
type ContentVersion struct {
	ID string `json:"id"`
}

// ContentFile is a mobileAppContentFile resource
type ContentFile struct {
	ID                                string    `json:"id"`
	Name                              string    `json:"name"`
	Size                              int64     `json:"size"`
	SizeEncrypted                     int64     `json:"sizeEncrypted"`
	UploadState                       string    `json:"uploadState"`
	AzureStorageURI                   string    `json:"azureStorageUri"`
	AzureStorageURIExpirationDateTime time.Time `json:"azureStorageUriExpirationDateTime"`
	IsCommitted                       bool      `json:"isCommitted"`
}

// fileEntryBody is the request creating a content file
type fileEntryBody struct {
	ODataType     string  `json:"@odata.type"`
	Name          string  `json:"name"`
	Size          uint64  `json:"size"`
	SizeEncrypted uint64  `json:"sizeEncrypted"`
	Manifest      *string `json:"manifest"`
	IsDependency  bool    `json:"isDependency"`
}

// appBody renders the win32LobApp creation request
func appBody(d *models.AppDescriptor) (map[string]interface{}, error) {
	rules := make([]map[string]interface{}, 0, len(d.Rules))
	for _, r := range d.Rules {
		body, err := ruleBody(r)
		if err != nil {
			return nil, err
		}
		if body != nil {
			rules = append(rules, body)
		}
	}

	codes := make([]map[string]interface{}, 0, len(d.ReturnCodes))
	for _, rc := range d.ReturnCodes {
		codes = append(codes, map[string]interface{}{
			"@odata.type": odataReturnCode,
			"returnCode":  rc.ReturnCode,
			"type":        string(rc.Type),
		})
	}

	arch := d.Architecture
	if arch == "" {
		arch = defaultArchitecture
	}
	minOS := d.MinimumOS
	if minOS == "" {
		minOS = defaultMinimumOS
	}

	body := map[string]interface{}{
		"@odata.type":                     odataWin32LobApp,
		"displayName":                     d.DisplayName,
		"displayVersion":                  d.DisplayVersion,
		"description":                     d.Description,
		"publisher":                       d.Publisher,
		"developer":                       d.Publisher,
		"owner":                           d.Owner,
		"notes":                           d.Notes,
		"fileName":                        d.FileName,
		"setupFilePath":                   d.SetupFilePath,
		"installCommandLine":              d.InstallCommandLine,
		"uninstallCommandLine":            d.UninstallCommandLine,
		"applicableArchitectures":         arch,
		"minimumSupportedWindowsRelease":  minOS,
		"minimumSupportedOperatingSystem": map[string]bool{minOS: true},
		"isFeatured":                      false,
		"allowAvailableUninstall":         true,
		"rules":                           rules,
		"returnCodes":                     codes,
		"installExperience": map[string]interface{}{
			"@odata.type":           odataInstallExp,
			"runAsAccount":          d.InstallExperience.RunAsAccount,
			"deviceRestartBehavior": d.InstallExperience.DeviceRestartBehavior,
			"maxRunTimeInMinutes":   d.InstallExperience.MaxRunTimeInMinutes,
		},
	}

	if d.LargeIcon != nil {
		body["largeIcon"] = map[string]interface{}{
			"@odata.type": odataMimeContent,
			"type":        d.LargeIcon.Type,
			"value":       d.LargeIcon.Value,
		}
	}
	if m := d.MsiInformation; m != nil {
		body["msiInformation"] = map[string]interface{}{
			"@odata.type":    odataMsiInfo,
			"productCode":    m.ProductCode,
			"productVersion": m.ProductVersion,
			"upgradeCode":    m.UpgradeCode,
			"requiresReboot": m.RequiresReboot,
			"packageType":    m.PackageType,
			"productName":    m.ProductName,
			"publisher":      m.Publisher,
		}
	}
	return body, nil
}

// ruleBody renders one detection rule. AbsentRule renders to nil.
func ruleBody(r models.DetectionRule) (map[string]interface{}, error) {
	switch rule := r.(type) {
	case models.FileSystemRule:
		return map[string]interface{}{
			"@odata.type":          odataFileRule,
			"ruleType":             ruleTypeDetection,
			"path":                 rule.Path,
			"fileOrFolderName":     rule.FileOrFolderName,
			"check32BitOn64System": rule.Check32BitOn64System,
			"operationType":        rule.OperationType,
			"operator":             rule.Operator,
			"comparisonValue":      nullable(rule.ComparisonValue),
		}, nil
	case models.RegistryRule:
		return map[string]interface{}{
			"@odata.type":          odataRegistryRule,
			"ruleType":             ruleTypeDetection,
			"keyPath":              rule.KeyPath,
			"valueName":            nullable(rule.ValueName),
			"check32BitOn64System": rule.Check32BitOn64System,
			"operationType":        rule.OperationType,
			"operator":             rule.Operator,
			"comparisonValue":      nullable(rule.ComparisonValue),
		}, nil
	case models.MSIProductCodeRule:
		op := rule.ProductVersionOperator
		if op == "" {
			op = models.OperatorNotConfigured
		}
		return map[string]interface{}{
			"@odata.type":            odataProductRule,
			"ruleType":               ruleTypeDetection,
			"productCode":            rule.ProductCode,
			"productVersionOperator": op,
			"productVersion":         nullable(rule.ProductVersion),
		}, nil
	case models.ScriptRule:
		return map[string]interface{}{
			"@odata.type":           odataScriptRule,
			"ruleType":              ruleTypeDetection,
			"displayName":           nil,
			"enforceSignatureCheck": rule.EnforceSignatureCheck,
			"runAs32Bit":            rule.RunAs32Bit,
			"runAsAccount":          nil,
			"scriptContent":         rule.ScriptContent,
			"operationType":         "notConfigured",
			"operator":              "notConfigured",
			"comparisonValue":       nil,
		}, nil
	case models.AbsentRule:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported detection rule %T", r)
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
