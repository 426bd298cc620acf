package models

import (
	"encoding/json"
	"fmt"
)

// RuleKind names a detection rule variant
type RuleKind string

const (
	RuleKindRegistry    RuleKind = "registry"
	RuleKindFileSystem  RuleKind = "fileSystem"
	RuleKindProductCode RuleKind = "productCode"
	RuleKindScript      RuleKind = "script"
	RuleKindAbsent      RuleKind = "absent"
)

// DetectionRule is one of RegistryRule, FileSystemRule, MSIProductCodeRule,
// ScriptRule or AbsentRule. The set is closed: the marker method is
// unexported.
type DetectionRule interface {
	Kind() RuleKind
	detectionRule()
}

// Comparison operators understood by Intune
const (
	OperatorNotConfigured      = "notConfigured"
	OperatorEqual              = "equal"
	OperatorGreaterThanOrEqual = "greaterThanOrEqual"
)

// RegistryRule checks a value below an uninstall or vendor key.
type RegistryRule struct {
	KeyPath              string `json:"keyPath"`
	ValueName            string `json:"valueName,omitempty"`
	Check32BitOn64System bool   `json:"check32BitOn64System"`
	OperationType        string `json:"operationType"` // exists, version, string
	Operator             string `json:"operator"`
	ComparisonValue      string `json:"comparisonValue,omitempty"`
}

// FileSystemRule compares a file's version resource.
type FileSystemRule struct {
	Path                 string `json:"path"`
	FileOrFolderName     string `json:"fileOrFolderName"`
	Check32BitOn64System bool   `json:"check32BitOn64System"`
	OperationType        string `json:"operationType"` // exists, version
	Operator             string `json:"operator"`
	ComparisonValue      string `json:"comparisonValue,omitempty"`
}

// MSIProductCodeRule detects an installed MSI by product code.
type MSIProductCodeRule struct {
	ProductCode            string `json:"productCode"`
	ProductVersion         string `json:"productVersion,omitempty"`
	ProductVersionOperator string `json:"productVersionOperator"`
}

// ScriptRule runs a custom PowerShell detection script. It cannot be combined
// with any other rule.
type ScriptRule struct {
	ScriptContent         string `json:"scriptContent"` // base64
	EnforceSignatureCheck bool   `json:"enforceSignatureCheck"`
	RunAs32Bit            bool   `json:"runAs32Bit"`
}

// AbsentRule records that no rule could be derived. Reason is shown to the
// operator; nothing is sent to the server for it.
type AbsentRule struct {
	Reason string `json:"reason"`
}

func (RegistryRule) Kind() RuleKind       { return RuleKindRegistry }
func (FileSystemRule) Kind() RuleKind     { return RuleKindFileSystem }
func (MSIProductCodeRule) Kind() RuleKind { return RuleKindProductCode }
func (ScriptRule) Kind() RuleKind         { return RuleKindScript }
func (AbsentRule) Kind() RuleKind         { return RuleKindAbsent }

func (RegistryRule) detectionRule()       {}
func (FileSystemRule) detectionRule()     {}
func (MSIProductCodeRule) detectionRule() {}
func (ScriptRule) detectionRule()         {}
func (AbsentRule) detectionRule()         {}

// NewFileVersionRule returns a rule matching path\name at version or newer.
func NewFileVersionRule(path, name, version string) FileSystemRule {
	return FileSystemRule{
		Path:             path,
		FileOrFolderName: name,
		OperationType:    "version",
		Operator:         OperatorGreaterThanOrEqual,
		ComparisonValue:  version,
	}
}

// NewProductCodeRule returns a rule matching any version of productCode.
func NewProductCodeRule(productCode string) MSIProductCodeRule {
	return MSIProductCodeRule{
		ProductCode:            productCode,
		ProductVersionOperator: OperatorNotConfigured,
	}
}

// Rules is an ordered list of detection rules. Encoded, every rule carries
// its kind next to its own fields.
type Rules []DetectionRule

// MarshalJSON implements json.Marshaler
func (rs Rules) MarshalJSON() ([]byte, error) {
	items, err := rs.tagged()
	if err != nil {
		return nil, err
	}
	return json.Marshal(items)
}

// MarshalYAML implements yaml.Marshaler
func (rs Rules) MarshalYAML() (interface{}, error) {
	return rs.tagged()
}

func (rs Rules) tagged() ([]map[string]interface{}, error) {
	items := make([]map[string]interface{}, 0, len(rs))
	for _, r := range rs {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s rule: %w", r.Kind(), err)
		}
		item := map[string]interface{}{}
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to encode %s rule: %w", r.Kind(), err)
		}
		item["kind"] = r.Kind()
		items = append(items, item)
	}
	return items, nil
}
