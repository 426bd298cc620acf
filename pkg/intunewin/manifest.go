package intunewin

import (
	"encoding/xml"
	"strings"
)

// Manifest is the content of Detection.xml written by IntuneWinAppUtil.
type Manifest struct {
	XMLName                xml.Name       `xml:"ApplicationInfo" json:"-" yaml:"-"`
	ToolVersion            string         `xml:"ToolVersion,attr" json:"toolVersion,omitempty" yaml:"tool_version,omitempty"`
	Name                   string         `xml:"Name" json:"name" yaml:"name"`
	UnencryptedContentSize uint64         `xml:"UnencryptedContentSize" json:"unencryptedContentSize" yaml:"unencrypted_content_size"`
	FileName               string         `xml:"FileName" json:"fileName" yaml:"file_name"`
	SetupFile              string         `xml:"SetupFile" json:"setupFile" yaml:"setup_file"`
	EncryptionInfo         EncryptionInfo `xml:"EncryptionInfo" json:"encryptionInfo" yaml:"encryption_info"`
	MsiInfo                *MsiInfo       `xml:"MsiInfo" json:"msiInfo,omitempty" yaml:"msi_info,omitempty"`

	// EncryptedContentSize is measured from the extracted payload, never
	// read from the XML.
	EncryptedContentSize uint64 `xml:"-" json:"encryptedContentSize" yaml:"encrypted_content_size"`
}

// EncryptionInfo is the key material the service needs to decrypt the
// uploaded payload. Values are relayed exactly as they appear in the XML.
type EncryptionInfo struct {
	EncryptionKey        string `xml:"EncryptionKey" json:"encryptionKey" yaml:"encryption_key"`
	MacKey               string `xml:"MacKey" json:"macKey" yaml:"mac_key"`
	InitializationVector string `xml:"InitializationVector" json:"initializationVector" yaml:"initialization_vector"`
	Mac                  string `xml:"Mac" json:"mac" yaml:"mac"`
	ProfileIdentifier    string `xml:"ProfileIdentifier" json:"profileIdentifier" yaml:"profile_identifier"`
	FileDigest           string `xml:"FileDigest" json:"fileDigest" yaml:"file_digest"`
	FileDigestAlgorithm  string `xml:"FileDigestAlgorithm" json:"fileDigestAlgorithm" yaml:"file_digest_algorithm"`
}

// MsiInfo is present when the setup file is an MSI.
type MsiInfo struct {
	MsiProductCode      string `xml:"MsiProductCode" json:"msiProductCode" yaml:"product_code"`
	MsiProductVersion   string `xml:"MsiProductVersion" json:"msiProductVersion" yaml:"product_version"`
	MsiPackageCode      string `xml:"MsiPackageCode" json:"msiPackageCode,omitempty" yaml:"package_code,omitempty"`
	MsiUpgradeCode      string `xml:"MsiUpgradeCode" json:"msiUpgradeCode,omitempty" yaml:"upgrade_code,omitempty"`
	MsiExecutionContext string `xml:"MsiExecutionContext" json:"msiExecutionContext,omitempty" yaml:"execution_context,omitempty"`
	MsiRequiresLogon    bool   `xml:"MsiRequiresLogon" json:"msiRequiresLogon" yaml:"requires_logon"`
	MsiRequiresReboot   bool   `xml:"MsiRequiresReboot" json:"msiRequiresReboot" yaml:"requires_reboot"`
	MsiIsMachineInstall bool   `xml:"MsiIsMachineInstall" json:"msiIsMachineInstall" yaml:"is_machine_install"`
	MsiIsUserInstall    bool   `xml:"MsiIsUserInstall" json:"msiIsUserInstall" yaml:"is_user_install"`
	MsiIncludesServices bool   `xml:"MsiIncludesServices" json:"msiIncludesServices" yaml:"includes_services"`
	MsiPublisher        string `xml:"MsiPublisher" json:"msiPublisher,omitempty" yaml:"publisher,omitempty"`
}

// PackageType maps the install scope flags to the Graph packageType value.
func (m *MsiInfo) PackageType() string {
	switch {
	case m.MsiIsMachineInstall && m.MsiIsUserInstall:
		return "dualPurpose"
	case m.MsiIsUserInstall || strings.EqualFold(m.MsiExecutionContext, "User"):
		return "perUser"
	default:
		return "perMachine"
	}
}

// ParseManifest decodes Detection.xml.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
