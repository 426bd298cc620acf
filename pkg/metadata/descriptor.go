package metadata

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ThomasHoins/Intunewin/pkg/models"
)

// UnknownPublisher fills the mandatory publisher field when the script has
// no MANUFACTURER tag.
const UnknownPublisher = "Unknown"

// DescriptorInput collects everything needed to describe the app record.
type DescriptorInput struct {
	Metadata        *AppMetadata
	PackageFileName string
	SetupFile       string
	UninstallScript string
	Rule            models.DetectionRule
	Msi             *models.MsiInformation
	Icon            *models.Icon
	Defaults        models.AppConfig
}

// BuildDescriptor assembles the app record. Missing mandatory values are
// replaced with placeholders so the record can still be created.
func BuildDescriptor(in DescriptorInput) *models.AppDescriptor {
	m := in.Metadata
	if m == nil {
		m = &AppMetadata{}
	}

	name := m.DisplayName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(in.SetupFile), filepath.Ext(in.SetupFile))
	}
	publisher := m.Publisher
	if publisher == "" {
		publisher = UnknownPublisher
	}
	description := m.Description
	if description == "" {
		description = DescriptionPlaceholder
	}

	var notes []string
	if m.AssetNumber != "" {
		notes = append(notes, fmt.Sprintf("Asset number: %s", m.AssetNumber))
	}
	if !m.Complete() {
		notes = append(notes, "Metadata incomplete, review before assignment.")
	}

	d := &models.AppDescriptor{
		DisplayName:          name,
		DisplayVersion:       m.Version,
		Publisher:            publisher,
		Description:          description,
		Notes:                strings.Join(notes, "\n"),
		Owner:                m.Owner,
		InstallCommandLine:   in.SetupFile,
		UninstallCommandLine: in.UninstallScript,
		Architecture:         in.Defaults.Architecture,
		MinimumOS:            in.Defaults.MinimumOS,
		FileName:             in.PackageFileName,
		SetupFilePath:        in.SetupFile,
		InstallExperience: models.InstallExperience{
			RunAsAccount:          in.Defaults.RunAsAccount,
			DeviceRestartBehavior: in.Defaults.RestartBehavior,
			MaxRunTimeInMinutes:   60,
		},
		ReturnCodes:    models.DefaultReturnCodes(),
		LargeIcon:      in.Icon,
		MsiInformation: in.Msi,
	}
	if in.Rule != nil {
		d.Rules = []models.DetectionRule{in.Rule}
	}
	return d
}
