package intunewin

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
)

const (
	// Extension is the container suffix
	Extension = ".intunewin"
	// ManifestEntry is the base name of the manifest inside the container
	ManifestEntry = "Detection.xml"
	// PayloadEntry is the base name of the encrypted payload inside the
	// container, used when the manifest does not name it.
	PayloadEntry = "IntunePackage.intunewin"

	workDirSuffix = ".extracted"
)

// Errors returned by ReadPackage; compare with errors.Is.
var (
	ErrInvalidExtension = apperrors.Sentinel(apperrors.ErrorTypeValidation, "INVALID_EXTENSION")
	ErrNotFound         = apperrors.Sentinel(apperrors.ErrorTypeNotFound, "PACKAGE_NOT_FOUND")
	ErrInvalidContainer = apperrors.Sentinel(apperrors.ErrorTypeParsing, "CONTAINER_INVALID")
	ErrManifestMissing  = apperrors.Sentinel(apperrors.ErrorTypeParsing, "MANIFEST_MISSING")
	ErrManifestParse    = apperrors.Sentinel(apperrors.ErrorTypeParsing, "MANIFEST_PARSE")
	ErrPayloadMissing   = apperrors.Sentinel(apperrors.ErrorTypeParsing, "PAYLOAD_MISSING")
)

// Package is an opened container whose payload was extracted to WorkDir.
// Close removes WorkDir and must be called on every path.
type Package struct {
	Path        string
	Manifest    *Manifest
	PayloadPath string
	WorkDir     string
}

// Close removes the working directory
func (p *Package) Close() error {
	if p == nil || p.WorkDir == "" {
		return nil
	}
	return os.RemoveAll(p.WorkDir)
}

// WorkDirFor returns the working directory ReadPackage uses for path.
func WorkDirFor(packagePath string) string {
	base := strings.TrimSuffix(filepath.Base(packagePath), filepath.Ext(packagePath))
	return filepath.Join(filepath.Dir(packagePath), base+workDirSuffix)
}

// ReadPackage opens an .intunewin container, parses its manifest and extracts
// the encrypted payload into a directory next to the container. Both entries
// are located before anything is written, so a container missing either one
// leaves no trace on disk.
func ReadPackage(packagePath string) (*Package, error) {
	if !strings.EqualFold(filepath.Ext(packagePath), Extension) {
		return nil, apperrors.NewValidationError(ErrInvalidExtension.Code,
			fmt.Sprintf("%s is not an %s file", packagePath, Extension)).
			WithContext("path", packagePath)
	}

	info, err := os.Stat(packagePath)
	if err != nil || info.IsDir() {
		e := apperrors.NewNotFoundError(ErrNotFound.Code, fmt.Sprintf("package %s not found", packagePath)).
			WithContext("path", packagePath)
		e.Cause = err
		return nil, e
	}

	zr, err := zip.OpenReader(packagePath)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeParsing, ErrInvalidContainer.Code,
			"package is not a valid zip container").
			WithContext("path", packagePath)
	}
	defer zr.Close()

	manifestFile := findEntry(zr.File, ManifestEntry)
	if manifestFile == nil {
		return nil, apperrors.NewParsingError(ErrManifestMissing.Code,
			fmt.Sprintf("%s not found in package", ManifestEntry)).
			WithContext("path", packagePath)
	}

	manifest, err := readManifest(manifestFile)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeParsing, ErrManifestParse.Code,
			fmt.Sprintf("failed to parse %s", ManifestEntry)).
			WithContext("path", packagePath).
			WithContext("entry", manifestFile.Name)
	}

	payloadName := PayloadEntry
	if manifest.FileName != "" {
		payloadName = manifest.FileName
	}
	payloadFile := findEntry(zr.File, payloadName)
	if payloadFile == nil {
		return nil, apperrors.NewParsingError(ErrPayloadMissing.Code,
			fmt.Sprintf("encrypted payload %s not found in package", payloadName)).
			WithContext("path", packagePath)
	}

	workDir := WorkDirFor(packagePath)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeFileSystem, "WORKDIR_CREATE",
			"failed to create working directory").
			WithContext("dir", workDir)
	}

	pkg := &Package{Path: packagePath, Manifest: manifest, WorkDir: workDir}
	payloadPath := filepath.Join(workDir, path.Base(payloadFile.Name))
	size, err := extractEntry(payloadFile, payloadPath)
	if err != nil {
		pkg.Close()
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeFileSystem, "PAYLOAD_EXTRACT",
			"failed to extract encrypted payload").
			WithContext("target", payloadPath)
	}

	pkg.PayloadPath = payloadPath
	manifest.EncryptedContentSize = uint64(size)
	return pkg, nil
}

// findEntry returns the first entry whose base name matches name,
// ignoring case and directory.
func findEntry(files []*zip.File, name string) *zip.File {
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.EqualFold(path.Base(filepath.ToSlash(f.Name)), name) {
			return f
		}
	}
	return nil
}

func readManifest(f *zip.File) (*Manifest, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// extractEntry writes f to target, replacing a stale copy, and returns the
// number of bytes on disk.
func extractEntry(f *zip.File, target string) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}

	info, err := os.Stat(target)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
