package metadata

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/ThomasHoins/Intunewin/pkg/utils"
)

// Tag is a recognised comment tag in an install script
type Tag string

const (
	TagDescription  Tag = "DESCRIPTION"
	TagManufacturer Tag = "MANUFACTURER"
	TagFileName     Tag = "FILENAME"
	TagVersion      Tag = "VERSION"
	TagOwner        Tag = "OWNER"
	TagAssetNumber  Tag = "ASSETNUMBER"
)

// MandatoryTags must be present for the app record to be complete.
var MandatoryTags = []Tag{TagDescription, TagManufacturer, TagVersion}

// tagFields maps each tag to the field it fills.
var tagFields = map[Tag]func(*AppMetadata) *string{
	TagDescription:  func(m *AppMetadata) *string { return &m.DisplayName },
	TagManufacturer: func(m *AppMetadata) *string { return &m.Publisher },
	TagFileName:     func(m *AppMetadata) *string { return &m.FileName },
	TagVersion:      func(m *AppMetadata) *string { return &m.Version },
	TagOwner:        func(m *AppMetadata) *string { return &m.Owner },
	TagAssetNumber:  func(m *AppMetadata) *string { return &m.AssetNumber },
}

// commentPrefixes are the line comment markers of cmd and PowerShell.
var commentPrefixes = []string{"@REM ", "REM ", "::", "#"}

// imageExtensions are the icon candidates, in no particular order.
var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".webp": true,
}

const (
	// DescriptionPrefix selects description files by name
	DescriptionPrefix = "description"
	// DescriptionPlaceholder is used when no description file exists
	DescriptionPlaceholder = "No description available. Please update the description in Intune."

	defaultIconDepth = 3
)

// AppMetadata is what the install script and its folder say about the app.
type AppMetadata struct {
	DisplayName string `json:"displayName"`
	Publisher   string `json:"publisher"`
	FileName    string `json:"fileName,omitempty"`
	Version     string `json:"version"`
	Owner       string `json:"owner,omitempty"`
	AssetNumber string `json:"assetNumber,omitempty"`

	ScriptPath       string   `json:"scriptPath"`
	ScriptText       string   `json:"-"`
	IconPath         string   `json:"iconPath,omitempty"`
	Description      string   `json:"description"`
	DescriptionFiles []string `json:"descriptionFiles,omitempty"`

	found    map[Tag]bool
	Warnings []string `json:"warnings,omitempty"`
}

// Has reports whether tag appeared in the script
func (m *AppMetadata) Has(tag Tag) bool {
	return m.found[tag]
}

// Complete reports whether every mandatory tag was found
func (m *AppMetadata) Complete() bool {
	for _, t := range MandatoryTags {
		if !m.found[t] {
			return false
		}
	}
	return true
}

func (m *AppMetadata) warn(format string, args ...interface{}) {
	m.Warnings = append(m.Warnings, fmt.Sprintf(format, args...))
}

// Extractor reads tags from install scripts
type Extractor struct {
	IconDepth int
	Logger    utils.LeveledLogger
}

// NewExtractor creates an extractor with default settings
func NewExtractor() *Extractor {
	return &Extractor{IconDepth: defaultIconDepth, Logger: utils.NopLogger()}
}

// ExtractMetadata reads scriptPath with a default Extractor.
func ExtractMetadata(scriptPath string) (*AppMetadata, error) {
	return NewExtractor().Extract(scriptPath)
}

// Extract scans the install script for tags and its folder for an icon and
// description files. Only an unreadable script is an error; everything else
// missing becomes a warning.
func (e *Extractor) Extract(scriptPath string) (*AppMetadata, error) {
	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeNotFound, "SCRIPT_NOT_FOUND",
			"failed to read install script").
			WithContext("path", scriptPath)
	}

	m := ParseTags(DecodeText(data))
	m.ScriptPath = scriptPath

	root := filepath.Dir(scriptPath)

	icon, err := FindIcon(root, e.IconDepth)
	if err != nil {
		e.Logger.Debug("Icon search in %s failed: %v", root, err)
	}
	if icon == "" {
		m.warn("no icon found below %s", root)
	}
	m.IconPath = icon

	text, files, err := ReadDescription(root)
	if err != nil {
		e.Logger.Debug("Description search in %s failed: %v", root, err)
	}
	if len(files) == 0 {
		m.warn("no %s* file found, using placeholder description", DescriptionPrefix)
	}
	m.Description = text
	m.DescriptionFiles = files

	for _, w := range m.Warnings {
		e.Logger.Warn("%s", w)
	}
	return m, nil
}

// ParseTags extracts tag values from script text. The first occurrence of
// each tag wins.
func ParseTags(text string) *AppMetadata {
	m := &AppMetadata{ScriptText: text, found: map[Tag]bool{}}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		tag, value, ok := parseTagLine(scanner.Text())
		if !ok || m.found[tag] {
			continue
		}
		*tagFields[tag](m) = value
		m.found[tag] = true
	}

	for _, t := range MandatoryTags {
		if !m.found[t] {
			m.warn("install script has no %s tag; set it manually in Intune", t)
		}
	}
	return m
}

// parseTagLine accepts "REM VERSION 1.0", ":: VERSION: 1.0" and "# VERSION=1.0".
func parseTagLine(line string) (Tag, string, bool) {
	line = strings.TrimSpace(line)

	var body string
	matched := false
	for _, p := range commentPrefixes {
		if len(line) >= len(p) && strings.EqualFold(line[:len(p)], p) {
			body = strings.TrimSpace(line[len(p):])
			matched = true
			break
		}
	}
	if !matched || body == "" {
		return "", "", false
	}

	word := body
	rest := ""
	if i := strings.IndexAny(body, " \t:="); i >= 0 {
		word, rest = body[:i], body[i:]
	}

	tag := Tag(strings.ToUpper(word))
	if _, ok := tagFields[tag]; !ok {
		return "", "", false
	}

	value := strings.TrimSpace(strings.TrimLeft(rest, " \t:="))
	if value == "" {
		return "", "", false
	}
	return tag, value, true
}

// FindIcon returns the first image below root within maxDepth levels, in
// lexical walk order. An empty result is not an error.
func FindIcon(root string, maxDepth int) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && depth(root, path) > maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if imageExtensions[strings.ToLower(filepath.Ext(path))] {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	return found, err
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

// ReadDescription concatenates every file in root whose name starts with
// DescriptionPrefix, sorted by name and separated by a blank line. Without
// a match it returns DescriptionPlaceholder.
func ReadDescription(root string) (string, []string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return DescriptionPlaceholder, nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(strings.ToLower(entry.Name()), DescriptionPrefix) {
			files = append(files, filepath.Join(root, entry.Name()))
		}
	}
	sort.Strings(files)

	var parts []string
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return DescriptionPlaceholder, nil, err
		}
		if text := strings.TrimSpace(DecodeText(data)); text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return DescriptionPlaceholder, files, nil
	}
	return strings.Join(parts, "\n\n"), files, nil
}
