package detection

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/ThomasHoins/Intunewin/pkg/models"
	"github.com/ThomasHoins/Intunewin/pkg/utils"
)

// Source tells which step produced the rule
type Source string

const (
	SourceMSI          Source = "msi"
	SourceFileSearch   Source = "fileSearch"
	SourceLocalInstall Source = "localInstall"
	SourceRegistry     Source = "registry"
	SourceNone         Source = "none"
)

// msiMarker in an install script means the package wraps an MSI.
const msiMarker = "msiexec"

// DefaultSearchRoots are the usual installation roots on Windows
var DefaultSearchRoots = []string{`C:\Program Files`, `C:\Program Files (x86)`}

const defaultSearchDepth = 3

// Input is what the builder knows about the package
type Input struct {
	ScriptText          string
	SourceDir           string
	TargetFile          string // FILENAME tag
	DeclaredVersion     string // VERSION tag
	ManifestProductCode string // MsiInfo from Detection.xml, if any
	AppName             string
	SearchRoots         []string
}

// Result is the outcome of BuildRule. ManualConfigurationRequired is set
// when Rule is an AbsentRule; the app can still be created.
type Result struct {
	Rule                        models.DetectionRule
	Source                      Source
	InstalledPath               string
	InstalledVersion            string
	Warnings                    []string
	ManualConfigurationRequired bool
}

func (r *Result) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// UninstallEntry is an Uninstall registry key of an installed product
type UninstallEntry struct {
	Key         string // below HKEY_LOCAL_MACHINE
	DisplayName string
	Version     string
}

// LocalInstaller installs and removes the package on this machine.
type LocalInstaller interface {
	Install(ctx context.Context) error
	Uninstall(ctx context.Context) error
}

// Builder picks a detection rule. The first of these wins: MSI product
// code, installed file version, file version after a local install, none.
type Builder struct {
	SearchRoots       []string
	SearchDepth       int
	AllowLocalInstall bool
	Installer         LocalInstaller

	ReadProductCode func(msiPath string) (string, error)
	ReadFileVersion func(path string) (string, error)
	LookupUninstall func(displayName string) (*UninstallEntry, error)

	Logger utils.LeveledLogger
}

// NewBuilder creates a builder using the platform probes
func NewBuilder(cfg models.DetectionConfig) *Builder {
	roots := cfg.SearchRoots
	if len(roots) == 0 {
		roots = DefaultSearchRoots
	}
	depth := cfg.SearchDepth
	if depth <= 0 {
		depth = defaultSearchDepth
	}
	return &Builder{
		SearchRoots:       roots,
		SearchDepth:       depth,
		AllowLocalInstall: cfg.AllowLocalInstall,
		ReadProductCode:   readMsiProductCode,
		ReadFileVersion:   readFileVersion,
		LookupUninstall:   lookupUninstall,
		Logger:            utils.NopLogger(),
	}
}

// BuildRule never fails; problems end up in Result.Warnings.
func (b *Builder) BuildRule(ctx context.Context, in Input) *Result {
	res := &Result{}

	if strings.Contains(strings.ToLower(in.ScriptText), msiMarker) {
		if rule, ok := b.msiRule(in, res); ok {
			res.Rule = rule
			res.Source = SourceMSI
			return b.done(res)
		}
	}

	roots := in.SearchRoots
	if len(roots) == 0 {
		roots = b.SearchRoots
	}

	if in.TargetFile != "" {
		if b.fileRule(in, roots, res) {
			res.Source = SourceFileSearch
			return b.done(res)
		}

		if b.AllowLocalInstall && b.Installer != nil {
			if b.localInstallRule(ctx, in, roots, res) {
				return b.done(res)
			}
		}
	}

	res.Rule = models.AbsentRule{Reason: "no detection signal found"}
	res.Source = SourceNone
	res.ManualConfigurationRequired = true
	res.warn("no detection rule could be derived; configure detection manually in Intune")
	return b.done(res)
}

func (b *Builder) done(res *Result) *Result {
	for _, w := range res.Warnings {
		b.Logger.Warn("%s", w)
	}
	if res.Source != SourceNone {
		b.Logger.Info("Detection rule: %s (%s)", res.Rule.Kind(), res.Source)
	}
	return res
}

func (b *Builder) msiRule(in Input, res *Result) (models.DetectionRule, bool) {
	if in.ManifestProductCode != "" {
		return models.NewProductCodeRule(in.ManifestProductCode), true
	}

	msis, err := findByExtension(in.SourceDir, ".msi")
	if err != nil {
		res.warn("failed to search %s for an MSI: %v", in.SourceDir, err)
		return nil, false
	}
	if len(msis) != 1 {
		res.warn("install script calls msiexec but %d .msi files were found; expected exactly one", len(msis))
		return nil, false
	}

	code, err := b.ReadProductCode(msis[0])
	if err != nil || code == "" {
		res.warn("could not read the product code of %s: %v", filepath.Base(msis[0]), err)
		return nil, false
	}
	res.InstalledPath = msis[0]
	return models.NewProductCodeRule(code), true
}

func (b *Builder) fileRule(in Input, roots []string, res *Result) bool {
	found := FindFile(roots, in.TargetFile, b.SearchDepth)
	if found == "" {
		return false
	}

	installed, err := b.ReadFileVersion(found)
	if err != nil {
		b.Logger.Debug("No version resource in %s: %v", found, err)
	}
	res.InstalledPath = found
	res.InstalledVersion = installed

	version := in.DeclaredVersion
	switch {
	case version == "" && installed != "":
		version = installed
	case version != "" && installed != "" && !SameVersion(installed, version):
		res.warn("installed %s has version %s but the script declares %s", filepath.Base(found), installed, version)
	}

	rule := models.NewFileVersionRule(filepath.Dir(found), filepath.Base(found), version)
	if version == "" {
		rule.OperationType = "exists"
		rule.Operator = models.OperatorNotConfigured
	}
	rule.Check32BitOn64System = strings.Contains(strings.ToLower(found), "(x86)")
	res.Rule = rule
	return true
}

// localInstallRule installs the package, looks again, and removes the
// package whatever the outcome.
func (b *Builder) localInstallRule(ctx context.Context, in Input, roots []string, res *Result) bool {
	b.Logger.Info("Installing locally to discover %s", in.TargetFile)
	if err := b.Installer.Install(ctx); err != nil {
		res.warn("local install failed: %v", err)
		return false
	}
	defer func() {
		if err := b.Installer.Uninstall(context.WithoutCancel(ctx)); err != nil {
			res.warn("local uninstall failed, remove the app manually: %v", err)
		}
	}()

	if b.fileRule(in, roots, res) {
		res.Source = SourceLocalInstall
		return true
	}

	if in.AppName == "" || b.LookupUninstall == nil {
		return false
	}
	entry, err := b.LookupUninstall(in.AppName)
	if err != nil || entry == nil {
		return false
	}

	version := in.DeclaredVersion
	if version == "" {
		version = entry.Version
	}
	res.InstalledVersion = entry.Version
	res.Rule = models.RegistryRule{
		KeyPath:              `HKEY_LOCAL_MACHINE\` + entry.Key,
		ValueName:            "DisplayVersion",
		Check32BitOn64System: strings.Contains(strings.ToLower(entry.Key), "wow6432node"),
		OperationType:        "version",
		Operator:             models.OperatorGreaterThanOrEqual,
		ComparisonValue:      version,
	}
	res.Source = SourceRegistry
	return true
}

// SameVersion compares two dotted versions numerically, falling back to a
// string comparison when either does not parse.
func SameVersion(a, b string) bool {
	va, errA := goversion.NewVersion(a)
	vb, errB := goversion.NewVersion(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return va.Equal(vb)
}

// FindFile searches roots in order for name, descending at most maxDepth
// directory levels. Unreadable directories are skipped.
func FindFile(roots []string, name string, maxDepth int) string {
	for _, root := range roots {
		var found string
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if dirDepth(root, path) > maxDepth {
					return fs.SkipDir
				}
				return nil
			}
			if strings.EqualFold(d.Name(), name) {
				found = path
				return fs.SkipAll
			}
			return nil
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func findByExtension(root, ext string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ext) {
			out = append(out, path)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func dirDepth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}
