package system

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/ThomasHoins/Intunewin/pkg/utils"
)

// ErrInsufficientSpace matches a failed disk space check
var ErrInsufficientSpace = apperrors.Sentinel(apperrors.ErrorTypeFileSystem, "INSUFFICIENT_SPACE")

// DiskSpaceInfo contains disk space information
type DiskSpaceInfo struct {
	Path    string  `json:"path"`
	Total   uint64  `json:"total"`
	Free    uint64  `json:"free"`
	Used    uint64  `json:"used"`
	UsedPct float64 `json:"used_pct"`
}

// ResourceChecker checks the local disk before packaging and extraction
type ResourceChecker struct {
	logger utils.LeveledLogger
	usage  func(path string) (*disk.UsageStat, error)
}

// NewResourceChecker creates a new resource checker
func NewResourceChecker(logger utils.LeveledLogger) *ResourceChecker {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &ResourceChecker{logger: logger, usage: disk.Usage}
}

// CheckDiskSpace reports the space of the volume holding path. A path that
// does not exist yet is measured at its closest existing parent.
func (rc *ResourceChecker) CheckDiskSpace(path string) (*DiskSpaceInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	probe := existingParent(absPath)
	stat, err := rc.usage(probe)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk statistics for %s: %w", probe, err)
	}

	info := &DiskSpaceInfo{
		Path:    absPath,
		Total:   stat.Total,
		Free:    stat.Free,
		Used:    stat.Used,
		UsedPct: stat.UsedPercent,
	}
	rc.logger.Debug("Disk space for %s: %.1f%% used, %s free", absPath, info.UsedPct, utils.FormatBytes(int64(info.Free)))
	return info, nil
}

// EnsureSpace fails when the volume holding path has less than need bytes
// free. Failing to measure is only logged.
func (rc *ResourceChecker) EnsureSpace(path string, need int64) error {
	info, err := rc.CheckDiskSpace(path)
	if err != nil {
		rc.logger.Warn("Skipping disk space check: %v", err)
		return nil
	}
	if need > 0 && info.Free < uint64(need) {
		return apperrors.NewFileSystemError(ErrInsufficientSpace.Code,
			fmt.Sprintf("%s free on %s, %s needed", utils.FormatBytes(int64(info.Free)), info.Path, utils.FormatBytes(need))).
			WithContext("path", info.Path).
			WithSuggestion("Free up space or choose another output directory with --output")
	}
	return nil
}

// CheckWritable creates and removes a probe file in dir
func (rc *ResourceChecker) CheckWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".intunewin-probe-*")
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrorTypePermission, "NOT_WRITABLE",
			fmt.Sprintf("cannot write to %s", dir)).
			WithContext("path", dir)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func existingParent(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
