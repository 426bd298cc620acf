package intunewin

import (
	"crypto/rand"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// PaddingFile is the name of the filler file PadSource writes
const PaddingFile = "_intunewin_padding.bin"

// SourceSize returns the total size of regular files below dir.
func SourceSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// PadSource tops up dir to minBytes with a random filler file. It runs
// before packaging, so the manifest the tool writes, sizes and key material
// included, describes the padded content exactly. The returned cleanup
// removes the filler and is never nil. added is zero when no padding was
// needed.
func PadSource(dir string, minBytes int64) (added int64, cleanup func() error, err error) {
	cleanup = func() error { return nil }

	size, err := SourceSize(dir)
	if err != nil {
		return 0, cleanup, err
	}
	if size >= minBytes {
		return 0, cleanup, nil
	}

	target := filepath.Join(dir, PaddingFile)
	deficit := minBytes - size
	f, err := os.Create(target)
	if err != nil {
		return 0, cleanup, err
	}

	// Random bytes keep the deflate step from shrinking the padding away.
	if _, err := io.CopyN(f, rand.Reader, deficit); err != nil {
		f.Close()
		os.Remove(target)
		return 0, cleanup, err
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return 0, cleanup, err
	}

	return deficit, func() error { return os.Remove(target) }, nil
}
