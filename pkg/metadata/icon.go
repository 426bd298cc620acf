package metadata

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"

	"github.com/ThomasHoins/Intunewin/pkg/models"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// MaxIconSize is the largest edge of an uploaded icon
const MaxIconSize = 256

// EncodeIcon decodes an image file, scales it down to fit MaxIconSize and
// returns it as a base64 PNG ready for the largeIcon property.
func EncodeIcon(path string) (*models.Icon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open icon: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode icon %s: %w", path, err)
	}

	b := img.Bounds()
	if b.Dx() > MaxIconSize || b.Dy() > MaxIconSize {
		img = resize.Thumbnail(MaxIconSize, MaxIconSize, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode %s icon as png: %w", format, err)
	}

	return &models.Icon{
		Type:  "image/png",
		Value: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}
