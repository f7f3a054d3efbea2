// Package imaging normalizes uploaded avatar images.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/npezzotti/galchat/internal/types"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// AvatarSize is the edge length of a normalized avatar.
const AvatarSize = 200

// Avatar center-crops the image to a square, scales it to size x size and
// encodes it as PNG. Undecodable input yields types.ErrInvalidContent.
func Avatar(data []byte, size int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode avatar: %w: %v", types.ErrInvalidContent, err)
	}

	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("decode avatar: empty image: %w", types.ErrInvalidContent)
	}

	side := min(b.Dx(), b.Dy())
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	crop := image.Rect(x0, y0, x0+side, y0+side)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode avatar: %w", err)
	}

	return buf.Bytes(), nil
}
