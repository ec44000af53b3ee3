// internal/media/image.go
package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"strings"

	"github.com/user/webjourney/internal/types"
)

// DecodeDataURL converts a data URL into raw bytes plus mime type. Only
// image payloads are accepted.
func DecodeDataURL(dataURL string) ([]byte, string, error) {
	if !strings.HasPrefix(dataURL, "data:image/") {
		return nil, "", fmt.Errorf("invalid data url: must be an image")
	}
	header, b64, found := strings.Cut(dataURL, ",")
	if !found {
		return nil, "", fmt.Errorf("invalid data url: missing payload")
	}

	mime := strings.TrimPrefix(header, "data:")
	mime = strings.TrimSuffix(mime, ";base64")

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url payload: %w", err)
	}
	return data, mime, nil
}

// EncodeDataURL converts stored bytes back into transport form.
func EncodeDataURL(data []byte, mime string) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ExtractRegion crops the bounding box out of the source image, scaling
// box coordinates by devicePixelRatio*zoomFactor, and re-encodes the
// crop as lossless PNG (the full frame is lossy JPEG; the crop is small
// enough to favor fidelity). Any decoding or geometry failure falls back
// to the original, uncropped bytes under their own mime type. Returns
// the image bytes and the mime type they carry.
func ExtractRegion(src []byte, srcMime string, box types.BoundingBox, devicePixelRatio, zoomFactor float64) ([]byte, string) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		slog.Warn("region extraction failed, keeping full image", "error", err)
		return src, srcMime
	}

	if devicePixelRatio <= 0 {
		devicePixelRatio = 1
	}
	if zoomFactor <= 0 {
		zoomFactor = 1
	}
	scale := devicePixelRatio * zoomFactor

	region := image.Rect(
		int(box.Left*scale),
		int(box.Top*scale),
		int((box.Left+box.Width)*scale),
		int((box.Top+box.Height)*scale),
	).Intersect(img.Bounds())
	if region.Empty() {
		slog.Warn("bounding box outside image bounds, keeping full image",
			"box", fmt.Sprintf("%+v", box), "scale", scale)
		return src, srcMime
	}

	crop := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(crop, crop.Bounds(), img, region.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		slog.Warn("crop encode failed, keeping full image", "error", err)
		return src, srcMime
	}
	return buf.Bytes(), "image/png"
}
