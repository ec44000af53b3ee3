package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/webjourney/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "media.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// testImageDataURL renders a w x h gradient and returns it as a JPEG
// data URL, the transport format captures arrive in.
func testImageDataURL(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatal(err)
	}
	return EncodeDataURL(buf.Bytes(), "image/jpeg")
}

func TestStoreAndGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	dataURL := testImageDataURL(t, 64, 48)
	id, err := store.Store(ctx, dataURL, "https://example.com", 7, "session_1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(id), "scr_") {
		t.Errorf("expected scr_ prefix, got %s", id)
	}

	got, err := store.Get(ctx, string(id))
	if err != nil {
		t.Fatal(err)
	}
	if got != dataURL {
		t.Error("round trip altered the data url")
	}

	// Returned payload is a decodable image
	data, _, err := DecodeDataURL(got)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("stored image not decodable: %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	store := openTestStore(t)
	got, err := store.Get(context.Background(), "scr_nope")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("expected empty result for missing id, got %d bytes", len(got))
	}
}

func TestGetChecksElementsFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	dataURL := testImageDataURL(t, 32, 32)
	scrID, err := store.Store(ctx, dataURL, "", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	elID, err := store.StoreExtracted(ctx, scrID, []byte("crop-bytes"), "image/png",
		types.BoundingBox{Left: 0, Top: 0, Width: 10, Height: 10}, "BUTTON", "Go", "act_1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(elID), "el_") {
		t.Errorf("expected el_ prefix, got %s", elID)
	}

	got, err := store.Get(ctx, string(elID))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Errorf("element lookup should return the stored crop as png: %s", got[:40])
	}
}

func TestGetBatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	dataURL := testImageDataURL(t, 16, 16)
	var ids []string
	for i := 0; i < 20; i++ {
		id, err := store.Store(ctx, dataURL, "", 0, "session_b")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, string(id))
	}
	ids = append(ids, "scr_missing")

	result, err := store.GetBatch(ctx, ids)
	if err != nil {
		t.Fatal(err)
	}
	if len(result) != len(ids) {
		t.Fatalf("expected %d entries, got %d", len(ids), len(result))
	}
	if result["scr_missing"] != "" {
		t.Error("missing id should map to empty")
	}
	for _, id := range ids[:20] {
		if result[id] != dataURL {
			t.Errorf("batch entry %s mismatched", id)
		}
	}
}

func TestExtractRegion(t *testing.T) {
	dataURL := testImageDataURL(t, 100, 80)
	src, _, err := DecodeDataURL(dataURL)
	if err != nil {
		t.Fatal(err)
	}

	crop, mime := ExtractRegion(src, "image/jpeg", types.BoundingBox{Left: 10, Top: 10, Width: 30, Height: 20}, 1, 1)
	if mime != "image/png" {
		t.Errorf("successful crop should be png, got %s", mime)
	}
	img, err := png.Decode(bytes.NewReader(crop))
	if err != nil {
		t.Fatalf("crop not a png: %v", err)
	}
	if img.Bounds().Dx() != 30 || img.Bounds().Dy() != 20 {
		t.Errorf("expected 30x20 crop, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestExtractRegionScaled(t *testing.T) {
	dataURL := testImageDataURL(t, 200, 200)
	src, _, err := DecodeDataURL(dataURL)
	if err != nil {
		t.Fatal(err)
	}

	// 2x device pixel ratio doubles the source-space rectangle
	crop, _ := ExtractRegion(src, "image/jpeg", types.BoundingBox{Left: 10, Top: 10, Width: 30, Height: 20}, 2, 1)
	img, err := png.Decode(bytes.NewReader(crop))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 60 || img.Bounds().Dy() != 40 {
		t.Errorf("expected 60x40 crop at dpr 2, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestExtractRegionFallback(t *testing.T) {
	garbage := []byte("not an image at all")
	got, mime := ExtractRegion(garbage, "application/octet-stream", types.BoundingBox{Left: 0, Top: 0, Width: 10, Height: 10}, 1, 1)
	if !bytes.Equal(got, garbage) {
		t.Error("undecodable input must fall back to the original bytes")
	}
	if mime != "application/octet-stream" {
		t.Errorf("fallback must keep the source mime, got %s", mime)
	}

	// Out-of-bounds box also falls back
	dataURL := testImageDataURL(t, 50, 50)
	src, _, _ := DecodeDataURL(dataURL)
	got, mime = ExtractRegion(src, "image/jpeg", types.BoundingBox{Left: 500, Top: 500, Width: 10, Height: 10}, 1, 1)
	if !bytes.Equal(got, src) {
		t.Error("out-of-bounds box must fall back to the original bytes")
	}
	if mime != "image/jpeg" {
		t.Errorf("fallback must keep the source mime, got %s", mime)
	}
}

func TestFallbackElementKeepsSourceMime(t *testing.T) {
	// Crop failure hands the original JPEG bytes to StoreExtracted; the
	// element must come back as a JPEG data URL, not a mislabeled PNG.
	store := openTestStore(t)
	ctx := context.Background()

	dataURL := testImageDataURL(t, 40, 40)
	src, srcMime, _ := DecodeDataURL(dataURL)
	scrID, err := store.Store(ctx, dataURL, "", 0, "")
	if err != nil {
		t.Fatal(err)
	}

	fallback, mime := ExtractRegion(src, srcMime,
		types.BoundingBox{Left: 500, Top: 500, Width: 10, Height: 10}, 1, 1)
	if mime != "image/jpeg" {
		t.Fatalf("out-of-bounds crop should keep jpeg mime, got %s", mime)
	}

	elID, err := store.StoreExtracted(ctx, scrID, fallback, mime,
		types.BoundingBox{Left: 0, Top: 0, Width: 40, Height: 40}, "DIV", "", "act_f")
	if err != nil {
		t.Fatalf("storeExtracted must succeed with uncropped bytes: %v", err)
	}
	got, err := store.Get(ctx, string(elID))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "data:image/jpeg;base64,") {
		t.Fatalf("fallback element served with wrong mime: %s", got[:32])
	}
	payload, _, err := DecodeDataURL(got)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(payload)); err != nil {
		t.Errorf("fallback payload should decode as jpeg: %v", err)
	}
}

func TestUsageInfoAndClear(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	dataURL := testImageDataURL(t, 30, 30)
	scrID, err := store.Store(ctx, dataURL, "", 0, "session_u")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.StoreExtracted(ctx, scrID, []byte("123456"), "image/png",
		types.BoundingBox{}, "A", "", ""); err != nil {
		t.Fatal(err)
	}

	info, err := store.UsageInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Count != 2 {
		t.Errorf("expected 2 objects, got %d", info.Count)
	}
	if info.TotalSizeBytes < 6 {
		t.Errorf("size sum looks wrong: %d", info.TotalSizeBytes)
	}

	if err := store.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	info, err = store.UsageInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Count != 0 || info.TotalSizeBytes != 0 {
		t.Errorf("expected empty store after clear, got %+v", info)
	}
}

func TestDecodeDataURLRejectsNonImage(t *testing.T) {
	if _, _, err := DecodeDataURL("data:text/html;base64,PGI+"); err == nil {
		t.Error("expected rejection of non-image data url")
	}
	if _, _, err := DecodeDataURL("plainstring"); err == nil {
		t.Error("expected rejection of non data url")
	}
}
