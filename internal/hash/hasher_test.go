package hash

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// gradientImage builds a horizontal luminance gradient, enough texture for
// all three fingerprints to be non-degenerate.
func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 255 / w)
			img.Set(x, y, color.NRGBA{v, v, v, 255})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
}

func writeJPEG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name      string
		hashSize  int
		threshold int
		agreement int
		wantErr   bool
	}{
		{"defaults", 8, 10, 2, false},
		{"large hash", 16, 100, 3, false},
		{"zero threshold", 8, 0, 1, false},
		{"threshold at ceiling", 8, 64, 2, false},
		{"large threshold at ceiling", 16, 256, 2, false},
		{"bad hash size", 7, 10, 2, true},
		{"zero hash size", 0, 10, 2, true},
		{"negative threshold", 8, -1, 2, true},
		{"threshold over ceiling", 8, 65, 2, true},
		{"large threshold over ceiling", 16, 257, 2, true},
		{"agreement too low", 8, 10, 0, true},
		{"agreement too high", 8, 10, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.hashSize, tt.threshold, tt.agreement)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig(%d, %d, %d) error = %v, wantErr %v",
					tt.hashSize, tt.threshold, tt.agreement, err, tt.wantErr)
			}
		})
	}
}

func TestNewHasher(t *testing.T) {
	h, err := NewHasher(8)
	if err != nil {
		t.Fatalf("NewHasher(8) failed: %v", err)
	}
	if h.HashSize() != 8 || h.Bits() != 64 {
		t.Errorf("size = %d, bits = %d; want 8, 64", h.HashSize(), h.Bits())
	}

	h, err = NewHasher(16)
	if err != nil {
		t.Fatalf("NewHasher(16) failed: %v", err)
	}
	if h.Bits() != 256 {
		t.Errorf("bits = %d, want 256", h.Bits())
	}

	if _, err := NewHasher(12); err == nil {
		t.Error("expected error for unsupported hash size 12")
	}
}

func TestHashImage_Metadata(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "gradient.png")
	writePNG(t, path, gradientImage(64, 48))

	h, _ := NewHasher(8)
	info := h.HashImage(path)

	if !info.Valid() {
		t.Fatalf("expected valid record, got error %q", info.Error)
	}
	if info.Path != path {
		t.Errorf("Path = %q, want %q", info.Path, path)
	}
	if info.Width != 64 || info.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", info.Width, info.Height)
	}
	if info.Format != "PNG" {
		t.Errorf("Format = %q, want PNG", info.Format)
	}
	if info.FileSize <= 0 {
		t.Errorf("FileSize = %d, want > 0", info.FileSize)
	}
	if info.ModTime.IsZero() {
		t.Error("ModTime should be set")
	}
	if info.AHash == nil || info.DHash == nil || info.PHash == nil {
		t.Error("all three fingerprints should be set")
	}
}

func TestHashImage_Deterministic(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "gradient.png")
	writePNG(t, path, gradientImage(64, 64))

	h, _ := NewHasher(8)
	first := h.HashImage(path)
	second := h.HashImage(path)

	if !first.Valid() || !second.Valid() {
		t.Fatal("both runs should produce valid records")
	}
	if first.AHash.ToString() != second.AHash.ToString() {
		t.Errorf("aHash differs across runs: %s != %s", first.AHash.ToString(), second.AHash.ToString())
	}
	if first.DHash.ToString() != second.DHash.ToString() {
		t.Errorf("dHash differs across runs: %s != %s", first.DHash.ToString(), second.DHash.ToString())
	}
	if first.PHash.ToString() != second.PHash.ToString() {
		t.Errorf("pHash differs across runs: %s != %s", first.PHash.ToString(), second.PHash.ToString())
	}
}

func TestHashImage_JPEGFormat(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "photo.jpg")
	writeJPEG(t, path, gradientImage(32, 32))

	h, _ := NewHasher(8)
	info := h.HashImage(path)

	if !info.Valid() {
		t.Fatalf("expected valid record, got error %q", info.Error)
	}
	if info.Format != "JPEG" {
		t.Errorf("Format = %q, want JPEG", info.Format)
	}
}

func TestHashImage_MissingFile(t *testing.T) {
	h, _ := NewHasher(8)
	info := h.HashImage("/nonexistent/missing.jpg")

	if info.Valid() {
		t.Fatal("expected error record for missing file")
	}
	if info.Path != "/nonexistent/missing.jpg" {
		t.Errorf("Path = %q, want original path", info.Path)
	}
	if info.AHash != nil || info.DHash != nil || info.PHash != nil {
		t.Error("error record must carry no fingerprints")
	}
	if info.Width != 0 || info.Height != 0 || info.FileSize != 0 {
		t.Error("error record must carry zeroed metadata")
	}
}

func TestHashImage_ZeroByteFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "empty.png")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	h, _ := NewHasher(8)
	info := h.HashImage(path)

	if info.Valid() {
		t.Fatal("expected error record for zero-byte file")
	}
	if info.Error != "zero-byte file" {
		t.Errorf("Error = %q, want %q", info.Error, "zero-byte file")
	}
}

func TestHashImage_CorruptData(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "corrupt.jpg")
	if err := os.WriteFile(path, []byte("this is not a jpeg"), 0644); err != nil {
		t.Fatal(err)
	}

	h, _ := NewHasher(8)
	info := h.HashImage(path)

	if info.Valid() {
		t.Fatal("expected error record for corrupt data")
	}
	if info.Error == "" {
		t.Error("error record must state the failure reason")
	}
}

func TestHashImage_LargeHashSize(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "gradient.png")
	writePNG(t, path, gradientImage(64, 64))

	small, _ := NewHasher(8)
	large, _ := NewHasher(16)

	a := small.HashImage(path)
	b := large.HashImage(path)
	if !a.Valid() || !b.Valid() {
		t.Fatal("both widths should fingerprint successfully")
	}

	// Mixing widths is a contract violation surfaced by the comparator.
	if _, err := a.PHash.Distance(b.PHash); err == nil {
		t.Error("expected error comparing 64-bit and 256-bit fingerprints")
	}
}

func TestHashImageWithTimeout(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "gradient.png")
	writePNG(t, path, gradientImage(32, 32))

	h, _ := NewHasher(8)

	info := h.HashImageWithTimeout(path, 30*time.Second)
	if !info.Valid() {
		t.Errorf("expected valid record, got error %q", info.Error)
	}
}

func TestNormalizeFormat(t *testing.T) {
	tests := []struct {
		format   string
		path     string
		expected string
	}{
		{"png", "a.png", "PNG"},
		{"jpeg", "a.jpg", "JPEG"},
		{"", "a.webp", "WEBP"},
		{"", "a", ""},
	}

	for _, tt := range tests {
		t.Run(tt.expected+"/"+tt.path, func(t *testing.T) {
			got := normalizeFormat(tt.format, tt.path)
			if got != tt.expected {
				t.Errorf("normalizeFormat(%q, %q) = %q, want %q", tt.format, tt.path, got, tt.expected)
			}
		})
	}
}
