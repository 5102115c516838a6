package hash

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"imagededup/internal/models"
)

// Supported fingerprint widths. Size 8 yields 64-bit hashes, 16 yields
// 256-bit hashes. All three algorithms in a run share the same width.
const (
	DefaultHashSize = 8
	LargeHashSize   = 16
)

// ValidateConfig rejects out-of-range matching parameters before any
// fingerprinting starts. The threshold ceiling depends on the hash width.
func ValidateConfig(hashSize, threshold, agreement int) error {
	if hashSize != DefaultHashSize && hashSize != LargeHashSize {
		return fmt.Errorf("hash size must be %d or %d, got %d", DefaultHashSize, LargeHashSize, hashSize)
	}
	bits := hashSize * hashSize
	if threshold < 0 || threshold > bits {
		return fmt.Errorf("threshold must be in 0..%d for hash size %d, got %d", bits, hashSize, threshold)
	}
	if agreement < 1 || agreement > 3 {
		return fmt.Errorf("agreement must be between 1 and 3, got %d", agreement)
	}
	return nil
}

// Hasher computes the three perceptual fingerprints and metadata of an image.
type Hasher struct {
	hashSize int
}

// NewHasher creates a Hasher for the given hash size (8 or 16).
func NewHasher(hashSize int) (*Hasher, error) {
	if hashSize != DefaultHashSize && hashSize != LargeHashSize {
		return nil, fmt.Errorf("hash size must be %d or %d, got %d", DefaultHashSize, LargeHashSize, hashSize)
	}
	return &Hasher{hashSize: hashSize}, nil
}

// HashSize returns the configured hash grid size.
func (h *Hasher) HashSize() int {
	return h.hashSize
}

// Bits returns the fingerprint width in bits.
func (h *Hasher) Bits() int {
	return h.hashSize * h.hashSize
}

// HashImage fingerprints one image. It never fails: decode problems are
// recorded on the returned ImageInfo, which then carries only the path and
// the failure reason so the record is excluded from matching.
func (h *Hasher) HashImage(path string) *models.ImageInfo {
	file, err := os.Open(path)
	if err != nil {
		return errorRecord(path, fmt.Sprintf("failed to open file: %v", err))
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return errorRecord(path, fmt.Sprintf("failed to stat file: %v", err))
	}
	if stat.Size() == 0 {
		return errorRecord(path, "zero-byte file")
	}

	// Probe EXIF on a separate handle; Decode consumes the reader.
	hasExif := checkExif(path)

	img, format, err := image.Decode(file)
	if err != nil {
		return errorRecord(path, fmt.Sprintf("failed to decode image: %v", err))
	}

	ahash, err := goimagehash.ExtAverageHash(img, h.hashSize, h.hashSize)
	if err != nil {
		return errorRecord(path, fmt.Sprintf("failed to compute average hash: %v", err))
	}
	dhash, err := goimagehash.ExtDifferenceHash(img, h.hashSize, h.hashSize)
	if err != nil {
		return errorRecord(path, fmt.Sprintf("failed to compute difference hash: %v", err))
	}
	phash, err := goimagehash.ExtPerceptionHash(img, h.hashSize, h.hashSize)
	if err != nil {
		return errorRecord(path, fmt.Sprintf("failed to compute perception hash: %v", err))
	}

	bounds := img.Bounds()

	return &models.ImageInfo{
		Path:     path,
		AHash:    ahash,
		DHash:    dhash,
		PHash:    phash,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Format:   normalizeFormat(format, path),
		FileSize: stat.Size(),
		ModTime:  stat.ModTime(),
		HasExif:  hasExif,
	}
}

// HashImageWithTimeout fingerprints an image, giving up after the timeout.
// A timeout produces an error record like any other per-image failure.
func (h *Hasher) HashImageWithTimeout(path string, timeout time.Duration) *models.ImageInfo {
	done := make(chan *models.ImageInfo, 1)

	go func() {
		done <- h.HashImage(path)
	}()

	select {
	case info := <-done:
		return info
	case <-time.After(timeout):
		return errorRecord(path, fmt.Sprintf("timed out after %v", timeout))
	}
}

// errorRecord builds a fully-invalid record: error set, everything else zero.
func errorRecord(path, reason string) *models.ImageInfo {
	return &models.ImageInfo{
		Path:  path,
		Error: reason,
	}
}

// normalizeFormat uppercases the decoder's format name, deriving it from the
// file extension when the decoder reports none.
func normalizeFormat(format, path string) string {
	if format != "" {
		return strings.ToUpper(format)
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return strings.ToUpper(ext)
}

// checkExif reports whether the file carries decodable EXIF metadata.
func checkExif(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	_, err = exif.Decode(file)
	return err == nil
}
