package models

import (
	"strings"
	"time"

	"github.com/corona10/goimagehash"
)

// ImageInfo holds the perceptual fingerprints and metadata of one image.
// A record is either fully valid (Error empty, all fields populated) or
// fully invalid (Error set, everything else zeroed except Path). Records
// are never mutated after creation.
type ImageInfo struct {
	ID       int64                     `json:"id,omitempty"`
	Path     string                    `json:"path"`
	AHash    *goimagehash.ExtImageHash `json:"-"` // mean-threshold hash
	DHash    *goimagehash.ExtImageHash `json:"-"` // gradient hash
	PHash    *goimagehash.ExtImageHash `json:"-"` // DCT hash
	Width    int                       `json:"width"`
	Height   int                       `json:"height"`
	Format   string                    `json:"format"` // normalized uppercase, e.g. "JPEG"
	FileSize int64                     `json:"file_size"`
	ModTime  time.Time                 `json:"mod_time"`
	HasExif  bool                      `json:"has_exif"`
	Error    string                    `json:"error,omitempty"`
}

// Valid reports whether the image was decoded and fingerprinted successfully.
func (img *ImageInfo) Valid() bool {
	return img.Error == ""
}

// PixelArea returns width*height, the resolution component of quality ranking.
func (img *ImageInfo) PixelArea() int {
	return img.Width * img.Height
}

// DuplicateGroup is a set of mutually similar images (size >= 2) with the
// chosen representative. Groups are built once and read-only afterwards.
type DuplicateGroup struct {
	ID     int          `json:"id"`
	Images []*ImageInfo `json:"images"`
	Keep   *ImageInfo   `json:"keep"`
	Remove []*ImageInfo `json:"remove"`
}

// TotalSize returns the combined file size of all images in the group.
func (g *DuplicateGroup) TotalSize() int64 {
	var total int64
	for _, img := range g.Images {
		total += img.FileSize
	}
	return total
}

// ReclaimableSize returns the bytes freed by keeping only the representative.
func (g *DuplicateGroup) ReclaimableSize() int64 {
	return g.TotalSize() - g.Keep.FileSize
}

// GroupStats summarizes a grouping run for reporting.
type GroupStats struct {
	TotalGroups      int     `json:"total_groups"`
	TotalDuplicates  int     `json:"total_duplicates"`
	LargestGroupSize int     `json:"largest_group_size"`
	AverageGroupSize float64 `json:"average_group_size"`
	ReclaimableBytes int64   `json:"reclaimable_bytes"`
}

// formatRanks orders image formats by retention preference: lossless or
// editable formats beat lossy ones regardless of file size.
var formatRanks = map[string]int{
	"PSD":  100,
	"PNG":  90,
	"TIFF": 80,
	"TIF":  80,
	"BMP":  70,
	"WEBP": 60,
	"JPG":  50,
	"JPEG": 50,
	"GIF":  40,
}

// FormatRank returns the retention priority of an image format (higher is
// better). Unknown formats rank below everything in the table.
func FormatRank(format string) int {
	if rank, ok := formatRanks[strings.ToUpper(format)]; ok {
		return rank
	}
	return 30
}
