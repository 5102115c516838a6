// Package organize copies the keep-set of a deduplication run into an output
// directory: every image that ended up in no duplicate group plus the chosen
// representative of each group. Non-representative duplicates are simply not
// copied; nothing is ever deleted here.
package organize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"imagededup/internal/fileutil"
	"imagededup/internal/models"
)

// CopyResult records the outcome of one copy operation.
type CopyResult struct {
	Source      string `json:"source_path"`
	Destination string `json:"destination_path"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	BytesCopied int64  `json:"bytes_copied"`
}

// Report summarizes an organization run.
type Report struct {
	TotalInputImages     int          `json:"total_input_images"`
	UniqueImagesCopied   int          `json:"unique_images_copied"`
	DuplicateGroupsFound int          `json:"duplicate_groups_found"`
	SpaceSaved           int64        `json:"total_space_saved_bytes"`
	CopyResults          []CopyResult `json:"copy_results"`
	Errors               []string     `json:"errors"`
	Timestamp            time.Time    `json:"timestamp"`
	DryRun               bool         `json:"dry_run"`
}

// Organizer copies keep-set images into the output directory.
type Organizer struct {
	outputDir         string
	preserveStructure bool
	dryRun            bool
	progressFn        func(done, total int, current string)
	usedNames         map[string]struct{}
}

// Option configures an Organizer.
type Option func(*Organizer)

// WithPreservedStructure keeps each image's path relative to the scan root
// instead of flattening everything into the output directory.
func WithPreservedStructure() Option {
	return func(o *Organizer) { o.preserveStructure = true }
}

// WithDryRun simulates the copy without touching the filesystem.
func WithDryRun() Option {
	return func(o *Organizer) { o.dryRun = true }
}

// WithProgress sets a progress callback.
func WithProgress(fn func(done, total int, current string)) Option {
	return func(o *Organizer) { o.progressFn = fn }
}

// NewOrganizer creates an Organizer targeting outputDir.
func NewOrganizer(outputDir string, opts ...Option) *Organizer {
	o := &Organizer{
		outputDir: outputDir,
		usedNames: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// KeepSet returns the records to preserve: every record outside all groups
// (including ones that failed to fingerprint) plus each group's
// representative, in the original record order.
func KeepSet(groups []*models.DuplicateGroup, records []*models.ImageInfo) []*models.ImageInfo {
	grouped := make(map[*models.ImageInfo]bool)
	representative := make(map[*models.ImageInfo]bool)
	for _, group := range groups {
		for _, img := range group.Images {
			grouped[img] = true
		}
		representative[group.Keep] = true
	}

	var keep []*models.ImageInfo
	for _, rec := range records {
		if !grouped[rec] || representative[rec] {
			keep = append(keep, rec)
		}
	}
	return keep
}

// Organize copies the keep-set into the output directory. sourceRoot is the
// directory the images were discovered under; it anchors relative paths when
// structure preservation is on. Per-file failures are collected in the
// report, not returned as an error.
func (o *Organizer) Organize(groups []*models.DuplicateGroup, records []*models.ImageInfo, sourceRoot string) (*Report, error) {
	if !o.dryRun {
		if err := os.MkdirAll(o.outputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	keep := KeepSet(groups, records)

	report := &Report{
		TotalInputImages:     len(records),
		DuplicateGroupsFound: len(groups),
		Timestamp:            time.Now(),
		DryRun:               o.dryRun,
	}
	for _, group := range groups {
		report.SpaceSaved += group.ReclaimableSize()
	}

	for i, rec := range keep {
		result := o.copyOne(rec, sourceRoot)
		report.CopyResults = append(report.CopyResults, result)
		if result.Success {
			report.UniqueImagesCopied++
		} else {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to copy %s: %s", rec.Path, result.Error))
		}
		if o.progressFn != nil {
			o.progressFn(i+1, len(keep), rec.Path)
		}
	}

	return report, nil
}

func (o *Organizer) copyOne(rec *models.ImageInfo, sourceRoot string) CopyResult {
	relative := filepath.Base(rec.Path)
	if o.preserveStructure && sourceRoot != "" {
		if rel, err := filepath.Rel(sourceRoot, rec.Path); err == nil && !filepath.IsAbs(rel) && rel != ".." && !hasDotDotPrefix(rel) {
			relative = rel
		}
	}

	dest, err := o.resolveCollision(relative)
	if err != nil {
		return CopyResult{Source: rec.Path, Success: false, Error: err.Error()}
	}
	destPath := filepath.Join(o.outputDir, dest)

	if o.dryRun {
		o.usedNames[dest] = struct{}{}
		return CopyResult{
			Source:      rec.Path,
			Destination: destPath,
			Success:     true,
			BytesCopied: rec.FileSize,
		}
	}

	if err := fileutil.CopyFile(rec.Path, destPath); err != nil {
		return CopyResult{Source: rec.Path, Destination: destPath, Success: false, Error: err.Error()}
	}

	o.usedNames[dest] = struct{}{}
	copied := rec.FileSize
	if info, err := os.Stat(destPath); err == nil {
		copied = info.Size()
	}

	return CopyResult{
		Source:      rec.Path,
		Destination: destPath,
		Success:     true,
		BytesCopied: copied,
	}
}

// resolveCollision finds a free output-relative path, consulting both names
// claimed this run (needed in dry-run mode) and the filesystem.
func (o *Organizer) resolveCollision(relative string) (string, error) {
	dir := filepath.Dir(relative)

	name, err := fileutil.UniqueName(filepath.Base(relative), func(candidate string) bool {
		candidateRel := filepath.Join(dir, candidate)
		if _, claimed := o.usedNames[candidateRel]; claimed {
			return false
		}
		if o.dryRun {
			return true
		}
		_, statErr := os.Stat(filepath.Join(o.outputDir, candidateRel))
		return os.IsNotExist(statErr)
	})
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, name), nil
}

// WriteReport saves the report as indented JSON.
func WriteReport(report *Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}
