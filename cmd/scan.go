package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"imagededup/internal/hash"
	"imagededup/internal/match"
	"imagededup/internal/models"
	"imagededup/internal/quality"
	"imagededup/internal/scan"
	"imagededup/internal/storage"
)

var (
	scanExtensions []string
	scanSample     int
	scanQuality    bool
	scanJSON       bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <folder>",
	Short: "Scan a folder for duplicate images",
	Long: `Scan a folder recursively for images and detect duplicates.

The scan will:
1. Find all supported images (jpg, png, gif, bmp, tiff, webp)
2. Fingerprint each image with three perceptual hash algorithms
3. Group images whose fingerprints agree within the threshold
4. Store results in the database for later use

Example:
  imagededup scan ./photos
  imagededup scan ./photos --threshold 5 --agreement 3
  imagededup scan ./photos --hash-size 16`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringSliceVarP(&scanExtensions, "ext", "e", nil, "Additional file extensions to include (e.g. -e .psd)")
	scanCmd.Flags().IntVar(&scanSample, "sample", 0, "Process only the first N images (0 = all)")
	scanCmd.Flags().BoolVar(&scanQuality, "quality", false, "Select representatives with the full quality score (format, resolution, size, sharpness, watermark)")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print the group report as JSON")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := validateMatchConfig(); err != nil {
		return err
	}

	absFolder, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	store, err := storage.NewStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Scanning: %s\n", absFolder)
	fmt.Printf("Threshold: %d, agreement: %d of 3, hash size: %d\n\n", threshold, agreement, hashSize)

	records, interrupted, err := fingerprintFolder(ctx, absFolder, scanExtensions, scanSample)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No images found.")
		return nil
	}

	if err := store.SaveImages(records); err != nil {
		return fmt.Errorf("failed to save images: %w", err)
	}

	reportFailures(records)

	if interrupted {
		fmt.Printf("Interrupted: fingerprinted %d images before aborting; skipping duplicate detection.\n", len(records))
		return nil
	}

	fmt.Println("Finding duplicates...")
	grouper, err := newGrouper(scanQuality)
	if err != nil {
		return err
	}
	groups, err := grouper.FindGroups(records)
	if err != nil {
		return fmt.Errorf("duplicate detection failed: %w", err)
	}

	if err := store.UpdateGroups(groups); err != nil {
		return fmt.Errorf("failed to update groups: %w", err)
	}

	stats := match.Stats(groups)
	store.RecordScan(absFolder, stats, len(records))

	if scanJSON {
		return printJSONReport(groups, stats)
	}

	fmt.Println()
	printGroupStats(stats)
	if len(groups) > 0 {
		fmt.Println()
		fmt.Println("Run 'imagededup list' to see duplicate groups")
		fmt.Println("Run 'imagededup organize <folder> <output>' to copy unique images out")
	}

	return nil
}

// fingerprintFolder runs discovery and the parallel fingerprint stage with
// progress output. It reports whether the run was interrupted; on interrupt
// the records finished so far are still returned.
func fingerprintFolder(ctx context.Context, folder string, extensions []string, sample int) ([]*models.ImageInfo, bool, error) {
	hasher, err := hash.NewHasher(hashSize)
	if err != nil {
		return nil, false, err
	}

	progress := &progressPrinter{}
	scanner := scan.NewScanner(hasher,
		scan.WithWorkers(workers),
		scan.WithExtensions(extensions),
		scan.WithProgress(progress.update),
	)

	paths, err := scanner.Discover(folder)
	if err != nil {
		return nil, false, err
	}
	if sample > 0 && sample < len(paths) {
		fmt.Printf("Sample mode: processing first %d of %d images\n", sample, len(paths))
		paths = paths[:sample]
	}
	fmt.Printf("Found %d images\n", len(paths))

	records, err := scanner.Fingerprint(ctx, paths)
	progress.clear()

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return records, true, nil
		}
		return nil, false, err
	}

	fmt.Printf("Fingerprinted %d images\n", len(records))
	return records, false, nil
}

// reportFailures summarizes images that could not be processed and writes the
// full list to a timestamped error log next to the working directory.
func reportFailures(records []*models.ImageInfo) {
	var failed []*models.ImageInfo
	for _, rec := range records {
		if !rec.Valid() {
			failed = append(failed, rec)
		}
	}
	if len(failed) == 0 {
		return
	}

	fmt.Printf("Warning: failed to process %d images:\n", len(failed))
	show := len(failed)
	if show > 10 {
		show = 10
	}
	for _, rec := range failed[:show] {
		fmt.Printf("   %s: %s\n", filepath.Base(rec.Path), rec.Error)
	}
	if len(failed) > show {
		fmt.Printf("   ... and %d more\n", len(failed)-show)
	}

	logPath := fmt.Sprintf("imagededup_errors_%s.log", time.Now().Format("20060102_150405"))
	if err := writeErrorLog(logPath, failed); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write error log: %v\n", err)
		return
	}
	fmt.Printf("Full error details saved to: %s\n", logPath)
}

func writeErrorLog(path string, failed []*models.ImageInfo) error {
	var b strings.Builder
	fmt.Fprintf(&b, "imagededup error log\nGenerated: %s\nTotal errors: %d\n\n",
		time.Now().Format("2006-01-02 15:04:05"), len(failed))

	for _, rec := range failed {
		fmt.Fprintf(&b, "%s: %s\n", rec.Path, rec.Error)
	}

	// Aggregate by the error prefix before the first colon.
	counts := make(map[string]int)
	for _, rec := range failed {
		kind := rec.Error
		if idx := strings.Index(kind, ":"); idx > 0 {
			kind = kind[:idx]
		}
		counts[kind]++
	}
	b.WriteString("\nError summary:\n")
	for kind, count := range counts {
		fmt.Fprintf(&b, "%s: %d occurrences\n", kind, count)
	}

	return os.WriteFile(path, []byte(b.String()), 0644)
}

// newGrouper builds the grouper from the shared flags, swapping in the rich
// quality selector when requested.
func newGrouper(useQuality bool) (*match.Grouper, error) {
	opts := []match.GrouperOption{}
	if useQuality {
		opts = append(opts, match.WithSelector(quality.NewAssessor()))
	}
	return match.NewGrouper(threshold, agreement, opts...)
}

func printJSONReport(groups []*models.DuplicateGroup, stats models.GroupStats) error {
	payload := struct {
		Stats  models.GroupStats        `json:"stats"`
		Groups []*models.DuplicateGroup `json:"groups"`
	}{stats, groups}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// progressPrinter writes single-line progress updates, clearing the previous
// line each time. Updates arrive from multiple worker goroutines.
type progressPrinter struct {
	mu       sync.Mutex
	lastLine string
}

func (p *progressPrinter) update(done, total int, current string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLocked()
	short := current
	if len(short) > 50 {
		short = "..." + short[len(short)-47:]
	}
	p.lastLine = fmt.Sprintf("Progress: %d/%d  %s", done, total, short)
	fmt.Print(p.lastLine)
}

func (p *progressPrinter) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLocked()
}

func (p *progressPrinter) clearLocked() {
	if p.lastLine != "" {
		fmt.Print("\r" + strings.Repeat(" ", len(p.lastLine)) + "\r")
		p.lastLine = ""
	}
}
