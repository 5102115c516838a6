package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"imagededup/internal/hash"
	"imagededup/internal/models"
)

// defaultExtensions are the formats the fingerprint engine can decode.
var defaultExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp",
}

// Scanner discovers image files and fingerprints them on a worker pool.
type Scanner struct {
	hasher     *hash.Hasher
	workers    int
	timeout    time.Duration
	extensions map[string]struct{}
	progressFn func(done, total int, current string)
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithWorkers sets the number of parallel fingerprint workers.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithTimeout sets the per-image fingerprint timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithProgress sets a progress callback. It may be invoked concurrently from
// worker goroutines.
func WithProgress(fn func(done, total int, current string)) Option {
	return func(s *Scanner) {
		s.progressFn = fn
	}
}

// WithExtensions registers additional file extensions to pick up during
// discovery, e.g. ".psd".
func WithExtensions(exts []string) Option {
	return func(s *Scanner) {
		for _, ext := range exts {
			s.AddExtension(ext)
		}
	}
}

// NewScanner creates a Scanner around the given hasher. Workers default to
// the number of CPUs; fingerprinting is CPU- and disk-read-bound.
func NewScanner(hasher *hash.Hasher, opts ...Option) *Scanner {
	s := &Scanner{
		hasher:     hasher,
		workers:    runtime.NumCPU(),
		timeout:    30 * time.Second,
		extensions: make(map[string]struct{}, len(defaultExtensions)),
	}
	for _, ext := range defaultExtensions {
		s.extensions[ext] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddExtension registers one more recognized file extension.
func (s *Scanner) AddExtension(ext string) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	s.extensions[ext] = struct{}{}
}

// IsSupported reports whether the path has a recognized image extension.
func (s *Scanner) IsSupported(path string) bool {
	_, ok := s.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Discover walks root recursively and returns the recognized image paths in
// lexical walk order. Grouping output depends on this order, so it must be
// deterministic. Unreadable entries are skipped.
func (s *Scanner) Discover(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot access %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		if s.IsSupported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	return paths, nil
}

// Fingerprint hashes every path on the worker pool and returns the records in
// input order. Each worker writes into its own slot of the results slice, so
// no locking is needed and the ordering survives parallelism.
//
// Cancellation is cooperative: workers check the context between images. On
// abort the records completed so far are returned together with the context
// error; partial work is never discarded silently.
func (s *Scanner) Fingerprint(ctx context.Context, paths []string) ([]*models.ImageInfo, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	results := make([]*models.ImageInfo, len(paths))
	jobs := make(chan int)
	var wg sync.WaitGroup
	var done int64

	go func() {
		defer close(jobs)
		for i := range paths {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				results[i] = s.hasher.HashImageWithTimeout(paths[i], s.timeout)
				n := atomic.AddInt64(&done, 1)
				if s.progressFn != nil {
					s.progressFn(int(n), len(paths), paths[i])
				}
			}
		}()
	}
	wg.Wait()

	completed := make([]*models.ImageInfo, 0, len(results))
	for _, rec := range results {
		if rec != nil {
			completed = append(completed, rec)
		}
	}

	return completed, ctx.Err()
}

// ScanFolder discovers and fingerprints all images under root.
func (s *Scanner) ScanFolder(ctx context.Context, root string) ([]*models.ImageInfo, error) {
	paths, err := s.Discover(root)
	if err != nil {
		return nil, err
	}
	return s.Fingerprint(ctx, paths)
}
