package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"imagededup/internal/hash"
	"imagededup/internal/models"
)

var (
	dbPath    string
	threshold int
	agreement int
	hashSize  int
	workers   int
)

var rootCmd = &cobra.Command{
	Use:   "imagededup",
	Short: "Find duplicate images and keep the best copy",
	Long: `imagededup finds visually duplicate or near-duplicate images.

Every image is fingerprinted with three perceptual hash algorithms
(mean-threshold, gradient and DCT). Two images count as duplicates when
enough of the algorithms agree they are within the Hamming-distance
threshold, which keeps single-algorithm false positives out. Within each
duplicate group the best copy is chosen by format, resolution and file
size.

Example usage:
  imagededup scan ./photos              # Scan a folder for duplicates
  imagededup list                       # List detected duplicate groups
  imagededup organize ./photos ./clean  # Copy unique images to ./clean
  imagededup clean --dry-run            # Preview duplicate removal`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	homeDir, _ := os.UserHomeDir()
	defaultDB := filepath.Join(homeDir, ".imagededup", "images.db")

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "Path to SQLite database")
	rootCmd.PersistentFlags().IntVarP(&threshold, "threshold", "t", 10, "Hamming distance threshold (0-64 for hash size 8, 0-256 for 16; lower = stricter)")
	rootCmd.PersistentFlags().IntVarP(&agreement, "agreement", "a", 2, "Number of hash algorithms that must agree (1-3)")
	rootCmd.PersistentFlags().IntVar(&hashSize, "hash-size", hash.DefaultHashSize, "Perceptual hash grid size (8 or 16)")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", runtime.NumCPU(), "Number of parallel fingerprint workers")
}

// validateMatchConfig rejects bad threshold/agreement/hash-size combinations
// before any fingerprinting starts.
func validateMatchConfig() error {
	return hash.ValidateConfig(hashSize, threshold, agreement)
}

func formatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.Bytes(uint64(-bytes))
	}
	return humanize.Bytes(uint64(bytes))
}

func printGroupStats(stats models.GroupStats) {
	fmt.Println("=== Duplicate Detection Report ===")
	fmt.Printf("Duplicate groups:   %d\n", stats.TotalGroups)
	fmt.Printf("Grouped images:     %d\n", stats.TotalDuplicates)
	fmt.Printf("Largest group:      %d images\n", stats.LargestGroupSize)
	fmt.Printf("Average group size: %.2f images\n", stats.AverageGroupSize)
	fmt.Printf("Reclaimable space:  %s\n", formatSize(stats.ReclaimableBytes))
}

func shortenPath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}

	dir, file := filepath.Split(path)
	if len(file) >= maxLen-3 {
		return "..." + file[len(file)-(maxLen-3):]
	}

	remaining := maxLen - len(file) - 4
	if remaining > 0 && len(dir) > remaining {
		dir = dir[len(dir)-remaining:]
	}
	return "..." + dir + file
}
