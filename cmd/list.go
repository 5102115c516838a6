package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"imagededup/internal/models"
	"imagededup/internal/storage"
)

var (
	listJSON    bool
	listVerbose bool
	listSummary bool
	listLimit   int
	listOffset  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List duplicate groups from the last scan",
	Long: `Display the duplicate groups stored by the most recent scan.

Each group shows:
- Group ID
- Images in the group with resolution, format and size
- Which image will be kept marked with KEEP
- Which images will be removed marked with drop

Example:
  imagededup list              # Show first 10 groups (default)
  imagededup list -n 0         # Show all groups
  imagededup list -s           # Summary view (compact)
  imagededup list --offset 10  # Groups 11-20`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().BoolVarP(&listVerbose, "verbose", "v", false, "Show detailed image info")
	listCmd.Flags().BoolVarP(&listSummary, "summary", "s", false, "Show summary only (group counts and sizes)")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 10, "Limit number of groups to display (0 = all)")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Skip first N groups (for pagination)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := storage.NewStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	groups, err := store.GetDuplicateGroups()
	if err != nil {
		return fmt.Errorf("failed to get groups: %w", err)
	}

	if len(groups) == 0 {
		fmt.Println("No duplicate groups found.")
		fmt.Println("Run 'imagededup scan <folder>' to scan for duplicates.")
		return nil
	}

	totalDuplicates := 0
	var totalSavings int64
	for _, group := range groups {
		for _, img := range group.Remove {
			totalDuplicates++
			totalSavings += img.FileSize
		}
	}

	if listJSON {
		return json.NewEncoder(os.Stdout).Encode(groups)
	}

	fmt.Printf("Found %d duplicate groups (%d duplicates, %s reclaimable)\n\n",
		len(groups), totalDuplicates, formatSize(totalSavings))

	totalGroups := len(groups)
	startIdx := listOffset
	if startIdx > len(groups) {
		startIdx = len(groups)
	}
	groups = groups[startIdx:]

	if listLimit > 0 && listLimit < len(groups) {
		groups = groups[:listLimit]
	}

	if len(groups) == 0 {
		fmt.Printf("No groups in range (offset %d exceeds total %d)\n", listOffset, totalGroups)
	} else if listSummary {
		printSummaryTable(groups)
	} else {
		for _, group := range groups {
			printGroup(group, listVerbose)
		}
	}

	endIdx := startIdx + len(groups)
	if len(groups) > 0 {
		fmt.Printf("Showing groups %d-%d of %d\n", startIdx+1, endIdx, totalGroups)
		if endIdx < totalGroups {
			nextOffset := endIdx
			limitArg := ""
			if listLimit > 0 {
				limitArg = fmt.Sprintf(" -n %d", listLimit)
			}
			fmt.Printf("Next page: imagededup list%s --offset %d\n", limitArg, nextOffset)
		}
	}

	fmt.Println()
	fmt.Println("Run 'imagededup clean --dry-run' to preview deletions")
	fmt.Println("Run 'imagededup clean' to remove duplicates")

	return nil
}

func printSummaryTable(groups []*models.DuplicateGroup) {
	fmt.Printf("%-8s  %-8s  %-12s  %s\n", "Group", "Images", "Reclaimable", "Keep")
	fmt.Println(strings.Repeat("-", 70))

	for _, group := range groups {
		var reclaimable int64
		for _, img := range group.Remove {
			reclaimable += img.FileSize
		}

		keepName := filepath.Base(group.Keep.Path)
		if len(keepName) > 35 {
			keepName = keepName[:32] + "..."
		}

		fmt.Printf("#%-7d  %-8d  %-12s  %s\n",
			group.ID, len(group.Images), formatSize(reclaimable), keepName)
	}
	fmt.Println()
}

func printGroup(group *models.DuplicateGroup, verbose bool) {
	fmt.Printf("Group #%d (%d images)\n", group.ID, len(group.Images))
	fmt.Println(strings.Repeat("-", 60))

	for _, img := range group.Images {
		marker := "drop"
		if img.Path == group.Keep.Path {
			marker = "KEEP"
		}

		if verbose {
			fmt.Printf("  %s %s\n", marker, img.Path)
			fmt.Printf("       Resolution: %dx%d  Format: %s  Size: %s  EXIF: %t\n",
				img.Width, img.Height, img.Format, formatSize(img.FileSize), img.HasExif)
		} else {
			fmt.Printf("  %s %-40s  %dx%d  %-4s  %8s\n",
				marker, shortenPath(img.Path, 40), img.Width, img.Height,
				img.Format, formatSize(img.FileSize))
		}
	}
	fmt.Println()
}
