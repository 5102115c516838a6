package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"imagededup/internal/fileutil"
	"imagededup/internal/models"
	"imagededup/internal/storage"
)

var (
	cleanDryRun    bool
	cleanMoveTo    string
	cleanPermanent bool
	cleanNoConfirm bool
	cleanGroupIDs  []int
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove stored duplicates, keeping each group's representative",
	Long: `Remove the duplicates recorded by the last scan.

Every duplicate group keeps its representative; the remaining members are
moved to the system trash by default. The representative is never touched,
and files already gone from disk are skipped. Run 'imagededup list' first
to see which file each group keeps.

Example:
  imagededup clean                     # Move duplicates to trash
  imagededup clean --permanent         # Delete them for good
  imagededup clean --move-to=./backup  # Move them to a folder instead
  imagededup clean --dry-run           # Preview without touching anything
  imagededup clean --group=1 --group=3 # Restrict to groups 1 and 3`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "Preview without removing")
	cleanCmd.Flags().BoolVar(&cleanPermanent, "permanent", false, "Delete permanently instead of moving to trash")
	cleanCmd.Flags().StringVar(&cleanMoveTo, "move-to", "", "Move duplicates to this folder")
	cleanCmd.Flags().BoolVarP(&cleanNoConfirm, "yes", "y", false, "Skip confirmation prompt")
	cleanCmd.Flags().IntSliceVarP(&cleanGroupIDs, "group", "g", nil, "Group IDs to clean (can be specified multiple times)")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
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
		fmt.Println("Run 'imagededup scan <folder>' first.")
		return nil
	}

	groups, err = selectGroups(groups, cleanGroupIDs)
	if err != nil {
		return err
	}
	if groups == nil {
		return nil
	}

	// Only non-representatives that still exist on disk are candidates.
	var targets []string
	var reclaimable int64
	for _, group := range groups {
		for _, img := range group.Remove {
			if _, err := os.Stat(img.Path); err == nil {
				targets = append(targets, img.Path)
				reclaimable += img.FileSize
			}
		}
	}
	if len(targets) == 0 {
		fmt.Println("Nothing to remove; all duplicates are already gone from disk.")
		return nil
	}

	action := "move to trash"
	switch {
	case cleanMoveTo != "":
		action = fmt.Sprintf("move to %s", cleanMoveTo)
	case cleanPermanent:
		action = "permanently delete"
	}

	fmt.Printf("Will %s %d duplicates (%s reclaimable)\n\n", action, len(targets), formatSize(reclaimable))

	if cleanDryRun {
		for _, path := range targets {
			fmt.Printf("  %s\n", path)
		}
		fmt.Println()
		fmt.Println("(Dry run - nothing was removed)")
		fmt.Println("Run without --dry-run to remove these files.")
		return nil
	}

	if !cleanNoConfirm && !confirm(fmt.Sprintf("Are you sure you want to %s %d files? [y/N]: ", action, len(targets))) {
		fmt.Println("Aborted.")
		return nil
	}

	if cleanMoveTo != "" {
		if err := os.MkdirAll(cleanMoveTo, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", cleanMoveTo, err)
		}
	}

	var removed, failed int
	for _, path := range targets {
		var err error
		switch {
		case cleanMoveTo != "":
			err = fileutil.MoveFile(path, cleanMoveTo)
		case cleanPermanent:
			err = os.Remove(path)
		default:
			err = fileutil.MoveToTrash(path)
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to remove %s: %v\n", path, err)
			failed++
			continue
		}
		removed++
		store.DeleteImage(path)
	}

	fmt.Println()
	switch {
	case cleanMoveTo != "":
		fmt.Printf("Moved %d duplicates to %s\n", removed, cleanMoveTo)
	case cleanPermanent:
		fmt.Printf("Permanently deleted %d duplicates\n", removed)
	default:
		fmt.Printf("Moved %d duplicates to trash\n", removed)
	}
	if failed > 0 {
		fmt.Printf("Failed: %d files\n", failed)
	}
	fmt.Printf("Space reclaimed: %s\n", formatSize(reclaimable))

	return nil
}

// selectGroups filters to the requested group IDs. A nil result with nil
// error means nothing matched and a notice was already printed.
func selectGroups(groups []*models.DuplicateGroup, ids []int) ([]*models.DuplicateGroup, error) {
	if len(ids) == 0 {
		return groups, nil
	}

	wanted := make(map[int]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var selected []*models.DuplicateGroup
	for _, group := range groups {
		if wanted[group.ID] {
			selected = append(selected, group)
		}
	}
	if selected == nil {
		fmt.Printf("No matching groups for IDs %v.\n", ids)
		fmt.Println("Run 'imagededup list' to see available group IDs.")
		return nil, nil
	}

	fmt.Printf("Processing %d selected group(s): %v\n\n", len(selected), ids)
	return selected, nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	response, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
