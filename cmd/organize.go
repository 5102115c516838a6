package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"imagededup/internal/match"
	"imagededup/internal/models"
	"imagededup/internal/organize"
)

var (
	orgExtensions        []string
	orgSample            int
	orgQuality           bool
	orgPreserveStructure bool
	orgDryRun            bool
	orgReportPath        string
	orgQuiet             bool
)

var organizeCmd = &cobra.Command{
	Use:   "organize <input> <output>",
	Short: "Copy unique images into an output directory",
	Long: `Scan INPUT for duplicate images and copy the unique set to OUTPUT.

For every duplicate group only the best-quality member is copied; images
without duplicates are copied as they are. The input tree is never
modified. Name collisions in the output are resolved by appending _1,
_2, ... before the extension.

Example:
  imagededup organize ./photos ./unique
  imagededup organize ./photos ./unique --dry-run
  imagededup organize ./photos ./unique --preserve-structure
  imagededup organize ./photos ./unique --report dedup_report.json`,
	Args: cobra.ExactArgs(2),
	RunE: runOrganize,
}

func init() {
	organizeCmd.Flags().StringSliceVarP(&orgExtensions, "ext", "e", nil, "Additional file extensions to include (e.g. -e .psd)")
	organizeCmd.Flags().IntVar(&orgSample, "sample", 0, "Process only the first N images (0 = all)")
	organizeCmd.Flags().BoolVar(&orgQuality, "quality", false, "Select representatives with the full quality score")
	organizeCmd.Flags().BoolVarP(&orgPreserveStructure, "preserve-structure", "p", false, "Preserve the input directory structure in the output")
	organizeCmd.Flags().BoolVarP(&orgDryRun, "dry-run", "n", false, "Show what would be copied without copying")
	organizeCmd.Flags().StringVarP(&orgReportPath, "report", "r", "", "Save a detailed JSON report to this file")
	organizeCmd.Flags().BoolVarP(&orgQuiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.AddCommand(organizeCmd)
}

func runOrganize(cmd *cobra.Command, args []string) error {
	if err := validateMatchConfig(); err != nil {
		return err
	}

	inputDir, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve input path: %w", err)
	}
	outputDir, err := filepath.Abs(args[1])
	if err != nil {
		return fmt.Errorf("failed to resolve output path: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !orgQuiet {
		fmt.Printf("Input:  %s\nOutput: %s\n", inputDir, outputDir)
		fmt.Printf("Threshold: %d, agreement: %d of 3, hash size: %d\n\n", threshold, agreement, hashSize)
	}

	records, interrupted, err := fingerprintFolder(ctx, inputDir, orgExtensions, orgSample)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No images found in input directory.")
		return nil
	}

	reportFailures(records)

	if interrupted {
		fmt.Printf("Interrupted: fingerprinted %d images before aborting; nothing was copied.\n", len(records))
		return nil
	}

	grouper, err := newGrouper(orgQuality)
	if err != nil {
		return err
	}
	groups, err := grouper.FindGroups(records)
	if err != nil {
		return fmt.Errorf("duplicate detection failed: %w", err)
	}

	if !orgQuiet {
		printGroupStats(match.Stats(groups))
		printTopGroups(groups, 10)
		if orgDryRun {
			fmt.Println("\nSimulating file organization (dry run)...")
		} else {
			fmt.Println("\nOrganizing files...")
		}
	}

	opts := []organize.Option{}
	if orgPreserveStructure {
		opts = append(opts, organize.WithPreservedStructure())
	}
	if orgDryRun {
		opts = append(opts, organize.WithDryRun())
	}
	if !orgQuiet {
		progress := &progressPrinter{}
		opts = append(opts, organize.WithProgress(progress.update))
		defer progress.clear()
	}

	organizer := organize.NewOrganizer(outputDir, opts...)
	report, err := organizer.Organize(groups, records, inputDir)
	if err != nil {
		return err
	}

	printOrganizeReport(report)

	if orgReportPath != "" {
		if err := organize.WriteReport(report, orgReportPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save report: %v\n", err)
		} else if !orgQuiet {
			fmt.Printf("Detailed report saved to: %s\n", orgReportPath)
		}
	}

	if orgDryRun && !orgQuiet {
		fmt.Println("\n(Dry run - no files were copied)")
		fmt.Println("Run without --dry-run to actually copy the files.")
	}

	return nil
}

// printTopGroups shows the largest duplicate groups with keep/drop markers.
func printTopGroups(groups []*models.DuplicateGroup, limit int) {
	if len(groups) == 0 {
		return
	}

	shown := len(groups)
	if shown > limit {
		shown = limit
	}
	fmt.Printf("\nDuplicate groups (showing first %d of %d):\n", shown, len(groups))

	for _, group := range groups[:shown] {
		fmt.Printf("\nGroup #%d (%d images)\n", group.ID, len(group.Images))
		fmt.Printf("  KEEP  %s (%dx%d, %s, %s)\n",
			shortenPath(group.Keep.Path, 50),
			group.Keep.Width, group.Keep.Height,
			group.Keep.Format, formatSize(group.Keep.FileSize))
		for _, img := range group.Remove {
			fmt.Printf("  drop  %s (%dx%d, %s, %s)\n",
				shortenPath(img.Path, 50),
				img.Width, img.Height, img.Format, formatSize(img.FileSize))
		}
	}
}

func printOrganizeReport(report *organize.Report) {
	fmt.Println()
	fmt.Println("=== File Organization Report ===")
	if report.DryRun {
		fmt.Println("Operation:              DRY RUN")
	}
	fmt.Printf("Input images processed: %d\n", report.TotalInputImages)
	fmt.Printf("Unique images copied:   %d\n", report.UniqueImagesCopied)
	fmt.Printf("Duplicate groups found: %d\n", report.DuplicateGroupsFound)
	fmt.Printf("Space saved:            %s\n", formatSize(report.SpaceSaved))

	var copied int64
	for _, result := range report.CopyResults {
		if result.Success {
			copied += result.BytesCopied
		}
	}
	fmt.Printf("Total data copied:      %s\n", formatSize(copied))

	if len(report.Errors) > 0 {
		fmt.Printf("\nErrors encountered (%d):\n", len(report.Errors))
		show := len(report.Errors)
		if show > 10 {
			show = 10
		}
		for _, e := range report.Errors[:show] {
			fmt.Printf("  - %s\n", e)
		}
		if len(report.Errors) > show {
			fmt.Printf("  ... and %d more errors\n", len(report.Errors)-show)
		}
	}
}
