package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/abhisek/apgen/internal/problemgen"
	"github.com/abhisek/apgen/internal/render"
	"github.com/abhisek/apgen/internal/ui/theme"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Move pages with failed images into the junk directory",
	Long: `Cleanup scans every rendered page and moves the ones showing an image
failure marker to {output}/junk/{course}/{kind}/. The next generate run
then regenerates those sets.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := render.Quarantine(env.cfg.OutputDir)
		if err != nil {
			return err
		}
		for _, e := range rep.Errors {
			fmt.Println(theme.Warn.Render("skipped: ") + e.Error())
		}
		if rep.Total() == 0 {
			fmt.Println("No pages with failed images.")
			return nil
		}

		courses := make([]string, 0, len(rep.Moved))
		for c := range rep.Moved {
			courses = append(courses, c)
		}
		sort.Strings(courses)

		fmt.Println(theme.Title.Render("Quarantined pages"))
		for _, c := range courses {
			kinds := rep.Moved[c]
			fmt.Printf("  %-24s  MCQ %3d  FRQ %3d\n", c, kinds[problemgen.KindChoice], kinds[problemgen.KindMultiPart])
		}
		fmt.Printf("\n%d pages moved to %s\n", rep.Total(), filepath.Join(env.cfg.OutputDir, render.JunkDir))
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate-layout [dir...]",
	Short: "Flatten legacy unit_X/.../set_Y.html pages into unitX-setY.html",
	Long: `Migrate-layout renames pages written in the old nested layout. With no
arguments it walks every {output}/{course}/{kind} directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs := args
		if len(dirs) == 0 {
			var err error
			dirs, err = kindDirs(env.cfg.OutputDir)
			if err != nil {
				return err
			}
		}

		var renamed, skipped, removed int
		for _, dir := range dirs {
			rep, err := render.MigrateLegacy(dir)
			if err != nil {
				return err
			}
			for _, e := range rep.Errors {
				fmt.Println(theme.Warn.Render("error: ") + e.Error())
			}
			for _, p := range rep.Skipped {
				fmt.Println(theme.Hint.Render("exists: " + p))
			}
			renamed += len(rep.Renamed)
			skipped += len(rep.Skipped)
			removed += rep.RemovedDirs
		}

		fmt.Printf("%d renamed, %d skipped, %d empty directories removed\n", renamed, skipped, removed)
		return nil
	},
}

// kindDirs lists {out}/{course}/{mcq,frq} directories that exist.
func kindDirs(outDir string) ([]string, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "images" || e.Name() == render.JunkDir {
			continue
		}
		for _, k := range []problemgen.Kind{problemgen.KindChoice, problemgen.KindMultiPart} {
			d := filepath.Join(outDir, e.Name(), string(k))
			if info, err := os.Stat(d); err == nil && info.IsDir() {
				dirs = append(dirs, d)
			}
		}
	}
	return dirs, nil
}
