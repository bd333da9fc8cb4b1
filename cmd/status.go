package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/apgen/internal/jobstate"
	"github.com/abhisek/apgen/internal/problemgen"
	"github.com/abhisek/apgen/internal/ui/theme"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize pending batch image jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		states, skipped, err := jobstate.LoadPending(env.cfg.BatchDir)
		if err != nil {
			return err
		}
		for _, e := range skipped {
			fmt.Println(theme.Warn.Render("unreadable: ") + e.Error())
		}
		if len(states) == 0 {
			fmt.Println("No pending batch jobs.")
			return nil
		}

		sum := jobstate.Summarize(states)

		fmt.Println(theme.Title.Render("Pending batch jobs"))
		fmt.Printf("%d jobs, %d images\n\n", sum.TotalJobs, sum.TotalImages)

		fmt.Printf("%-24s  %5s  %7s  %s\n", "Course", "Jobs", "Images", "Units")
		fmt.Println(strings.Repeat("─", 60))

		ids := make([]string, 0, len(sum.ByCourse))
		for id := range sum.ByCourse {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			cs := sum.ByCourse[id]
			units := make([]string, len(cs.Units))
			for i, u := range cs.Units {
				units[i] = fmt.Sprint(u)
			}
			fmt.Printf("%-24s  %5d  %7d  %s\n", truncate(id, 24), cs.Jobs, cs.Images, strings.Join(units, ", "))
		}

		fmt.Println()
		for _, k := range []problemgen.Kind{problemgen.KindChoice, problemgen.KindMultiPart} {
			fmt.Printf("%s %d\n", theme.Label.Render(fmt.Sprintf("%-6s", k.Label())), sum.ByKind[k])
		}

		fmt.Println()
		fmt.Printf("%-32s  %-40s  %s\n", "State file", "Job", "Created")
		fmt.Println(strings.Repeat("─", 100))
		for _, s := range states {
			fmt.Printf("%-32s  %-40s  %s\n",
				truncate(s.FileName(), 32),
				truncate(s.JobName, 40),
				s.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}
