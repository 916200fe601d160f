package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/releasemehq/releaseme/internal/render"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show versions --retro would tag",
		Long: `Plan walks the manifest's git history, collects every version it has
declared, drops the ones that already have a tag, and prints what is
left. Nothing is created.`,
		Args: cobra.NoArgs,
		RunE: runPlan,
	}
	cmd.Flags().Bool("json", false, "Output the plan in JSON format")
	return cmd
}

func runPlan(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	driver, err := newDriver(cmd)
	if err != nil {
		return err
	}
	plan, err := driver.Plan()
	if err != nil {
		return err
	}

	if jsonOutput {
		type entry struct {
			Version string `json:"version"`
			Commit  string `json:"commit"`
			Date    string `json:"date"`
		}
		entries := make([]entry, 0, len(plan))
		for _, decl := range plan {
			entries = append(entries, entry{
				Version: decl.Version,
				Commit:  decl.Hash.String(),
				Date:    decl.When.Format("2006-01-02"),
			})
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %v", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(plan) == 0 {
		fmt.Fprintln(out, "Nothing to tag: history and release markers agree.")
		return nil
	}

	rows := make([][]string, 0, len(plan))
	for _, decl := range plan {
		rows = append(rows, []string{
			decl.Version,
			decl.Hash.String()[:8],
			decl.When.Format("2006-01-02"),
		})
	}
	fmt.Fprint(out, render.Table([]string{"Version", "Commit", "Date"}, rows))
	return nil
}
