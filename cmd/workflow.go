package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/releasemehq/releaseme/internal/gitrepo"
	"github.com/releasemehq/releaseme/internal/workflow"
	"github.com/releasemehq/releaseme/pkg/config"
	"github.com/releasemehq/releaseme/pkg/exitcode"
)

func newWorkflowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage the PyPI publish pipeline",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the publish workflow and commit it",
		Long: `Init writes a GitHub Actions workflow that builds the package and
publishes it to PyPI via trusted publishing whenever a release tag is
pushed, then commits the file on its own. The index must be clean.`,
		Args: cobra.NoArgs,
		RunE: runWorkflowInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing workflow file")

	cmd.AddCommand(initCmd)
	return cmd
}

func runWorkflowInit(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetBool("force")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	repo, err := gitrepo.Open(".")
	if err != nil {
		return err
	}
	cfg, err := config.Load(repo.Root())
	if err != nil {
		return &exitError{code: exitcode.ConfigError, err: err}
	}

	if _, err := workflow.Bootstrap(repo, cfg.Workflow.Path, force, dryRun); err != nil {
		return err
	}

	if !dryRun {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Wrote and committed %s\n", cfg.Workflow.Path)
		fmt.Fprintln(out, "Next: configure trusted publishing for this repository on pypi.org,")
		fmt.Fprintln(out, "then push and release.")
	}
	return nil
}
