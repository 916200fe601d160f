package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/releasemehq/releaseme/internal/gitrepo"
	"github.com/releasemehq/releaseme/internal/render"
	"github.com/releasemehq/releaseme/pkg/buildinfo"
	"github.com/releasemehq/releaseme/pkg/config"
)

func newEnvinfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "envinfo",
		Short: "Show environment information",
		Long:  `Show the environment releaseme sees: platform, repository, and effective configuration.`,
		Args:  cobra.NoArgs,
		RunE:  runEnvinfo,
	}
	cmd.Flags().Bool("json", false, "Output environment information in JSON format")
	return cmd
}

func runEnvinfo(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	info := map[string]string{
		"version":   buildinfo.BinaryVersion,
		"goVersion": runtime.Version(),
		"platform":  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if wd, err := os.Getwd(); err == nil {
		info["workingDir"] = wd
	}
	if repo, err := gitrepo.Open("."); err == nil {
		info["repoRoot"] = repo.Root()
		if cfg, err := config.Load(repo.Root()); err == nil {
			info["manifest"] = cfg.Manifest
			info["remote"] = cfg.Remote
			info["tagStyle"] = cfg.TagStyle
			info["workflowPath"] = cfg.Workflow.Path
		}
	}

	if jsonOutput {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %v", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	order := []string{"version", "goVersion", "platform", "workingDir", "repoRoot", "manifest", "remote", "tagStyle", "workflowPath"}
	rows := make([][]string, 0, len(order))
	for _, key := range order {
		if value, ok := info[key]; ok {
			rows = append(rows, []string{key, value})
		}
	}
	fmt.Fprint(out, render.Table([]string{"Key", "Value"}, rows))
	return nil
}
