package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/releasemehq/releaseme/internal/gitrepo"
	"github.com/releasemehq/releaseme/pkg/buildinfo"
	"github.com/releasemehq/releaseme/pkg/config"
	"github.com/releasemehq/releaseme/pkg/manifest"
)

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show releaseme and project versions",
		Long: `Show the releaseme binary version and, when run inside a project, the
version and latest release tag of the package being managed.`,
		Args: cobra.NoArgs,
		RunE: runVersion,
	}
	cmd.Flags().Bool("extended", false, "Show build and platform information")
	cmd.Flags().Bool("json", false, "Output version information in JSON format")
	return cmd
}

// projectVersions reports the manifest version and latest reachable tag of
// the surrounding project. Best effort: outside a project both are empty.
func projectVersions() (name, declared, latest string) {
	repo, err := gitrepo.Open(".")
	if err != nil {
		return "", "", ""
	}
	cfg, err := config.Load(repo.Root())
	if err != nil {
		return "", "", ""
	}

	acc := &manifest.Accessor{
		Dir:  repo.Root(),
		Path: filepath.Join(repo.Root(), cfg.Manifest),
	}
	if n, err := acc.Name(); err == nil {
		name = n
	}
	if v, err := acc.Read(); err == nil {
		declared = v
	}
	if tag, ok, err := repo.LatestTag(); err == nil && ok {
		latest = tag
	}
	return name, declared, latest
}

func runVersion(cmd *cobra.Command, _ []string) error {
	extended, _ := cmd.Flags().GetBool("extended")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	name, declared, latest := projectVersions()

	if jsonOutput {
		info := map[string]interface{}{
			"version":   buildinfo.BinaryVersion,
			"goVersion": runtime.Version(),
			"platform":  runtime.GOOS,
			"arch":      runtime.GOARCH,
		}
		if name != "" {
			info["project"] = name
		}
		if declared != "" {
			info["projectVersion"] = declared
		}
		if latest != "" {
			info["latestTag"] = latest
		}
		if extended {
			if mv := buildinfo.ModuleVersion(); mv != "" {
				info["moduleVersion"] = mv
			}
		}
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %v", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "releaseme %s\n", buildinfo.BinaryVersion)
	if name != "" {
		fmt.Fprintf(out, "Project: %s\n", name)
	}
	if declared != "" {
		fmt.Fprintf(out, "Declared version: %s\n", declared)
	}
	if latest != "" {
		fmt.Fprintf(out, "Latest tag: %s\n", latest)
	}
	if extended {
		if mv := buildinfo.ModuleVersion(); mv != "" {
			fmt.Fprintf(out, "Module version: %s\n", mv)
		}
		fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
		fmt.Fprintf(out, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	}
	return nil
}
