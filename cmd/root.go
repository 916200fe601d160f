package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/releasemehq/releaseme/internal/gitrepo"
	"github.com/releasemehq/releaseme/internal/notes"
	"github.com/releasemehq/releaseme/internal/ops"
	"github.com/releasemehq/releaseme/pkg/buildinfo"
	"github.com/releasemehq/releaseme/pkg/config"
	"github.com/releasemehq/releaseme/pkg/exitcode"
	"github.com/releasemehq/releaseme/pkg/logger"
	"github.com/releasemehq/releaseme/pkg/release"
)

// newRootCommand creates a fresh root command instance.
// This factory pattern allows tests to create isolated command trees without shared state.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "releaseme [version]",
		Short: "Release automation for Python packages",
		Long: `Releaseme cuts releases for Python packages: it writes the requested
version into pyproject.toml, commits, tags, and pushes, leaving CI to
publish to PyPI.

Examples:
   releaseme 1.2.0           # Release version 1.2.0 from the current HEAD
   releaseme --retro         # Tag versions already recorded in history
   releaseme plan            # Show what --retro would create
   releaseme workflow init   # Bootstrap the PyPI publish pipeline`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			initializeLogger(cmd)
		},
		RunE: runRelease,
	}

	// Add global flags
	cmd.PersistentFlags().String("log-level", "info", "Set log level (debug|info|warn|error)")
	cmd.PersistentFlags().Bool("json", false, "Output logs in JSON format")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	cmd.PersistentFlags().Bool("dry-run", false, "Show what would happen without changing anything")

	// Accept underscored spellings of global flags.
	cmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.Flags().Bool("retro", false, "Create tags for versions already recorded in manifest history")
	cmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	cmd.Version = buildinfo.BinaryVersion
	cmd.SetVersionTemplate("releaseme {{.Version}}\n")

	// Grouped help by command group (Release → Workflow → Support)
	cmd.SetHelpFunc(func(cmd *cobra.Command, _ []string) {
		reg := ops.GetRegistry()
		cmd.Println(cmd.Long)
		cmd.Println()
		cmd.Println("Release Commands:")
		for _, c := range reg.GetCommandsByGroup(ops.GroupRelease) {
			cmd.Printf("  %-12s %s\n", c.Name, c.Description)
		}
		cmd.Println()
		cmd.Println("Workflow Commands:")
		for _, c := range reg.GetCommandsByGroup(ops.GroupWorkflow) {
			cmd.Printf("  %-12s %s\n", c.Name, c.Description)
		}
		cmd.Println()
		cmd.Println("Support Commands:")
		for _, c := range reg.GetCommandsByGroup(ops.GroupSupport) {
			cmd.Printf("  %-12s %s\n", c.Name, c.Description)
		}
		cmd.Println()
		cmd.Println("Flags:")
		cmd.Print(cmd.UsageString())
	})

	return cmd
}

// registerSubcommands adds all subcommands to the root command.
// This is called from init() for production and can be called explicitly in tests.
func registerSubcommands(cmd *cobra.Command) {
	plan := newPlanCommand()
	workflow := newWorkflowCommand()
	version := newVersionCommand()
	envinfo := newEnvinfoCommand()

	cmd.AddCommand(plan)
	cmd.AddCommand(workflow)
	cmd.AddCommand(version)
	cmd.AddCommand(envinfo)

	reg := ops.GetRegistry()
	_ = reg.Register("plan", ops.GroupRelease, plan, "Show versions --retro would tag")
	_ = reg.Register("workflow", ops.GroupWorkflow, workflow, "Manage the PyPI publish pipeline")
	_ = reg.Register("version", ops.GroupSupport, version, "Show releaseme and project versions")
	_ = reg.Register("envinfo", ops.GroupSupport, envinfo, "Show environment information")
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCommand()

func init() {
	registerSubcommands(rootCmd)
}

// Execute runs the root command and maps failures onto the exit code
// taxonomy. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", logger.Err(err))
		os.Exit(codeFor(err))
	}
}

// exitError carries an explicit exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// partialError marks a failure that happened after some markers were
// already created.
type partialError struct {
	err error
}

func (e *partialError) Error() string { return e.err.Error() }
func (e *partialError) Unwrap() error { return e.err }

func codeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var pe *partialError
	return release.ExitCode(err, errors.As(err, &pe))
}

func runRelease(cmd *cobra.Command, args []string) error {
	retro, _ := cmd.Flags().GetBool("retro")

	if !retro && len(args) == 0 {
		// Show the grouped help, but a bare invocation did not release
		// anything and must not exit 0.
		_ = cmd.Help()
		return &exitError{
			code: exitcode.GeneralError,
			err:  errors.New("a version argument or --retro is required"),
		}
	}
	if retro && len(args) > 0 {
		return fmt.Errorf("--retro reads versions from history and does not take one")
	}

	driver, err := newDriver(cmd)
	if err != nil {
		return err
	}

	var result *release.Result
	if retro {
		result, err = driver.Retro()
	} else {
		result, err = driver.Normal(args[0])
	}
	if err != nil {
		if result != nil && len(result.Released) > 0 {
			logger.Warn("partial release",
				logger.Int("created", len(result.Released)),
				logger.String("versions", strings.Join(result.Released, ", ")))
			return &partialError{err: err}
		}
		return err
	}
	return nil
}

// newDriver opens the repository at the working directory and wires a
// release driver from its configuration.
func newDriver(cmd *cobra.Command) (*release.Driver, error) {
	repo, err := gitrepo.Open(".")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(repo.Root())
	if err != nil {
		return nil, &exitError{code: exitcode.ConfigError, err: err}
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	driver := release.New(repo, cfg, dryRun)

	yes, _ := cmd.Flags().GetBool("yes")
	if !yes && !dryRun {
		driver.Confirm = promptConfirm(cmd)
	}
	return driver, nil
}

// promptConfirm shows the pending mutation and reads a yes/no answer.
func promptConfirm(cmd *cobra.Command) func(string) bool {
	return func(summary string) bool {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "About to release:")
		fmt.Fprintln(out, notes.Quote(summary))
		fmt.Fprint(out, "Proceed? [y/N] ")

		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}

// initializeLogger sets up the logger based on command flags
func initializeLogger(cmd *cobra.Command) {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg := logger.Config{
		Level:     logger.ParseLevel(logLevelStr),
		UseColor:  !noColor,
		JSON:      jsonLogs,
		Component: "releaseme",
		DryRun:    dryRun,
	}

	if err := logger.Initialize(cfg); err != nil {
		if _, writeErr := os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n"); writeErr != nil {
			_ = writeErr
		}
		os.Exit(exitcode.ConfigError)
	}
}
