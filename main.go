// txpull pulls translations from Transifex and merges them into the source tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/minios-linux/txpull/config"
	"github.com/minios-linux/txpull/i18n"
	"github.com/minios-linux/txpull/langmeta"
	"github.com/minios-linux/txpull/lockfile"
	"github.com/minios-linux/txpull/logging"
	"github.com/minios-linux/txpull/pull"
	"github.com/minios-linux/txpull/settings"
	"github.com/minios-linux/txpull/transifex"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	rootDir    string
	configPath string
	verbose    bool
	langFilter []string
)

// ---------------------------------------------------------------------------
// Root command (pull)
// ---------------------------------------------------------------------------

type pullOptions struct {
	skipBuild bool
	parallel  int
	force     bool
	noLock    bool
}

func newRootCmd() *cobra.Command {
	var opts pullOptions

	root := &cobra.Command{
		Use:   "txpull [credentials-file]",
		Short: i18n.T("Pull translations from Transifex and merge them into the source tree"),
		Long: i18n.T(`Pull translations from Transifex and merge them into the source tree.

Every resource declared in txpull.yaml (or the built-in Windows client
configuration when there is none) is downloaded for each mapped language.
Where the fresh translation has no value, the translation already on disk
is kept. Languages whose translation and master file did not change since
the pull recorded in txpull.lock are not downloaded again. Afterwards the
configured build command runs.

Credentials are read from the given file, ./transifex_conf.json or
transifex_conf.json next to the executable, in that order.`),
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(verbose).Debug("messages language", "lang", i18n.Language())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(cmd.Context(), firstArg(args), opts)
		},
	}

	// Global persistent flags, inherited by all subcommands
	root.PersistentFlags().StringVar(&rootDir, "root", ".", i18n.T("Project root directory"))
	root.PersistentFlags().StringVar(&configPath, "config", "", i18n.T("Config file (default: <root>/txpull.yaml, built-in config when absent)"))
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, i18n.T("Enable debug logging"))
	root.PersistentFlags().StringSliceVar(&langFilter, "lang", nil, i18n.T("Only pull these languages (service or local codes)"))

	root.Flags().BoolVar(&opts.skipBuild, "skip-build", false, i18n.T("Do not run the build step after pulling"))
	root.Flags().IntVar(&opts.parallel, "parallel", 1, i18n.T("Number of languages pulled concurrently"))
	root.Flags().BoolVar(&opts.force, "force", false, i18n.T("Download every language even if txpull.lock says it is up to date"))
	root.Flags().BoolVar(&opts.noLock, "no-lock", false, i18n.T("Neither read nor write txpull.lock"))

	root.AddCommand(
		newStatsCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Warn(i18n.T("Interrupted, stopping..."))
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error(err.Error())
		cancel()
		os.Exit(1)
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func runPull(ctx context.Context, credsArg string, opts pullOptions) error {
	pf, err := loadPullFile()
	if err != nil {
		return err
	}
	resources, err := pull.FromConfig(pf, langFilter, slog.Default())
	if err != nil {
		return err
	}
	client, err := newClient(pf, credsArg)
	if err != nil {
		return err
	}

	slog.Info("pulling translations", "project", client.Project(), "resources", len(resources))

	var lock *lockfile.LockFile
	if !opts.noLock {
		if lock, err = lockfile.Load(pf.Dir); err != nil {
			return err
		}
		if opts.force {
			lock.Reset()
		}
	}

	driver := &pull.Driver{
		Processor: &pull.Processor{
			Service:       client,
			SourceLang:    pf.SourceLang,
			Threshold:     *pf.Threshold,
			MaxConcurrent: opts.parallel,
			Lock:          lock,
			Logger:        slog.Default(),
		},
		Build:     pull.BuildFromConfig(pf),
		SkipBuild: opts.skipBuild,
	}

	summaries, err := driver.Run(ctx, resources)
	if err != nil {
		return err
	}

	written := 0
	for _, s := range summaries {
		slog.Info(i18n.T("%s: %d written, %d unchanged", s.Resource, s.Written, s.Unchanged))
		written += s.Written
	}
	slog.Info(i18n.N("Pulled %d file", "Pulled %d files", written, written))
	return nil
}

// loadPullFile returns the explicit --config file, <root>/txpull.yaml, or
// the built-in configuration rooted at --root.
func loadPullFile() (*config.PullFile, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	pf, err := config.Load(rootDir)
	if err != nil {
		return nil, err
	}
	if pf == nil {
		slog.Debug(i18n.T("no txpull.yaml, using built-in configuration"))
		pf = config.Default()
		pf.Dir = rootDir
	}
	return pf, nil
}

func newClient(pf *config.PullFile, credsArg string) (*transifex.Client, error) {
	creds, err := settings.Load(credsArg)
	if err != nil {
		return nil, err
	}
	slog.Debug("credentials loaded", "user", creds.Username, "password", settings.MaskKey(creds.Password))

	return transifex.NewClient(creds,
		transifex.WithBaseURL(pf.APIURL),
		transifex.WithProject(pf.Project),
		transifex.WithLogger(slog.Default()),
	), nil
}

// ---------------------------------------------------------------------------
// stats (read-only: completion per language)
// ---------------------------------------------------------------------------

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [credentials-file]",
		Short: i18n.T("Show translation completion per language"),
		Long: i18n.T(`Show translation completion for every language of each configured resource.

Languages marked with ✓ are pulled; the others are reported during a pull
once they reach the completion threshold. Does not modify any files.`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pf, err := loadPullFile()
			if err != nil {
				return err
			}
			resources, err := pull.FromConfig(pf, langFilter, slog.Default())
			if err != nil {
				return err
			}
			client, err := newClient(pf, firstArg(args))
			if err != nil {
				return err
			}
			return runStats(cmd.Context(), cmd.OutOrStdout(), client, resources)
		},
	}
	return cmd
}

func runStats(ctx context.Context, w io.Writer, svc pull.Service, resources []pull.Resource) error {
	for _, r := range resources {
		stats, err := svc.GetStats(ctx, r.ID)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "\n%s%s%s\n", colorBlue, r.ID, colorReset)
		fmt.Fprintln(w, strings.Repeat("─", 60))

		codes := make([]string, 0, len(stats))
		for code := range stats {
			codes = append(codes, code)
		}
		slices.Sort(codes)

		for _, code := range codes {
			s := stats[code]
			mark := " "
			if r.Languages.HasService(code) {
				mark = "✓"
			}
			fmt.Fprintf(w, "  %s %-10s %s  %s\n", mark, code, progressBar(s.Percent(), 20), langmeta.Label(code))
		}
	}
	fmt.Fprintln(w)
	return nil
}

// progressBar renders a colored bar followed by the percentage.
func progressBar(percent, width int) string {
	percent = max(0, min(percent, 100))
	filled := percent * width / 100

	color := colorRed
	switch {
	case percent >= 80:
		color = colorGreen
	case percent >= 30:
		color = colorYellow
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("%s%s%s %3d%%", color, bar, colorReset, percent)
}

// ---------------------------------------------------------------------------
// init (write the built-in configuration)
// ---------------------------------------------------------------------------

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: i18n.T("Write the built-in configuration to txpull.yaml"),
		Long: i18n.T(`Write the built-in pull configuration to txpull.yaml in the project root,
as a starting point for declaring other resources and languages.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := runInit(rootDir, force)
			if err != nil {
				return err
			}
			slog.Info(i18n.T("Wrote %s", path))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, i18n.T("Overwrite an existing txpull.yaml"))
	return cmd
}

func runInit(dir string, force bool) (string, error) {
	path := filepath.Join(dir, config.FileName)
	if !force && fileExists(path) {
		return "", errors.New(i18n.T("%s already exists (use --force to overwrite)", path))
	}

	data, err := config.Default().Marshal()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ---------------------------------------------------------------------------
// version (display version information)
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: i18n.T("Show version information"),
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "txpull version %s\n", version)
			fmt.Fprintf(w, "  commit:    %s\n", commit)
			fmt.Fprintf(w, "  built:     %s\n", date)
		},
	}

	return cmd
}
