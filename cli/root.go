// Package cli implements the kvault command line on top of the store,
// archive and agent packages.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stevemurr/knowledge-vault/archive"
	"github.com/stevemurr/knowledge-vault/config"
	"github.com/stevemurr/knowledge-vault/logging"
	"github.com/stevemurr/knowledge-vault/store"
)

// Exit codes.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitInvalidArgument = 2
	ExitNotFound        = 3
	ExitAlreadyExists   = 4
	ExitInvalidState    = 5
	ExitIO              = 6
)

// errUsage marks bad command lines (wrong arity, unknown flags).
var errUsage = errors.New("usage error")

// skipConfig is set on commands that must run without loading the config.
const skipConfig = "skip-config"

// app holds the state shared by every command of one invocation.
type app struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	dataDir    string
	backend    string
	logLevel   string
	jsonOut    bool

	cfg      *config.Config
	logger   *slog.Logger
	registry *store.Registry
}

// Execute runs kvault with the process arguments and returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes one command line.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{out: stdout, errOut: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitCode(err)
	}
	return ExitOK
}

func exitCode(err error) int {
	if errors.Is(err, errUsage) {
		return ExitInvalidArgument
	}
	switch store.KindOf(err) {
	case store.ErrInvalidArgument:
		return ExitInvalidArgument
	case store.ErrNotFound:
		return ExitNotFound
	case store.ErrAlreadyExists:
		return ExitAlreadyExists
	case store.ErrInvalidState:
		return ExitInvalidState
	case store.ErrIO:
		return ExitIO
	}
	if errors.Is(err, archive.ErrNotFound) {
		return ExitNotFound
	}
	return ExitFailure
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kvault",
		Short: "Versioned knowledge store for agents",
		Long: `kvault keeps named namespaces of text documents together with a history
of immutable snapshots that can be listed, exported and rolled back to.

Settings come from kvault.yaml, KVAULT_* environment variables and flags.
All commands support --json for machine-readable output.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] != "" {
				return nil
			}
			return a.setup(cmd)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", errUsage, err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default: kvault.yaml in ., $XDG_CONFIG_HOME/kvault, ~/.config/kvault)")
	pf.StringVar(&a.dataDir, "data-dir", "", "directory holding the namespaces")
	pf.StringVar(&a.backend, "backend", "", "storage backend: json, sqlite or memory")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		a.namespaceCmd(),
		a.docCmd(),
		a.askCmd(),
		a.snapshotCmd(),
		a.configCmd(),
	)
	return root
}

// setup loads the configuration, applies flag overrides and builds the
// logger. The registry is opened on first use.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = a.dataDir
	}
	if flags.Changed("backend") {
		cfg.Backend = a.backend
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	logger, err := logging.New(a.errOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) open() (*store.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	r, err := store.Open(a.cfg.Backend, a.cfg.DataDir, store.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.logger.Debug("registry opened", "backend", a.cfg.Backend, "data_dir", a.cfg.DataDir)
	a.registry = r
	return r, nil
}

// namespace opens the registry and an existing namespace.
func (a *app) namespace(name string) (*store.DocumentStore, error) {
	r, err := a.open()
	if err != nil {
		return nil, err
	}
	return r.Open(name)
}

func (a *app) close() error {
	if a.registry == nil {
		return nil
	}
	err := a.registry.Close()
	a.registry = nil
	return err
}

// ---------- helpers ----------

func exactArgs(n int) cobra.PositionalArgs {
	return wrapArgs(cobra.ExactArgs(n))
}

func rangeArgs(lo, hi int) cobra.PositionalArgs {
	return wrapArgs(cobra.RangeArgs(lo, hi))
}

func minArgs(n int) cobra.PositionalArgs {
	return wrapArgs(cobra.MinimumNArgs(n))
}

func wrapArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		return nil
	}
}

// emit prints v as indented JSON with --json, and calls text otherwise.
func (a *app) emit(v any, text func(w io.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}
