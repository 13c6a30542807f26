package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/baton/internal/config"
	"github.com/ShayCichocki/baton/internal/logging"
	"github.com/ShayCichocki/baton/internal/policy"
	"github.com/ShayCichocki/baton/internal/state"
	"github.com/ShayCichocki/baton/pkg/models"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	storeDir   string
	logLevel   string
	logFormat  string
	logFile    string
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}

	root := &cobra.Command{
		Use:   "baton",
		Short: "Multi-agent workflow router",
		Long: `Baton hands a software request between specialist agents
(requirements, architecture, coding, review, QA and more) until the work
is complete, a human needs to look at it, or the iteration cap is hit.

Each agent's reply is parsed for a routing decision and a handoff packet.
Sessions are persisted so that paused or failed runs can be resumed.

Configuration is read from ~/.config/baton/config.yaml, with project
overrides in .baton.yaml and BATON_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "Config file (skips user and project config lookup)")
	pf.StringVar(&o.storeDir, "store-dir", "", "Session store directory")
	pf.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&o.logFormat, "log-format", "", "Log format: console or json")
	pf.StringVar(&o.logFile, "log-file", "", "Write logs to this file instead of stderr")

	root.AddCommand(
		newRunCmd(o),
		newResumeCmd(o),
		newAnalyzeCmd(o),
		newSessionsCmd(o),
		newStatsCmd(o),
		newServeCmd(o),
		newConfigCmd(o),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", failGlyph(), err)
		os.Exit(1)
	}
}

// env is the per-command runtime built from configuration.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	closeLog func()
	out      io.Writer
}

func (e *env) close() {
	if e.closeLog != nil {
		e.closeLog()
	}
}

// loadConfig reads configuration and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if o.storeDir != "" {
		cfg.Store.Dir = o.storeDir
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if o.logFile != "" {
		cfg.Logging.File = o.logFile
	}
	return cfg, nil
}

// setup loads configuration and builds the logger. When the terminal is
// taken by the TUI and no log file is configured, logs go to
// <store>/logs/baton.log.
func (o *rootOptions) setup(cmd *cobra.Command, terminalBusy bool) (*env, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if terminalBusy && cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.ResolveStoreDir(), "logs", "baton.log")
	}

	logger, closeLog, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return &env{cfg: cfg, logger: logger, closeLog: closeLog, out: cmd.OutOrStdout()}, nil
}

// openStore opens the session store named by the configuration.
func (e *env) openStore() (*state.Store, error) {
	dir := e.cfg.ResolveStoreDir()
	store, err := state.OpenStore(dir, e.cfg.Store.Driver, state.Options{
		CompletionStep: e.cfg.Store.CompletionStep,
		Logger:         e.logger.Named("store"),
	})
	if err != nil {
		return nil, fmt.Errorf("open session store in %s: %w", dir, err)
	}
	return store, nil
}

// loadPolicy returns a holder for the routing policy. With policy.watch
// set, the file is reloaded on change until ctx is cancelled.
func (e *env) loadPolicy(ctx context.Context) (*policy.Holder, error) {
	pc := policy.Default()
	if e.cfg.Policy.File != "" {
		loaded, err := policy.LoadFile(e.cfg.Policy.File)
		if err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
		pc = loaded
	}
	if name := e.cfg.Workflow.FallbackAgent; name != "" && e.cfg.Policy.File == "" {
		agent, ok := models.ParseAgent(name)
		if !ok {
			return nil, fmt.Errorf("unknown fallback agent %q", name)
		}
		pc.FallbackAgent = agent
	}

	holder := policy.NewHolder(pc)
	if e.cfg.Policy.File != "" && e.cfg.Policy.Watch {
		if err := policy.Watch(ctx, e.cfg.Policy.File, holder, e.logger.Named("policy")); err != nil {
			return nil, fmt.Errorf("watch policy: %w", err)
		}
	}
	return holder, nil
}

// parseAgentFlag resolves an optional agent name.
func parseAgentFlag(flag, name string) (models.Agent, error) {
	if name == "" {
		return models.AgentUnknown, nil
	}
	agent, ok := models.ParseAgent(name)
	if !ok {
		return models.AgentUnknown, fmt.Errorf("--%s: unknown agent %q", flag, name)
	}
	return agent, nil
}
