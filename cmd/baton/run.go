package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/baton/internal/config"
	"github.com/ShayCichocki/baton/internal/llm"
	"github.com/ShayCichocki/baton/internal/messaging"
	"github.com/ShayCichocki/baton/internal/metrics"
	"github.com/ShayCichocki/baton/internal/tui"
	"github.com/ShayCichocki/baton/internal/workflow"
)

// eventBuffer sizes the channel between the engine and the TUI.
const eventBuffer = 256

// execOptions are the flags shared by run and resume.
type execOptions struct {
	script          string
	tui             bool
	metricsTextfile string
}

func (x *execOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&x.script, "script", "", "YAML file of scripted agent replies (dry run, no model calls)")
	cmd.Flags().BoolVar(&x.tui, "tui", false, "Show a live terminal view of the run")
	cmd.Flags().StringVar(&x.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics for the run to this file")
}

func newRunCmd(o *rootOptions) *cobra.Command {
	var (
		x             execOptions
		workflowName  string
		startAgent    string
		maxIterations int
		hints         map[string]string
	)

	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Run a request through the agent workflow",
		Long: `Run a request through the agent workflow.

The request is analysed, the first agent is chosen (the --start-agent, the
configured workflow.start_agent, or the router's top recommendation), and
agents hand off to each other until the workflow completes, needs human
review, fails, or reaches the iteration cap.

Hints override keyword analysis:
  --hint project_type=cli_tool --hint complexity=simple

Examples:
  baton run "build a calculator"
  baton run --tui --start-agent product-analyst "add OAuth login"
  baton run --script replies.yaml "dry run"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseAgentFlag("start-agent", startAgent)
			if err != nil {
				return err
			}
			opts := workflow.RunOptions{
				WorkflowName:  workflowName,
				StartAgent:    start,
				MaxIterations: maxIterations,
				Hints:         hints,
			}
			request := joinArgs(args)
			return o.execute(cmd, x, func(ctx context.Context, eng *workflow.Engine) (*workflow.Result, error) {
				return eng.Run(ctx, request, opts)
			})
		},
	}

	x.bind(cmd)
	cmd.Flags().StringVar(&workflowName, "workflow", workflow.DefaultWorkflowName, "Workflow name recorded on the session")
	cmd.Flags().StringVar(&startAgent, "start-agent", "", "First agent to call")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Iteration cap (default from workflow.max_iterations)")
	cmd.Flags().StringToStringVar(&hints, "hint", nil, "Analysis hint as key=value (project_type, complexity)")
	return cmd
}

func newResumeCmd(o *rootOptions) *cobra.Command {
	var x execOptions

	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a paused or failed session",
		Long: `Resume a paused or failed session from its last checkpoint.

The original request and hints are restored from the session, and the run
continues with the agent suggested by the checkpoint packet.

Run 'baton sessions list --resumable' to see candidates.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return o.execute(cmd, x, func(ctx context.Context, eng *workflow.Engine) (*workflow.Result, error) {
				res, ok, err := eng.Resume(ctx, id)
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, fmt.Errorf("session %s is not resumable", id)
				}
				return res, nil
			})
		},
	}

	x.bind(cmd)
	return cmd
}

// execute wires the engine with its store, policy, caller and observers,
// runs start, and prints the result.
func (o *rootOptions) execute(cmd *cobra.Command, x execOptions, start func(context.Context, *workflow.Engine) (*workflow.Result, error)) error {
	e, err := o.setup(cmd, x.tui)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	holder, err := e.loadPolicy(ctx)
	if err != nil {
		return err
	}

	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			e.logger.Warn("close session store", zap.Error(cerr))
		}
	}()

	caller, client, err := e.newCaller(x.script)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	reg.MustRegister(metrics.NewStoreCollector(store.Statistics))

	engineOpts := []workflow.Option{
		workflow.WithStore(store),
		workflow.WithLogger(e.logger.Named("workflow")),
		workflow.WithMaxIterations(e.cfg.Workflow.MaxIterations),
		workflow.WithObserver(m),
	}
	if e.cfg.Workflow.StartAgent != "" {
		agent, err := parseAgentFlag("workflow.start_agent", e.cfg.Workflow.StartAgent)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, workflow.WithStartAgent(agent))
	}

	if e.cfg.NATS.URL != "" {
		pub, err := messaging.Connect(e.cfg.NATS.URL, e.cfg.NATS.SubjectPrefix, e.logger.Named("nats"))
		if err != nil {
			return err
		}
		defer func() {
			if err := pub.Flush(); err != nil {
				e.logger.Warn("flush event publisher", zap.Error(err))
			}
			pub.Close()
		}()
		engineOpts = append(engineOpts, workflow.WithObserver(pub))
	}

	var emitter *workflow.EventEmitter
	if x.tui {
		emitter = workflow.NewEventEmitter(eventBuffer, e.logger.Named("events"))
		engineOpts = append(engineOpts, workflow.WithObserver(emitter))
	}

	eng := workflow.New(caller, holder, engineOpts...)

	var res *workflow.Result
	if emitter == nil {
		res, err = start(ctx, eng)
	} else {
		res, err = runWithTUI(ctx, eng, emitter, e.cfg.Workflow.TUIRefresh, start)
	}
	if err != nil {
		return err
	}

	if x.metricsTextfile != "" {
		if werr := prometheus.WriteToTextfile(x.metricsTextfile, reg); werr != nil {
			e.logger.Warn("write metrics textfile", zap.String("path", x.metricsTextfile), zap.Error(werr))
		}
	}

	printResult(e.out, res)
	if client != nil {
		printUsage(e.out, client.Tracker())
	}
	return resultError(res)
}

// runWithTUI drives the run in the background while the TUI owns the
// terminal. Quitting the TUI cancels the run.
func runWithTUI(ctx context.Context, eng *workflow.Engine, emitter *workflow.EventEmitter, refresh time.Duration, start func(context.Context, *workflow.Engine) (*workflow.Result, error)) (*workflow.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		res *workflow.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := start(ctx, eng)
		emitter.Close()
		done <- outcome{res, err}
	}()

	tuiErr := tui.Run(emitter.Events(), refresh)
	cancel()
	out := <-done
	if out.err != nil {
		return nil, out.err
	}
	if tuiErr != nil {
		return out.res, fmt.Errorf("terminal ui: %w", tuiErr)
	}
	return out.res, nil
}

// newCaller returns the scripted caller when script is set, otherwise an
// Anthropic or Bedrock client. The client is returned separately so that
// token usage can be reported.
func (e *env) newCaller(script string) (llm.Caller, *llm.Client, error) {
	if script != "" {
		s, err := llm.LoadScript(script)
		if err != nil {
			return nil, nil, err
		}
		return llm.WithTimeout(s, e.cfg.LLM.Timeout), nil, nil
	}

	var apiKey string
	if config.RequiresAPIKey(e.cfg) {
		key, err := config.GetAPIKey(e.cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or llm.api_key, or pass --script", err)
		}
		if err := config.ValidateAPIKey(key); err != nil {
			return nil, nil, fmt.Errorf("%w (from %s)", err, config.GetAPIKeySource(e.cfg))
		}
		apiKey = key
	}

	client, err := llm.NewClient(llm.ClientConfig{
		Model:         e.cfg.LLM.Model,
		APIKey:        apiKey,
		UseAWSBedrock: e.cfg.LLM.Provider == config.ProviderBedrock,
		AWSRegion:     e.cfg.LLM.AWSRegion,
		AWSProfile:    e.cfg.LLM.AWSProfile,
		MaxTokens:     int64(e.cfg.LLM.MaxTokens),
		Timeout:       e.cfg.LLM.Timeout,
		Logger:        e.logger.Named("llm"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create model client: %w", err)
	}
	return client, client, nil
}

// errRunFailed marks a run that ended in ERROR.
var errRunFailed = errors.New("workflow run failed")

// resultError maps terminal states to the command's exit status. Only an
// ERROR run is a failure; review and cap stops leave a resumable session.
func resultError(res *workflow.Result) error {
	if res.State != workflow.StateError {
		return nil
	}
	if res.Err != nil {
		return fmt.Errorf("%w: %v", errRunFailed, res.Err)
	}
	return errRunFailed
}
