package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/baton/internal/config"
)

func newConfigCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `View or initialize baton configuration.

Configuration is stored at ~/.config/baton/config.yaml.
Project-specific overrides can be placed in .baton.yaml.
Every key can also be set as BATON_<SECTION>_<KEY>, e.g. BATON_LLM_MODEL.`,
	}
	cmd.AddCommand(newConfigShowCmd(o), newConfigInitCmd())
	return cmd
}

func newConfigShowCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [key]",
		Short: "Display the effective configuration or one key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				value, ok := lookupConfigValue(cfg, args[0])
				if !ok {
					return fmt.Errorf("unknown configuration key: %s", args[0])
				}
				fmt.Fprintln(out, value)
				return nil
			}

			for _, kv := range configValues(cfg) {
				fmt.Fprintf(out, "%s: %s\n", kv[0], kv[1])
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "api key source: %s\n", config.GetAPIKeySource(cfg))
			if path := config.GetProjectConfigPath(); path != "" {
				fmt.Fprintf(out, "project config: %s\n", path)
			}
			fmt.Fprintf(out, "user config:    %s\n", config.GetUserConfigPath())
			fmt.Fprintf(out, "store dir:      %s\n", cfg.ResolveStoreDir())
			return nil
		},
	}
}

// configValues lists every key with its display value. The API key is masked.
func configValues(cfg *config.Config) [][2]string {
	return [][2]string{
		{"llm.provider", cfg.LLM.Provider},
		{"llm.model", cfg.LLM.Model},
		{"llm.api_key", config.MaskAPIKey(cfg.LLM.APIKey)},
		{"llm.max_tokens", strconv.Itoa(cfg.LLM.MaxTokens)},
		{"llm.timeout", cfg.LLM.Timeout.String()},
		{"llm.aws_region", cfg.LLM.AWSRegion},
		{"llm.aws_profile", cfg.LLM.AWSProfile},
		{"workflow.max_iterations", strconv.Itoa(cfg.Workflow.MaxIterations)},
		{"workflow.fallback_agent", cfg.Workflow.FallbackAgent},
		{"workflow.start_agent", cfg.Workflow.StartAgent},
		{"workflow.tui_refresh", cfg.Workflow.TUIRefresh.String()},
		{"policy.file", cfg.Policy.File},
		{"policy.watch", strconv.FormatBool(cfg.Policy.Watch)},
		{"store.dir", cfg.Store.Dir},
		{"store.driver", cfg.Store.Driver},
		{"store.expiry_days", strconv.Itoa(cfg.Store.ExpiryDays)},
		{"store.completion_step", strconv.FormatFloat(cfg.Store.CompletionStep, 'f', -1, 64)},
		{"logging.level", cfg.Logging.Level},
		{"logging.format", cfg.Logging.Format},
		{"logging.file", cfg.Logging.File},
		{"server.addr", cfg.Server.Addr},
		{"nats.url", cfg.NATS.URL},
		{"nats.subject_prefix", cfg.NATS.SubjectPrefix},
	}
}

func lookupConfigValue(cfg *config.Config, key string) (string, bool) {
	key = strings.ToLower(key)
	for _, kv := range configValues(cfg) {
		if kv[0] == key {
			return kv[1], true
		}
	}
	return "", false
}

func newConfigInitCmd() *cobra.Command {
	var project, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.GetUserConfigPath()
			if project {
				cwd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("get working directory: %w", err)
				}
				path = filepath.Join(cwd, config.ProjectConfigName)
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); err == nil && !force {
				printStatus(out, "⚠", fmt.Sprintf("%s already exists. Use --force to overwrite.", path), color.FgYellow)
				return nil
			}

			if err := config.SaveTo(config.Default(), path); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			printStatus(out, "✓", fmt.Sprintf("Wrote %s", path), color.FgGreen)
			if os.Getenv("ANTHROPIC_API_KEY") == "" {
				printStatus(out, "⚠", "ANTHROPIC_API_KEY not set (set it or llm.api_key before running)", color.FgYellow)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&project, "project", false, "Write .baton.yaml in the current directory instead of the user config")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
