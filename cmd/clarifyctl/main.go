// clarifyctl runs clarify operations from the command line: consolidating
// a user's conversation history into patterns and previewing the assembled
// conversation context.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reflectlabs/clarify/internal/clarify"
	"github.com/reflectlabs/clarify/internal/config"
	"github.com/reflectlabs/clarify/internal/consolidate"
	"github.com/reflectlabs/clarify/internal/llm"
	"github.com/reflectlabs/clarify/internal/logging"
	"github.com/reflectlabs/clarify/internal/patterns"
	"github.com/reflectlabs/clarify/internal/retry"
	"github.com/reflectlabs/clarify/internal/store"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "clarifyctl",
		Short:         "Operate the clarify context pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/clarify/config.yaml)")

	root.AddCommand(consolidateCmd())
	root.AddCommand(contextCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired components a command needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.SQLite
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	st, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &app{cfg: cfg, logger: logger, store: st}, nil
}

func (a *app) close() {
	_ = a.store.Close()
	_ = logging.Sync(a.logger)
}

func (a *app) newExtractor() (*patterns.Extractor, error) {
	client, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey:     a.cfg.LLM.APIKey,
		Model:      a.cfg.LLM.Model,
		BaseURL:    a.cfg.LLM.BaseURL,
		Timeout:    a.cfg.LLM.Timeout,
		RatePerMin: a.cfg.LLM.RatePerMin,
		RateBurst:  a.cfg.LLM.RateBurst,
	})
	if err != nil {
		return nil, err
	}

	return patterns.NewExtractor(client, a.logger,
		patterns.WithMinUserMessages(a.cfg.Consolidation.MinUserMessages),
		patterns.WithRetryConfig(retry.Config{
			MaxRetries:   a.cfg.Retry.MaxRetries,
			BaseDelay:    a.cfg.Retry.BaseDelay,
			MaxDelay:     a.cfg.Retry.MaxDelay,
			Multiplier:   a.cfg.Retry.Multiplier,
			JitterFactor: a.cfg.Retry.JitterFactor,
		}),
	)
}

func consolidateCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Consolidate a user's unprocessed messages into patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			extractor, err := a.newExtractor()
			if err != nil {
				return err
			}

			c, err := consolidate.New(a.store, extractor, a.logger,
				consolidate.WithBatchSize(a.cfg.Consolidation.BatchSize))
			if err != nil {
				return err
			}

			res := c.Consolidate(cmd.Context(), userID)

			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if !res.Success {
				return fmt.Errorf("consolidation failed: %s", res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id to consolidate")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func contextCmd() *cobra.Command {
	var userID, sessionID string

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print the context that would be assembled for a conversation turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			builder, err := clarify.NewBuilder(a.store, clarify.Config{
				MaxContextTokens:   a.cfg.Context.MaxTokens,
				MaxGoals:           a.cfg.Context.MaxGoals,
				MaxPatterns:        a.cfg.Context.MaxPatterns,
				MinPatternStrength: a.cfg.Context.MinPatternStrength,
				MaxSessions:        a.cfg.Context.MaxSessions,
				MaxEntries:         a.cfg.Context.MaxEntries,
			}, a.logger)
			if err != nil {
				return err
			}

			out := builder.BuildContext(cmd.Context(), userID, sessionID)
			if out == "" {
				fmt.Fprintln(os.Stderr, "no supplementary context available")
				return nil
			}
			fmt.Println(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id to build context for")
	cmd.Flags().StringVar(&sessionID, "session", "", "current session id to exclude")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
