// Command sessionviewer chats with the Claude and Codex CLIs and keeps an
// archive of the reconstructed transcripts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sessionviewer/internal/backend"
	"sessionviewer/internal/config"
	"sessionviewer/internal/discovery"
	"sessionviewer/internal/logging"
	"sessionviewer/internal/store"
)

var (
	// Global flags
	configPath string
	cliName    string
	verbose    bool
	useAPI     bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sessionviewer",
	Short: "Live chat and transcript archive for the Claude and Codex CLIs",
	Long: `sessionviewer drives the claude and codex command line tools, rebuilds
their streamed output into an ordered chat log and archives finished
transcripts for browsing, tagging, bookmarking and export.

Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFrom(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if cliName == "" {
			cliName = cfg.Chat.DefaultCLI
		}

		// The chat screen owns the terminal, so it logs to a file.
		if !cmd.HasParent() || cmd.Name() == "chat" {
			logger, err = logging.NewFile(cfg)
		} else {
			logger, err = logging.New(cfg)
		}
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: "+config.ConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&cliName, "cli", "", "CLI to use: claude or codex (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&useAPI, "api", false, "Chat with the Anthropic API directly instead of the claude CLI")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(bookmarksCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(aliasCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(deleteCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func selectedCLI() (backend.CLIType, error) {
	return backend.ParseCLIType(cliName)
}

// transportFor returns the transport for the selected CLI and the model it
// uses by default. With --api the claude CLI is replaced by the Messages API.
func transportFor() (backend.CLIType, backend.Transport, string, error) {
	cli, err := selectedCLI()
	if err != nil {
		return "", nil, "", err
	}
	if useAPI {
		if cli != backend.CLIClaude {
			return "", nil, "", fmt.Errorf("--api needs the claude CLI, not %s", cli)
		}
		model := cfg.API.Model
		if model == "" {
			model = cfg.Backends.Claude.DefaultModel
		}
		client := discovery.NewRetryableClient(discovery.DefaultRetryConfig(), cfg.APITimeout(), logger)
		t := backend.NewAPITransport(client, apiCredentials(), model,
			backend.WithAPILogger(logger),
			backend.WithAPIEventBuffer(cfg.Chat.EventBuffer),
			backend.WithMaxTokens(cfg.API.MaxTokens),
		)
		return cli, t, t.DefaultModel(), nil
	}
	reg := backend.NewRegistry(cfg, backend.WithLogger(logger))
	t, err := reg.Get(cli)
	if err != nil {
		return "", nil, "", err
	}
	return cli, t, t.DefaultModel(), nil
}

// apiCredentials resolves the key the claude CLI would use. A key in the
// config file takes precedence.
func apiCredentials() func() (string, string) {
	home, _ := os.UserHomeDir()
	return func() (string, string) {
		if cfg.Discovery.APIKey != "" {
			return cfg.Discovery.APIKey, cfg.Discovery.BaseURL
		}
		c := discovery.LoadCredentials(home)
		return c.APIKey, c.BaseURL
	}
}

func openStore() (*store.Store, error) {
	s, err := store.Open(cfg.Storage.Path, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", cfg.Storage.Path, err)
	}
	return s, nil
}

func projectDir(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	return os.Getwd()
}
