package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sessionviewer/internal/backend"
	"sessionviewer/internal/controller"
	"sessionviewer/internal/discovery"
	"sessionviewer/internal/store"
	"sessionviewer/internal/ui"
)

var (
	chatModel   string
	chatProject string
	chatResume  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat",
	Long: `Opens the full-screen chat. Enter sends a prompt, Esc cancels the running
generation and /help lists the slash commands. Finished generations are
archived automatically.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, chatCmd} {
		c.Flags().StringVarP(&chatModel, "model", "m", "", "Model id (default from config)")
		c.Flags().StringVarP(&chatProject, "project", "p", "", "Project directory (default: current)")
		c.Flags().StringVar(&chatResume, "resume", "", "Resume an archived session")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cli, transport, defaultModel, err := transportFor()
	if err != nil {
		return err
	}
	project, err := projectDir(chatProject)
	if err != nil {
		return err
	}
	model := chatModel
	if model == "" {
		model = defaultModel
	}

	archive, err := openStore()
	if err != nil {
		return err
	}
	defer archive.Close()

	var resumed *store.Transcript
	if chatResume != "" {
		resumed, err = archive.LoadTranscript(chatResume)
		if err != nil {
			return err
		}
		project = resumed.ProjectPath
	}

	home, _ := os.UserHomeDir()
	watcher, err := discovery.NewSettingsWatcher(home, logger)
	credentials := func() discovery.Credentials { return discovery.LoadCredentials(home) }
	if err != nil {
		logger.Warn("settings watcher unavailable", zap.Error(err))
	} else {
		watcher.Start(cmd.Context())
		defer watcher.Close()
		credentials = watcher.Credentials
	}
	if cfg.Discovery.APIKey != "" {
		credentials = func() discovery.Credentials {
			return discovery.Credentials{APIKey: cfg.Discovery.APIKey, BaseURL: cfg.Discovery.BaseURL}
		}
	}
	client := discovery.NewRetryableClient(discovery.DefaultRetryConfig(), cfg.DiscoveryTimeout(), logger)

	var current *controller.Controller
	newSession := func(t *store.Transcript) ui.Session {
		opts := []controller.Option{
			controller.WithLogger(logger),
			controller.WithToolResultRole(cli.ToolResultRole()),
		}
		if t != nil {
			opts = append(opts, controller.WithHistory(t.SessionID, t.ProjectPath, t.Model, t.Messages))
		}
		current = controller.New(transport, opts...)
		return current
	}
	first := true
	factory := func(t *store.Transcript) ui.Session {
		if first && t == nil {
			t = resumed
		}
		first = false
		return newSession(t)
	}

	m := ui.New(ui.Options{
		CLI:           cli,
		ProjectPath:   project,
		Model:         model,
		NewSession:    factory,
		Archive:       archive,
		Models:        discovery.NewModelLister(client, credentials, logger),
		ExportDir:     filepath.Join(project, "exports"),
		CancelTimeout: cfg.CancelTimeout(),
		Logger:        logger,
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(cmd.Context()))
	_, err = p.Run()
	stopGeneration(current, archive, cli)
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}

// stopGeneration cancels a generation left running when the chat screen
// was torn down without its own quit path, and archives what it produced.
func stopGeneration(ctrl *controller.Controller, archive *store.Store, cli backend.CLIType) {
	if ctrl == nil || !ctrl.Status().Active() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.CancelTimeout())
	defer cancel()
	if err := ctrl.Cancel(ctx); err != nil {
		logger.Warn("cancel generation at exit", zap.Error(err))
	} else if err := ctrl.Wait(ctx); err != nil {
		logger.Warn("generation did not stop at exit", zap.Error(err))
	}
	if snap := ctrl.Snapshot(); snap.SessionID != "" {
		if err := archive.SaveTranscript(transcriptOf(cli, snap)); err != nil {
			logger.Error("archive transcript", zap.Error(err))
		}
	}
}
