package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sessionviewer/internal/backend"
	"sessionviewer/internal/chat"
	"sessionviewer/internal/controller"
	"sessionviewer/internal/export"
	"sessionviewer/internal/store"
)

var (
	runModel    string
	runProject  string
	runResume   string
	runNoSave   bool
	replayDelay time.Duration
	replayText  string
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Send one prompt and stream the reply to stdout",
	Long: `Runs a single generation without the chat screen. The reply is printed as
it streams and the transcript is archived when the generation ends.

Example:
  sessionviewer run --cli codex "explain the build"
  sessionviewer run --resume 4f1c0a "and the tests?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPrompt,
}

var replayCmd = &cobra.Command{
	Use:   "replay <events.ndjson>",
	Short: "Rebuild a transcript from recorded events",
	Long: `Feeds a file of recorded chat events through the session controller and
prints the resulting turns, tool links and usage.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model id (default from config)")
	runCmd.Flags().StringVarP(&runProject, "project", "p", "", "Project directory (default: current)")
	runCmd.Flags().StringVar(&runResume, "resume", "", "Continue this session id")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "Do not archive the transcript")

	replayCmd.Flags().DurationVar(&replayDelay, "delay", 0, "Pause between events")
	replayCmd.Flags().StringVar(&replayText, "prompt", "", "Prompt recorded ahead of the events (default: the file name)")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	cli, transport, _, err := transportFor()
	if err != nil {
		return err
	}
	project, err := projectDir(runProject)
	if err != nil {
		return err
	}
	prompt := strings.Join(args, " ")

	var archive *store.Store
	if !runNoSave || runResume != "" {
		if archive, err = openStore(); err != nil {
			return err
		}
		defer archive.Close()
	}

	opts := []controller.Option{
		controller.WithLogger(logger),
		controller.WithToolResultRole(cli.ToolResultRole()),
	}
	if runResume != "" {
		t, err := archive.LoadTranscript(runResume)
		switch {
		case err == nil:
			opts = append(opts, controller.WithHistory(t.SessionID, t.ProjectPath, t.Model, t.Messages))
			if runProject == "" && t.ProjectPath != "" {
				project = t.ProjectPath
			}
		case errors.Is(err, store.ErrSessionNotFound):
			logger.Debug("resuming a session that is not archived", zap.String("session_id", runResume))
			opts = append(opts, controller.WithHistory(runResume, project, "", nil))
		default:
			return err
		}
	}
	ctrl := controller.New(transport, opts...)

	if runResume != "" {
		err = ctrl.Continue(cmd.Context(), runResume, prompt, runModel)
	} else {
		err = ctrl.Start(cmd.Context(), project, prompt, runModel)
	}
	if err != nil {
		return err
	}

	p := &printer{w: cmd.OutOrStdout()}
	snap := follow(cmd.Context(), ctrl, p, cfg.CancelTimeout())
	fmt.Fprintf(cmd.ErrOrStderr(), "\n%s · %s · %s\n", snap.Status, snap.SessionID, export.FormatUsage(snap.Usage.Usage))

	if archive != nil && !runNoSave && snap.SessionID != "" {
		if err := archive.SaveTranscript(transcriptOf(cli, snap)); err != nil {
			logger.Error("archive transcript", zap.Error(err))
		}
	}
	if snap.Status == controller.StatusError {
		return errors.New(snap.Err)
	}
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	cli, err := selectedCLI()
	if err != nil {
		return err
	}
	prompt := replayText
	if prompt == "" {
		prompt = filepath.Base(args[0])
	}

	ctrl := controller.New(backend.NewReplay(args[0], replayDelay, logger),
		controller.WithLogger(logger),
		controller.WithToolResultRole(cli.ToolResultRole()),
	)
	if err := ctrl.Start(cmd.Context(), "", prompt, ""); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	snap := follow(cmd.Context(), ctrl, &printer{w: out}, cfg.CancelTimeout())
	fmt.Fprintln(out)
	writeSummary(out, snap)
	if snap.Status == controller.StatusError {
		return errors.New(snap.Err)
	}
	return nil
}

// follow prints the session as it changes until the generation ends. An
// interrupt cancels the generation and keeps following until it stops.
func follow(ctx context.Context, ctrl *controller.Controller, p *printer, cancelTimeout time.Duration) controller.Snapshot {
	interrupted := ctx.Done()
	for {
		snap := ctrl.Snapshot()
		done := !snap.Status.Active()
		p.flush(snap.Messages, done)
		if done {
			return snap
		}
		select {
		case <-ctrl.Updates():
		case <-interrupted:
			interrupted = nil
			cctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
			if err := ctrl.Cancel(cctx); err != nil {
				logger.Warn("cancel generation", zap.Error(err))
			}
			cancel()
		}
	}
}

func transcriptOf(cli backend.CLIType, snap controller.Snapshot) store.Transcript {
	return store.Transcript{
		SessionID:   snap.SessionID,
		Source:      string(cli),
		ProjectPath: snap.ProjectPath,
		Model:       snap.Model,
		Status:      string(snap.Status),
		Err:         snap.Err,
		Messages:    snap.Messages,
	}
}

func writeSummary(w io.Writer, snap controller.Snapshot) {
	fmt.Fprintf(w, "status:   %s\n", snap.Status)
	if snap.Err != "" {
		fmt.Fprintf(w, "error:    %s\n", snap.Err)
	}
	if snap.SessionID != "" {
		fmt.Fprintf(w, "session:  %s\n", snap.SessionID)
	}
	fmt.Fprintf(w, "messages: %d\n", len(snap.Messages))
	fmt.Fprintf(w, "turns:    %d\n", len(snap.Turns))
	for _, t := range snap.Turns {
		fmt.Fprintf(w, "  turn %d: %d messages, %d tokens\n", t.Index+1, len(t.Messages), t.Tokens)
	}
	fmt.Fprintf(w, "links:    %d linked", len(snap.Links.Results))
	if pending := snap.Links.Pending(snap.Messages); len(pending) > 0 {
		fmt.Fprintf(w, ", pending %s", strings.Join(pending, " "))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "usage:    %s\n", export.FormatUsage(snap.Usage.Usage))
}

// printer writes a growing message log to a stream, emitting each piece of
// content once. Text is written as it arrives; a tool use is written once
// its input is complete.
type printer struct {
	w      io.Writer
	msg    int
	block  int
	offset int
	begun  bool
	header bool
}

func (p *printer) flush(msgs []chat.ChatMessage, final bool) {
	for ; p.msg < len(msgs); p.msg++ {
		m := msgs[p.msg]
		if !p.header {
			fmt.Fprintf(p.w, "\n── %s ──\n", m.Role)
			p.header = true
		}
		last := p.msg == len(msgs)-1 && !final
		for ; p.block < len(m.Content); p.block++ {
			b := m.Content[p.block]
			open := last && p.block == len(m.Content)-1
			switch b.Kind {
			case chat.BlockText, chat.BlockThinking:
				if !p.begun && b.Kind == chat.BlockThinking {
					io.WriteString(p.w, "(thinking) ")
				}
				p.begun = true
				if p.offset < len(b.Text) {
					io.WriteString(p.w, b.Text[p.offset:])
				}
				if open {
					p.offset = len(b.Text)
					return
				}
				io.WriteString(p.w, "\n")
			case chat.BlockToolUse:
				if open {
					return
				}
				fmt.Fprintf(p.w, "⚙ %s %s\n", b.ToolName, strings.Join(strings.Fields(b.DisplayInput()), " "))
			case chat.BlockToolResult:
				label := "↳"
				if b.IsError {
					label = "↳ error:"
				}
				fmt.Fprintf(p.w, "%s %s\n", label, firstLines(b.Content, 5))
			case chat.BlockUnsupported:
				fmt.Fprintf(p.w, "[unsupported block: %s]\n", b.RawType)
			}
			p.offset = 0
			p.begun = false
		}
		if last {
			return
		}
		p.block = 0
		p.header = false
	}
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = append(lines[:n], fmt.Sprintf("… %d more lines", len(lines)-n))
	}
	return strings.Join(lines, "\n  ")
}
