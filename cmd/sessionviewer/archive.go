package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"sessionviewer/internal/chat"
	"sessionviewer/internal/export"
	"sessionviewer/internal/store"
)

var (
	bookmarkMessage string
	bookmarkNote    string
	exportDir       string
	exportStdout    bool
	historyTag      string
	historyAll      bool
)

var bookmarksCmd = &cobra.Command{
	Use:   "bookmarks",
	Short: "Manage bookmarks",
	RunE:  listBookmarks,
}

var bookmarksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bookmarks of the selected CLI",
	Args:  cobra.NoArgs,
	RunE:  listBookmarks,
}

var bookmarksAddCmd = &cobra.Command{
	Use:   "add <session-id>",
	Short: "Bookmark an archived session, or one message with --message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			t, err := s.LoadTranscript(args[0])
			if err != nil {
				return err
			}
			b := store.Bookmark{
				Source:       t.Source,
				ProjectID:    t.ProjectPath,
				SessionID:    t.SessionID,
				MessageID:    bookmarkMessage,
				SessionTitle: titleOf(s, t),
				ProjectName:  filepath.Base(t.ProjectPath),
			}
			if bookmarkMessage != "" {
				idx := slices.IndexFunc(t.Messages, func(m chat.ChatMessage) bool { return m.ID == bookmarkMessage })
				if idx < 0 {
					return fmt.Errorf("message %s not in session %s", bookmarkMessage, t.SessionID)
				}
				b.Preview = preview(t.Messages[idx].Text(), 120)
			}
			if bookmarkNote != "" {
				b.Preview = bookmarkNote
			}
			b, err = s.AddBookmark(b)
			if errors.Is(err, store.ErrBookmarkExists) {
				return fmt.Errorf("%s is already bookmarked", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), b.ID)
			return nil
		})
	},
}

var bookmarksRemoveCmd = &cobra.Command{
	Use:   "remove <bookmark-id>",
	Short: "Remove a bookmark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			return s.RemoveBookmark(args[0])
		})
	},
}

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Manage session tags",
	RunE:  listTags,
}

var tagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tags per project",
	Args:  cobra.NoArgs,
	RunE:  listTags,
}

var tagsSetCmd = &cobra.Command{
	Use:   "set <session-id> [tag...]",
	Short: "Replace the tags of an archived session; no tags clears them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			t, err := s.LoadTranscript(args[0])
			if err != nil {
				return err
			}
			meta, err := s.SessionMeta(t.Source, t.ProjectPath, t.SessionID)
			if err != nil {
				return err
			}
			return s.UpdateSessionMeta(t.Source, t.ProjectPath, t.SessionID, meta.Alias, args[1:])
		})
	},
}

var aliasCmd = &cobra.Command{
	Use:   "alias <session-id> [name]",
	Short: "Name an archived session; no name clears it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			t, err := s.LoadTranscript(args[0])
			if err != nil {
				return err
			}
			meta, err := s.SessionMeta(t.Source, t.ProjectPath, t.SessionID)
			if err != nil {
				return err
			}
			return s.UpdateSessionMeta(t.Source, t.ProjectPath, t.SessionID, strings.Join(args[1:], " "), meta.Tags)
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export an archived session as markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			t, err := s.LoadTranscript(args[0])
			if err != nil {
				return err
			}
			meta, err := s.SessionMeta(t.Source, t.ProjectPath, t.SessionID)
			if err != nil {
				return err
			}
			et := &export.Transcript{
				SessionID:   t.SessionID,
				Source:      t.Source,
				Alias:       meta.Alias,
				ProjectPath: t.ProjectPath,
				Model:       t.Model,
				CreatedAt:   t.CreatedAt,
				Messages:    t.Messages,
			}
			if exportStdout {
				_, err := fmt.Fprint(cmd.OutOrStdout(), export.Markdown(et, time.Now()))
				return err
			}
			dir := exportDir
			if dir == "" {
				if dir, err = projectDir(""); err != nil {
					return err
				}
			}
			path, err := export.WriteMarkdown(et, dir, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>...",
	Short: "Delete archived sessions with their tags, alias and bookmarks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			for _, id := range args {
				if err := s.DeleteTranscript(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			sessions, err := s.ListTranscripts()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tCLI\tSTATUS\tMSGS\tUPDATED\tNAME\tTAGS")
			for _, t := range sessions {
				if !historyAll && t.Source != cliName {
					continue
				}
				meta, err := s.SessionMeta(t.Source, t.ProjectPath, t.SessionID)
				if err != nil {
					return err
				}
				if historyTag != "" && !slices.Contains(meta.Tags, historyTag) {
					continue
				}
				name := t.Alias
				if name == "" {
					name = t.ProjectPath
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					t.SessionID, t.Source, t.Status, t.Messages,
					t.UpdatedAt.Local().Format("2006-01-02 15:04"), name, orDash(strings.Join(meta.Tags, ",")))
			}
			return tw.Flush()
		})
	},
}

func init() {
	bookmarksAddCmd.Flags().StringVar(&bookmarkMessage, "message", "", "Bookmark this message id")
	bookmarksAddCmd.Flags().StringVar(&bookmarkNote, "note", "", "Preview text (default: the message text)")
	bookmarksCmd.AddCommand(bookmarksListCmd, bookmarksAddCmd, bookmarksRemoveCmd)
	tagsCmd.AddCommand(tagsListCmd, tagsSetCmd)

	exportCmd.Flags().StringVarP(&exportDir, "dir", "d", "", "Output directory (default: current)")
	exportCmd.Flags().BoolVar(&exportStdout, "stdout", false, "Print the markdown instead of writing a file")

	historyCmd.Flags().StringVar(&historyTag, "tag", "", "Only sessions carrying this tag")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "Include sessions of every CLI")
}

func withStore(fn func(*store.Store) error) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func listBookmarks(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.Store) error {
		bookmarks, err := s.ListBookmarks(cliName)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSESSION\tPROJECT\tCREATED\tTITLE\tPREVIEW")
		for _, b := range bookmarks {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				b.ID, b.SessionID, b.ProjectName, b.CreatedAt.Local().Format("2006-01-02 15:04"),
				preview(b.SessionTitle, 40), preview(b.Preview, 60))
		}
		return tw.Flush()
	})
}

func listTags(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.Store) error {
		byProject, err := s.CrossProjectTags(cliName)
		if err != nil {
			return err
		}
		projects := make([]string, 0, len(byProject))
		for p := range byProject {
			projects = append(projects, p)
		}
		slices.Sort(projects)
		out := cmd.OutOrStdout()
		for _, p := range projects {
			fmt.Fprintf(out, "%s: %s\n", orDash(p), strings.Join(byProject[p], ", "))
		}
		return nil
	})
}

// titleOf names a session by its alias, else its first prompt.
func titleOf(s *store.Store, t *store.Transcript) string {
	if meta, err := s.SessionMeta(t.Source, t.ProjectPath, t.SessionID); err == nil && meta.Alias != "" {
		return meta.Alias
	}
	for _, m := range t.Messages {
		if text := strings.TrimSpace(m.Text()); text != "" {
			return preview(text, 80)
		}
	}
	return t.SessionID
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
