package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/petal-labs/monkeyml/session"
)

const (
	defaultHistoryFile = ".monkeyml_history"
	replPrompt         = ">> "
)

// NewREPLCmd creates the "repl" subcommand.
func NewREPLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session",
		Args:  cobra.NoArgs,
		RunE:  runREPLCmd,
	}
	cmd.Flags().String("history", "", "History file (default: ~/"+defaultHistoryFile+")")
	return cmd
}

// lineReader is the part of liner.State the REPL loop needs.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

func runREPLCmd(cmd *cobra.Command, _ []string) error {
	historyPath, _ := cmd.Flags().GetString("history")
	if historyPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			historyPath = filepath.Join(home, defaultHistoryFile)
		}
	}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if historyPath != "" {
		// #nosec G304 -- history path from user flag or home directory.
		if f, err := os.Open(historyPath); err == nil {
			_, _ = ln.ReadHistory(f)
			_ = f.Close()
		}
		defer func() {
			// #nosec G304 -- history path from user flag or home directory.
			if f, err := os.Create(historyPath); err == nil {
				_, _ = ln.WriteHistory(f)
				_ = f.Close()
			}
		}()
	}

	sess := session.New(session.OriginREPL, session.Options{})
	err := repl(ln, sess, cmd.OutOrStdout(), cmd.ErrOrStderr())
	sess.Close(nil)
	return err
}

// repl evaluates one line at a time against sess until end of input. Parse
// errors and faults are reported and the session state is kept.
func repl(in lineReader, sess *session.Session, out, errOut io.Writer) error {
	for {
		line, err := in.Prompt(replPrompt)
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(out)
			return nil
		case err != nil:
			return exitError(exitUsage, "reading input: %v", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		in.AppendHistory(line)

		v, err := sess.Eval(line, out)
		if err != nil {
			slog.Debug("repl evaluation failed", "session_id", sess.ID(), "step", sess.Steps(), "error", err)
			fmt.Fprintf(errOut, "error: %v\n", err)
			continue
		}
		if v != nil {
			fmt.Fprintf(out, "-> %s\n\n", v)
		}
	}
}
