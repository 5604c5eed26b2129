// Package cli implements the monkeyml command line: an interactive REPL,
// script and template runners, the template server and an event viewer.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the monkeyml command tree. Without a subcommand it
// starts the REPL.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "monkeyml",
		Short: "The monkeyml scripting language",
		Long:  "monkeyml runs scripts, renders .ml templates and serves them over HTTP.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage:      true,
		Args:              cobra.NoArgs,
		PersistentPreRunE: configureLogging,
		RunE:              runREPLCmd,
	}
	root.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	root.PersistentFlags().Bool("quiet", false, "Suppress all output except errors")
	root.Flags().String("history", "", "REPL history file (default: ~/"+defaultHistoryFile+")")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("monkeyml version %s\n", version))

	root.AddCommand(NewREPLCmd())
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewRenderCmd())
	root.AddCommand(NewServeCmd())
	root.AddCommand(NewEventsCmd())
	return root
}

// parseAssignments splits repeated name=value flags.
func parseAssignments(flag string, pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, exitError(exitUsage, "invalid --%s %q (want name=value)", flag, kv)
		}
		out[name] = value
	}
	return out, nil
}
