package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/monkeyml/bus"
	"github.com/petal-labs/monkeyml/server"
	"github.com/petal-labs/monkeyml/session"
)

// NewEventsCmd creates the "events" subcommand.
func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events [session-id]",
		Short: "List stored sessions or the events of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runEvents,
	}

	cmd.Flags().String("sqlite-path", "", "SQLite event database written by serve")
	cmd.Flags().Uint64("after", 0, "Only show events with a greater sequence number")
	cmd.Flags().Int("limit", 0, "Maximum number of events to show (0 = all)")
	cmd.Flags().Bool("json", false, "Print events as JSON lines")
	_ = cmd.MarkFlagRequired("sqlite-path")

	return cmd
}

func runEvents(cmd *cobra.Command, args []string) error {
	dsn, _ := cmd.Flags().GetString("sqlite-path")
	store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		return exitError(exitUsage, "opening event store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		ids, err := store.SessionIDs(cmd.Context())
		if err != nil {
			return exitError(exitFault, "listing sessions: %v", err)
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	after, _ := cmd.Flags().GetUint64("after")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	events, err := store.List(cmd.Context(), args[0], after, limit)
	if err != nil {
		return exitError(exitFault, "listing events: %v", err)
	}
	if len(events) == 0 && after == 0 {
		return exitError(exitFileNotFound, "session %s not found", args[0])
	}

	if asJSON {
		enc := json.NewEncoder(out)
		for _, e := range events {
			if err := enc.Encode(server.NewEventResponse(e)); err != nil {
				return err
			}
		}
		return nil
	}
	for _, e := range events {
		writeEventLine(out, e)
	}
	return nil
}

// writeEventLine prints one event as "seq time kind step=N key=value...".
func writeEventLine(w io.Writer, e session.Event) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%4d %s %-16s step=%d", e.Seq, e.Time.UTC().Format(time.RFC3339), e.Kind, e.Step)
	if e.Elapsed > 0 {
		fmt.Fprintf(&sb, " elapsed=%s", e.Elapsed)
	}
	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Payload[k])
	}
	fmt.Fprintln(w, sb.String())
}
