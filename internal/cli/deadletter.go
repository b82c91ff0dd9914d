package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/relay/pkg/relay/deadletter"
	"github.com/spf13/cobra"
)

// errNoJournal is returned when no dead-letter path is configured.
var errNoJournal = errors.New("no dead-letter journal configured (set dead_letter_path or RELAY_DEAD_LETTER_PATH)")

// NewDeadLetterCommand creates the deadletter command group.
func NewDeadLetterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dlq"},
		Short:   "Inspect failed handler invocations",
	}
	cmd.AddCommand(newDeadLetterListCommand(rootOpts))
	cmd.AddCommand(newDeadLetterDeleteCommand(rootOpts))
	return cmd
}

func newDeadLetterListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		limit int
		event string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled failures, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openJournal(rootOpts)
			if err != nil {
				return err
			}
			defer store.Close()

			var recs []deadletter.Record
			if event != "" {
				recs, err = store.ListByEvent(cmd.Context(), event)
				if limit > 0 && len(recs) > limit {
					recs = recs[:limit]
				}
			} else {
				recs, err = store.List(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			views := make([]recordView, len(recs))
			for i, r := range recs {
				views[i] = newRecordView(r)
			}

			return newFormatter(rootOpts, cmd.OutOrStdout()).Result(views, func(w io.Writer) error {
				if len(recs) == 0 {
					_, err := fmt.Fprintln(w, "no dead letters")
					return err
				}
				for _, r := range recs {
					fmt.Fprintln(w, r)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum records (0 = all)")
	cmd.Flags().StringVar(&event, "event", "", "only records for this event")
	return cmd
}

// recordView is the JSON form of a dead-letter record.
type recordView struct {
	ID            string          `json:"id"`
	Event         string          `json:"event"`
	CorrelationID int64           `json:"correlation_id"`
	Peer          string          `json:"peer,omitempty"`
	Args          json.RawMessage `json:"args"`
	Error         string          `json:"error"`
	Panic         bool            `json:"panic"`
	FailedAt      time.Time       `json:"failed_at"`
}

func newRecordView(r deadletter.Record) recordView {
	args := json.RawMessage(r.Args)
	if !json.Valid(args) {
		args = json.RawMessage("[]")
	}
	return recordView{
		ID:            r.ID.String(),
		Event:         r.Event,
		CorrelationID: r.CorrelationID,
		Peer:          r.Peer,
		Args:          args,
		Error:         r.Error,
		Panic:         r.Panic,
		FailedAt:      r.FailedAt,
	}
}

func newDeadLetterDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete journaled failures by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, len(args))
			for i, a := range args {
				id, err := uuid.Parse(a)
				if err != nil {
					return fmt.Errorf("invalid id %q: %w", a, err)
				}
				ids[i] = id
			}

			store, err := openJournal(rootOpts)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, id := range ids {
				if err := store.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}

func openJournal(opts *RootOptions) (deadletter.Store, error) {
	if opts.Settings.DeadLetterPath == "" {
		return nil, errNoJournal
	}
	return openDeadLetters(opts.Settings)
}
