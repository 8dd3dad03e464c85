package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adnanbaig/browserfarm/internal/store"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

func newSessionsCmd(stateDir func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect durable session records",
	}

	cmd.AddCommand(
		newSessionsListCmd(stateDir),
		newSessionsShowCmd(stateDir),
		newSessionsPurgeCmd(stateDir),
	)

	return cmd
}

func newSessionsListCmd(stateDir func() string) *cobra.Command {
	var asJSON bool
	var withTombstones bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live session records, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.New(stateDir())
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}

			records, err := st.ListLive()
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			var tombstones []models.Tombstone
			if withTombstones {
				if tombstones, err = st.ListTombstones(); err != nil {
					return fmt.Errorf("list tombstones: %w", err)
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				out := struct {
					Sessions   []models.SessionRecord `json:"sessions"`
					Tombstones []models.Tombstone     `json:"tombstones,omitempty"`
				}{Sessions: records, Tombstones: tombstones}
				return enc.Encode(out)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INSTANCE\tSTATE\tTABS\tAGE\tIDLE\tCONTAINER")
			now := time.Now()
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					rec.InstanceID, rec.State, len(rec.Tabs),
					formatAge(now.Sub(rec.CreatedAt)),
					formatAge(now.Sub(rec.LastActivity)),
					shortID(rec.ContainerID))
			}
			if withTombstones {
				for _, ts := range tombstones {
					fmt.Fprintf(w, "%s\tTERMINATED\t-\t-\t%s\t-\n",
						ts.InstanceID, formatAge(now.Sub(ts.TerminatedAt)))
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	cmd.Flags().BoolVar(&withTombstones, "tombstones", false, "include terminated sessions")
	return cmd
}

func newSessionsShowCmd(stateDir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <instance-id>",
		Short: "Print the full record for one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.New(stateDir())
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}

			rec, err := st.Get(args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}

func newSessionsPurgeCmd(stateDir func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove all tombstones of terminated sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.New(stateDir())
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}

			n, err := st.PurgeTombstones()
			if err != nil {
				return fmt.Errorf("purge tombstones: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d tombstone(s)\n", n)
			return nil
		},
	}
}

func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%.1fh", d.Hours())
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
