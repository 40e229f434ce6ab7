package command

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/clusterlabs/striker-console/pkg/broker"
	"github.com/clusterlabs/striker-console/pkg/ledger"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var releaseOrphans bool

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List console pipes left reserved by clients that exited",
	Long: `List console pipes that were reserved by a striker-console process that
is no longer running and were never released. With --release each of them
is released on the control plane.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		orphans, err := a.ledger.Orphans(ctx)
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			_, _ = fmt.Fprintln(out, "No orphaned console pipes.")
			return nil
		}

		if err = renderReservations(out, orphans); err != nil {
			return err
		}
		if !releaseOrphans {
			_, _ = fmt.Fprintln(out, "Run with --release to release them.")
			return nil
		}

		released, err := a.ledger.ReleaseOrphans(ctx, a.broker)
		_, _ = fmt.Fprintf(out, "Released %d of %d orphaned console pipes.\n", released, len(orphans))
		return err
	},
}

func init() {
	orphansCmd.Flags().BoolVar(&releaseOrphans, "release", false, "release the orphaned pipes")
}

func renderReservations(out io.Writer, reservations []ledger.Reservation) error {
	table := tablewriter.NewWriter(out)
	table.Header("Server", "Endpoint", "PID", "Reserved")
	for _, r := range reservations {
		endpoint := broker.Endpoint{Protocol: r.Protocol, Host: r.Host, Port: r.Port}
		row := []string{
			r.ServerUUID,
			endpoint.String(),
			strconv.Itoa(r.PID),
			r.ReservedAt.Local().Format(time.RFC3339),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
