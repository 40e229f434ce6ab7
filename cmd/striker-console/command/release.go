package command

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var releaseCmd = &cobra.Command{
	Use:   "release <server-uuid>",
	Short: "Release the console pipe reserved for a server",
	Long: `Ask the control plane to release the console pipe of a server.

Use this when a console was left reserved, e.g. after a crash. Local
reservation records for the server are cleared once the release succeeds.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverUUID := args[0]
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if err = a.broker.ClosePipe(ctx, serverUUID); err != nil {
			return fmt.Errorf("failed to release console pipe for server %s: %w", serverUUID, err)
		}

		removed, err := a.ledger.RemoveServer(ctx, serverUUID)
		if err != nil {
			log.Warn().Err(err).Msgf("Failed to clear reservation records for server %s.", serverUUID)
		} else if removed > 0 {
			log.Debug().Msgf("Cleared %d reservation records for server %s.", removed, serverUUID)
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Released console pipe for server %s.\n", serverUUID)
		return nil
	},
}
