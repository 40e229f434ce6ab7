package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <server-uuid> <chord>",
	Short: "Send one key chord to a server's console and release it",
	Long: `Open a server's remote console, send one key chord and release the console.

The chord is given by name (case and spacing do not matter) or by its
menu key as shown by 'striker-console chords'.

Examples:
  striker-console send 7b2b5c41-3a4a-4c26-9f0f-3a2b0c1d9e8f "Ctrl + Alt + Delete"
  striker-console send 7b2b5c41-3a4a-4c26-9f0f-3a2b0c1d9e8f ctrl+alt+f2`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	serverUUID := args[0]
	out := cmd.OutOrStdout()

	chord, err := resolveChord(args[1])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.openConsole(ctx, serverUUID, out)
	if err != nil {
		return err
	}

	sendErr := s.SendChord(ctx, chord)
	closeErr := a.registry.Close(context.Background(), serverUUID)
	if sendErr != nil {
		return errors.Join(sendErr, closeErr)
	}

	_, _ = fmt.Fprintf(out, "Sent %s to server %s.\n", chord.Name, serverUUID)
	return closeErr
}
