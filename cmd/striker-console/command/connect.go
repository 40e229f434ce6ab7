package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/clusterlabs/striker-console/pkg/console"
	"github.com/clusterlabs/striker-console/pkg/keychord"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var connectChord string

var connectCmd = &cobra.Command{
	Use:   "connect <server-uuid>",
	Short: "Open a server's remote console and send key chords",
	Long: `Open a server's remote console and send key chords to it.

Without --chord an interactive menu lists the available chords; press a
chord's key to send it and 'q' to release the console. With --chord the
chord is sent once and the console is held until Ctrl-C.

Examples:
  striker-console connect 7b2b5c41-3a4a-4c26-9f0f-3a2b0c1d9e8f
  striker-console connect 7b2b5c41-3a4a-4c26-9f0f-3a2b0c1d9e8f --chord "Ctrl + Alt + F2"`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().StringVar(&connectChord, "chord", "", "chord name or menu key to send once connected")
}

func runConnect(cmd *cobra.Command, args []string) error {
	serverUUID := args[0]
	out := cmd.OutOrStdout()

	var chord keychord.KeyChord
	if connectChord != "" {
		var err error
		if chord, err = resolveChord(connectChord); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lost := make(chan struct{})
	var lostOnce sync.Once
	a, err := newApp(ctx, console.WithStateListener(func(state console.State) {
		if state == console.StateFailed {
			lostOnce.Do(func() { close(lost) })
		}
	}))
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.openConsole(ctx, serverUUID, out)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	if connectChord != "" {
		err = sendAndHold(ctx, s, chord, lost, out)
	} else {
		err = interactiveMenu(ctx, s, lost, out)
	}

	closeErr := a.registry.Close(context.Background(), serverUUID)
	if closeErr == nil && err == nil {
		_, _ = fmt.Fprintf(out, "Released console of server %s.\n", serverUUID)
	}
	return errors.Join(err, closeErr)
}

func sendAndHold(ctx context.Context, s *console.Session, chord keychord.KeyChord, lost <-chan struct{}, out io.Writer) error {
	if err := s.SendChord(ctx, chord); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Sent %s. Press Ctrl-C to release the console.\n", chord.Name)

	select {
	case <-ctx.Done():
		return nil
	case <-lost:
		return errConsoleLost
	}
}

func interactiveMenu(ctx context.Context, s *console.Session, lost <-chan struct{}, out io.Writer) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return chordMenu(ctx, os.Stdin, out, "\n", s, lost)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to set terminal raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, oldState) }()

	return chordMenu(ctx, os.Stdin, out, "\r\n", s, lost)
}
