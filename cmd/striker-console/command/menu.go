package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/clusterlabs/striker-console/pkg/console"
	"github.com/clusterlabs/striker-console/pkg/keychord"
)

// menuKeys selects chords in menu order. 'q' is left out for quitting.
const menuKeys = "123456789abcdefghijklmnoprstuvwxyz"

const (
	keyQuit      = 'q'
	keyInterrupt = 0x03 // Ctrl-C in raw mode
	keyEOF       = 0x04 // Ctrl-D in raw mode
)

var errConsoleLost = errors.New("console connection lost")

type menuEntry struct {
	key   byte
	chord keychord.KeyChord
}

func menuEntries() []menuEntry {
	chords := keychord.All()
	entries := make([]menuEntry, 0, len(chords))
	for i, chord := range chords {
		if i >= len(menuKeys) {
			break
		}
		entries = append(entries, menuEntry{key: menuKeys[i], chord: chord})
	}
	return entries
}

func chordForKey(key byte) (keychord.KeyChord, bool) {
	for _, e := range menuEntries() {
		if e.key == key {
			return e.chord, true
		}
	}
	return keychord.KeyChord{}, false
}

// resolveChord accepts a chord name or its menu key.
func resolveChord(arg string) (keychord.KeyChord, error) {
	if len(arg) == 1 {
		if chord, ok := chordForKey(arg[0]); ok {
			return chord, nil
		}
	}
	if chord, ok := keychord.Lookup(arg); ok {
		return chord, nil
	}
	return keychord.KeyChord{}, fmt.Errorf("unknown chord %q, run '%s chords' to list them", arg, name)
}

func describeSequence(chord keychord.KeyChord) string {
	if chord.IsResetSignal() {
		return "reset signal"
	}
	keys := make([]string, len(chord.ScanCodes))
	for i, code := range chord.ScanCodes {
		keys[i] = code.String()
	}
	return strings.Join(keys, " + ")
}

type chordSender interface {
	SendChord(ctx context.Context, chord keychord.KeyChord) error
}

// chordMenu reads single-key selections from in and sends the chosen chords
// until the user quits, ctx is done, or lost is closed. nl is the line ending
// to print, "\r\n" while the terminal is in raw mode.
func chordMenu(ctx context.Context, in io.Reader, out io.Writer, nl string, s chordSender, lost <-chan struct{}) error {
	_, _ = fmt.Fprintf(out, "Select a key chord to send:%s", nl)
	for _, e := range menuEntries() {
		_, _ = fmt.Fprintf(out, "  [%c] %s%s", e.key, e.chord.Name, nl)
	}
	_, _ = fmt.Fprintf(out, "  [%c] release console and quit%s", keyQuit, nl)

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	keys := make(chan byte)
	go readKeys(readCtx, in, keys)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lost:
			return errConsoleLost
		case key, ok := <-keys:
			if !ok || key == keyQuit || key == keyInterrupt || key == keyEOF {
				return nil
			}
			chord, found := chordForKey(key)
			if !found {
				continue
			}
			if err := s.SendChord(ctx, chord); err != nil {
				_, _ = fmt.Fprintf(out, "Failed to send %s: %v%s", chord.Name, err, nl)
				if errors.Is(err, console.ErrSessionNotReady) {
					return err
				}
				continue
			}
			_, _ = fmt.Fprintf(out, "Sent %s.%s", chord.Name, nl)
		}
	}
}

// readKeys forwards single key presses from in until ctx is done or in
// fails. A read already blocked on in cannot be interrupted: on stdin it
// consumes one more keystroke after the menu has returned, drops it and
// exits.
func readKeys(ctx context.Context, in io.Reader, keys chan<- byte) {
	defer close(keys)

	r := bufio.NewReader(in)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		switch b {
		case '\r', '\n', ' ', '\t':
			continue
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case keys <- b:
		case <-ctx.Done():
			return
		}
	}
}
