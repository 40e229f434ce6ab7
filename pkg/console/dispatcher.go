package console

import (
	"errors"
	"fmt"

	"github.com/clusterlabs/striker-console/pkg/keychord"
	"github.com/clusterlabs/striker-console/pkg/rfb"
	"github.com/rs/zerolog/log"
)

// KeySender is the part of an rfb.Handle the dispatcher drives.
type KeySender interface {
	SendKey(code keychord.ScanCode, down bool) error
	SendResetSignal() error
}

// Dispatch sends chord over h. Keys go down in listed order and come up in
// reverse order; an empty chord sends the transport's reset signal instead.
//
// A send failure aborts the rest of the sequence. Keys that were already
// pressed are then released, last pressed first, unless the connection is
// gone, so a failed chord does not leave modifiers held on the guest.
func Dispatch(h KeySender, chord keychord.KeyChord) error {
	if chord.IsResetSignal() {
		if err := h.SendResetSignal(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrChordSendFailed, chord.Name, err)
		}
		return nil
	}

	codes := chord.ScanCodes
	for i, code := range codes {
		if err := h.SendKey(code, true); err != nil {
			releasePressed(h, codes[:i], err)
			return fmt.Errorf("%w: %s: key %#x down: %w", ErrChordSendFailed, chord.Name, uint32(code), err)
		}
	}

	for i := len(codes) - 1; i >= 0; i-- {
		if err := h.SendKey(codes[i], false); err != nil {
			// codes[i] itself may still be down
			releasePressed(h, codes[:i+1], err)
			return fmt.Errorf("%w: %s: key %#x up: %w", ErrChordSendFailed, chord.Name, uint32(codes[i]), err)
		}
	}
	return nil
}

func releasePressed(h KeySender, pressed []keychord.ScanCode, cause error) {
	if len(pressed) == 0 || errors.Is(cause, rfb.ErrConnectionClosed) {
		return
	}
	for i := len(pressed) - 1; i >= 0; i-- {
		if err := h.SendKey(pressed[i], false); err != nil {
			log.Debug().Err(err).Msgf("Failed to force-release key %#x.", uint32(pressed[i]))
		}
	}
}
