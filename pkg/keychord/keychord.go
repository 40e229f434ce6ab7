// Package keychord holds the compiled-in table of key combinations that can
// be injected into a remote console.
package keychord

import (
	"strconv"
	"strings"
)

// ScanCode identifies a physical key as carried in an RFB KeyEvent message
// (an X11 keysym).
type ScanCode uint32

const (
	KeyBackSpace ScanCode = 0xff08
	KeyTab       ScanCode = 0xff09
	KeyDelete    ScanCode = 0xffff
	KeyF1        ScanCode = 0xffbe
	KeyShiftL    ScanCode = 0xffe1
	KeyControlL  ScanCode = 0xffe3
	KeyAltL      ScanCode = 0xffe9
)

// KeyF returns the keysym of function key Fn, 1 <= n <= 12.
func KeyF(n int) ScanCode {
	return KeyF1 + ScanCode(n-1)
}

var keyNames = map[ScanCode]string{
	KeyBackSpace: "BackSpace",
	KeyTab:       "Tab",
	KeyDelete:    "Delete",
	KeyShiftL:    "Shift_L",
	KeyControlL:  "Control_L",
	KeyAltL:      "Alt_L",
}

// String returns the X11 keysym name, e.g. "Control_L" or "F5".
func (c ScanCode) String() string {
	if name, ok := keyNames[c]; ok {
		return name
	}
	if c >= KeyF1 && c <= KeyF(12) {
		return "F" + strconv.Itoa(int(c-KeyF1)+1)
	}
	if c > 0x20 && c < 0x7f {
		return string(rune(c))
	}
	return "0x" + strconv.FormatUint(uint64(c), 16)
}

// KeyChord is a named set of keys pressed together. ScanCodes is the press
// order; keys are released in exactly the reverse order. An empty ScanCodes
// asks the transport for its native reset signal instead.
type KeyChord struct {
	Name      string
	ScanCodes []ScanCode
}

// IsResetSignal reports whether the chord maps to the transport's native
// secure-attention primitive.
func (c KeyChord) IsResetSignal() bool {
	return len(c.ScanCodes) == 0
}

// Ctrl+Alt+Delete comes first; it is what the console menu offers by default.
var table = func() []KeyChord {
	chords := []KeyChord{
		{Name: "Ctrl + Alt + Delete"},
		{Name: "Ctrl + Alt + Backspace", ScanCodes: []ScanCode{KeyControlL, KeyAltL, KeyBackSpace}},
	}
	for n := 1; n <= 12; n++ {
		chords = append(chords, KeyChord{
			Name:      "Ctrl + Alt + F" + strconv.Itoa(n),
			ScanCodes: []ScanCode{KeyControlL, KeyAltL, KeyF(n)},
		})
	}
	return chords
}()

var index = func() map[string]int {
	m := make(map[string]int, len(table))
	for i, c := range table {
		m[normalize(c.Name)] = i
	}
	return m
}()

// Lookup returns the chord registered under name. Matching ignores case and
// whitespace, so "ctrl+alt+f2" finds "Ctrl + Alt + F2".
func Lookup(name string) (KeyChord, bool) {
	i, ok := index[normalize(name)]
	if !ok {
		return KeyChord{}, false
	}
	return clone(table[i]), true
}

// All returns every registered chord in menu order.
func All() []KeyChord {
	out := make([]KeyChord, len(table))
	for i, c := range table {
		out[i] = clone(c)
	}
	return out
}

// Names returns the display names in menu order.
func Names() []string {
	names := make([]string, len(table))
	for i, c := range table {
		names[i] = c.Name
	}
	return names
}

func clone(c KeyChord) KeyChord {
	if c.ScanCodes != nil {
		c.ScanCodes = append([]ScanCode(nil), c.ScanCodes...)
	}
	return c
}

func normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}
