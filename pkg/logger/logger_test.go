package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPrettyWriterFormat(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(PrettyWriter(&buf, false))

	l.Info().Str("server", "a1b2").Msg("Console pipe opened.")

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "Console pipe opened.")
	assert.Contains(t, out, "(server)a1b2")
}

func TestTrimCaller(t *testing.T) {
	assert.Equal(t, "pkg/console/session.go:42", TrimCaller("/home/dev/src/striker-console/pkg/console/session.go:42"))
	assert.Equal(t, "session.go:42", TrimCaller("session.go:42"))
}
