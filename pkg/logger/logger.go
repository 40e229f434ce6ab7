package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/clusterlabs/striker-console/pkg/version"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logDir      = "/var/log/striker-console"
	logFileName = "striker-console.log"
)

// InitLogger points the global zerolog logger at a rotated log file, or at
// stderr for development builds. The returned logger must be closed on exit.
func InitLogger() *lumberjack.Logger {
	fileName := fmt.Sprintf("%s/%s", logDir, logFileName)
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		fileName = logFileName
	}

	logRotate := &lumberjack.Logger{
		Filename:   fileName,
		MaxSize:    10, // Max size in MB before rotation
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}

	var output io.Writer
	if version.Version == "dev" {
		output = PrettyWriter(os.Stderr, true)
	} else {
		output = PrettyWriter(logRotate, false)
	}
	log.Logger = zerolog.New(output).With().Timestamp().Caller().Logger()

	return logRotate
}

// PrettyWriter returns a zerolog.ConsoleWriter with or without caller info
func PrettyWriter(out io.Writer, showCaller bool) zerolog.ConsoleWriter {
	cw := zerolog.ConsoleWriter{
		Out:          out,
		NoColor:      true,
		TimeFormat:   time.RFC3339,
		TimeLocation: time.Local,
		FormatLevel: func(i interface{}) string {
			return "[" + strings.ToUpper(fmt.Sprint(i)) + "]"
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprint(i)
		},
		FormatFieldName: func(i interface{}) string {
			return "(" + fmt.Sprint(i) + ")"
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprint(i)
		},
	}
	if showCaller {
		cw.FormatCaller = func(i interface{}) string {
			if i == nil || i == "" {
				return ""
			}
			return fmt.Sprintf("(%s)", TrimCaller(fmt.Sprint(i)))
		}
	} else {
		cw.FormatCaller = func(i interface{}) string { return "" }
	}
	return cw
}

// TrimCaller strips everything up to the module directory from a caller path.
func TrimCaller(caller string) string {
	if idx := strings.Index(caller, "/striker-console/"); idx != -1 {
		return caller[idx+len("/striker-console/"):]
	}
	return caller
}
