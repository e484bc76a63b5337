package logger

import (
	"context"
	"io"
	"os"
	"runtime"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/hdbconnect/hdbconnect-go/driverctx"
)

// Logger is the package level logger used throughout the driver.
type Logger struct {
	zerolog.Logger
}

var Log = &Logger{zerolog.New(os.Stderr).With().Timestamp().Logger()}

// enable pretty printing for interactive terminals and json for production.
func init() {
	// for tty terminal enable pretty logs
	if isatty.IsTerminal(os.Stdout.Fd()) && runtime.GOOS != "windows" {
		Log = &Logger{Log.Output(zerolog.ConsoleWriter{Out: os.Stderr})}
	} else {
		// UNIX Time is faster and smaller than most timestamps
		// If you set zerolog.TimeFieldFormat to an empty string,
		// logs will write with UNIX time.
		zerolog.TimeFieldFormat = ""
	}
	// by default only log warnings and above
	Log = &Logger{Log.Level(zerolog.WarnLevel)}
}

// SetLogLevel sets the log level from a string, e.g. "debug", "info", "warn".
func SetLogLevel(l string) error {
	level, err := zerolog.ParseLevel(l)
	if err != nil {
		return err
	}
	Log = &Logger{Log.Level(level)}
	return nil
}

// SetLogOutput redirects log output to the given writer.
func SetLogOutput(w io.Writer) {
	Log = &Logger{Log.Output(w)}
}

// WithContext returns a derived logger carrying the connection id and
// correlation id as fields connId and corrId.
func WithContext(connId string, corrId string) *Logger {
	ctxLog := Log.With()
	if connId != "" {
		ctxLog = ctxLog.Str("connId", connId)
	}
	if corrId != "" {
		ctxLog = ctxLog.Str("corrId", corrId)
	}

	return &Logger{ctxLog.Logger()}
}

// FromContext is shorthand for WithContext using ids stored in ctx.
func FromContext(ctx context.Context) *Logger {
	return WithContext(driverctx.ConnIdFromContext(ctx), driverctx.CorrelationIdFromContext(ctx))
}
