package logutil

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// Format is either "json" or "console".
	Format string
	Level  zerolog.Level
	Output io.Writer
}

func ConfigureLogger() {
	ConfigureLoggerWithOptions(Options{
		Format: os.Getenv("ORBIT_LOG_FORMAT"),
		Level:  parseLevel(os.Getenv("ORBIT_LOG_LEVEL")),
	})
}

func ConfigureLoggerWithOptions(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(out).With().Timestamp().Caller().Stack().Logger()
	if opts.Format == "json" {
		log.Logger = log.Hook(ErrorHook{})
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
	}
	log.Logger = log.Sample(LevelSampler{Level: opts.Level})
}

// Disable silences the SDK logger.
func Disable() {
	log.Logger = zerolog.Nop()
}

type ErrorHook struct{}

func (h ErrorHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	e.Str("severity", level.String())
}

func parseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	l, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}
