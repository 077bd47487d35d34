// Command orbit-agent records a session for the process it runs. With a
// command it tracks the command's run and exit, without one it reports its
// own resource usage until interrupted.
package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/attribute"
	"github.com/getsentry/orbit/internal/logutil"
	"github.com/getsentry/orbit/pkg/measure"
)

var release string

func main() {
	logutil.ConfigureLogger()

	c, command, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("can't load config")
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:         c.SentryDSN,
		Environment: c.Environment,
		Release:     release,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}
	defer sentry.Flush(5 * time.Second)

	ctx := context.Background()
	t, closeTransport, err := newTransport(ctx, c)
	if err != nil {
		log.Fatal().Err(err).Msg("can't set up transport")
	}

	m, err := measure.Init(ctx, measure.Options{
		Dir:       c.Dir,
		Endpoint:  measure.Endpoint{URL: c.EndpointURL, APIKey: c.APIKey},
		App:       attribute.App{Version: c.AppVersion, Build: c.AppBuild, UniqueID: c.AppID},
		Transport: t,
	})
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("can't initialize the sdk")
	}
	defer m.RecoverPanic()

	m.OnForeground()
	m.StartCollectors()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	if len(command) > 0 {
		exitCode = run(m, command, signals)
	} else {
		<-signals
	}

	m.OnBackground()

	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err = m.Shutdown(sctx)
	if err != nil {
		sentry.CaptureException(err)
		log.Err(err).Msg("error shutting down the sdk")
	}
	err = closeTransport()
	if err != nil {
		sentry.CaptureException(err)
		log.Err(err).Msg("error closing transport")
	}
	if exitCode != 0 {
		sentry.Flush(5 * time.Second)
		os.Exit(exitCode)
	}
}

// run starts command, forwards signals to it and records its run as a
// span and its exit as a custom event.
func run(m *measure.Measure, command []string, signals chan os.Signal) int {
	s := m.StartSpan("command", nil).SetAttribute("command", command[0])
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	start := time.Now()
	err := cmd.Start()
	if err != nil {
		s.SetStatus(measure.SpanStatusError).End()
		log.Err(err).Str("command", command[0]).Msg("can't start command")
		return 127
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	for {
		select {
		case sig := <-signals:
			_ = cmd.Process.Signal(sig)
		case err = <-done:
			exitCode := 0
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else if err != nil {
				exitCode = 1
			}
			if exitCode == 0 {
				s.SetStatus(measure.SpanStatusOk)
			} else {
				s.SetStatus(measure.SpanStatusError)
			}
			s.End()
			err = m.TrackEvent("command_exited", map[string]any{
				"command":     strings.Join(command, " "),
				"exit_code":   exitCode,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if err != nil {
				log.Warn().Err(err).Msg("can't track command exit")
			}
			return exitCode
		}
	}
}
