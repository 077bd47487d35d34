package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/julienschmidt/httprouter"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/getsentry/orbit/internal/envutil"
	"github.com/getsentry/orbit/internal/httputil"
	"github.com/getsentry/orbit/internal/logutil"
	"github.com/getsentry/orbit/internal/storageprovider"
	"github.com/getsentry/orbit/internal/storageutil"
)

type environment struct {
	config ServiceConfig

	bucket  *blob.Bucket
	objects storageutil.ObjectHandler
	cron    *cron.Cron
}

var release string

func newEnvironment(ctx context.Context) (*environment, error) {
	envName := envutil.GetEnvOrFallback("SENTRY_ENVIRONMENT", "development")
	var e environment
	var exists bool
	e.config, exists = serviceConfigs[envName]
	if !exists {
		return nil, fmt.Errorf("service config for environment %v does not exist", envName)
	}
	e.config.Environment = envName
	e.config.SentryDSN = envutil.GetEnvOrFallback("SENTRY_DSN", e.config.SentryDSN)
	e.config.APIKey = envutil.GetEnvOrFallback("ORBIT_API_KEY", e.config.APIKey)
	e.config.ReportsBucketURL = envutil.GetEnvOrFallback("ORBIT_REPORTS_BUCKET_URL", e.config.ReportsBucketURL)
	var err error
	e.config.FailStatus, err = envutil.GetIntEnvOrFallback("ORBIT_FAIL_STATUS", e.config.FailStatus)
	if err != nil {
		return nil, err
	}
	return &e, e.open(ctx)
}

func (e *environment) open(ctx context.Context) error {
	var err error
	e.bucket, err = blob.OpenBucket(ctx, e.config.ReportsBucketURL)
	if err != nil {
		return err
	}
	e.objects = &storageprovider.Blob{Bucket: e.bucket}
	return nil
}

func (e *environment) shutdown() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	err := e.bucket.Close()
	if err != nil {
		sentry.CaptureException(err)
	}
	sentry.Flush(5 * time.Second)
}

func (e *environment) newRouter() (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/config", e.getConfig},
		{http.MethodGet, "/health", e.getHealth},
		{http.MethodGet, "/sessions", e.getSession},
		{http.MethodPut, "/events", e.putEvents},
	}

	router := httprouter.New()

	for _, route := range routes {
		handlerFunc := httputil.DecompressPayload(route.handler)
		handler := compress(handlerFunc)

		router.Handler(route.method, route.path, handler)
	}

	return router, nil
}

func main() {
	logutil.ConfigureLogger()

	env, err := newEnvironment(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              env.config.SentryDSN,
		EnableTracing:    true,
		Environment:      env.config.Environment,
		Release:          release,
		TracesSampleRate: 1.0,
		BeforeSend:       httputil.TagRequest,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	err = env.scheduleCleanup()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error scheduling cleanup")
	}

	router, err := env.newRouter()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the router")
	}

	server := http.Server{
		Addr:    ":" + envutil.GetPort(),
		Handler: sentryhttp.New(sentryhttp.Options{}).Handle(router),
	}

	waitForShutdown := make(chan os.Signal)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(cctx); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error shutting down server")
		}

		close(waitForShutdown)
	}()

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Err(err).Msg("server failed")
	}

	<-waitForShutdown

	// Shutdown the rest of the environment after the HTTP connections are closed
	env.shutdown()
}

func (e *environment) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
