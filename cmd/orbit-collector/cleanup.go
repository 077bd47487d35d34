package main

import (
	"context"
	"io"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"
)

// cleanup deletes archived objects last modified before timeLimit and
// returns how many were removed.
func cleanup(ctx context.Context, bucket *blob.Bucket, prefix string, timeLimit time.Time) (int, error) {
	it := bucket.List(&blob.ListOptions{Prefix: prefix + "sessions/"})
	var deleted int
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			return deleted, nil
		}
		if err != nil {
			return deleted, err
		}
		if obj.IsDir || !timeLimit.After(obj.ModTime) {
			continue
		}
		err = bucket.Delete(ctx, obj.Key)
		if err != nil {
			return deleted, err
		}
		deleted++
	}
}

func (e *environment) scheduleCleanup() error {
	if e.config.RetentionDays <= 0 {
		return nil
	}
	e.cron = cron.New()
	_, err := e.cron.AddFunc("@daily", func() {
		timeLimit := time.Now().Add(time.Hour * 24 * -1 * time.Duration(e.config.RetentionDays))
		deleted, err := cleanup(context.Background(), e.bucket, e.config.ReportsPrefix, timeLimit)
		if err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("error cleaning up session reports")
			return
		}
		log.Info().Int("deleted", deleted).Msg("session reports cleaned up")
	})
	if err != nil {
		return err
	}
	e.cron.Start()
	return nil
}
