package main

import (
	"github.com/getsentry/orbit/internal/config"
)

type (
	ServiceConfig struct {
		Environment string

		SentryDSN string

		// APIKey is the bearer token SDKs must present. Every request is
		// accepted when it is empty.
		APIKey string

		ReportsBucketURL string
		ReportsPrefix    string
		RetentionDays    int

		MaxPayloadSize int64

		// FailStatus, when set, is returned for every upload instead of
		// archiving it. Used to exercise SDK retry paths.
		FailStatus int

		// SDKConfig is served on GET /config.
		SDKConfig config.Config
	}
)

var (
	serviceConfigs = map[string]ServiceConfig{
		"production": {
			ReportsBucketURL: "gs://orbit-session-reports",
			RetentionDays:    90,
			MaxPayloadSize:   20 << 20,
			SDKConfig: config.Config{
				JourneySamplingRate:    config.Float64(0.01),
				HTTPSamplingRate:       config.Float64(0.1),
				ColdLaunchSamplingRate: config.Float64(0.1),
				WarmLaunchSamplingRate: config.Float64(0.1),
				HotLaunchSamplingRate:  config.Float64(0.1),
				CompressExportPayload:  config.Bool(true),
			},
		},
		"development": {
			ReportsBucketURL: "file:///var/lib/orbit-session-reports",
			RetentionDays:    7,
			MaxPayloadSize:   20 << 20,
			SDKConfig: config.Config{
				EnableFullCollectionMode: config.Bool(true),
				EnableLogging:            config.Bool(true),
			},
		},
	}
)
