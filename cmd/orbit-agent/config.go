package main

import (
	"context"
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/pflag"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/getsentry/orbit/internal/storageprovider"
	"github.com/getsentry/orbit/internal/transport"
)

type (
	AgentConfig struct {
		Dir string `yaml:"dir" env:"ORBIT_DIR" env-default:"/var/lib/orbit-agent"`

		EndpointURL string `yaml:"endpoint_url" env:"ORBIT_ENDPOINT_URL"`
		APIKey      string `yaml:"api_key" env:"ORBIT_API_KEY"`

		// Transport is one of http, kafka or blob.
		Transport    string   `yaml:"transport" env:"ORBIT_TRANSPORT" env-default:"http"`
		KafkaBrokers []string `yaml:"kafka_brokers" env:"ORBIT_KAFKA_BROKERS" env-separator:","`
		KafkaTopic   string   `yaml:"kafka_topic" env:"ORBIT_KAFKA_TOPIC" env-default:"session-reports"`
		BucketURL    string   `yaml:"bucket_url" env:"ORBIT_BUCKET_URL"`
		BucketPrefix string   `yaml:"bucket_prefix" env:"ORBIT_BUCKET_PREFIX"`

		AppVersion string `yaml:"app_version" env:"ORBIT_APP_VERSION" env-default:"unknown"`
		AppBuild   string `yaml:"app_build" env:"ORBIT_APP_BUILD"`
		AppID      string `yaml:"app_id" env:"ORBIT_APP_ID" env-default:"orbit-agent"`

		SentryDSN   string `yaml:"sentry_dsn" env:"SENTRY_DSN"`
		Environment string `yaml:"environment" env:"SENTRY_ENVIRONMENT" env-default:"development"`
	}
)

// loadConfig reads the YAML file given with --config, then the environment,
// then the flags, each overriding the previous one. It returns the
// command to run, if any.
func loadConfig(args []string) (AgentConfig, []string, error) {
	var c AgentConfig
	var path string
	flagSet := pflag.NewFlagSet("orbit-agent", pflag.ContinueOnError)
	flagSet.StringVar(&path, "config", "", "path to a YAML config file")
	dir := flagSet.String("dir", "", "directory holding the event store and crash data")
	endpoint := flagSet.String("endpoint", "", "collector URL")
	transportName := flagSet.String("transport", "", "http, kafka or blob")
	flagSet.SetInterspersed(false)

	err := flagSet.Parse(args)
	if err != nil {
		return c, nil, err
	}

	if path != "" {
		err = cleanenv.ReadConfig(path, &c)
	} else {
		err = cleanenv.ReadEnv(&c)
	}
	if err != nil {
		return c, nil, err
	}

	if flagSet.Changed("dir") {
		c.Dir = *dir
	}
	if flagSet.Changed("endpoint") {
		c.EndpointURL = *endpoint
	}
	if flagSet.Changed("transport") {
		c.Transport = *transportName
	}
	return c, flagSet.Args(), nil
}

// newTransport returns nil for the default HTTP transport, which follows
// endpoint updates made through the SDK.
func newTransport(ctx context.Context, c AgentConfig) (transport.Transport, func() error, error) {
	noop := func() error { return nil }
	switch c.Transport {
	case "", "http":
		return nil, noop, nil
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return nil, nil, fmt.Errorf("kafka transport needs ORBIT_KAFKA_BROKERS")
		}
		w := transport.NewKafkaWriter(c.KafkaBrokers, c.KafkaTopic)
		return transport.NewKafka(w), w.Close, nil
	case "blob":
		bucket, err := blob.OpenBucket(ctx, c.BucketURL)
		if err != nil {
			return nil, nil, err
		}
		return transport.NewBlob(&storageprovider.Blob{Bucket: bucket}, c.BucketPrefix), bucket.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", c.Transport)
}
