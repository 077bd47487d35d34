package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gojek/heimdall/v7/httpclient"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/storageutil"
)

const cachedConfigObject = "config.json.lz4"

// Loader fetches the cached and remote configuration layers.
type Loader interface {
	// CachedConfig returns the config persisted by the last successful
	// network fetch, or nil if there is none.
	CachedConfig(ctx context.Context) (*Config, error)
	// NetworkConfig fetches the remote config and calls onSuccess with it.
	NetworkConfig(ctx context.Context, onSuccess func(*Config)) error
}

type (
	// HTTPLoader fetches the config from the backend and caches the last
	// successful response in an object store.
	HTTPLoader struct {
		cache    storageutil.ObjectHandler
		endpoint func() Endpoint
		http     *httpclient.Client
	}

	// StaticLoader serves fixed layers.
	StaticLoader struct {
		Cached  *Config
		Network *Config
		Err     error
	}
)

func NewHTTPLoader(cache storageutil.ObjectHandler, endpoint func() Endpoint) *HTTPLoader {
	return &HTTPLoader{
		cache:    cache,
		endpoint: endpoint,
		http:     httpclient.NewClient(httpclient.WithHTTPTimeout(10 * time.Second)),
	}
}

func (l *HTTPLoader) CachedConfig(ctx context.Context) (*Config, error) {
	var c Config
	err := storageutil.UnmarshalCompressed(ctx, l.cache, cachedConfigObject, &c)
	if err != nil {
		if errors.Is(err, storageutil.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (l *HTTPLoader) NetworkConfig(ctx context.Context, onSuccess func(*Config)) error {
	e := l.endpoint()
	if e.URL == "" {
		return errors.New("no endpoint configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(e.URL, "/")+"/config", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+e.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("config request failed with status %d", resp.StatusCode)
	}
	var c Config
	err = json.NewDecoder(resp.Body).Decode(&c)
	if err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	err = storageutil.CompressedWrite(ctx, l.cache, cachedConfigObject, c)
	if err != nil {
		log.Warn().Err(err).Msg("couldn't cache network config")
	}
	onSuccess(&c)
	return nil
}

func (l StaticLoader) CachedConfig(ctx context.Context) (*Config, error) {
	return l.Cached, l.Err
}

func (l StaticLoader) NetworkConfig(ctx context.Context, onSuccess func(*Config)) error {
	if l.Err != nil {
		return l.Err
	}
	if l.Network != nil {
		onSuccess(l.Network)
	}
	return nil
}
