package config

import "reflect"

type (
	// Config is one configuration layer. A nil field means the layer
	// doesn't set it, and the next layer down is used.
	Config struct {
		SessionBackgroundTimeoutMs     *int64 `json:"session_background_timeout_ms,omitempty"`
		SessionEndLastEventThresholdMs *int64 `json:"session_end_last_event_threshold_ms,omitempty"`
		SessionTTLMs                   *int64 `json:"session_ttl_ms,omitempty"`

		TraceSamplingRate      *float64 `json:"trace_sampling_rate,omitempty"`
		HTTPSamplingRate       *float64 `json:"http_sampling_rate,omitempty"`
		ColdLaunchSamplingRate *float64 `json:"cold_launch_sampling_rate,omitempty"`
		WarmLaunchSamplingRate *float64 `json:"warm_launch_sampling_rate,omitempty"`
		HotLaunchSamplingRate  *float64 `json:"hot_launch_sampling_rate,omitempty"`
		JourneySamplingRate    *float64 `json:"journey_sampling_rate,omitempty"`

		EnableFullCollectionMode *bool `json:"enable_full_collection_mode,omitempty"`

		MaxUserDefinedAttributesPerEvent   *int    `json:"max_user_defined_attributes_per_event,omitempty"`
		MaxUserDefinedAttributeKeyLength   *int    `json:"max_user_defined_attribute_key_length,omitempty"`
		MaxUserDefinedAttributeValueLength *int    `json:"max_user_defined_attribute_value_length,omitempty"`
		MaxSpanNameLength                  *int    `json:"max_span_name_length,omitempty"`
		MaxCheckpointNameLength            *int    `json:"max_checkpoint_name_length,omitempty"`
		MaxCheckpointsPerSpan              *int    `json:"max_checkpoints_per_span,omitempty"`
		MaxEventNameLength                 *int    `json:"max_event_name_length,omitempty"`
		CustomEventNameRegex               *string `json:"custom_event_name_regex,omitempty"`
		EventQueueSize                     *int    `json:"event_queue_size,omitempty"`

		EventsBatchingIntervalMs *int64 `json:"events_batching_interval_ms,omitempty"`
		MaxExportAttempts        *int   `json:"max_export_attempts,omitempty"`
		CompressExportPayload    *bool  `json:"compress_export_payload,omitempty"`

		CPUUsageIntervalMs    *int64 `json:"cpu_usage_interval_ms,omitempty"`
		MemoryUsageIntervalMs *int64 `json:"memory_usage_interval_ms,omitempty"`

		TrackHTTPHeaders         *bool    `json:"track_http_headers,omitempty"`
		TrackHTTPBody            *bool    `json:"track_http_body,omitempty"`
		HTTPURLBlocklist         []string `json:"http_url_blocklist,omitempty"`
		HTTPURLAllowlist         []string `json:"http_url_allowlist,omitempty"`
		HTTPHeadersBlocklist     []string `json:"http_headers_blocklist,omitempty"`
		HTTPContentTypeAllowlist []string `json:"http_content_type_allowlist,omitempty"`

		TrackScreenshotOnCrash *bool `json:"track_screenshot_on_crash,omitempty"`
		EnableLogging          *bool `json:"enable_logging,omitempty"`
	}

	// Endpoint is the backend the SDK exports to.
	Endpoint struct {
		URL    string
		APIKey string
	}
)

// Headers that are never captured, whatever the user configures.
var defaultHTTPHeadersBlocklist = []string{
	"Authorization",
	"Cookie",
	"Set-Cookie",
	"Proxy-Authorization",
	"WWW-Authenticate",
	"X-Api-Key",
}

func DefaultConfig() Config {
	return Config{
		SessionBackgroundTimeoutMs:     Int64(60_000),
		SessionEndLastEventThresholdMs: Int64(20 * 60_000),
		SessionTTLMs:                   Int64(7 * 24 * 60 * 60_000),

		TraceSamplingRate:      Float64(0.1),
		HTTPSamplingRate:       Float64(100),
		ColdLaunchSamplingRate: Float64(1),
		WarmLaunchSamplingRate: Float64(1),
		HotLaunchSamplingRate:  Float64(1),
		JourneySamplingRate:    Float64(0),

		EnableFullCollectionMode: Bool(false),

		MaxUserDefinedAttributesPerEvent:   Int(100),
		MaxUserDefinedAttributeKeyLength:   Int(256),
		MaxUserDefinedAttributeValueLength: Int(256),
		MaxSpanNameLength:                  Int(64),
		MaxCheckpointNameLength:            Int(64),
		MaxCheckpointsPerSpan:              Int(100),
		MaxEventNameLength:                 Int(64),
		CustomEventNameRegex:               String(`^[a-zA-Z0-9_-]+$`),
		EventQueueSize:                     Int(1024),

		EventsBatchingIntervalMs: Int64(30_000),
		MaxExportAttempts:        Int(3),
		CompressExportPayload:    Bool(true),

		CPUUsageIntervalMs:    Int64(3_000),
		MemoryUsageIntervalMs: Int64(2_000),

		TrackHTTPHeaders:         Bool(false),
		TrackHTTPBody:            Bool(false),
		HTTPURLBlocklist:         []string{},
		HTTPURLAllowlist:         []string{},
		HTTPHeadersBlocklist:     []string{},
		HTTPContentTypeAllowlist: []string{"application/json"},

		TrackScreenshotOnCrash: Bool(true),
		EnableLogging:          Bool(false),
	}
}

// Merge returns top with every field it leaves unset taken from bottom.
func Merge(top, bottom Config) Config {
	t := reflect.ValueOf(&top).Elem()
	b := reflect.ValueOf(bottom)
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).IsNil() {
			t.Field(i).Set(b.Field(i))
		}
	}
	return top
}

func Int(v int) *int             { return &v }
func Int64(v int64) *int64       { return &v }
func Float64(v float64) *float64 { return &v }
func Bool(v bool) *bool          { return &v }
func String(v string) *string    { return &v }
