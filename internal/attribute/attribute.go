package attribute

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/getsentry/orbit/internal/errorutil"
	"github.com/getsentry/orbit/internal/platform"
)

const (
	KeyThreadName         = "thread_name"
	KeyPlatform           = "platform"
	KeyOSName             = "os_name"
	KeyDeviceArch         = "device_cpu_arch"
	KeyDeviceName         = "device_name"
	KeyDeviceCores        = "device_cpu_cores"
	KeyNetworkType        = "network_type"
	KeyNetworkProvider    = "network_provider"
	KeyNetworkGeneration  = "network_generation"
	KeyDeviceLowPowerMode = "device_low_power_mode"
	KeyAppVersion         = "app_version"
	KeyAppBuild           = "app_build"
	KeyAppUniqueID        = "app_unique_id"
	KeyUserID             = "user_id"
	KeySDKVersion         = "measure_sdk_version"
)

// Processor enriches an attribute map. Processors only add keys, keys
// already set by the caller are left alone.
type Processor interface {
	AppendAttributes(attrs map[string]any)
}

func put(attrs map[string]any, key string, value any) {
	if _, exists := attrs[key]; !exists {
		attrs[key] = value
	}
}

// Apply runs every processor against attrs.
func Apply(attrs map[string]any, processors []Processor) {
	for _, p := range processors {
		p.AppendAttributes(attrs)
	}
}

// Snapshot returns a fresh map filled by every processor.
func Snapshot(processors []Processor) map[string]any {
	attrs := make(map[string]any)
	Apply(attrs, processors)
	return attrs
}

type (
	// ThreadName fills the thread name when the caller didn't name one.
	ThreadName struct {
		Default string
	}

	// Platform fills the platform attribute.
	Platform struct {
		Platform platform.Platform
	}

	// Device describes the host, captured once.
	Device struct {
		attrs map[string]any
	}

	NetworkInfo struct {
		Type       string
		Provider   string
		Generation string
	}

	// Network reads the current network state on every event.
	Network struct {
		State func() NetworkInfo
	}

	LowPowerMode struct {
		Enabled func() bool
	}

	App struct {
		Version    string
		Build      string
		UniqueID   string
		SDKVersion string
	}

	User struct {
		id atomic.Pointer[string]
	}
)

func (t ThreadName) AppendAttributes(attrs map[string]any) {
	name := t.Default
	if name == "" {
		name = "main"
	}
	put(attrs, KeyThreadName, name)
}

func (p Platform) AppendAttributes(attrs map[string]any) {
	pl := p.Platform
	if pl == "" {
		pl = platform.Host()
	}
	put(attrs, KeyPlatform, string(pl))
}

func NewDevice() *Device {
	hostname, _ := os.Hostname()
	return &Device{
		attrs: map[string]any{
			KeyOSName:      runtime.GOOS,
			KeyDeviceArch:  runtime.GOARCH,
			KeyDeviceName:  hostname,
			KeyDeviceCores: runtime.NumCPU(),
		},
	}
}

func (d *Device) AppendAttributes(attrs map[string]any) {
	for k, v := range d.attrs {
		put(attrs, k, v)
	}
}

func (n Network) AppendAttributes(attrs map[string]any) {
	if n.State == nil {
		return
	}
	info := n.State()
	if info.Type == "" {
		info.Type = "unknown"
	}
	put(attrs, KeyNetworkType, info.Type)
	if info.Provider != "" {
		put(attrs, KeyNetworkProvider, info.Provider)
	}
	if info.Generation != "" {
		put(attrs, KeyNetworkGeneration, info.Generation)
	}
}

func (l LowPowerMode) AppendAttributes(attrs map[string]any) {
	if l.Enabled == nil {
		return
	}
	put(attrs, KeyDeviceLowPowerMode, l.Enabled())
}

func (a App) AppendAttributes(attrs map[string]any) {
	put(attrs, KeyAppVersion, a.Version)
	put(attrs, KeyAppBuild, a.Build)
	if a.UniqueID != "" {
		put(attrs, KeyAppUniqueID, a.UniqueID)
	}
	if a.SDKVersion != "" {
		put(attrs, KeySDKVersion, a.SDKVersion)
	}
}

func (u *User) SetUserID(id string) {
	u.id.Store(&id)
}

func (u *User) ClearUserID() {
	u.id.Store(nil)
}

func (u *User) AppendAttributes(attrs map[string]any) {
	if id := u.id.Load(); id != nil {
		put(attrs, KeyUserID, *id)
	}
}

type Limits struct {
	MaxCount       int
	MaxKeyLength   int
	MaxValueLength int
}

// Validate checks user defined attributes against limits. Values must be
// strings, booleans, integers or floats.
func Validate(attrs map[string]any, l Limits) error {
	if len(attrs) > l.MaxCount {
		return fmt.Errorf("%w: %d attributes exceed the limit of %d", errorutil.ErrValidation, len(attrs), l.MaxCount)
	}
	for k, v := range attrs {
		if k == "" || len(k) > l.MaxKeyLength {
			return fmt.Errorf("%w: invalid attribute key %q", errorutil.ErrValidation, k)
		}
		switch value := v.(type) {
		case string:
			if len(value) > l.MaxValueLength {
				return fmt.Errorf("%w: value of %q exceeds %d characters", errorutil.ErrValidation, k, l.MaxValueLength)
			}
		case bool, int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("%w: unsupported type %T for attribute %q", errorutil.ErrValidation, v, k)
		}
	}
	return nil
}
