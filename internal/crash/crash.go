package crash

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

type State int

const (
	Disabled State = iota
	Enabled
	PendingCrashReport
	Replayed
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	case PendingCrashReport:
		return "pending_crash_report"
	case Replayed:
		return "replayed"
	}
	return "unknown"
}

// Reporter captures crashes of the host process and keeps the last one
// until it is cleared.
type Reporter interface {
	HasPendingCrashReport() bool
	LoadCrashReport() ([]byte, error)
	ClearCrashData() error
	// SetCrashCallback registers f to run while the process is crashing.
	// f must not allocate or take locks. A nil f removes the callback.
	SetCrashCallback(f func())
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("crash: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("crash: CBOR decoder initialization failed: " + err.Error())
	}
}
