package crash

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/timeutil"
)

const (
	reportFileName = "crash_report.cbor"
	maxStackSize   = 1 << 20
)

type (
	// Report is a panic captured by PanicReporter.
	Report struct {
		Timestamp int64  `cbor:"1,keyasint"`
		Type      string `cbor:"2,keyasint"`
		Message   string `cbor:"3,keyasint"`
		// Stack is the dump of every goroutine, the panicking one first.
		Stack []byte `cbor:"4,keyasint"`
	}

	// PanicReporter reports panics of a Go host. Use it with
	// defer reporter.Recover() at the top of every goroutine to watch.
	PanicReporter struct {
		dir      string
		clock    timeutil.Provider
		callback atomic.Pointer[func()]
	}
)

func NewPanicReporter(dir string, clock timeutil.Provider) (*PanicReporter, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, err
	}
	return &PanicReporter{dir: dir, clock: clock}, nil
}

func (r *PanicReporter) path() string {
	return filepath.Join(r.dir, reportFileName)
}

func (r *PanicReporter) SetCrashCallback(f func()) {
	if f == nil {
		r.callback.Store(nil)
		return
	}
	r.callback.Store(&f)
}

// Recover persists a panic and panics again with the same value, the host
// still crashes the way it would have.
func (r *PanicReporter) Recover() {
	v := recover()
	if v == nil {
		return
	}
	r.Report(v)
	panic(v)
}

// Report persists a recovered panic value. Hosts with their own recover
// call it before panicking again.
func (r *PanicReporter) Report(v any) {
	if f := r.callback.Load(); f != nil {
		(*f)()
	}
	buf := make([]byte, maxStackSize)
	n := runtime.Stack(buf, true)
	err := r.write(Report{
		Timestamp: r.clock.NowMs(),
		Type:      fmt.Sprintf("%T", v),
		Message:   message(v),
		Stack:     buf[:n],
	})
	if err != nil {
		log.Error().Err(err).Msg("error writing crash report")
	}
}

func message(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", v)
}

// write replaces the report atomically so a crash while writing never
// leaves a truncated report behind.
func (r *PanicReporter) write(report Report) error {
	b, err := encMode.Marshal(report)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(r.dir, "crash-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp crash report: %w", err)
	}
	success := false
	defer func() {
		if !success {
			os.Remove(tmp.Name())
		}
	}()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("writing crash report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), r.path()); err != nil {
		return fmt.Errorf("renaming crash report: %w", err)
	}
	success = true
	return syncDir(r.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func (r *PanicReporter) HasPendingCrashReport() bool {
	_, err := os.Stat(r.path())
	return err == nil
}

func (r *PanicReporter) LoadCrashReport() ([]byte, error) {
	return os.ReadFile(r.path())
}

func (r *PanicReporter) ClearCrashData() error {
	err := os.Remove(r.path())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return syncDir(r.dir)
}
