package crash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

const (
	DefaultSlotSize = 64 << 10
	headerSize      = 4
)

var ErrSlotTooSmall = errors.New("crash context does not fit in the slot")

type (
	// Context is what is known about the app at the time of a crash.
	Context struct {
		SessionID  string         `cbor:"1,keyasint"`
		Foreground bool           `cbor:"2,keyasint"`
		Attributes map[string]any `cbor:"3,keyasint"`
	}

	// Slot is a fixed size file holding the crash context. The context is
	// encoded ahead of time by Prepare so Commit, which runs while the
	// process is crashing, only has to write bytes that already exist.
	//
	// Layout: a big endian uint32 length followed by the CBOR encoded
	// context, zero padded to the slot size. A zero length means empty.
	Slot struct {
		f        *os.File
		size     int
		prepared atomic.Pointer[[]byte]
	}
)

var emptyHeader [headerSize]byte

// OpenSlot opens the slot at path, creating it if needed. Existing content
// is kept so a context committed by a crashed run can be loaded.
func OpenSlot(path string, size int) (*Slot, error) {
	if size <= headerSize {
		return nil, fmt.Errorf("slot size %d too small", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &Slot{f: f, size: size}, nil
}

// Prepare encodes c for the next Commit. Attributes are dropped when the
// full context doesn't fit.
func (s *Slot) Prepare(c Context) error {
	b, err := encMode.Marshal(c)
	if err != nil {
		return err
	}
	if len(b) > s.size-headerSize {
		c.Attributes = nil
		b, err = encMode.Marshal(c)
		if err != nil {
			return err
		}
		if len(b) > s.size-headerSize {
			return ErrSlotTooSmall
		}
	}
	buf := make([]byte, s.size)
	binary.BigEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[headerSize:], b)
	s.prepared.Store(&buf)
	return nil
}

// Commit writes the prepared context to disk. It doesn't allocate or lock.
func (s *Slot) Commit() {
	buf := s.prepared.Load()
	if buf == nil {
		return
	}
	_, _ = s.f.WriteAt(*buf, 0)
	_ = s.f.Sync()
}

// Load returns the committed context, false when the slot is empty.
func (s *Slot) Load() (Context, bool, error) {
	var header [headerSize]byte
	_, err := s.f.ReadAt(header[:], 0)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Context{}, false, nil
		}
		return Context{}, false, err
	}
	n := int(binary.BigEndian.Uint32(header[:]))
	if n == 0 {
		return Context{}, false, nil
	}
	if n > s.size-headerSize {
		return Context{}, false, fmt.Errorf("corrupted crash slot, length %d", n)
	}
	b := make([]byte, n)
	_, err = s.f.ReadAt(b, headerSize)
	if err != nil {
		return Context{}, false, err
	}
	var c Context
	err = decMode.Unmarshal(b, &c)
	if err != nil {
		return Context{}, false, err
	}
	return c, true, nil
}

// Clear empties the slot on disk. The prepared context is kept.
func (s *Slot) Clear() error {
	_, err := s.f.WriteAt(emptyHeader[:], 0)
	if err != nil {
		return err
	}
	return s.f.Sync()
}

func (s *Slot) Close() error {
	return s.f.Close()
}
