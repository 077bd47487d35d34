package storageprovider

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/getsentry/orbit/internal/storageutil"
)

// Badger implements storageutil.ObjectHandler interface to handle object read and writes.
// Objects are stored under Prefix so they can share a database with other data.
type Badger struct {
	DB     *badger.DB
	Prefix string
}

// Put writes a file to the storage provider with name being the path.
func (b *Badger) Put(ctx context.Context, name string) (io.WriteCloser, error) {
	return &badgerWriter{
		b:    &bytes.Buffer{},
		db:   b.DB,
		name: b.Prefix + name,
	}, nil
}

// Get reads a file from the storage provider with name being the path.
// If a key was not found, it will return ErrObjectNotFound.
func (b *Badger) Get(ctx context.Context, name string) (storageutil.ReadSizeCloser, error) {
	var value []byte
	err := b.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(b.Prefix + name))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storageutil.ErrObjectNotFound
		}
		return nil, err
	}
	return &byteReader{
		Reader: bytes.NewReader(value),
		size:   int64(len(value)),
	}, nil
}

// badgerWriter buffers the object and commits it in a single transaction on Close.
type badgerWriter struct {
	b    *bytes.Buffer
	db   *badger.DB
	name string
}

func (bw *badgerWriter) Write(b []byte) (n int, err error) {
	return bw.b.Write(b)
}

func (bw *badgerWriter) Close() error {
	return bw.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(bw.name), bw.b.Bytes())
	})
}

type byteReader struct {
	*bytes.Reader
	size int64
}

func (b *byteReader) Close() error {
	return nil
}

func (b *byteReader) Size() int64 {
	return b.size
}
