package storageprovider

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/dgraph-io/badger/v4"

	"github.com/getsentry/calltracer/internal/storageutil"
)

// Badger implements storageutil.ObjectHandler interface to handle object read and writes.
type Badger struct {
	DB *badger.DB
}

// Put writes a file to the storage provider with name being the path. The
// value is buffered and stored when the writer is closed.
func (b *Badger) Put(ctx context.Context, name string) (io.WriteCloser, error) {
	return &badgerWriter{
		b:    &bytes.Buffer{},
		db:   b.DB,
		name: name,
	}, nil
}

// Get reads a file from the storage provider with name being the path.
// If a key was not found, it will return ErrObjectNotFound.
func (b *Badger) Get(ctx context.Context, name string) (storageutil.ReadSizeCloser, error) {
	transaction := b.DB.NewTransaction(false)
	item, err := transaction.Get([]byte(name))
	if err != nil {
		transaction.Discard()
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storageutil.ErrObjectNotFound
		}

		return nil, err
	}

	value, err := item.ValueCopy(nil)
	if err != nil {
		transaction.Discard()
		return nil, err
	}

	return &badgerReader{
		txn:    transaction,
		reader: bytes.NewReader(value),
		size:   int64(len(value)),
	}, nil
}

// badgerWriter implements io.WriteCloser
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

// badgerReader implements storageutil.ReadSizeCloser
type badgerReader struct {
	txn    *badger.Txn
	reader io.Reader
	size   int64
}

func (b *badgerReader) Read(p []byte) (n int, err error) {
	return b.reader.Read(p)
}

func (b *badgerReader) Close() error {
	b.txn.Discard()
	return nil
}

func (b *badgerReader) Size() int64 {
	return b.size
}
