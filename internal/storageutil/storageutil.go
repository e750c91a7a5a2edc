package storageutil

import (
	"context"
	"errors"
	"io"

	"github.com/pierrec/lz4/v4"
)

// ErrObjectNotFound indicates an object was not found.
var ErrObjectNotFound = errors.New("object not found")

type ReadSizeCloser interface {
	io.Reader
	io.Closer
	Size() int64
}

// ObjectHandler provides common interface for multiple storage providers.
type ObjectHandler interface {
	// Put writes a file to the storage provider with name being the path.
	Put(ctx context.Context, name string) (io.WriteCloser, error)
	// Get reads a file from the storage provider with name being the path.
	// If a key was not found, it will return ErrObjectNotFound.
	Get(ctx context.Context, name string) (ReadSizeCloser, error)
}

type compressedWriter struct {
	zw *lz4.Writer
	ow io.WriteCloser
}

func (w *compressedWriter) Write(p []byte) (int, error) {
	return w.zw.Write(p)
}

// Close flushes the compressed stream and commits the object.
func (w *compressedWriter) Close() error {
	err := w.zw.Close()
	if err != nil {
		_ = w.ow.Close()
		return err
	}
	return w.ow.Close()
}

// NewCompressedWriter opens objectName for writing and compresses everything
// written to it with lz4. The object is committed when the writer is closed.
func NewCompressedWriter(ctx context.Context, b ObjectHandler, objectName string) (io.WriteCloser, error) {
	ow, err := b.Put(ctx, objectName)
	if err != nil {
		return nil, err
	}
	zw := lz4.NewWriter(ow)
	_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level9))
	return &compressedWriter{zw: zw, ow: ow}, nil
}

type compressedReader struct {
	io.Reader
	or ReadSizeCloser
}

func (r *compressedReader) Close() error {
	return r.or.Close()
}

// NewCompressedReader opens objectName and returns a reader over its
// decompressed content.
func NewCompressedReader(ctx context.Context, b ObjectHandler, objectName string) (io.ReadCloser, error) {
	or, err := b.Get(ctx, objectName)
	if err != nil {
		return nil, err
	}
	return &compressedReader{Reader: lz4.NewReader(or), or: or}, nil
}
