package storageprovider

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/dgraph-io/badger/v4"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/getsentry/calltracer/internal/errorutil"
	"github.com/getsentry/calltracer/internal/storageutil"
)

// Open returns the object handler for rawURL and the closer releasing it.
//
//	gs://bucket            Google Cloud Storage
//	badger:///path/to/dir  local Badger database
//	file:///dir, mem://    Go CDK blob bucket
func Open(ctx context.Context, rawURL string) (storageutil.ObjectHandler, io.Closer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid storage url %q: %v", errorutil.ErrSinkUnavailable, rawURL, err)
	}
	switch u.Scheme {
	case "gs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", errorutil.ErrSinkUnavailable, err)
		}
		return &Gcs{BucketHandle: client.Bucket(u.Host)}, client, nil
	case "badger":
		path := u.Host + u.Path
		opts := badger.DefaultOptions(path).WithLogger(nil)
		if path == "" || strings.EqualFold(path, "memory") {
			opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
		}
		db, err := badger.Open(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", errorutil.ErrSinkUnavailable, err)
		}
		return &Badger{DB: db}, db, nil
	default:
		bucket, err := blob.OpenBucket(ctx, rawURL)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", errorutil.ErrSinkUnavailable, err)
		}
		return &Blob{Bucket: bucket}, bucket, nil
	}
}
