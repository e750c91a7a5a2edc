package httputil

import (
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/pierrec/lz4/v4"
)

// DecompressPayload swaps the body for a decompressing reader when the batch
// was sent brotli or lz4 encoded. Other encodings are refused.
func DecompressPayload(next http.Handler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		switch encoding := r.Header.Get("Content-Encoding"); encoding {
		case "", "identity":
		case "br":
			r.Body = io.NopCloser(brotli.NewReader(r.Body))
		case "lz4":
			r.Body = io.NopCloser(lz4.NewReader(r.Body))
		default:
			http.Error(w, "unsupported content encoding "+encoding, http.StatusUnsupportedMediaType)
			return
		}

		next.ServeHTTP(w, r)
	})
}
