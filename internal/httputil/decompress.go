package httputil

import (
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// DecompressPayload replaces the body with a decoding reader for brotli and
// gzip encoded requests and rejects any other encoding.
func DecompressPayload(next http.Handler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		switch r.Header.Get("Content-Encoding") {
		case "", "identity":
		case "br":
			r.Body = io.NopCloser(brotli.NewReader(r.Body))
		case "gzip":
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer zr.Close()
			r.Body = zr
		default:
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		r.Header.Del("Content-Encoding")

		next.ServeHTTP(w, r)
	})
}
