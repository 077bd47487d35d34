package httputil

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestIDHeader carries the id of the session an upload belongs to so
// retries of the same report can be correlated.
const RequestIDHeader = "msr-req-id"

// GetRequiredQueryParameters attempts to read the specified query parameters
// from the request and returns a map of the key value pairs along with a
// logger carrying them and the request id. If any of them is missing or
// blank, it writes a 400 status code and the reason, and returns false.
func GetRequiredQueryParameters(w http.ResponseWriter, r *http.Request, paramKeys ...string) (map[string]string, zerolog.Logger, bool) {
	params := make(map[string]string, len(paramKeys))
	logger := log.With()
	if id := r.Header.Get(RequestIDHeader); id != "" {
		logger = logger.Str("request_id", id)
	}
	for _, key := range paramKeys {
		value := r.URL.Query().Get(key)
		if value == "" {
			http.Error(w, fmt.Sprintf("expected %s query parameter", key), http.StatusBadRequest)
			return nil, zerolog.Nop(), false
		}
		params[key] = value
		logger = logger.Str(key, value)
	}
	return params, logger.Logger(), true
}
