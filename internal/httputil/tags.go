package httputil

import (
	"strconv"

	"github.com/getsentry/sentry-go"
)

const (
	// HTTPStatusCodeTag is the name of the HTTP status code tag.
	HTTPStatusCodeTag = "http.response.status_code"
	RequestIDTag      = "request_id"
)

// TagRequest copies the response status code and the upload request id
// to the event tags unless they are already set.
func TagRequest(e *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if hint == nil {
		return e
	}
	if e.Tags == nil {
		e.Tags = make(map[string]string)
	}
	if hint.Response != nil {
		if _, exists := e.Tags[HTTPStatusCodeTag]; !exists {
			e.Tags[HTTPStatusCodeTag] = strconv.Itoa(hint.Response.StatusCode)
		}
	}
	if hint.Request != nil {
		if id := hint.Request.Header.Get(RequestIDHeader); id != "" {
			if _, exists := e.Tags[RequestIDTag]; !exists {
				e.Tags[RequestIDTag] = id
			}
		}
	}
	return e
}
