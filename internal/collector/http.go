package collector

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/idutil"
	"github.com/getsentry/orbit/internal/timeutil"
)

const maxHTTPBodySize = 256 << 10

type (
	HTTPConfig interface {
		ShouldTrackHttpUrl(url string) bool
		ShouldTrackHttpHeader(key string) bool
		ShouldTrackHttpBody(url, contentType string) bool
		TrackHTTPHeaders() bool
	}

	HTTPSampler interface {
		ShouldTrackHttp(key string) bool
	}

	HTTPData struct {
		URL                string            `json:"url"`
		Method             string            `json:"method"`
		StatusCode         int               `json:"status_code,omitempty"`
		StartTime          int64             `json:"start_time"`
		EndTime            int64             `json:"end_time"`
		FailureReason      string            `json:"failure_reason,omitempty"`
		FailureDescription string            `json:"failure_description,omitempty"`
		RequestHeaders     map[string]string `json:"request_headers,omitempty"`
		ResponseHeaders    map[string]string `json:"response_headers,omitempty"`
		RequestBody        string            `json:"request_body,omitempty"`
		ResponseBody       string            `json:"response_body,omitempty"`
		Client             string            `json:"client"`
	}

	// HTTP is a RoundTripper recording the requests it sends.
	HTTP struct {
		next    http.RoundTripper
		tracker Tracker
		clock   timeutil.Provider
		ids     idutil.Provider
		config  HTTPConfig
		sampler HTTPSampler
	}
)

func NewHTTP(next http.RoundTripper, tracker Tracker, clock timeutil.Provider, ids idutil.Provider, config HTTPConfig, sampler HTTPSampler) *HTTP {
	if next == nil {
		next = http.DefaultTransport
	}
	return &HTTP{
		next:    next,
		tracker: tracker,
		clock:   clock,
		ids:     ids,
		config:  config,
		sampler: sampler,
	}
}

func (h *HTTP) RoundTrip(req *http.Request) (*http.Response, error) {
	url := req.URL.String()
	if !h.config.ShouldTrackHttpUrl(url) || !h.sampler.ShouldTrackHttp(h.ids.UUID()) {
		return h.next.RoundTrip(req)
	}

	data := HTTPData{
		URL:       url,
		Method:    strings.ToLower(req.Method),
		StartTime: h.clock.UptimeMs(),
		Client:    "net/http",
	}
	if h.config.TrackHTTPHeaders() {
		data.RequestHeaders = h.headers(req.Header)
	}
	if h.config.ShouldTrackHttpBody(url, req.Header.Get("Content-Type")) {
		data.RequestBody = requestBody(req)
	}

	resp, err := h.next.RoundTrip(req)
	data.EndTime = h.clock.UptimeMs()
	if err != nil {
		data.FailureReason = fmt.Sprintf("%T", err)
		data.FailureDescription = err.Error()
		h.tracker.Track(data, h.clock.NowMs(), event.TypeHTTP)
		return nil, err
	}
	data.StatusCode = resp.StatusCode
	if h.config.TrackHTTPHeaders() {
		data.ResponseHeaders = h.headers(resp.Header)
	}
	if h.config.ShouldTrackHttpBody(url, resp.Header.Get("Content-Type")) {
		data.ResponseBody = responseBody(resp)
	}
	h.tracker.Track(data, h.clock.NowMs(), event.TypeHTTP)
	return resp, nil
}

func (h *HTTP) headers(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for k, v := range header {
		if !h.config.ShouldTrackHttpHeader(k) {
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// requestBody reads a copy of the body, the request keeps its own.
func requestBody(req *http.Request) string {
	if req.Body == nil || req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return ""
	}
	defer body.Close()
	b, _ := io.ReadAll(io.LimitReader(body, maxHTTPBodySize))
	return string(b)
}

// responseBody reads the start of the body and puts it back in front of
// the rest.
func responseBody(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBodySize))
	resp.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(b), resp.Body),
		Closer: resp.Body,
	}
	if err != nil {
		return ""
	}
	return string(b)
}

type readCloser struct {
	io.Reader
	io.Closer
}
