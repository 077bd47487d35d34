package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/goccy/go-json"
	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"

	"github.com/getsentry/orbit/internal/config"
	"github.com/getsentry/orbit/internal/httputil"
	"github.com/getsentry/orbit/internal/timeutil"
)

type (
	// HTTP uploads reports as multipart requests to <endpoint>/events.
	HTTP struct {
		endpoint func() config.Endpoint
		compress func() bool
		http     *httpclient.Client
	}

	HTTPOptions struct {
		Timeout time.Duration
		// Attempts is the number of tries per upload, network errors and
		// 5xx responses are retried with exponential backoff.
		Attempts       int
		InitialBackoff time.Duration
		MaxBackoff     time.Duration
		Compress       func() bool
		Doer           heimdall.Doer
	}
)

func NewHTTP(endpoint func() config.Endpoint, opts HTTPOptions) *HTTP {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Compress == nil {
		opts.Compress = func() bool { return false }
	}
	backoff := heimdall.NewExponentialBackoff(opts.InitialBackoff, opts.MaxBackoff, 2, opts.InitialBackoff/2)
	clientOpts := []httpclient.Option{
		httpclient.WithHTTPTimeout(opts.Timeout),
		httpclient.WithRetryCount(opts.Attempts - 1),
		httpclient.WithRetrier(heimdall.NewRetrier(backoff)),
	}
	if opts.Doer != nil {
		clientOpts = append(clientOpts, httpclient.WithHTTPClient(opts.Doer))
	}
	return &HTTP{
		endpoint: endpoint,
		compress: opts.Compress,
		http:     httpclient.NewClient(clientOpts...),
	}
}

func (t *HTTP) UploadSessionReport(ctx context.Context, r Report) Result {
	e := t.endpoint()
	if e.URL == "" {
		return Result{Kind: ClientError, Err: fmt.Errorf("no endpoint configured")}
	}
	body, contentType, err := encodeMultipart(r, t.compress())
	if err != nil {
		return Result{Kind: ClientError, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, strings.TrimSuffix(e.URL, "/")+"/events", body)
	if err != nil {
		return Result{Kind: ClientError, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+e.APIKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(httputil.RequestIDHeader, r.SessionID)
	if t.compress() {
		req.Header.Set("Content-Encoding", "br")
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return networkError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return ResultFromStatus(resp.StatusCode)
}

func encodeMultipart(r Report, compress bool) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	var w io.Writer = &buf
	var bw *brotli.Writer
	if compress {
		bw = brotli.NewWriter(&buf)
		w = bw
	}
	mw := multipart.NewWriter(w)
	err := mw.WriteField("session_id", r.SessionID)
	if err != nil {
		return nil, "", err
	}
	err = mw.WriteField("timestamp", timeutil.ISO8601(r.Timestamp))
	if err != nil {
		return nil, "", err
	}
	resource, err := json.Marshal(r.Resource)
	if err != nil {
		return nil, "", err
	}
	err = mw.WriteField("resource", string(resource))
	if err != nil {
		return nil, "", err
	}
	part, err := mw.CreateFormFile("events", "events.json")
	if err != nil {
		return nil, "", err
	}
	_, err = io.Copy(part, r.Events)
	if err != nil {
		return nil, "", fmt.Errorf("reading events: %w", err)
	}
	for _, a := range r.Attachments {
		content, err := attachmentContent(a)
		if err != nil {
			return nil, "", err
		}
		part, err := mw.CreateFormFile("attachment."+a.Name(), a.Name())
		if err != nil {
			return nil, "", err
		}
		_, err = part.Write(content)
		if err != nil {
			return nil, "", err
		}
	}
	err = mw.Close()
	if err != nil {
		return nil, "", err
	}
	if bw != nil {
		err = bw.Close()
		if err != nil {
			return nil, "", err
		}
	}
	return &buf, mw.FormDataContentType(), nil
}
