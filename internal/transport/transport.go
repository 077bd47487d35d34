package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/session"
)

type Kind int

const (
	Success Kind = iota
	AuthFailure
	PayloadTooLarge
	ServerError
	ClientError
	NetworkError
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case AuthFailure:
		return "auth_failure"
	case PayloadTooLarge:
		return "payload_too_large"
	case ServerError:
		return "server_error"
	case ClientError:
		return "client_error"
	case NetworkError:
		return "network_error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type (
	// Report is everything uploaded for one session. Events is a JSON array
	// streamed from storage and can be read only once.
	Report struct {
		SessionID   string
		Timestamp   int64
		Resource    session.Resource
		Events      io.Reader
		Attachments []event.Attachment
	}

	Result struct {
		Kind       Kind
		StatusCode int
		Err        error
	}

	// Transport uploads a session report.
	Transport interface {
		UploadSessionReport(ctx context.Context, r Report) Result
	}
)

func (r Result) OK() bool {
	return r.Kind == Success
}

// ResultFromStatus maps an HTTP status code to a result.
func ResultFromStatus(code int) Result {
	switch {
	case code >= 200 && code < 300:
		return Result{Kind: Success, StatusCode: code}
	case code == 401:
		return Result{Kind: AuthFailure, StatusCode: code}
	case code == 413:
		return Result{Kind: PayloadTooLarge, StatusCode: code}
	case code >= 500:
		return Result{Kind: ServerError, StatusCode: code}
	}
	return Result{Kind: ClientError, StatusCode: code}
}

func networkError(err error) Result {
	return Result{Kind: NetworkError, Err: err}
}
