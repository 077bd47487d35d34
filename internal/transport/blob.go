package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"gocloud.dev/gcerrors"

	"github.com/getsentry/orbit/internal/storageutil"
	"github.com/getsentry/orbit/internal/timeutil"
)

type (
	// Blob archives reports in an object store, one lz4 compressed JSON
	// object per session plus one object per attachment.
	Blob struct {
		objects storageutil.ObjectHandler
		prefix  string
	}

	blobReport struct {
		SessionID   string           `json:"session_id"`
		Timestamp   string           `json:"timestamp"`
		Resource    any              `json:"resource"`
		Events      json.RawMessage  `json:"events"`
		Attachments []blobAttachment `json:"attachments,omitempty"`
	}

	blobAttachment struct {
		Name   string `json:"name"`
		Type   string `json:"type"`
		Object string `json:"object"`
	}
)

func NewBlob(objects storageutil.ObjectHandler, prefix string) *Blob {
	return &Blob{objects: objects, prefix: prefix}
}

func ReportObjectName(prefix, sessionID string) string {
	return fmt.Sprintf("%sreports/%s.json.lz4", prefix, sessionID)
}

func (b *Blob) UploadSessionReport(ctx context.Context, r Report) Result {
	events, err := io.ReadAll(r.Events)
	if err != nil {
		return Result{Kind: ClientError, Err: err}
	}
	report := blobReport{
		SessionID: r.SessionID,
		Timestamp: timeutil.ISO8601(r.Timestamp),
		Resource:  r.Resource,
		Events:    events,
	}
	for _, a := range r.Attachments {
		content, err := attachmentContent(a)
		if err != nil {
			return Result{Kind: ClientError, Err: err}
		}
		name := fmt.Sprintf("%sreports/%s/attachments/%s", b.prefix, r.SessionID, a.Name())
		if err := b.put(ctx, name, content); err != nil {
			return blobError(err)
		}
		report.Attachments = append(report.Attachments, blobAttachment{Name: a.Name(), Type: string(a.Type()), Object: name})
	}
	err = storageutil.CompressedWrite(ctx, b.objects, ReportObjectName(b.prefix, r.SessionID), report)
	if err != nil {
		return blobError(err)
	}
	return Result{Kind: Success}
}

func (b *Blob) put(ctx context.Context, name string, content []byte) error {
	w, err := b.objects.Put(ctx, name)
	if err != nil {
		return err
	}
	_, err = w.Write(content)
	if err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func blobError(err error) Result {
	switch gcerrors.Code(err) {
	case gcerrors.PermissionDenied:
		return Result{Kind: AuthFailure, Err: err}
	case gcerrors.InvalidArgument, gcerrors.FailedPrecondition:
		return Result{Kind: ClientError, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return networkError(err)
	}
	return Result{Kind: ServerError, Err: err}
}
