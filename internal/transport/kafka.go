package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/getsentry/orbit/internal/timeutil"
)

type (
	MessageWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	}

	// Kafka publishes each report as one message keyed by session id.
	Kafka struct {
		writer MessageWriter
	}

	kafkaReport struct {
		SessionID   string            `json:"session_id"`
		Timestamp   string            `json:"timestamp"`
		Resource    any               `json:"resource"`
		Events      json.RawMessage   `json:"events"`
		Attachments []kafkaAttachment `json:"attachments,omitempty"`
	}

	kafkaAttachment struct {
		Name    string `json:"name"`
		Type    string `json:"type"`
		Content []byte `json:"content"`
	}
)

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     kafka.CRC32Balancer{},
		BatchSize:    10,
		Compression:  kafka.Lz4,
		MaxAttempts:  3,
		ReadTimeout:  3 * time.Second,
		RequiredAcks: kafka.RequireAll,
		Topic:        topic,
		WriteTimeout: 3 * time.Second,
	}
}

func NewKafka(w MessageWriter) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) UploadSessionReport(ctx context.Context, r Report) Result {
	events, err := io.ReadAll(r.Events)
	if err != nil {
		return Result{Kind: ClientError, Err: err}
	}
	payload := kafkaReport{
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
		payload.Attachments = append(payload.Attachments, kafkaAttachment{
			Name:    a.Name(),
			Type:    string(a.Type()),
			Content: content,
		})
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Result{Kind: ClientError, Err: err}
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(r.SessionID),
		Value: b,
	})
	if err != nil {
		if errorIsTooLarge(err) {
			return Result{Kind: PayloadTooLarge, Err: err}
		}
		return networkError(err)
	}
	return Result{Kind: Success}
}

func errorIsTooLarge(err error) bool {
	var kerr kafka.Error
	return errors.As(err, &kerr) && kerr == kafka.MessageSizeTooLarge
}
