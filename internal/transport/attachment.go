package transport

import (
	"os"

	"github.com/getsentry/orbit/internal/event"
)

func attachmentContent(a event.Attachment) ([]byte, error) {
	if a.Path() == "" {
		return a.Bytes(), nil
	}
	return os.ReadFile(a.Path())
}
