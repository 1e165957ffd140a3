package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/iksnae/chief-of-staff/internal"
)

// JSONLExporter writes one transcript entry per line.
type JSONLExporter struct{}

type jsonlEntry struct {
	Session   string `json:"session_id"`
	Timestamp string `json:"timestamp,omitempty"`
	Actor     string `json:"actor"`
	Tool      string `json:"tool,omitempty"`
	Status    string `json:"status,omitempty"`
	Content   string `json:"content"`
}

func (e *JSONLExporter) Export(session *internal.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	for i, msg := range session.Messages {
		entry := jsonlEntry{
			Session:   session.ID,
			Timestamp: msg.Timestamp,
			Actor:     msg.Actor,
			Tool:      msg.Tool,
			Status:    msg.Status,
			Content:   msg.Content,
		}
		if err := enc.Encode(entry); err != nil {
			return &internal.ExportError{Format: "jsonl", Err: fmt.Errorf("failed to encode entry %d: %w", i, err)}
		}
	}
	return nil
}

func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
