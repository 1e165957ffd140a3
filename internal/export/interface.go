// Package export writes a session's transcript (chat messages and ledger
// actions) in a file format a human or another tool can read.
package export

import (
	"fmt"
	"io"

	"github.com/iksnae/chief-of-staff/internal"
)

// Exporter writes one session in a single format.
type Exporter interface {
	Export(session *internal.Session, w io.Writer) error
	Extension() string
}

// Formats lists the accepted format names.
var Formats = []string{"md", "json", "jsonl", "yaml"}

// NewExporter creates an exporter based on format
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "jsonl":
		return &JSONLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: md, json, jsonl, yaml)", format)
	}
}
