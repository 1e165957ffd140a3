package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/iksnae/chief-of-staff/internal"
	"gopkg.in/yaml.v3"
)

// JSONExporter writes the whole session as one indented JSON document.
type JSONExporter struct{}

func (e *JSONExporter) Export(session *internal.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(session); err != nil {
		return &internal.ExportError{Format: "json", Err: err}
	}
	return nil
}

func (e *JSONExporter) Extension() string { return "json" }

// YAMLExporter writes the whole session as one YAML document.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(session *internal.Session, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(session); err != nil {
		_ = enc.Close()
		return &internal.ExportError{Format: "yaml", Err: err}
	}
	if err := enc.Close(); err != nil {
		return &internal.ExportError{Format: "yaml", Err: fmt.Errorf("failed to flush: %w", err)}
	}
	return nil
}

func (e *YAMLExporter) Extension() string { return "yaml" }
