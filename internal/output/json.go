package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
)

// RenderJSON writes v as two-space indented JSON followed by a newline.
// Records inside v keep their field order.
func RenderJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write JSON: %w", err)
	}
	return nil
}

// DecodeRecords parses a JSON array of records, restoring field order.
func DecodeRecords(r io.Reader) ([]*models.Record, error) {
	var out []*models.Record
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return out, nil
}
