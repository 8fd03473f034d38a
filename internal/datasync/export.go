package datasync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dennisdiepolder/monti/supportdesk/internal/storage"
	"github.com/dennisdiepolder/monti/supportdesk/internal/types"
)

// Export is a serialized collection ready for download
type Export struct {
	Filename    string
	ContentType string
	Rows        int
	Data        []byte
}

// record is one JSON object with its keys in document order
type record struct {
	keys   []string
	values map[string]json.RawMessage
}

// ExportData serializes the cached rows of kind, without refetching, to CSV.
// The header is the first row's field names in order and every row emits its
// values in that order. Fields a row lacks are left empty. An empty
// collection yields an empty document.
func (s *Store) ExportData(ctx context.Context, kind types.Collection) (Export, error) {
	if err := s.checkOpen(); err != nil {
		return Export{}, err
	}

	items, ok := s.Items(kind)
	if !ok {
		err := fmt.Errorf("%w: %s", storage.ErrUnknownTable, kind)
		s.fail("Failed to export data", err)
		return Export{}, err
	}

	data, rows, err := encodeCSV(items)
	if err != nil {
		s.fail("Failed to export data", err)
		return Export{}, fmt.Errorf("export %s: %w", kind, err)
	}

	s.notify(types.ToastSuccess, "Data exported successfully")
	s.LogAction(ctx, "data_exported", map[string]interface{}{
		"type":  kind,
		"count": rows,
	})

	return Export{
		Filename:    fmt.Sprintf("%s_export_%s.csv", kind, s.now().Format("2006-01-02")),
		ContentType: "text/csv; charset=utf-8",
		Rows:        rows,
		Data:        data,
	}, nil
}

// encodeCSV goes through JSON so field names and order match what clients see
func encodeCSV(items interface{}) ([]byte, int, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, 0, err
	}
	records, err := decodeRecords(raw)
	if err != nil {
		return nil, 0, err
	}
	if len(records) == 0 {
		return []byte{}, 0, nil
	}

	header := records[0].keys
	lines := make([]string, 0, len(records)+1)
	lines = append(lines, strings.Join(header, ","))

	cells := make([]string, len(header))
	for _, r := range records {
		for i, key := range header {
			cell, err := formatCell(r.values[key])
			if err != nil {
				return nil, 0, fmt.Errorf("field %s: %w", key, err)
			}
			cells[i] = cell
		}
		lines = append(lines, strings.Join(cells, ","))
	}

	return []byte(strings.Join(lines, "\n")), len(records), nil
}

// decodeRecords reads a JSON array of objects keeping each object's key order
func decodeRecords(raw []byte) ([]record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
		return nil, fmt.Errorf("expected JSON array")
	}

	var records []record
	for dec.More() {
		if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
			return nil, fmt.Errorf("expected JSON object")
		}
		r := record{values: make(map[string]json.RawMessage)}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := tok.(string)
			if !ok {
				return nil, fmt.Errorf("expected object key")
			}
			var value json.RawMessage
			if err := dec.Decode(&value); err != nil {
				return nil, err
			}
			r.keys = append(r.keys, key)
			r.values[key] = value
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// formatCell quotes strings and nested values, doubling embedded quotes.
// Numbers and booleans are bare; null and missing values are empty.
func formatCell(v json.RawMessage) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	switch v[0] {
	case 'n':
		return "", nil
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", err
		}
		return quote(s), nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return "", err
		}
		return quote(buf.String()), nil
	}
	return string(v), nil
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
