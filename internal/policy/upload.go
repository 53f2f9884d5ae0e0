package policy

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file type, use .json, .csv or .txt")
	ErrInvalidUpload     = errors.New("invalid policy file")
)

// ParseUpload extracts policy texts from an uploaded file. The format is
// picked from the file extension.
func ParseUpload(filename string, data []byte) ([]string, error) {
	var (
		texts []string
		err   error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		texts, err = parseJSON(data)
	case ".csv":
		texts, err = parseCSV(data)
	case ".txt":
		texts = parseLines(data)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}

	out := texts[:0]
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out, nil
}

// parseJSON accepts a list of strings or of {"text": ...} objects.
func parseJSON(data []byte) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: json must be a list of policy strings or objects", ErrInvalidUpload)
	}
	texts := make([]string, 0, len(items))
	for _, raw := range items {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			texts = append(texts, s)
			continue
		}
		var obj struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.Text != nil {
			texts = append(texts, *obj.Text)
		}
	}
	return texts, nil
}

// parseCSV reads the "policy" column.
func parseCSV(data []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	col := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), "policy") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: csv must have a 'policy' column", ErrInvalidUpload)
	}

	var texts []string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
		}
		if col < len(rec) {
			texts = append(texts, rec[col])
		}
	}
	return texts, nil
}

func parseLines(data []byte) []string {
	return strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
}
