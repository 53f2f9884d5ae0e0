// Package intake turns uploaded applicant files into applicant records.
package intake

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
)

// maxRawContent bounds the raw_content fallback for unstructured text.
const maxRawContent = 5000

var (
	ErrUnsupportedFormat = errors.New("unsupported file type, use .json, .csv or .txt")
	ErrInvalidFile       = errors.New("invalid applicant file")
	ErrNoApplicants      = errors.New("no applicant data found in file")
)

// ParseApplicants reads applicants from a .csv, .json or .txt upload.
func ParseApplicants(filename string, data []byte) ([]map[string]any, error) {
	var (
		out []map[string]any
		err error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		out, err = ParseCSV(data)
	case ".json":
		out, err = parseJSON(data)
	case ".txt":
		out = []map[string]any{parseText(string(data))}
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoApplicants
	}
	return out, nil
}

// ParseCSV maps each row to the header columns. Numeric cells become numbers.
func ParseCSV(data []byte) ([]map[string]any, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	out := []map[string]any{}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
		}
		row := make(map[string]any, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			if i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
				row[h] = nil
				continue
			}
			row[h] = convertScalar(rec[i])
		}
		out = append(out, row)
	}
	return out, nil
}

func parseJSON(data []byte) ([]map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var one map[string]any
	if err := json.Unmarshal(data, &one); err == nil && one != nil {
		return []map[string]any{one}, nil
	}
	return nil, fmt.Errorf("%w: json must be a list or object", ErrInvalidFile)
}

// parseText reads "key: value" lines. Text without any such line is passed
// through as raw_content.
func parseText(text string) map[string]any {
	parsed := map[string]any{}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_")
		if key == "" {
			continue
		}
		parsed[key] = convertScalar(value)
	}
	if len(parsed) > 0 {
		return parsed
	}
	raw := []rune(text)
	if len(raw) > maxRawContent {
		raw = raw[:maxRawContent]
	}
	return map[string]any{"raw_content": strings.TrimSpace(string(raw))}
}

// convertScalar turns integer and plain decimal strings into numbers and
// leaves everything else as a trimmed string.
func convertScalar(s string) any {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ".") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return float64(n)
		}
		return s
	}
	whole, frac, _ := strings.Cut(s, ".")
	if isDigits(strings.TrimPrefix(whole, "-")) && isDigits(frac) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
