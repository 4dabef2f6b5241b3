package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrEmptyFile is returned when the input contains no non-empty line.
var ErrEmptyFile = errors.New("empty file: no header line found")

// delimiterCandidates are scanned on the first non-empty line when no
// delimiter is supplied. Highest count wins; comma wins ties by order.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// Structure parses delimited text into a Table.
//
// The delimiter is inferred from the first non-empty line unless delim is
// non-zero. The first non-empty record becomes the header; every later
// record whose field count differs from the header arity is skipped and
// recorded as a warning. Column types are inferred after all rows are
// materialized. The returned table has no name; naming belongs to the
// schema synthesizer.
func Structure(data []byte, delim rune) (*Table, error) {
	data = sanitizeUTF8(data)

	if delim == 0 {
		delim = detectDelimiter(data)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	// First non-empty record is the header.
	headerIdx := -1
	for i, rec := range records {
		if !isEmptyRecord(rec) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, ErrEmptyFile
	}

	header := records[headerIdx]
	names := headerNames(header)
	arity := len(header)

	t := &Table{Columns: make([]Column, arity)}
	for i := range header {
		t.Columns[i] = Column{RawHeader: header[i], Name: names[i]}
	}

	// Materialize rows, flag-and-skip on arity mismatch.
	colValues := make([][]string, arity)
	for i, rec := range records[headerIdx+1:] {
		if isEmptyRecord(rec) {
			continue
		}
		if len(rec) != arity {
			line := headerIdx + i + 2 // 1-based, header included
			t.Warnings = append(t.Warnings, fmt.Sprintf(
				"line %d: expected %d fields, got %d; row skipped", line, arity, len(rec)))
			continue
		}

		row := make(map[string]string, arity)
		for c, v := range rec {
			v = strings.TrimSpace(v)
			row[names[c]] = v
			colValues[c] = append(colValues[c], v)
		}
		t.Rows = append(t.Rows, row)
	}

	// Type inference runs over the full column, never row by row.
	for c := range t.Columns {
		t.Columns[c].Type = InferType(colValues[c])
	}

	return t, nil
}

// detectDelimiter picks the candidate with the highest count on the
// first non-empty line. Defaults to comma.
func detectDelimiter(data []byte) rune {
	line := firstNonEmptyLine(data)

	best := ','
	bestCount := 0
	for _, cand := range delimiterCandidates {
		if n := strings.Count(line, string(cand)); n > bestCount {
			best = cand
			bestCount = n
		}
	}
	return best
}

func firstNonEmptyLine(data []byte) string {
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		var line []byte
		if idx < 0 {
			line, data = data, nil
		} else {
			line, data = data[:idx], data[idx+1:]
		}
		if s := strings.TrimSpace(string(line)); s != "" {
			return s
		}
	}
	return ""
}

func isEmptyRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sanitizeUTF8 replaces invalid byte sequences with U+FFFD so the csv
// reader and the database only ever see valid UTF-8.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}
	return buf.Bytes()
}
