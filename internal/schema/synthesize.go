// Package schema derives relational schemas from parsed file content.
//
// Table names are a pure function of the source file name, so repeated
// uploads of the same file always target the same table. OCR output maps
// to a generic fixed-column table instead of an inferred one.
package schema

import (
	"fmt"
	"path"
	"strings"

	"github.com/quarrydata/quarry/internal/extract"
	"github.com/quarrydata/quarry/internal/tabular"
)

// fallbackTable is used when sanitization consumes the whole file name.
const fallbackTable = "table"

// TableName derives a deterministic table name from an object key:
// base name without extension, lowercased, sanitized to [a-z0-9_] with
// repeats collapsed. A name that starts with a digit is prefixed so it
// stays a valid SQL identifier.
func TableName(fileKey string) string {
	base := path.Base(fileKey)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}

	name := tabular.SanitizeIdentifier(base)
	if name == "" {
		return fallbackTable
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	return name
}

// Document column set: fixed, never inferred.
const (
	ColSourceFile = "source_file"
	ColPageNumber = "page_number"
	ColLineNumber = "line_number"
	ColText       = "text"
)

// FromDocument synthesizes the generic table for OCR output: one row per
// non-empty line of extracted text per page. Failed pages contribute no
// rows but keep their page slot in the source document.
func FromDocument(doc *extract.Document) *tabular.Table {
	t := &tabular.Table{
		Name: "extracted_documents",
		Columns: []tabular.Column{
			{RawHeader: ColSourceFile, Name: ColSourceFile, Type: tabular.TypeText},
			{RawHeader: ColPageNumber, Name: ColPageNumber, Type: tabular.TypeInteger},
			{RawHeader: ColLineNumber, Name: ColLineNumber, Type: tabular.TypeInteger},
			{RawHeader: ColText, Name: ColText, Type: tabular.TypeText},
		},
	}

	for _, page := range doc.Pages {
		if !page.OK {
			continue
		}
		lineNo := 0
		for _, line := range strings.Split(page.Text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			lineNo++
			t.Rows = append(t.Rows, map[string]string{
				ColSourceFile: doc.SourceKey,
				ColPageNumber: fmt.Sprintf("%d", page.Number),
				ColLineNumber: fmt.Sprintf("%d", lineNo),
				ColText:       line,
			})
		}
	}

	return t
}
