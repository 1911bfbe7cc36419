package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/refgest/internal/doctree"
)

// CSVParser handles CSV files. The first row holds headers; data rows are
// emitted as table elements of up to csvBatchSize rows each.
type CSVParser struct{}

const csvBatchSize = 20

func (p *CSVParser) Parse(r io.Reader, filename string) ([]doctree.Element, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	headers := records[0]
	dataRows := records[1:]
	elements := []doctree.Element{{
		Kind: doctree.KindTitle,
		Text: strings.TrimSuffix(filename, ".csv"),
		Page: 1,
	}}

	for i := 0; i < len(dataRows); i += csvBatchSize {
		end := min(i+csvBatchSize, len(dataRows))

		var text strings.Builder
		text.WriteString(strings.Join(headers, " | "))
		text.WriteString("\n")
		for _, row := range dataRows[i:end] {
			text.WriteString(strings.Join(row, " | "))
			text.WriteString("\n")
		}
		elements = append(elements, doctree.Element{
			Kind: doctree.KindTable,
			Text: strings.TrimRight(text.String(), "\n"),
			Page: 1,
		})
	}
	return elements, nil
}
