// Package preprocess parses raw tabular bytes into a TableDescriptor:
// ordered columns with bounded sample values, row/column counts, and a
// markdown context block used by the classification prompts.
package preprocess

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hdxlabs/sdd-pipeline/internal/models"
)

// Kind classifies a preprocessing failure.
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindCorrupt           Kind = "corrupt"
	KindEmpty             Kind = "empty"
)

// Error is a failed parse. Parse failures are permanent for the run.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("preprocess: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("preprocess: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Preprocessor turns raw file bytes into a TableDescriptor.
type Preprocessor struct {
	sampleSize int
}

// NewPreprocessor creates a Preprocessor keeping up to sampleSize non-empty
// sample values per column.
func NewPreprocessor(sampleSize int) *Preprocessor {
	if sampleSize <= 0 {
		sampleSize = 5
	}
	return &Preprocessor{sampleSize: sampleSize}
}

// Parse dispatches on the file extension and builds the descriptor.
// Supported formats: .csv, .xlsx, .xls.
func (p *Preprocessor) Parse(data []byte, fileName string) (*models.TableDescriptor, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".csv":
		rows, err = parseCSV(data)
	case ".xlsx", ".xls":
		rows, err = parseExcel(data)
	default:
		return nil, &Error{Kind: KindUnsupportedFormat, Err: fmt.Errorf("extension %q", ext)}
	}
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, &Error{Kind: KindEmpty}
	}
	header, body := rows[0], rows[1:]
	if len(body) == 0 {
		return nil, &Error{Kind: KindEmpty, Err: fmt.Errorf("header only, no data rows")}
	}

	desc := &models.TableDescriptor{
		FileName:    fileName,
		RowCount:    len(body),
		ColumnCount: len(header),
	}
	for i, name := range header {
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		col := models.ColumnDescriptor{Name: name}
		for _, row := range body {
			if len(col.SampleValues) >= p.sampleSize {
				break
			}
			if i < len(row) && strings.TrimSpace(row[i]) != "" {
				col.SampleValues = append(col.SampleValues, row[i])
			}
		}
		col.DType = inferDType(col.SampleValues)
		desc.Columns = append(desc.Columns, col)
	}

	desc.Context = renderContext(desc, body)
	return desc, nil
}

func parseCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1 // real-world CSVs are ragged
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, &Error{Kind: KindCorrupt, Err: err}
	}
	return rows, nil
}

func parseExcel(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Kind: KindCorrupt, Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &Error{Kind: KindEmpty, Err: fmt.Errorf("workbook has no sheets")}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &Error{Kind: KindCorrupt, Err: err}
	}
	return rows, nil
}

// inferDType takes a cheap guess at the column's type from its samples.
func inferDType(samples []string) string {
	if len(samples) == 0 {
		return "empty"
	}
	numeric := true
	for _, s := range samples {
		if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			numeric = false
			break
		}
	}
	if numeric {
		return "number"
	}
	return "text"
}

// renderContext produces the markdown table context shared by the
// classification prompts: an overview, the column schema, and a short
// sample preview.
func renderContext(desc *models.TableDescriptor, body [][]string) string {
	var b strings.Builder

	b.WriteString("## Table Overview\n")
	fmt.Fprintf(&b, "- **Rows**: %d\n", desc.RowCount)
	fmt.Fprintf(&b, "- **Columns**: %d\n\n", desc.ColumnCount)

	b.WriteString("## Column Schema\n")
	for _, col := range desc.Columns {
		fmt.Fprintf(&b, "### %s\n", col.Name)
		fmt.Fprintf(&b, "- **Type**: %s\n", col.DType)
		if len(col.SampleValues) > 0 {
			n := len(col.SampleValues)
			if n > 3 {
				n = 3
			}
			fmt.Fprintf(&b, "- **Sample Values**: %s\n", strings.Join(col.SampleValues[:n], ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Sample Data Preview\n")
	b.WriteString(renderMarkdownTable(desc, body, 3))
	return b.String()
}

func renderMarkdownTable(desc *models.TableDescriptor, body [][]string, maxRows int) string {
	var b strings.Builder

	b.WriteString("|")
	for _, col := range desc.Columns {
		fmt.Fprintf(&b, " %s |", col.Name)
	}
	b.WriteString("\n|")
	for range desc.Columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")

	for i, row := range body {
		if i >= maxRows {
			break
		}
		b.WriteString("|")
		for j := range desc.Columns {
			cell := ""
			if j < len(row) {
				cell = row[j]
			}
			fmt.Fprintf(&b, " %s |", cell)
		}
		b.WriteString("\n")
	}
	return b.String()
}
