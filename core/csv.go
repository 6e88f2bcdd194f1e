package core

import (
	"bufio"
	"encoding/csv"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const utf8BOM = '\uFEFF'

// NewCSVReader returns a csv.Reader that skips a leading UTF-8 BOM and accepts rows of any width.
func NewCSVReader(r io.Reader) *csv.Reader {
	br := bufio.NewReader(r)
	if ch, _, err := br.ReadRune(); err == nil && ch != utf8BOM {
		_ = br.UnreadRune()
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

// CSVHeader maps lower-cased column names to their index and checks that required columns are present.
func CSVHeader(record []string, required ...string) (map[string]int, error) {
	cols := make(map[string]int, len(record))
	for i, name := range record {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, dup := cols[name]; name != "" && !dup {
			cols[name] = i
		}
	}
	var missing []string
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, NewFieldError("file", "missing columns: "+strings.Join(missing, ", "))
	}
	return cols, nil
}

// CSVRow gives trimmed access to a record by column name.
type CSVRow struct {
	Line   int
	cols   map[string]int
	record []string
}

func NewCSVRow(line int, cols map[string]int, record []string) CSVRow {
	return CSVRow{Line: line, cols: cols, record: record}
}

func (r CSVRow) Get(col string) string {
	i, ok := r.cols[col]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

// IsBlank reports whether all the fields are empty.
func (r CSVRow) IsBlank() bool {
	for _, v := range r.record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ReadCSVHeader reads the first record of cr as the header row.
func ReadCSVHeader(cr *csv.Reader, required ...string) (map[string]int, error) {
	record, err := cr.Read()
	if err == io.EOF {
		return nil, NewFieldError("file", "file is empty")
	}
	if err != nil {
		return nil, NewFieldError("file", errors.Wrap(err, "reading header").Error())
	}
	return CSVHeader(record, required...)
}
