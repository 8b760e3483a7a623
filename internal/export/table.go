package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuongbtq/sof-extractor/internal/domain"
	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"
)

const (
	sheetName      = "Events"
	cellTimeLayout = "2006-01-02 15:04:05"
)

// droppedColumns are lowercase duplicates of the canonical columns
var droppedColumns = []string{
	"start", "end", "duration", "laytime_utilization_%", "event",
	"date", "description", "raw_line", "filename",
}

// canonicalColumns is the export column order
var canonicalColumns = []string{
	"Event", "start_time_iso", "end_time_iso", "Date", "Duration", "Laytime", "Raw Line", "Filename",
}

type table struct {
	columns []string
	rows    [][]domain.Value
}

// buildTable drops internal and duplicate columns, then projects onto the
// canonical columns present in at least one event
func buildTable(events []domain.Event) *table {
	for _, e := range events {
		delete(e, domain.LaytimeCountsField)
		for _, col := range droppedColumns {
			delete(e, col)
		}
	}

	columns := lo.Filter(canonicalColumns, func(col string, _ int) bool {
		return lo.SomeBy(events, func(e domain.Event) bool {
			_, ok := e[col]
			return ok
		})
	})

	rows := lo.Map(events, func(e domain.Event, _ int) []domain.Value {
		return lo.Map(columns, func(col string, _ int) domain.Value { return e.Get(col) })
	})

	return &table{columns: columns, rows: rows}
}

// cellText renders a value for tabular output; ok is false for empty cells
func cellText(v domain.Value) (string, bool) {
	if v.IsEmpty() {
		return "", false
	}
	if t, ok := v.Time(); ok {
		return t.Format(cellTimeLayout), true
	}
	return v.String(), true
}

func encodeCSV(t *table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(t.columns); err != nil {
		return nil, err
	}
	record := make([]string, len(t.columns))
	for _, row := range t.rows {
		for i, v := range row {
			record[i], _ = cellText(v)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// orderedRow marshals as a JSON object with keys in column order
type orderedRow struct {
	columns []string
	values  []domain.Value
}

func (r orderedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		text, ok := cellText(r.values[i])
		if !ok {
			buf.WriteString("null")
			continue
		}
		val, err := json.Marshal(text)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeJSON(t *table) ([]byte, error) {
	rows := lo.Map(t.rows, func(values []domain.Value, _ int) orderedRow {
		return orderedRow{columns: t.columns, values: values}
	})

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeXLSX(t *table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, err
	}

	header := lo.Map(t.columns, func(col string, _ int) any { return col })
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("xlsx header: %w", err)
	}

	for i, row := range t.rows {
		cells := lo.Map(row, func(v domain.Value, _ int) any {
			text, _ := cellText(v)
			return text
		})
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheetName, cell, &cells); err != nil {
			return nil, fmt.Errorf("xlsx row %d: %w", i+1, err)
		}
	}

	for i, col := range t.columns {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetColWidth(sheetName, name, name, columnWidth(col))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidth(col string) float64 {
	switch {
	case col == "Raw Line":
		return 60
	case col == "Event":
		return 36
	case strings.HasSuffix(col, "_iso"):
		return 20
	}
	return 14
}
