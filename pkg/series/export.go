package series

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// ExportResult contains stats about an export
type ExportResult struct {
	Rows       int       `json:"rows"`
	Categories int       `json:"categories"`
	Format     string    `json:"format"`
	ExportedAt time.Time `json:"exported_at"`
}

// WriteJSON writes the series with export metadata
func (s Series) WriteJSON(w io.Writer, chart string) (*ExportResult, error) {
	exportData := struct {
		Metadata struct {
			Chart      string    `json:"chart"`
			ExportedAt time.Time `json:"exported_at"`
			RowCount   int       `json:"row_count"`
			Version    string    `json:"version"`
		} `json:"metadata"`
		Series
	}{Series: s}

	exportData.Metadata.Chart = chart
	exportData.Metadata.ExportedAt = time.Now().UTC()
	exportData.Metadata.RowCount = len(s.Rows)
	exportData.Metadata.Version = "1.0"

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(exportData); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		Rows:       len(s.Rows),
		Categories: len(s.Categories),
		Format:     "json",
		ExportedAt: exportData.Metadata.ExportedAt,
	}, nil
}

// WriteCSV writes one line per day. Cells for absent categories are empty.
func (s Series) WriteCSV(w io.Writer) (*ExportResult, error) {
	writer := csv.NewWriter(w)

	header := append([]string{"day"}, s.Categories...)
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range s.Rows {
		record := make([]string, 0, len(header))
		record = append(record, r.Day.String())
		for _, c := range s.Categories {
			if v, ok := r.Values[c]; ok {
				record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
			} else {
				record = append(record, "")
			}
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return &ExportResult{
		Rows:       len(s.Rows),
		Categories: len(s.Categories),
		Format:     "csv",
		ExportedAt: time.Now().UTC(),
	}, nil
}
