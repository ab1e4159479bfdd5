package state

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/researchaccelerator-hub/catalog-harvester/model"
	"github.com/rs/zerolog/log"
)

// utf8BOM prefixes the file so spreadsheet tools detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVRecordStore keeps the record table in a single CSV file. The header is
// the column union; absent fields are written as empty cells.
type CSVRecordStore struct {
	path string
}

// NewCSVRecordStore returns a record store backed by the CSV file at path.
func NewCSVRecordStore(path string) *CSVRecordStore {
	return &CSVRecordStore{path: path}
}

// Load reads the whole table. A missing file is an empty table.
func (s *CSVRecordStore) Load(_ context.Context) (*model.Table, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("file", s.path).Msg("No record table found, starting empty")
		return model.NewTable(nil, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record table %s: %w", s.path, err)
	}

	table, err := decodeCSV(bytes.TrimPrefix(data, utf8BOM))
	if err != nil {
		return nil, fmt.Errorf("failed to decode record table %s: %w", s.path, err)
	}

	log.Info().Str("file", s.path).Int("rows", table.Len()).Msg("Record table loaded")
	return table, nil
}

// Save rewrites the whole table.
func (s *CSVRecordStore) Save(_ context.Context, table *model.Table) error {
	var buf bytes.Buffer
	buf.Write(utf8BOM)
	if err := encodeCSV(&buf, table); err != nil {
		return fmt.Errorf("failed to encode record table: %w", err)
	}
	if err := writeFileAtomic(s.path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	log.Info().Str("file", s.path).Int("rows", table.Len()).Msg("Record table saved")
	return nil
}

// Close is a no-op.
func (s *CSVRecordStore) Close() error {
	return nil
}

func decodeCSV(data []byte) (*model.Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return model.NewTable(nil, nil), nil
	}
	if err != nil {
		return nil, err
	}

	columns := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if strings.EqualFold(h, model.ColumnURL) {
			h = model.ColumnURL
		}
		columns[i] = h
	}
	if !contains(columns, model.ColumnArticleID) || !contains(columns, model.ColumnURL) {
		return nil, fmt.Errorf("header must contain %q and %q", model.ColumnArticleID, model.ColumnURL)
	}

	var rows []model.Article
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			row[col] = rec[i]
		}
		a, err := model.ArticleFromRow(columns, row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, a)
	}
	return model.NewTable(columns, rows), nil
}

func encodeCSV(w io.Writer, table *model.Table) error {
	cw := csv.NewWriter(w)
	columns := table.Columns()
	if err := cw.Write(columns); err != nil {
		return err
	}
	rec := make([]string, len(columns))
	for _, a := range table.Rows() {
		row := a.Row()
		for i, col := range columns {
			rec[i] = row[col]
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
