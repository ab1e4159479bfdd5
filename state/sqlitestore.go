package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/researchaccelerator-hub/catalog-harvester/model"
	"github.com/rs/zerolog/log"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS articles (
	position   INTEGER PRIMARY KEY,
	article_id INTEGER NOT NULL,
	url        TEXT    NOT NULL,
	fields     TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS article_columns (
	position INTEGER PRIMARY KEY,
	name     TEXT    NOT NULL UNIQUE
);`

// SQLiteRecordStore keeps the record table in SQLite. Rows keep their storage
// order through the position column; fields other than id and url are stored
// as a JSON object of flattened values. Save replaces the table inside one
// transaction.
type SQLiteRecordStore struct {
	db *sqlx.DB
}

type articleRow struct {
	Position  int    `db:"position"`
	ArticleID int    `db:"article_id"`
	URL       string `db:"url"`
	Fields    string `db:"fields"`
}

// NewSQLiteRecordStore opens (and if needed creates) the database at path.
func NewSQLiteRecordStore(path string) (*SQLiteRecordStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}

	return &SQLiteRecordStore{db: db}, nil
}

// Load reads the whole table in storage order.
func (s *SQLiteRecordStore) Load(ctx context.Context) (*model.Table, error) {
	var columns []string
	if err := s.db.SelectContext(ctx, &columns, `SELECT name FROM article_columns ORDER BY position`); err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}

	var rows []articleRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT position, article_id, url, fields FROM articles ORDER BY position`); err != nil {
		return nil, fmt.Errorf("failed to load articles: %w", err)
	}

	articles := make([]model.Article, 0, len(rows))
	for _, r := range rows {
		values := map[string]string{}
		if err := json.Unmarshal([]byte(r.Fields), &values); err != nil {
			return nil, fmt.Errorf("row %d: failed to decode fields: %w", r.Position, err)
		}
		values[model.ColumnArticleID] = strconv.Itoa(r.ArticleID)
		values[model.ColumnURL] = r.URL

		a, err := model.ArticleFromRow(columns, values)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r.Position, err)
		}
		articles = append(articles, a)
	}

	log.Info().Int("rows", len(articles)).Msg("Record table loaded from sqlite")
	return model.NewTable(columns, articles), nil
}

// Save replaces the stored table with table.
func (s *SQLiteRecordStore) Save(ctx context.Context, table *model.Table) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM articles`); err != nil {
		return fmt.Errorf("failed to clear articles: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM article_columns`); err != nil {
		return fmt.Errorf("failed to clear columns: %w", err)
	}

	for i, col := range table.Columns() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO article_columns (position, name) VALUES (?, ?)`, i, col); err != nil {
			return fmt.Errorf("failed to insert column %q: %w", col, err)
		}
	}

	for i, a := range table.Rows() {
		row := a.Row()
		delete(row, model.ColumnArticleID)
		delete(row, model.ColumnURL)
		fields, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to encode fields for %s: %w", a.URL, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO articles (position, article_id, url, fields) VALUES (?, ?, ?, ?)`,
			i, a.ArticleID, a.URL, string(fields),
		); err != nil {
			return fmt.Errorf("failed to insert article %s: %w", a.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record table: %w", err)
	}

	log.Info().Int("rows", table.Len()).Msg("Record table saved to sqlite")
	return nil
}

// Close closes the database.
func (s *SQLiteRecordStore) Close() error {
	return s.db.Close()
}
