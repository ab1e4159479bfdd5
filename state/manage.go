package state

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// FileCheckpointStore keeps the checkpoint as a single integer in a text file.
type FileCheckpointStore struct {
	progressFile string
}

// NewFileCheckpointStore returns a checkpoint store backed by path.
func NewFileCheckpointStore(path string) *FileCheckpointStore {
	return &FileCheckpointStore{progressFile: path}
}

// Load retrieves the last fully processed page from the progress file.
//
// Returns:
//   - DefaultCheckpointPage if the file does not exist or its content is not a
//     positive integer. Corruption is logged, never returned.
//   - An error only if the file exists but cannot be read.
func (s *FileCheckpointStore) Load(_ context.Context) (int, error) {
	data, err := os.ReadFile(s.progressFile)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultCheckpointPage, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint %s: %w", s.progressFile, err)
	}

	page, err := parseCheckpoint(data)
	if err != nil {
		log.Warn().Err(err).Str("file", s.progressFile).Msg("Checkpoint unreadable, starting from page 1")
		return DefaultCheckpointPage, nil
	}

	log.Info().Int("page", page).Msg("Checkpoint loaded")
	return page, nil
}

// Save overwrites the progress file with page.
func (s *FileCheckpointStore) Save(_ context.Context, page int) error {
	if err := writeFileAtomic(s.progressFile, []byte(strconv.Itoa(page)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	log.Info().Int("page", page).Msg("Checkpoint updated")
	return nil
}

func parseCheckpoint(data []byte) (int, error) {
	raw := strings.TrimSpace(string(data))
	page, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrCheckpointCorrupt, raw)
	}
	if page < 1 {
		return 0, fmt.Errorf("%w: page %d", ErrCheckpointCorrupt, page)
	}
	return page, nil
}

// FileErrorQueue keeps failed URLs one per line in a text file.
type FileErrorQueue struct {
	listFile string
}

// NewFileErrorQueue returns an error queue backed by path.
func NewFileErrorQueue(path string) *FileErrorQueue {
	return &FileErrorQueue{listFile: path}
}

// LoadAll reads every queued URL, skipping blank lines. Duplicates are kept.
func (q *FileErrorQueue) LoadAll(_ context.Context) ([]string, error) {
	data, err := os.ReadFile(q.listFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read error queue %s: %w", q.listFile, err)
	}

	var list []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			list = append(list, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse error queue %s: %w", q.listFile, err)
	}
	return list, nil
}

// Append adds url to the end of the queue and syncs the file.
func (q *FileErrorQueue) Append(_ context.Context, url string) error {
	if err := os.MkdirAll(filepath.Dir(q.listFile), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for error queue: %w", err)
	}

	file, err := os.OpenFile(q.listFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open error queue %s: %w", q.listFile, err)
	}
	defer file.Close()

	if _, err := file.WriteString(url + "\n"); err != nil {
		return fmt.Errorf("failed to append to error queue %s: %w", q.listFile, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync error queue %s: %w", q.listFile, err)
	}
	return nil
}

// Clear removes the queue file.
func (q *FileErrorQueue) Clear(_ context.Context) error {
	if err := os.Remove(q.listFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear error queue %s: %w", q.listFile, err)
	}
	log.Info().Str("file", q.listFile).Msg("Error queue cleared")
	return nil
}
