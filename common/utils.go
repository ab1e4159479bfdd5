package common

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// GenerateCrawlID generates a unique identifier based on the current timestamp.
// The identifier is formatted as a string in the "YYYYMMDDHHMMSS" format.
func GenerateCrawlID() string {
	return time.Now().Format("20060102150405")
}

// ReadURLsFromFile reads URLs from a file, one per line.
// It ignores empty lines and lines starting with a '#' character (comments).
func ReadURLsFromFile(filename string) ([]string, error) {
	log.Debug().Str("filename", filename).Msg("Reading URLs from file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}

	log.Debug().Int("url_count", len(urls)).Msg("URLs read from file")
	return urls, nil
}
