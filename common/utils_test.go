package common

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCrawlID(t *testing.T) {
	before := time.Now().Truncate(time.Second)
	crawlID := GenerateCrawlID()
	after := time.Now().Truncate(time.Second).Add(time.Second)

	assert.Regexp(t, regexp.MustCompile(`^\d{14}$`), crawlID)

	parsed, err := time.ParseInLocation("20060102150405", crawlID, time.Local)
	require.NoError(t, err)
	assert.False(t, parsed.Before(before), "crawl id %s predates the call", crawlID)
	assert.False(t, parsed.After(after), "crawl id %s postdates the call", crawlID)
}

func ExampleGenerateCrawlID() {
	currentTime, _ := time.Parse("2006-01-02 15:04:05", "2023-05-15 10:30:45")
	fmt.Println(currentTime.Format("20060102150405"))
	// Output: 20230515103045
}

func TestReadURLsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "# retry list\nhttps://repo.example/entities/publication/a\n\n  https://repo.example/entities/publication/b  \n#https://skipped\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	urls, err := ReadURLsFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://repo.example/entities/publication/a",
		"https://repo.example/entities/publication/b",
	}, urls)
}

func TestReadURLsFromFileMissing(t *testing.T) {
	_, err := ReadURLsFromFile(filepath.Join(t.TempDir(), "absent.txt"))
	assert.Error(t, err)
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	f, err := os.CreateTemp(t.TempDir(), "log")
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, SetupLogging("debug", "", f))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	require.NoError(t, SetupLogging("", "json", f))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	assert.Error(t, SetupLogging("loud", "", f))
}
