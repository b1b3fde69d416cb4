// JSONL usage sink: one JSON object per line, one file per day.
//
// Events are appended immediately after each event for real-time tailing.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// FileTracker appends usage events to daily JSONL files in a directory.
type FileTracker struct {
	dir string

	mu      sync.Mutex
	curDay  string
	curFile *os.File
	count   int
}

// NewFileTracker ensures the directory exists and returns the sink.
func NewFileTracker(dir string) (*FileTracker, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	return &FileTracker{dir: dir}, nil
}

// Record implements Sink. Failures are logged and swallowed.
func (t *FileTracker) Record(event *UsageEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("usage: failed to marshal event")
		return
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()

	day := event.Timestamp.Format("2006-01-02")
	if t.curFile == nil || day != t.curDay {
		if t.curFile != nil {
			_ = t.curFile.Close()
		}
		path := filepath.Join(t.dir, "usage-"+day+".jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 -- path built from configured dir
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("usage: failed to open log file")
			return
		}
		t.curFile = f
		t.curDay = day
	}

	if _, err := t.curFile.Write(data); err != nil {
		log.Error().Err(err).Msg("usage: failed to write event")
		return
	}
	t.count++
}

// Close flushes and closes the current file.
func (t *FileTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.curFile == nil {
		return nil
	}
	if t.count > 0 {
		log.Info().Str("dir", t.dir).Int("events", t.count).Msg("usage: session complete")
	}
	err := t.curFile.Close()
	t.curFile = nil
	return err
}
