package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"lendbook/internal/book"
)

// JsonlJournal appends ledger events to a JSONL file.
type JsonlJournal struct {
	path string
	log  *zap.Logger
	mu   sync.Mutex
}

func NewJsonlJournal(path string, log *zap.Logger) *JsonlJournal {
	return &JsonlJournal{path: path, log: log}
}

// PutEventBatch appends a batch of events as JSON lines.
func (s *JsonlJournal) PutEventBatch(events []book.Event) error {
	if len(events) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}

	return nil
}

// Record implements book.Recorder. Journal failures are logged and dropped;
// the ledger does not roll back on a full disk.
func (s *JsonlJournal) Record(ev book.Event) {
	if err := s.PutEventBatch([]book.Event{ev}); err != nil {
		s.log.Error("journal write failed", zap.Error(err), zap.String("op", ev.Op))
	}
}
