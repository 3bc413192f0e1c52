package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var header = []string{"Contact Name", "Phone Number", "Last Message", "Last Talked To"}

// Row is one exported inbound message.
type Row struct {
	ContactName string
	PhoneNumber string
	Message     string
	At          time.Time
}

// CSVWriter appends one row per inbound message to a flat file. The header is
// written only when the file is created or empty.
type CSVWriter struct {
	mu   sync.Mutex
	path string
}

func NewCSVWriter(path string) (*CSVWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("csv export path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	return &CSVWriter{path: path}, nil
}

func (w *CSVWriter) Path() string {
	return w.path
}

func (w *CSVWriter) Append(row Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open csv export: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat csv export: %w", err)
	}

	cw := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
	}
	if err := cw.Write([]string{
		row.ContactName,
		row.PhoneNumber,
		row.Message,
		row.At.Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// PhoneNumber strips the JID server part from a WhatsApp style id.
func PhoneNumber(senderID string) string {
	if idx := strings.Index(senderID, "@"); idx > 0 {
		senderID = senderID[:idx]
	}
	if idx := strings.Index(senderID, ":"); idx > 0 {
		senderID = senderID[:idx]
	}
	return senderID
}
