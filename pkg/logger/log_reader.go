package logger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogEntry represents a parsed line of a category file
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Category  string                 `json:"category"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// JobID returns the download id the entry refers to, if any
func (e LogEntry) JobID() string {
	if id, ok := e.Fields["id"].(string); ok {
		return id
	}
	return ""
}

// LogReader reads the JSON category files written by MultiLogger
type LogReader struct {
	logsDir string
}

// NewLogReader creates a new log reader
func NewLogReader(logsDir string) *LogReader {
	return &LogReader{
		logsDir: logsDir,
	}
}

// ValidCategory reports whether category has its own file
func ValidCategory(category LogCategory) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// GetLogPath returns the path to a category log file for a specific date
func (lr *LogReader) GetLogPath(category LogCategory, date time.Time) string {
	filename := fmt.Sprintf("%s-%s.log", category, date.Format("20060102"))
	return filepath.Join(lr.logsDir, filename)
}

// ReadLogs returns the last limit entries of a category file; limit <= 0 returns all.
// A missing file yields no entries.
func (lr *LogReader) ReadLogs(category LogCategory, date time.Time, limit int) ([]LogEntry, error) {
	var entries []LogEntry
	err := lr.scan(category, date, func(e LogEntry) {
		entries = append(entries, e)
	})
	if err != nil {
		return nil, err
	}
	return tail(entries, limit), nil
}

// SearchLogs returns entries whose message, level or fields contain query
func (lr *LogReader) SearchLogs(category LogCategory, date time.Time, query string, limit int) ([]LogEntry, error) {
	query = strings.ToLower(query)

	var matched []LogEntry
	err := lr.scan(category, date, func(e LogEntry) {
		if strings.Contains(strings.ToLower(e.Message), query) ||
			strings.Contains(strings.ToLower(e.Level), query) ||
			fieldsContain(e.Fields, query) {
			matched = append(matched, e)
		}
	})
	if err != nil {
		return nil, err
	}
	return tail(matched, limit), nil
}

// JobHistory returns the lifecycle events of one download across the last days
func (lr *LogReader) JobHistory(id string, until time.Time, days int) ([]LogEntry, error) {
	if days < 1 {
		days = 1
	}

	var history []LogEntry
	for d := days - 1; d >= 0; d-- {
		date := until.AddDate(0, 0, -d)
		err := lr.scan(CategoryQueue, date, func(e LogEntry) {
			if e.JobID() == id {
				history = append(history, e)
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return history, nil
}

func (lr *LogReader) scan(category LogCategory, date time.Time, fn func(LogEntry)) error {
	file, err := os.Open(lr.GetLogPath(category, date))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fn(parseEntry(category, line))
	}
	return scanner.Err()
}

// parseEntry splits a JSON line into the well-known keys and the remaining fields.
// Lines that are not JSON become plain info entries.
func parseEntry(category LogCategory, line string) LogEntry {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{Level: "info", Message: line, Category: string(category)}
	}

	entry := LogEntry{Category: string(category)}
	if v, ok := raw["ts"].(string); ok {
		entry.Timestamp = v
	}
	if v, ok := raw["level"].(string); ok {
		entry.Level = v
	}
	if v, ok := raw["msg"].(string); ok {
		entry.Message = v
	}
	delete(raw, "ts")
	delete(raw, "level")
	delete(raw, "msg")
	if len(raw) > 0 {
		entry.Fields = raw
	}
	return entry
}

func fieldsContain(fields map[string]interface{}, query string) bool {
	for _, v := range fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}

func tail(entries []LogEntry, limit int) []LogEntry {
	if entries == nil {
		return []LogEntry{}
	}
	if limit > 0 && len(entries) > limit {
		return entries[len(entries)-limit:]
	}
	return entries
}
