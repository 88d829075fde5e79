// Package journal appends settled run results to date-partitioned JSONL files.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const fileName = "runs.jsonl"

var (
	ErrClosed     = errors.New("journal: closed")
	ErrBufferFull = errors.New("journal: buffer full")
)

// Writer queues records and writes them on its own goroutine, one JSON object
// per line under <dir>/<YYYY-MM-DD>/runs.jsonl.
type Writer struct {
	dir       string
	maxSizeMB int
	writeCh   chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
	now         func() time.Time
}

func New(dir string, bufferSize, maxSizeMB int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	w := &Writer{
		dir:       dir,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues record. It never blocks; a full buffer drops the record.
func (w *Writer) Write(record any) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		slog.Warn("Journal buffer full, dropping record", "dir", w.dir)
		return ErrBufferFull
	}
}

// Close stops the writer after flushing queued records.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		err := w.logger.Close()
		w.logger = nil
		return err
	}
	return nil
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			for {
				select {
				case record := <-w.writeCh:
					w.writeRecord(record)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("Failed to marshal journal record", "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().UTC().Format("2006-01-02")
	if date != w.currentDate || w.logger == nil {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("Failed to open journal file", "error", err, "dir", w.dir)
			return
		}
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("Failed to write journal record", "error", err)
	}
}

func (w *Writer) rotateForDate(date string) error {
	if w.logger != nil {
		_ = w.logger.Close()
		w.logger = nil
	}
	dir := filepath.Join(w.dir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w.logger = &lumberjack.Logger{
		Filename:   filepath.Join(dir, fileName),
		MaxSize:    w.maxSizeMB,
		MaxBackups: 30,
		MaxAge:     90,
	}
	w.currentDate = date
	slog.Debug("Opened journal file", "date", date, "dir", dir)
	return nil
}

// ReadDay returns the raw records journaled on date (YYYY-MM-DD).
func ReadDay(dir, date string) ([]json.RawMessage, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("journal: bad date %q", date)
	}
	f, err := os.Open(filepath.Join(dir, date, fileName))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []json.RawMessage
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		if len(line) == 0 {
			continue
		}
		out = append(out, json.RawMessage(line))
	}
	return out, sc.Err()
}
