package journal

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestWriteAndReadDay(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, 8, 1)
	w.now = func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) }

	for i := 0; i < 3; i++ {
		if err := w.Write(map[string]int{"n": i}); err != nil {
			t.Fatalf("Write() = %v; want nil", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() = %v; want nil", err)
	}
	if err := w.Write("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write() after Close = %v; want ErrClosed", err)
	}

	recs, err := ReadDay(dir, "2024-03-09")
	if err != nil {
		t.Fatalf("ReadDay() = %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("ReadDay() = %d records; want 3", len(recs))
	}
	var last map[string]int
	if err := json.Unmarshal(recs[2], &last); err != nil || last["n"] != 2 {
		t.Fatalf("last record = %s (%v)", recs[2], err)
	}
}

func TestReadDayRejectsBadDate(t *testing.T) {
	if _, err := ReadDay(t.TempDir(), "../etc"); err == nil {
		t.Fatal("ReadDay() = nil; want error")
	}
}
