package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

func TestBrokerFeedFilter(t *testing.T) {
	b := NewBroker()
	_, all := b.Subscribe()
	_, runs := b.Subscribe(FeedRuns)

	b.PublishJSON(FeedConsole, map[string]string{"line": "hi"})
	b.PublishJSON(FeedRuns, map[string]string{"state": "completed"})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events; want 2", got)
	}
	if got := len(runs); got != 1 {
		t.Fatalf("runs subscriber got %d events; want 1", got)
	}
	if evt := <-runs; evt.Payload != `{"state":"completed"}` {
		t.Fatalf("payload = %s", evt.Payload)
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	id, _ := b.Subscribe()
	for i := 0; i < subscriberBufSize+5; i++ {
		b.Publish(Event{Feed: FeedConsole, Payload: "{}"})
	}
	if b.Dropped() != 5 {
		t.Fatalf("Dropped() = %d; want 5", b.Dropped())
	}
	b.Unsubscribe(id)
	if b.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d; want 0", b.ClientCount())
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(SSEHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?feeds=runs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET = %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	waitClients(t, b, 1)
	b.Publish(Event{Feed: FeedConsole, Payload: `{"skip":true}`})
	b.Publish(Event{Feed: FeedRuns, Payload: `{"ok":true}`})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
		if len(lines) == 2 {
			break
		}
	}
	if strings.Join(lines, "|") != `event: runs|data: {"ok":true}` {
		t.Fatalf("stream = %q", lines)
	}
}

func TestWSHandler(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(WSHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?feeds=artifacts")
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}
	defer conn.Close()

	waitClients(t, b, 1)
	b.PublishJSON(FeedRuns, map[string]int{"n": 0})
	b.PublishJSON(FeedArtifacts, map[string]int{"n": 1})

	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("ReadServerText() = %v", err)
	}
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Feed != FeedArtifacts || string(frame.Data) != `{"n":1}` {
		t.Fatalf("frame = %s", data)
	}

	_ = wsutil.WriteClientMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	waitClients(t, b, 0)
}

func waitClients(t *testing.T, b *Broker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d; want %d", b.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
