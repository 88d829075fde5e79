package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const heartbeatInterval = 15 * time.Second

// parseFeeds reads the optional ?feeds=name1,name2 filter.
func parseFeeds(r *http.Request) []string {
	var feeds []string
	for _, f := range strings.Split(r.URL.Query().Get("feeds"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			feeds = append(feeds, f)
		}
	}
	return feeds
}

// SSEHandler streams broker events as server-sent events.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe(parseFeeds(r)...)
		defer broker.Unsubscribe(id)

		ping := time.NewTicker(heartbeatInterval)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ping.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case evt, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Feed, evt.Payload)
				flusher.Flush()
			}
		}
	}
}

// wsFrame is the text frame sent to WebSocket clients.
type wsFrame struct {
	Feed string          `json:"feed"`
	Data json.RawMessage `json:"data"`
}

// WSHandler streams broker events over a WebSocket, one JSON text frame per
// event. Client frames other than close are ignored.
func WSHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feeds := parseFeeds(r)
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("relay websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		id, ch := broker.Subscribe(feeds...)
		defer broker.Unsubscribe(id)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := wsutil.ReadClientData(conn); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				frame, err := json.Marshal(wsFrame{Feed: evt.Feed, Data: json.RawMessage(evt.Payload)})
				if err != nil {
					continue
				}
				if err := wsutil.WriteServerText(conn, frame); err != nil {
					slog.Debug("relay websocket write failed", "subscriber", id, "error", err)
					return
				}
			}
		}
	}
}
