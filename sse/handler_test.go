package sse_test

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/mcpbridge/bus"
	"github.com/petal-labs/mcpbridge/sse"
)

// sseMessage represents a parsed SSE message from the stream.
type sseMessage struct {
	ID    string
	Event string
	Data  string
}

// readMessage reads lines until one complete message has been parsed.
// Comment lines are reported through the comments counter.
func readMessage(t *testing.T, r *bufio.Reader, comments *int) sseMessage {
	t.Helper()
	var msg sseMessage
	var data []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if msg.Event == "" && len(data) == 0 {
				continue
			}
			msg.Data = strings.Join(data, "\n")
			return msg
		case strings.HasPrefix(line, ":"):
			if comments != nil {
				*comments++
			}
		case strings.HasPrefix(line, "id: "):
			msg.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			msg.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func openStream(t *testing.T, ctx context.Context, url string) *bufio.Reader {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	return bufio.NewReader(resp.Body)
}

func waitForSubscribers(t *testing.T, hub *bus.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub.Len() = %d, want %d", hub.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_StreamsConnectThenBroadcasts(t *testing.T) {
	hub := bus.NewHub(bus.HubConfig{Logger: quietLogger()})
	defer hub.Close()
	srv := httptest.NewServer(sse.NewHandler(sse.Config{Hub: hub, Logger: quietLogger()}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r1 := openStream(t, ctx, srv.URL)
	r2 := openStream(t, ctx, srv.URL)
	waitForSubscribers(t, hub, 2)

	for _, r := range []*bufio.Reader{r1, r2} {
		msg := readMessage(t, r, nil)
		if msg.Event != bus.EventConnect || msg.Data != bus.ConnectPayload {
			t.Fatalf("first message = %+v, want connect", msg)
		}
		if msg.ID == "" {
			t.Fatal("connect message has no id")
		}
	}

	if n := hub.Broadcast(bus.EventMessage, []byte("ping")); n != 2 {
		t.Fatalf("Broadcast() = %d, want 2", n)
	}
	for _, r := range []*bufio.Reader{r1, r2} {
		msg := readMessage(t, r, nil)
		if msg.Event != bus.EventMessage || msg.Data != "ping" {
			t.Fatalf("message = %+v, want message ping", msg)
		}
	}
}

func TestHandler_MultiLinePayload(t *testing.T) {
	hub := bus.NewHub(bus.HubConfig{Logger: quietLogger()})
	defer hub.Close()
	srv := httptest.NewServer(sse.NewHandler(sse.Config{Hub: hub, Logger: quietLogger()}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := openStream(t, ctx, srv.URL)
	waitForSubscribers(t, hub, 1)
	readMessage(t, r, nil)

	hub.Broadcast(bus.EventMessage, []byte("line one\nline two"))
	msg := readMessage(t, r, nil)
	if msg.Data != "line one\nline two" {
		t.Fatalf("data = %q", msg.Data)
	}
}

func TestHandler_CarriageReturnsEndLines(t *testing.T) {
	hub := bus.NewHub(bus.HubConfig{Logger: quietLogger()})
	defer hub.Close()
	srv := httptest.NewServer(sse.NewHandler(sse.Config{Hub: hub, Logger: quietLogger()}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := openStream(t, ctx, srv.URL)
	waitForSubscribers(t, hub, 1)
	readMessage(t, r, nil)

	hub.Broadcast(bus.EventMessage, []byte("one\rtwo\r\nthree"))
	msg := readMessage(t, r, nil)
	if msg.Event != bus.EventMessage {
		t.Fatalf("event = %q", msg.Event)
	}
	if msg.Data != "one\ntwo\nthree" {
		t.Fatalf("data = %q, want three lines without CR", msg.Data)
	}
}

func TestHandler_Heartbeat(t *testing.T) {
	hub := bus.NewHub(bus.HubConfig{Logger: quietLogger()})
	defer hub.Close()
	srv := httptest.NewServer(sse.NewHandler(sse.Config{
		Hub:       hub,
		Heartbeat: 10 * time.Millisecond,
		Logger:    quietLogger(),
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := openStream(t, ctx, srv.URL)
	waitForSubscribers(t, hub, 1)
	readMessage(t, r, nil)

	comments := 0
	time.Sleep(50 * time.Millisecond)
	hub.Broadcast(bus.EventMessage, []byte("after"))
	msg := readMessage(t, r, &comments)
	if msg.Data != "after" {
		t.Fatalf("data = %q, want after", msg.Data)
	}
	if comments == 0 {
		t.Fatal("no heartbeat comments before broadcast")
	}
}

func TestHandler_DisconnectUnsubscribes(t *testing.T) {
	hub := bus.NewHub(bus.HubConfig{Logger: quietLogger()})
	defer hub.Close()
	srv := httptest.NewServer(sse.NewHandler(sse.Config{Hub: hub, Logger: quietLogger()}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	openStream(t, ctx, srv.URL)
	waitForSubscribers(t, hub, 1)

	cancel()
	waitForSubscribers(t, hub, 0)
}

func TestHandler_HubCloseEndsStream(t *testing.T) {
	hub := bus.NewHub(bus.HubConfig{Logger: quietLogger()})
	srv := httptest.NewServer(sse.NewHandler(sse.Config{Hub: hub, Logger: quietLogger()}))
	defer srv.Close()

	r := openStream(t, context.Background(), srv.URL)
	waitForSubscribers(t, hub, 1)
	readMessage(t, r, nil)

	_ = hub.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.ReadString(0)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after hub close")
	}
}

func TestHandler_NoHub(t *testing.T) {
	rec := httptest.NewRecorder()
	sse.NewHandler(sse.Config{Logger: quietLogger()}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
