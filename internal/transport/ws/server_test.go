package ws

import (
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"luna.social/internal/protocol"
	"luna.social/internal/stream"
)

func testWS(t *testing.T) (*stream.Broker, string) {
	t.Helper()
	b := stream.NewBroker(100, 16)
	srv := httptest.NewServer(NewServer(b, log.New(io.Discard, "", 0)).Handler())
	t.Cleanup(srv.Close)
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(msg, &out); err != nil {
		t.Fatalf("unmarshal %q: %v", msg, err)
	}
	return out
}

func subscribe(t *testing.T, conn *websocket.Conn, channels []string, includeHistory bool) {
	t.Helper()
	err := conn.WriteJSON(subscribeMsg{
		Type:            "subscribe",
		ProtocolVersion: protocol.Version,
		Channels:        channels,
		IncludeHistory:  includeHistory,
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ack := readJSON(t, conn)
	if ack["type"] != "subscribed" {
		t.Fatalf("ack %v", ack)
	}
}

func TestSubscribeAndReceive(t *testing.T) {
	b, url := testWS(t)
	conn := dial(t, url)
	subscribe(t, conn, []string{protocol.ChannelBookings}, false)

	ev := protocol.NewEvent(protocol.EventBookingCreated, protocol.ChannelBookings, time.Now().UTC())
	ev.UserID = "u001"
	if _, err := b.Publish(ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := readJSON(t, conn)
	if got["type"] != "event" {
		t.Fatalf("envelope %v", got)
	}
	inner, _ := got["event"].(map[string]any)
	if inner["event_type"] != protocol.EventBookingCreated || inner["user_id"] != "u001" {
		t.Fatalf("event %v", inner)
	}
}

func TestSubscribe_ChannelFilter(t *testing.T) {
	b, url := testWS(t)
	conn := dial(t, url)
	subscribe(t, conn, []string{protocol.ChannelBookings}, false)

	// An event on another channel must not reach this client.
	other := protocol.NewEvent(protocol.EventUserBrowse, protocol.ChannelUserActions, time.Now().UTC())
	if _, err := b.Publish(other); err != nil {
		t.Fatalf("publish: %v", err)
	}
	wanted := protocol.NewEvent(protocol.EventBookingConfirmed, protocol.ChannelBookings, time.Now().UTC())
	if _, err := b.Publish(wanted); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := readJSON(t, conn)
	inner, _ := got["event"].(map[string]any)
	if inner["channel"] != protocol.ChannelBookings {
		t.Fatalf("leaked channel %v", inner["channel"])
	}
}

func TestSubscribe_IncludeHistory(t *testing.T) {
	b, url := testWS(t)
	for i := 0; i < 3; i++ {
		ev := protocol.NewEvent(protocol.EventBookingCreated, protocol.ChannelBookings, time.Now().UTC())
		if _, err := b.Publish(ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	conn := dial(t, url)
	subscribe(t, conn, []string{protocol.ChannelBookings}, true)
	for i := 0; i < 3; i++ {
		got := readJSON(t, conn)
		inner, _ := got["event"].(map[string]any)
		if seq, _ := inner["seq"].(float64); int(seq) != i+1 {
			t.Fatalf("history event %d has seq %v", i, inner["seq"])
		}
	}
}

func TestHandshakeRejections(t *testing.T) {
	_, url := testWS(t)

	expectClose := func(t *testing.T, conn *websocket.Conn) {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("expected policy violation close, got %v", err)
		}
	}

	t.Run("not a subscribe message", func(t *testing.T) {
		conn := dial(t, url)
		if err := conn.WriteJSON(map[string]any{"type": "hello"}); err != nil {
			t.Fatalf("write: %v", err)
		}
		expectClose(t, conn)
	})

	t.Run("wrong protocol version", func(t *testing.T) {
		conn := dial(t, url)
		err := conn.WriteJSON(subscribeMsg{Type: "subscribe", ProtocolVersion: "9.9"})
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		expectClose(t, conn)
	})

	t.Run("unknown channel", func(t *testing.T) {
		conn := dial(t, url)
		err := conn.WriteJSON(subscribeMsg{Type: "subscribe", Channels: []string{"bogus"}})
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		expectClose(t, conn)
	})
}

func TestMultiChannelBurst(t *testing.T) {
	b, url := testWS(t)
	conn := dial(t, url)
	subscribe(t, conn, nil, false)

	// Fill every channel up to the subscriber queue depth. All writes
	// go through one connection, so every event must arrive, in order
	// within its channel.
	const perChannel = 16
	for i := 0; i < perChannel; i++ {
		for _, ch := range protocol.Channels {
			ev := protocol.NewEvent(protocol.EventMetricsUpdate, ch, time.Now().UTC())
			if _, err := b.Publish(ev); err != nil {
				t.Fatalf("publish on %s: %v", ch, err)
			}
		}
	}

	lastSeq := map[string]int{}
	total := perChannel * len(protocol.Channels)
	for i := 0; i < total; i++ {
		got := readJSON(t, conn)
		inner, _ := got["event"].(map[string]any)
		ch, _ := inner["channel"].(string)
		seq, _ := inner["seq"].(float64)
		if int(seq) != lastSeq[ch]+1 {
			t.Fatalf("channel %s seq %v after %d", ch, seq, lastSeq[ch])
		}
		lastSeq[ch] = int(seq)
	}
	for _, ch := range protocol.Channels {
		if lastSeq[ch] != perChannel {
			t.Fatalf("channel %s delivered %d of %d", ch, lastSeq[ch], perChannel)
		}
	}
}

func TestEmptyChannelsSubscribesAll(t *testing.T) {
	b, url := testWS(t)
	conn := dial(t, url)
	subscribe(t, conn, nil, false)

	// One event on each channel; the client sees all of them.
	for _, ch := range protocol.Channels {
		ev := protocol.NewEvent(protocol.EventMetricsUpdate, ch, time.Now().UTC())
		if _, err := b.Publish(ev); err != nil {
			t.Fatalf("publish on %s: %v", ch, err)
		}
	}
	seen := map[string]bool{}
	for range protocol.Channels {
		got := readJSON(t, conn)
		inner, _ := got["event"].(map[string]any)
		ch, _ := inner["channel"].(string)
		seen[ch] = true
	}
	if len(seen) != len(protocol.Channels) {
		t.Fatalf("saw %d channels want %d: %v", len(seen), len(protocol.Channels), seen)
	}
}
