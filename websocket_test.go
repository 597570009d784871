package quizhub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// newWebSocketFixture wires an adapter, a started hub with short timings, and
// an HTTP test server.
func newWebSocketFixture(t *testing.T) (*WebSocketAdapter, *Hub, *httptest.Server) {
	t.Helper()
	adapter := NewWebSocketAdapter()
	hub := NewHub(adapter).
		SetWinnerDisplayDuration(100 * time.Millisecond).
		SetPostLockHandoffDelay(10 * time.Millisecond)
	adapter.SetHub(hub)
	if err := hub.Start(); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(adapter)
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Close()
	})
	return adapter, hub, srv
}

// wsDial opens a client connection against the test server.
func wsDial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads frames until one carries the wanted event, failing the test
// if the connection stalls or closes first.
func readUntil(t *testing.T, conn *websocket.Conn, event EventName) Frame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("reading toward %q: %v", event, err)
		}
		if f.Event == event {
			return f
		}
	}
}

func TestWebSocketAdapter(t *testing.T) {
	t.Run("Connect Delivers Count And Question", func(t *testing.T) {
		adapter, hub, srv := newWebSocketFixture(t)
		conn := wsDial(t, srv)

		readUntil(t, conn, EventUserCount)
		frame := readUntil(t, conn, EventCurrentQuestion)

		var payload QuestionPayload
		if err := frameInto(frame, &payload); err != nil {
			t.Fatal(err)
		}
		q, ok := hub.Round().CurrentQuestion()
		if !ok || payload.QuestionID != q.ID {
			t.Errorf("client saw question %q, hub holds %q", payload.QuestionID, q.ID)
		}

		waitFor(t, 2*time.Second, "registered connection", func() bool {
			return adapter.ConnCount() == 1
		})
	})

	t.Run("Full Round Over The Wire", func(t *testing.T) {
		_, hub, srv := newWebSocketFixture(t)
		conn := wsDial(t, srv)
		readUntil(t, conn, EventCurrentQuestion)

		q, _ := hub.Round().CurrentQuestion()
		if err := conn.WriteJSON(outFrame{
			Event: EventSubmitAnswer,
			Data:  submitAnswerData{Answer: strconv.Itoa(q.Answer)},
		}); err != nil {
			t.Fatal(err)
		}

		declared := readUntil(t, conn, EventWinnerDeclared)
		var winner WinnerDeclaredPayload
		if err := frameInto(declared, &winner); err != nil {
			t.Fatal(err)
		}
		if winner.QuestionID != q.ID || winner.CorrectAnswer != q.Answer {
			t.Errorf("winner-declared payload %+v does not match round", winner)
		}

		readUntil(t, conn, EventYouWon)

		// The short display window elapses and the next round arrives.
		next := readUntil(t, conn, EventNewQuestion)
		var nextQ QuestionPayload
		if err := frameInto(next, &nextQ); err != nil {
			t.Fatal(err)
		}
		if nextQ.QuestionID == q.ID {
			t.Error("rotation reissued the same question id")
		}
	})

	t.Run("Wrong Answer Gets A Result Frame", func(t *testing.T) {
		_, _, srv := newWebSocketFixture(t)
		conn := wsDial(t, srv)
		readUntil(t, conn, EventCurrentQuestion)

		if err := conn.WriteJSON(outFrame{
			Event: EventSubmitAnswer,
			Data:  submitAnswerData{Answer: "99999"},
		}); err != nil {
			t.Fatal(err)
		}

		frame := readUntil(t, conn, EventSubmissionResult)
		var result SubmissionResultPayload
		if err := frameInto(frame, &result); err != nil {
			t.Fatal(err)
		}
		if result.Correct || result.Winner {
			t.Errorf("wrong answer produced %+v", result)
		}
	})

	t.Run("Second Client Sees Count Grow", func(t *testing.T) {
		_, hub, srv := newWebSocketFixture(t)
		first := wsDial(t, srv)
		readUntil(t, first, EventCurrentQuestion)

		wsDial(t, srv)

		waitFor(t, 2*time.Second, "second registration", func() bool {
			return hub.Registry().Count() == 2
		})
	})

	t.Run("Request Question Resends", func(t *testing.T) {
		_, _, srv := newWebSocketFixture(t)
		conn := wsDial(t, srv)
		readUntil(t, conn, EventCurrentQuestion)

		if err := conn.WriteJSON(outFrame{Event: EventRequestQuestion}); err != nil {
			t.Fatal(err)
		}
		readUntil(t, conn, EventCurrentQuestion)
	})

	t.Run("Unknown Events Do Not Break The Connection", func(t *testing.T) {
		_, _, srv := newWebSocketFixture(t)
		conn := wsDial(t, srv)
		readUntil(t, conn, EventCurrentQuestion)

		if err := conn.WriteJSON(outFrame{Event: "mystery-event"}); err != nil {
			t.Fatal(err)
		}
		if err := conn.WriteJSON(outFrame{Event: EventRequestQuestion}); err != nil {
			t.Fatal(err)
		}
		readUntil(t, conn, EventCurrentQuestion)
	})

	t.Run("Send After Close Drops The Frame", func(t *testing.T) {
		a := NewWebSocketAdapter()
		c := &wsConn{id: "gone", send: make(chan outFrame, 1)}
		a.conns[c.id] = c

		// A fan-out that snapshotted the connection list can still hold this
		// connection after its cleanup ran. The enqueue must drop, not panic.
		c.close()
		if err := a.Broadcast(EventUserCount, 1); err != nil {
			t.Fatal(err)
		}
		if err := a.SendTo(c.id, EventUserCount, 1); err != nil {
			t.Fatal(err)
		}
		c.close()
	})

	t.Run("Disconnect Churn During Broadcast", func(t *testing.T) {
		adapter, _, srv := newWebSocketFixture(t)

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = adapter.Broadcast(EventUserCount, 1)
				}
			}
		}()

		for i := 0; i < 20; i++ {
			conn := wsDial(t, srv)
			readUntil(t, conn, EventCurrentQuestion)
			_ = conn.Close()
		}
		close(stop)
		wg.Wait()

		waitFor(t, 2*time.Second, "connection cleanup", func() bool {
			return adapter.ConnCount() == 0
		})
	})

	t.Run("Logger Swap While Serving", func(t *testing.T) {
		adapter, _, srv := newWebSocketFixture(t)
		conn := wsDial(t, srv)
		readUntil(t, conn, EventCurrentQuestion)

		adapter.WithLogger(zap.NewNop())

		if err := conn.WriteJSON(outFrame{Event: EventRequestQuestion}); err != nil {
			t.Fatal(err)
		}
		readUntil(t, conn, EventCurrentQuestion)
	})

	t.Run("Disconnect Frees The Registration", func(t *testing.T) {
		adapter, hub, srv := newWebSocketFixture(t)
		conn := wsDial(t, srv)
		readUntil(t, conn, EventCurrentQuestion)

		_ = conn.Close()

		waitFor(t, 2*time.Second, "deregistration", func() bool {
			return adapter.ConnCount() == 0 && hub.Registry().Count() == 0
		})
	})

	t.Run("Unbound Adapter Refuses Upgrades", func(t *testing.T) {
		adapter := NewWebSocketAdapter()
		srv := httptest.NewServer(adapter)
		defer srv.Close()

		resp, err := http.Get(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", resp.StatusCode)
		}
	})
}

func TestWebSocketOrigins(t *testing.T) {
	request := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	t.Run("Empty Allow-List Accepts Everything", func(t *testing.T) {
		a := NewWebSocketAdapter()
		if !a.checkOrigin(request("https://anywhere.example")) {
			t.Error("empty allow-list rejected an origin")
		}
		if !a.checkOrigin(request("")) {
			t.Error("empty allow-list rejected a missing origin")
		}
	})

	t.Run("Allow-List Is Enforced", func(t *testing.T) {
		a := NewWebSocketAdapter().WithAllowedOrigins("https://quiz.example.com")
		if !a.checkOrigin(request("https://quiz.example.com")) {
			t.Error("allowed origin rejected")
		}
		if a.checkOrigin(request("https://evil.example.com")) {
			t.Error("unlisted origin accepted")
		}
		if a.checkOrigin(request("")) {
			t.Error("missing origin accepted against an allow-list")
		}
	})
}

// frameInto decodes a frame's payload into out.
func frameInto(f Frame, out any) error {
	return json.Unmarshal(f.Data, out)
}
