package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topic := strings.TrimPrefix(r.URL.Path, "/ws/")
		h.ServeWS(w, r, topic, r.URL.Query().Get("id"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, topic, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + topic + "?id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReadyOnOpen(t *testing.T) {
	h := NewHub(nil)
	srv := newTestServer(t, h)

	conn := dial(t, srv, "answer", "job-1")
	m := readMessage(t, conn)
	if m.Type != TypeReady || m.ID != "job-1" {
		t.Errorf("first message = %+v, want ready for job-1", m)
	}
}

func TestTwoSubscribersReceiveIdenticalTerminal(t *testing.T) {
	h := NewHub(nil)
	srv := newTestServer(t, h)

	a := dial(t, srv, "answer", "job-1")
	b := dial(t, srv, "answer", "job-1")
	readMessage(t, a)
	readMessage(t, b)
	waitFor(t, func() bool { return h.Count("answer", "job-1") == 2 })

	if n := h.Emit("answer", "job-1", Answer("job-1", "Mitosis has four phases.")); n != 2 {
		t.Fatalf("Emit delivered to %d, want 2", n)
	}

	ma, mb := readMessage(t, a), readMessage(t, b)
	if ma.Type != TypeAnswer || ma.Answer == nil || *ma.Answer != "Mitosis has four phases." {
		t.Errorf("a got %+v", ma)
	}
	ja, _ := json.Marshal(ma)
	jb, _ := json.Marshal(mb)
	if string(ja) != string(jb) {
		t.Errorf("subscribers differ: %s vs %s", ja, jb)
	}
}

func TestEmitIsScopedToTopicAndID(t *testing.T) {
	h := NewHub(nil)
	srv := newTestServer(t, h)

	conn := dial(t, srv, "companion", "job-1")
	readMessage(t, conn)
	waitFor(t, func() bool { return h.Count("companion", "job-1") == 1 })

	if n := h.Emit("answer", "job-1", Answer("job-1", "x")); n != 0 {
		t.Errorf("Emit to other topic delivered to %d", n)
	}
	if n := h.Emit("companion", "job-2", Answer("job-2", "x")); n != 0 {
		t.Errorf("Emit to other id delivered to %d", n)
	}
}

func TestEmptyAnswerStillCarriesField(t *testing.T) {
	data, err := json.Marshal(Answer("j", ""))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"answer":""`) {
		t.Errorf("encoded = %s, want explicit empty answer", data)
	}
}

func TestDisconnectRemovesEmptySet(t *testing.T) {
	h := NewHub(nil)
	srv := newTestServer(t, h)

	conn := dial(t, srv, "smartnotes", "note-1")
	readMessage(t, conn)
	waitFor(t, func() bool { return h.Count("smartnotes", "note-1") == 1 })

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitFor(t, func() bool { return h.Sets() == 0 })
}

func TestAppPing(t *testing.T) {
	old := AppPingInterval
	AppPingInterval = 20 * time.Millisecond
	t.Cleanup(func() { AppPingInterval = old })

	h := NewHub(nil)
	srv := newTestServer(t, h)

	conn := dial(t, srv, "answer", "job-1")
	readMessage(t, conn)
	m := readMessage(t, conn)
	if m.Type != TypePing || m.T == 0 {
		t.Errorf("message = %+v, want ping with timestamp", m)
	}
}

func TestCloseDisconnectsAll(t *testing.T) {
	h := NewHub(nil)
	srv := newTestServer(t, h)

	conn := dial(t, srv, "answer", "job-1")
	readMessage(t, conn)
	waitFor(t, func() bool { return h.Count("answer", "job-1") == 1 })

	h.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to close")
	}
	if h.Sets() != 0 {
		t.Errorf("Sets = %d after Close", h.Sets())
	}
}
