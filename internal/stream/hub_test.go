package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edgegate/edgegate/internal/model"
	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, h *Hub, tenantID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, tenantID)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, h.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubDeliversToSubscriber(t *testing.T) {
	h := NewHub()
	defer h.Close()
	conn := dialHub(t, h, "")
	waitSubscribers(t, h, 1)

	h.Publish(&model.AuditLogEntry{ID: "e-1", Action: model.ActionRequest, TenantID: "t-1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got model.AuditLogEntry
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ID != "e-1" {
		t.Fatalf("unexpected entry %q", got.ID)
	}
}

func TestHubFiltersByTenant(t *testing.T) {
	h := NewHub()
	defer h.Close()
	conn := dialHub(t, h, "t-2")
	waitSubscribers(t, h, 1)

	h.Publish(&model.AuditLogEntry{ID: "other", TenantID: "t-1"})
	h.Publish(&model.AuditLogEntry{ID: "mine", TenantID: "t-2"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got model.AuditLogEntry
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ID != "mine" {
		t.Fatalf("tenant filter leaked entry %q", got.ID)
	}
}

func TestHubPublishAfterCloseIsNoop(t *testing.T) {
	h := NewHub()
	h.Close()
	// must not panic or block
	h.Publish(&model.AuditLogEntry{ID: "late"})
	if h.Subscribers() != 0 {
		t.Fatalf("closed hub should have no subscribers")
	}
}
