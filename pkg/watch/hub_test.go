package watch

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/changes" + query
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestHubFiltersByLAN(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(httpHandler(h))
	defer srv.Close()

	lan1 := dial(t, srv, "?lan=1")
	all := dial(t, srv, "")
	require.Eventually(t, func() bool { return h.Subscribers() == 2 }, time.Second, 10*time.Millisecond)

	h.Push(Event{Source: "ixf", Action: "add", ExchangeLANID: 2, RecordID: 20})
	h.Push(Event{Source: "ixf", Action: "delete", ExchangeLANID: 1, RecordID: 10})

	var ev Event
	require.NoError(t, lan1.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, lan1.ReadJSON(&ev))
	assert.Equal(t, uint(10), ev.RecordID)
	assert.Equal(t, "delete", ev.Action)

	require.NoError(t, all.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, all.ReadJSON(&ev))
	assert.Equal(t, uint(20), ev.RecordID)
	require.NoError(t, all.ReadJSON(&ev))
	assert.Equal(t, uint(10), ev.RecordID)
}

func TestHubDropsClosedSubscribers(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(httpHandler(h))
	defer srv.Close()

	c := dial(t, srv, "?lan=3")
	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	_ = c.Close()
	require.Eventually(t, func() bool { return h.Subscribers() == 0 }, time.Second, 10*time.Millisecond)

	// no subscribers: a push is a no-op
	h.Push(Event{ExchangeLANID: 3})
}

func TestHubRejectsBadLAN(t *testing.T) {
	h := NewHub(nil)
	rec := httptest.NewRecorder()
	h.HandleWS(rec, httptest.NewRequest("GET", "/ws/changes?lan=x", nil))
	assert.Equal(t, 400, rec.Code)
}
