package progress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan []byte) Event {
	t.Helper()
	select {
	case data := <-ch:
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestHub_DeliversToSessionOnly(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	abc := h.Subscribe("abc")
	other := h.Subscribe("other")

	h.Publish(Event{SessionID: "abc", State: StatePerTrackUpload, Track: "Intro", Index: 1, Total: 2})

	ev := receive(t, abc.Send)
	assert.Equal(t, StatePerTrackUpload, ev.State)
	assert.Equal(t, "Intro", ev.Track)
	assert.NotZero(t, ev.Timestamp)

	select {
	case <-other.Send:
		t.Fatal("event leaked to another session")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	slow := h.Subscribe("abc")
	for i := 0; i < subscriberBuffer*3; i++ {
		h.Publish(Event{SessionID: "abc", State: StatePersisting, Index: i})
	}

	// the hub keeps serving other sessions
	fast := h.Subscribe("xyz")
	h.Publish(Event{SessionID: "xyz", State: StateCommitted})
	assert.Equal(t, StateCommitted, receive(t, fast.Send).State)
	assert.LessOrEqual(t, len(slow.Send), subscriberBuffer)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	s := h.Subscribe("abc")
	assert.Equal(t, 1, h.SubscriberCount("abc"))

	h.Unsubscribe(s)
	h.Unsubscribe(s)
	assert.Equal(t, 0, h.SubscriberCount("abc"))
	_, ok := <-s.Send
	assert.False(t, ok)
}

func TestAttach_StreamsOverWebsocket(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Attach(conn, "abc")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.SubscriberCount("abc") == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Publish(Event{SessionID: "abc", State: StateCommitted, Message: "1 tracks procesados exitosamente"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, StateCommitted, ev.State)
	assert.Equal(t, "1 tracks procesados exitosamente", ev.Message)
}
