package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/reshuffle/internal/cachemanager"
	"github.com/zjrosen/reshuffle/internal/config"
	"github.com/zjrosen/reshuffle/internal/dispatch"
	"github.com/zjrosen/reshuffle/internal/sections"
)

func newTestServer(t *testing.T, gen sections.Generator) (*Server, *httptest.Server) {
	t.Helper()
	return newTestServerWithConfig(t, gen, config.Defaults().Serve)
}

func newTestServerWithConfig(t *testing.T, gen sections.Generator, cfg config.ServeConfig) (*Server, *httptest.Server) {
	t.Helper()
	d := dispatch.New(gen, dispatch.WithValidator(sections.CheckShape))
	cache := cachemanager.NewInMemoryCacheManager[string, dispatch.Update]("generations", time.Minute, time.Minute)
	s := New(d, cfg, cache)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Hub().Len() == n }, 3*time.Second, 10*time.Millisecond)
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test server URL
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postRefresh(t *testing.T, ts *httptest.Server, out any) int {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/refresh", "application/json", nil) //nolint:gosec // test server URL
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSections_NotFoundBeforeFirstGeneration(t *testing.T) {
	_, ts := newTestServer(t, sections.NewGenerator())

	var body ErrorView
	require.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/sections", &body))
	require.NotEmpty(t, body.Error)
}

func TestPrime_PublishesViewReady(t *testing.T) {
	s, ts := newTestServer(t, sections.NewGenerator())
	s.Prime(context.Background())

	var body UpdateView
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/sections", &body))
	require.Equal(t, uint64(1), body.Generation.Seq)
	require.Equal(t, "view_ready", body.Generation.Trigger)
	require.NoError(t, sections.CheckShape(body.Sections))
}

func TestWebsocket_ReplaysLatestOnConnect(t *testing.T) {
	s, ts := newTestServer(t, sections.NewGenerator())
	s.Prime(context.Background())

	conn := dial(t, ts)

	first := readMessage(t, conn)
	require.Equal(t, TypeSections, first.Type)
	require.Equal(t, uint64(1), first.Generation.Seq)
	require.NoError(t, sections.CheckShape(first.Sections))

	second := readMessage(t, conn)
	require.Equal(t, TypeCompleted, second.Type)
	require.Equal(t, first.Generation.ID, second.Generation.ID)
}

func TestWebsocket_RefreshesArriveInOrder(t *testing.T) {
	s, ts := newTestServer(t, sections.NewGenerator())
	conn := dial(t, ts)
	waitForClients(t, s, 1)

	var g GenerationView
	require.Equal(t, http.StatusOK, postRefresh(t, ts, &g))
	require.Equal(t, uint64(1), g.Seq)
	require.Equal(t, "refresh_requested", g.Trigger)

	require.NoError(t, conn.WriteJSON(Command{Type: CommandRefresh}))

	var got []string
	for range 4 {
		msg := readMessage(t, conn)
		got = append(got, fmt.Sprintf("%s:%d", msg.Type, msg.Generation.Seq))
	}
	require.Equal(t, []string{"sections:1", "completed:1", "sections:2", "completed:2"}, got)
}

func TestWebsocket_PingAndUnknownCommand(t *testing.T) {
	s, ts := newTestServer(t, sections.NewGenerator())
	conn := dial(t, ts)
	waitForClients(t, s, 1)

	require.NoError(t, conn.WriteJSON(Command{Type: CommandPing}))
	require.Equal(t, TypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Command{Type: "shuffle-harder"}))
	msg := readMessage(t, conn)
	require.Equal(t, TypeError, msg.Type)
	require.Contains(t, msg.Error, "shuffle-harder")
}

func TestWebsocket_DetachOnClose(t *testing.T) {
	s, ts := newTestServer(t, sections.NewGenerator())
	conn := dial(t, ts)
	waitForClients(t, s, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, s, 0)
}

func TestGenerations_CachedByID(t *testing.T) {
	_, ts := newTestServer(t, sections.NewGenerator())

	var g GenerationView
	require.Equal(t, http.StatusOK, postRefresh(t, ts, &g))

	var body UpdateView
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/generations/"+g.ID, &body))
	assert.Equal(t, g.ID, body.Generation.ID)
	assert.NoError(t, sections.CheckShape(body.Sections))

	var missing ErrorView
	require.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/generations/nope", &missing))
	assert.Contains(t, missing.Error, "nope")
}

func TestFailure_HaltsServer(t *testing.T) {
	s, ts := newTestServer(t, sections.NewFailingGenerator(sections.NewGenerator(), 1))
	s.Prime(context.Background())

	conn := dial(t, ts)
	require.Equal(t, TypeSections, readMessage(t, conn).Type)
	require.Equal(t, TypeCompleted, readMessage(t, conn).Type)

	var health HealthView
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, 1, health.Clients)

	var failure ErrorView
	require.Equal(t, http.StatusInternalServerError, postRefresh(t, ts, &failure))
	require.Equal(t, uint64(2), failure.Generation.Seq)

	msg := readMessage(t, conn)
	require.Equal(t, TypeFailed, msg.Type, "no sections frame for the failed generation")
	require.Equal(t, uint64(2), msg.Generation.Seq)
	require.Contains(t, msg.Error, "injected failure")

	var halted ErrorView
	require.Equal(t, http.StatusConflict, postRefresh(t, ts, &halted))

	require.NoError(t, conn.WriteJSON(Command{Type: CommandRefresh}))
	require.Equal(t, TypeError, readMessage(t, conn).Type)

	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/healthz", &health))
	require.Equal(t, "halted", health.Status)

	// The last good list stays available.
	var body UpdateView
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/sections", &body))
	require.Equal(t, uint64(1), body.Generation.Seq)
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub()
	c := NewClient(hub, nil, 2, nil)
	require.True(t, hub.attach(c, nil))

	hub.Broadcast(Message{Type: TypePong})
	hub.Broadcast(Message{Type: TypePong})
	require.Equal(t, 1, hub.Len())

	// Nothing drains the buffer, so the third frame does not fit.
	hub.Broadcast(Message{Type: TypePong})
	require.Zero(t, hub.Len())
	require.False(t, c.send([]byte("{}")), "closed client accepts nothing")
}

func TestHub_ReplayPrecedesBroadcast(t *testing.T) {
	hub := NewHub()
	c := NewClient(hub, nil, 4, nil)
	require.True(t, hub.attach(c, func() []Message {
		return []Message{{Type: TypeSections}, {Type: TypeCompleted}}
	}))
	hub.Broadcast(Message{Type: TypePong})

	var types []string
	for range 3 {
		var msg Message
		require.NoError(t, json.Unmarshal(<-c.out, &msg))
		types = append(types, msg.Type)
	}
	require.Equal(t, []string{TypeSections, TypeCompleted, TypePong}, types)
}

func TestHub_BroadcastDuringReplayIsQueuedAfterIt(t *testing.T) {
	hub := NewHub()
	c := NewClient(hub, nil, 4, nil)

	broadcast := make(chan struct{})
	attached := hub.attach(c, func() []Message {
		// A generation published while the replay is being built must
		// reach this client after the replay, not before it and not never.
		go func() {
			hub.Broadcast(Message{Type: TypeSections, Error: "newer"})
			close(broadcast)
		}()
		time.Sleep(20 * time.Millisecond)
		return []Message{{Type: TypeSections, Error: "replayed"}}
	})
	require.True(t, attached)
	<-broadcast

	var got []string
	for range 2 {
		var msg Message
		require.NoError(t, json.Unmarshal(<-c.out, &msg))
		got = append(got, msg.Error)
	}
	require.Equal(t, []string{"replayed", "newer"}, got)
}

func TestHub_RefusesClientThatCannotHoldReplay(t *testing.T) {
	hub := NewHub()
	c := NewClient(hub, nil, 1, nil)

	ok := hub.attach(c, func() []Message {
		return []Message{{Type: TypeSections}, {Type: TypeCompleted}}
	})
	require.False(t, ok)
	require.Zero(t, hub.Len())
	require.False(t, c.send([]byte("{}")), "refused client is closed")
}

func TestClient_BufferHoldsAtLeastOneFrame(t *testing.T) {
	c := NewClient(NewHub(), nil, 0, nil)
	require.Equal(t, 1, cap(c.out))

	require.True(t, c.enqueue(Message{Type: TypePong}))
	require.False(t, c.enqueue(Message{Type: TypePong}), "full buffer reports the lost frame")
}

func TestWebsocket_SmallSendBufferStillReplays(t *testing.T) {
	cfg := config.Defaults().Serve
	cfg.SendBuffer = 0
	s, ts := newTestServerWithConfig(t, sections.NewGenerator(), cfg)
	s.Prime(context.Background())

	conn := dial(t, ts)
	require.Equal(t, TypeSections, readMessage(t, conn).Type)
	require.Equal(t, TypeCompleted, readMessage(t, conn).Type)
	waitForClients(t, s, 1)

	var g GenerationView
	require.Equal(t, http.StatusOK, postRefresh(t, ts, &g))
	msg := readMessage(t, conn)
	require.Equal(t, TypeSections, msg.Type)
	require.Equal(t, uint64(2), msg.Generation.Seq)
	require.Equal(t, TypeCompleted, readMessage(t, conn).Type)
	require.Equal(t, 1, s.Hub().Len())
}

func TestWebsocket_ReplaysFailureAfterHalt(t *testing.T) {
	s, ts := newTestServer(t, sections.NewFailingGenerator(sections.NewGenerator(), 1))
	s.Prime(context.Background())

	var failure ErrorView
	require.Equal(t, http.StatusInternalServerError, postRefresh(t, ts, &failure))

	conn := dial(t, ts)
	var got []string
	for range 3 {
		msg := readMessage(t, conn)
		got = append(got, fmt.Sprintf("%s:%d", msg.Type, msg.Generation.Seq))
	}
	require.Equal(t, []string{"sections:1", "completed:1", "failed:2"}, got)
}
