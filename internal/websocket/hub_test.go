package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/config"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/state"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type hubFixture struct {
	bus    *state.EventBus
	hub    *Hub
	server *httptest.Server
	cancel context.CancelFunc
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	bus := state.NewEventBus(8, logger)
	hub := NewHub(bus, config.WebSocketConfig{}, nil, logger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws", hub.ServeWS)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return &hubFixture{bus: bus, hub: hub, server: server, cancel: cancel}
}

func (f *hubFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func changeEvent(uuid, room string, significance types.ChangeSignificance) types.StateChangeEvent {
	return types.StateChangeEvent{
		ID:           uuid + "-event",
		UUID:         uuid,
		DeviceName:   uuid,
		DeviceType:   "InfoOnlyAnalog",
		Room:         room,
		ChangeType:   types.ChangeValueChanged,
		Significance: significance,
		Timestamp:    time.Now(),
	}
}

func TestHub_StreamsFilteredEvents(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, url.Values{"room": {"kitchen"}}.Encode())

	welcome := readFrame(t, conn)
	assert.Equal(t, MessageTypeConnection, welcome.Type)
	assert.Contains(t, string(welcome.Data), `"room":"kitchen"`)
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 && f.bus.Len() == 1 },
		time.Second, 10*time.Millisecond)

	f.bus.Publish(changeEvent("living-temp", "Living Room", types.SignificanceMajor))
	f.bus.Publish(changeEvent("kitchen-temp", "Kitchen", types.SignificanceMinor))

	msg := readFrame(t, conn)
	require.Equal(t, MessageTypeStateChange, msg.Type)
	var event types.StateChangeEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, "kitchen-temp", event.UUID)
}

func TestHub_PingAndResubscribe(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "")
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(Request{Type: RequestTypePing}))
	assert.Equal(t, MessageTypePong, readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Request{
		Type:   RequestTypeSubscribe,
		Filter: FilterSpec{MinSignificance: "MAJOR"},
	}))
	assert.Equal(t, MessageTypeSubscribed, readFrame(t, conn).Type)
	require.Eventually(t, func() bool { return f.bus.Len() == 1 }, time.Second, 10*time.Millisecond)

	f.bus.Publish(changeEvent("a", "Kitchen", types.SignificanceMinor))
	f.bus.Publish(changeEvent("b", "Kitchen", types.SignificanceCritical))

	msg := readFrame(t, conn)
	var event types.StateChangeEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, "b", event.UUID)

	require.NoError(t, conn.WriteJSON(Request{Type: "bogus"}))
	assert.Equal(t, MessageTypeError, readFrame(t, conn).Type)
}

func TestHub_RejectsInvalidFilter(t *testing.T) {
	f := newHubFixture(t)
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?min_significance=huge"

	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_ShutdownDisconnectsClients(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "")
	readFrame(t, conn)
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	f.cancel()

	require.Eventually(t, func() bool { return f.bus.Len() == 0 }, time.Second, 10*time.Millisecond)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, f.hub.ClientCount())
	assert.EqualValues(t, 1, f.hub.Stats().TotalConnections)
}

func TestClient_SubscribeAfterCloseReleasesSubscription(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	bus := state.NewEventBus(8, logger)
	hub := NewHub(bus, config.WebSocketConfig{}, nil, logger, nil)

	client := &Client{
		ID:     "c1",
		send:   make(chan []byte, 1),
		done:   make(chan struct{}),
		hub:    hub,
		logger: logger,
	}
	require.True(t, client.subscribe(FilterSpec{Room: "Kitchen"}))
	assert.Equal(t, 1, bus.Len())

	client.close()
	assert.Equal(t, 0, bus.Len())

	assert.False(t, client.subscribe(FilterSpec{Room: "Office"}))
	assert.Equal(t, 0, bus.Len())
	assert.Equal(t, "Kitchen", client.Filter().Room)
}

func TestFilterSpec_Filter(t *testing.T) {
	event := changeEvent("0CD8.01.T1", "Living Room", types.SignificanceMinor)

	tests := []struct {
		name string
		spec FilterSpec
		want bool
	}{
		{"empty matches all", FilterSpec{}, true},
		{"device", FilterSpec{Device: "0CD8.01.T1"}, true},
		{"other device", FilterSpec{Device: "X"}, false},
		{"room case-insensitive", FilterSpec{Room: "living room"}, true},
		{"type and room", FilterSpec{Room: "Living Room", Type: "Switch"}, false},
		{"min significance met", FilterSpec{MinSignificance: types.SignificanceMinor}, true},
		{"min significance not met", FilterSpec{MinSignificance: types.SignificanceMajor}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Filter()(&event))
		})
	}
}

func TestFilterSpecFromQuery(t *testing.T) {
	spec, err := FilterSpecFromQuery(url.Values{"device": {" X "}, "min_significance": {"Critical"}})
	require.NoError(t, err)
	assert.Equal(t, FilterSpec{Device: "X", MinSignificance: types.SignificanceCritical}, spec)

	_, err = FilterSpecFromQuery(url.Values{"min_significance": {"trivial"}})
	assert.Error(t, err)
}
