package websocket_test

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michalprusek/spheroseg-sub008/api/websocket"
	"github.com/michalprusek/spheroseg-sub008/pkg/config"
)

func setupHub(t *testing.T, cfg *config.WebSocketConfig) (*websocket.Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := websocket.NewHub(cfg)
	go hub.Run()
	t.Cleanup(hub.Stop)

	router := gin.New()
	router.GET("/ws", websocket.ServeWebSocket(hub))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialWS(t *testing.T, srv *httptest.Server, query string) (*gws.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := gws.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readJSON(t *testing.T, conn *gws.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	// A frame may batch several queued messages separated by newlines;
	// these tests only ever expect the first.
	line := strings.SplitN(string(raw), "\n", 2)[0]
	msg := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(line), &msg))
	return msg
}

func TestSubscribeFlow(t *testing.T) {
	hub, srv := setupHub(t, nil)

	conn, _, err := dialWS(t, srv, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":  "subscribe",
		"scope": websocket.ServiceScope("backend"),
	}))

	confirmation := readJSON(t, conn)
	assert.Equal(t, "subscription_update", confirmation["type"])
	assert.Equal(t, "subscribed", confirmation["action"])
	assert.Equal(t, "service:backend", confirmation["scope"])

	// Only the subscribed service's events reach this client.
	hub.Broadcast(websocket.NewMessage(websocket.MessageTypeScalingEvent, websocket.ServiceScope("ml"), map[string]string{"service": "ml"}))
	hub.Broadcast(websocket.NewMessage(websocket.MessageTypeScalingEvent, websocket.ServiceScope("backend"), map[string]string{"service": "backend"}))

	msg := readJSON(t, conn)
	assert.Equal(t, "scaling_event", msg["type"])
	assert.Equal(t, "service:backend", msg["scope"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout(), "filtered message must not arrive")
}

func TestConnectWithScopeQuery(t *testing.T) {
	hub, srv := setupHub(t, nil)

	conn, _, err := dialWS(t, srv, "?scope=metric:queue_length")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(websocket.NewMessage(websocket.MessageTypeMetricValue, websocket.MetricScope("failure_rate"), map[string]float64{"value": 1}))
	hub.Broadcast(websocket.NewMessage(websocket.MessageTypeMetricValue, websocket.MetricScope("queue_length"), map[string]float64{"value": 42}))

	msg := readJSON(t, conn)
	assert.Equal(t, "metric_value", msg["type"])
	assert.Equal(t, "metric:queue_length", msg["scope"])
}

func TestUnsubscribeRestoresFirehose(t *testing.T) {
	hub, srv := setupHub(t, nil)

	conn, _, err := dialWS(t, srv, "?scope=metric:queue_length")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "unsubscribe"}))
	confirmation := readJSON(t, conn)
	assert.Equal(t, "unsubscribed", confirmation["action"])
	assert.Equal(t, "metric:queue_length", confirmation["scope"])

	hub.Broadcast(websocket.NewMessage(websocket.MessageTypeAlert, websocket.MetricScope("failure_rate"), map[string]string{"id": "a-1"}))

	msg := readJSON(t, conn)
	assert.Equal(t, "alert", msg["type"])
}

func TestConnectionLimit(t *testing.T) {
	hub, srv := setupHub(t, &config.WebSocketConfig{MaxConnections: 1})

	conn, _, err := dialWS(t, srv, "")
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, resp, err := dialWS(t, srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
