package fanout

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasbegun/eyed/internal/models"
)

func dialHub(t *testing.T, h *Hub) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, srv
}

func TestHub_BroadcastDeliversToConnectedClient(t *testing.T) {
	h := New(nil, nil)
	conn, _ := dialHub(t, h)

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	h.Broadcast(&models.AnalysisResult{FrameID: 7, DeviceID: "cam-1", LatencyMS: 12.5})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"frame_id":7`)
	assert.Contains(t, string(data), `"device_id":"cam-1"`)
}

func TestHub_UnregisterOnDisconnectDropsClientCount(t *testing.T) {
	h := New(nil, nil)
	conn, _ := dialHub(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastToOneClientDoesNotAffectAnother(t *testing.T) {
	h := New(nil, nil)
	connA, _ := dialHub(t, h)
	connB, _ := dialHub(t, h)
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	connA.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	h.Broadcast(&models.AnalysisResult{FrameID: 1, DeviceID: "cam-2"})

	connB.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := connB.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"device_id":"cam-2"`)
}

func TestHub_CheckOriginRejectsUnlistedOrigin(t *testing.T) {
	h := New([]string{"https://allowed.example"}, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	header := map[string][]string{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.NotEqual(t, 101, resp.StatusCode)
}
