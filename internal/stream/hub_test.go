package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/hazard-risk-service/internal/models"
)

func startHub(t *testing.T, cfg Config) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// TestHub_BroadcastFiltersByDistrict verifies that subscribers only receive predictions
// matching their query filter.
func TestHub_BroadcastFiltersByDistrict(t *testing.T) {
	h, srv := startHub(t, Config{})
	all := dial(t, srv, "")
	kandy := dial(t, srv, "?district=kandy")
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	h.Broadcast([]models.RiskPrediction{
		{ID: "p1", District: "Galle", HazardType: models.HazardFlood},
		{ID: "p2", District: "Kandy", HazardType: models.HazardLandslide},
	})

	var got []string
	for i := 0; i < 2; i++ {
		require.NoError(t, all.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg Message
		require.NoError(t, all.ReadJSON(&msg))
		assert.Equal(t, "prediction", msg.Type)
		got = append(got, msg.Prediction.ID)
	}
	assert.Equal(t, []string{"p1", "p2"}, got)

	require.NoError(t, kandy.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := kandy.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "p2", msg.Prediction.ID)
}

// TestHub_ClientDisconnect verifies that a closed client is removed from the hub.
func TestHub_ClientDisconnect(t *testing.T) {
	h, srv := startHub(t, Config{})
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_RejectsDisallowedOrigin(t *testing.T) {
	_, srv := startHub(t, Config{AllowedOrigins: []string{"https://dashboard.example"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	h := NewHub(Config{}, nil)
	// No Run loop: Broadcast must not block once the queue fills.
	preds := make([]models.RiskPrediction, 300)
	done := make(chan struct{})
	go func() {
		h.Broadcast(preds)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked")
	}
}
