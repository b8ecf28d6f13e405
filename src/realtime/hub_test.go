package realtime

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

	"tradeengine/src/auth"
	"tradeengine/src/model"
)

func dialTestHub(t *testing.T, hub *Hub, userID uint) (*websocket.Conn, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), auth.UserKey, &model.User{ID: userID})
		hub.HandleWS(w, r.WithContext(ctx))
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	return conn, srv
}

func TestHubPublishesToOwnerOnly(t *testing.T) {
	hub := NewHub()

	ownerConn, ownerSrv := dialTestHub(t, hub, 7)
	defer ownerSrv.Close()
	defer ownerConn.Close()

	otherConn, otherSrv := dialTestHub(t, hub, 8)
	defer otherSrv.Close()
	defer otherConn.Close()

	hub.PublishTradeUpdate(7, &model.Trade{ID: 42, UserID: 7, Symbol: "RELIANCE", Status: model.TradeStatusOpen})

	assert.NoError(t, ownerConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := ownerConn.ReadMessage()
	assert.NoError(t, err)

	var frame struct {
		Type string      `json:"type"`
		Data model.Trade `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(payload, &frame))
	assert.Equal(t, "trade_update", frame.Type)
	assert.Equal(t, uint(42), frame.Data.ID)

	// The other user's connection must stay silent.
	assert.NoError(t, otherConn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = otherConn.ReadMessage()
	assert.Error(t, err)
}

func TestHubRejectsUnauthenticatedUpgrade(t *testing.T) {
	hub := NewHub()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
