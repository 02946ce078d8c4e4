package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"table-service/internal/config"
	"table-service/internal/model"
	"table-service/internal/service"
	"table-service/internal/testutil"
	"table-service/internal/ws"
	pkgAuth "table-service/pkg/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newServer(t *testing.T) (*httptest.Server, *service.Container) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.GlobalConfig = &config.Config{
		JWT:    config.JWTConfig{Secret: "ws-secret", Expire: 1},
		Tables: []config.TableConfig{{ID: 1, Name: "Point 01", Variant: "point", Decks: 8, CommissionPct: 5}},
	}
	db := testutil.NewDB(t)
	users := []model.User{
		{ID: 4, Nickname: "regular", Status: "normal"},
		{ID: 9, Nickname: "banned", Status: "banned"},
	}
	if err := db.Create(&users).Error; err != nil {
		t.Fatalf("seed users: %v", err)
	}
	services, err := service.NewContainer(db, nil, config.GlobalConfig)
	if err != nil {
		t.Fatalf("container: %v", err)
	}

	r := gin.New()
	r.GET("/ws/table/:tableId", ws.NewHandler(services.Tables, services.Hub, services.Members).HandleTableWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, services
}

func dial(t *testing.T, srv *httptest.Server, path string, userID int64) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	tok, err := pkgAuth.GenerateToken(userID)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?token=" + tok
	return websocket.DefaultDialer.Dial(url, nil)
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestConnectSendsStateAndAnswersCommands(t *testing.T) {
	srv, _ := newServer(t)
	conn, _, err := dial(t, srv, "/ws/table/1", 3)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if f := readFrame(t, conn); f.Type != "state" {
		t.Fatalf("first frame must be state, got %s", f.Type)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, conn); f.Type != "pong" {
		t.Fatalf("expected pong, got %s", f.Type)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"submit_bet","data":{"entries":[{"type":"banker","amount":10}]}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, conn)
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(f.Data, &body)
	if f.Type != "error" || body.Code != "phase_closed" {
		t.Fatalf("idle table must answer phase_closed, got %s %s", f.Type, f.Data)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"fold"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f = readFrame(t, conn)
	_ = json.Unmarshal(f.Data, &body)
	if f.Type != "error" || body.Code != "invalid_command" {
		t.Fatalf("unknown command must be rejected, got %s %s", f.Type, f.Data)
	}
}

func TestConnectRejections(t *testing.T) {
	srv, _ := newServer(t)

	if _, resp, err := dial(t, srv, "/ws/table/42", 3); err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown table must be 404, got %v", resp)
	}
	_, resp, err := dial(t, srv, "/ws/table/1", 9)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("banned member must be 403, got %v", resp)
	}
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error != "user_banned" {
		t.Fatalf("expected user_banned code, got %q", body.Error)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/table/1?token=garbage"
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token must be 401, got %v", resp)
	}
}

func TestBanAppliesToOpenSession(t *testing.T) {
	srv, services := newServer(t)
	conn, _, err := dial(t, srv, "/ws/table/1", 4)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if f := readFrame(t, conn); f.Type != "state" {
		t.Fatalf("first frame must be state, got %s", f.Type)
	}

	if _, err := services.Members.SetStatus(context.Background(), 4, "banned", "abuse"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"submit_bet","data":{"entries":[{"type":"banker","amount":10}]}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, conn)
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(f.Data, &body)
	if f.Type != "error" || body.Code != "user_banned" {
		t.Fatalf("banned member must not bet on an open session, got %s %s", f.Type, f.Data)
	}
}
