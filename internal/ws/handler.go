package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"table-service/internal/service/member"
	"table-service/internal/service/pubsub"
	"table-service/internal/service/table"
	pkgAuth "table-service/pkg/auth"
	appErr "table-service/pkg/errors"
	"table-service/pkg/logger"
	"table-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Handler struct {
	tables  *table.Manager
	hub     *pubsub.Hub
	members *member.Service
}

func NewHandler(tables *table.Manager, hub *pubsub.Hub, members *member.Service) *Handler {
	return &Handler{tables: tables, hub: hub, members: members}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

func (h *Handler) HandleTableWS(c *gin.Context) {
	tableIDStr := c.Param("tableId")
	tableID, err := strconv.ParseInt(tableIDStr, 10, 64)
	if err != nil || tableID <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid table id")
		return
	}

	token, err := getTokenFromRequest(c)
	if err != nil {
		response.Fail(c, err)
		return
	}
	claims, err := pkgAuth.ParseUserToken(token)
	if err != nil {
		response.Fail(c, fmt.Errorf("%w: invalid token", appErr.ErrUnauthorized))
		return
	}
	userID := claims.SubjectID
	if err := h.members.CheckActive(c.Request.Context(), userID); err != nil {
		if !errors.Is(err, appErr.ErrUserBanned) {
			logger.Log.Error("failed to load member", zap.Error(err), zap.Int64("userID", userID))
		}
		response.Fail(c, err)
		return
	}

	rt, err := h.tables.Get(tableID)
	if err != nil {
		response.Fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	logger.Log.Info("New WebSocket connection",
		zap.Int64("tableID", tableID),
		zap.Int64("userID", userID),
	)

	sub := h.hub.Subscribe(pubsub.TableTopic(tableID), pubsub.UserTopic(userID))
	client := newClient(conn, userID, rt, sub, h.members)
	client.run()
}

func getTokenFromRequest(c *gin.Context) (string, error) {
	token := strings.TrimSpace(c.Query("token"))
	if token != "" {
		return token, nil
	}
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = strings.TrimSpace(parts[1])
			if token != "" {
				return token, nil
			}
		}
	}
	return "", fmt.Errorf("%w: missing token", appErr.ErrUnauthorized)
}

// client owns one connection. Only writePump writes to conn; replies from
// readPump are queued on direct.
type client struct {
	conn      *websocket.Conn
	userID    int64
	rt        *table.Runtime
	sub       *pubsub.Subscription
	members   *member.Service
	direct    chan pubsub.Envelope
	done      chan struct{}
	pingEvery time.Duration
	replyWait time.Duration
}

func newClient(conn *websocket.Conn, userID int64, rt *table.Runtime, sub *pubsub.Subscription, members *member.Service) *client {
	conn.SetReadLimit(1 << 16)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	return &client{
		conn:      conn,
		userID:    userID,
		rt:        rt,
		sub:       sub,
		members:   members,
		direct:    make(chan pubsub.Envelope, 16),
		done:      make(chan struct{}),
		pingEvery: 25 * time.Second,
		replyWait: 2 * time.Second,
	}
}

func (c *client) run() {
	c.reply(pubsub.TypeState, c.rt.State(c.userID))
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer func() {
		close(c.done)
		c.sub.Close()
		c.conn.Close()
	}()

	for {
		mt, message, err := c.conn.ReadMessage()
		if err != nil {
			logger.Log.Info("WS read error", zap.Error(err), zap.Int64("userID", c.userID), zap.Int64("tableID", c.rt.ID()))
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		cmd, err := Decode(message)
		if err != nil {
			c.reply(pubsub.TypeError, gin.H{"code": "invalid_command", "message": err.Error()})
			continue
		}
		c.handle(context.Background(), cmd)
	}
}

func (c *client) handle(ctx context.Context, cmd Command) {
	switch cmd := cmd.(type) {
	case SubmitBet:
		// bans apply to open sessions, not only new ones
		if err := c.members.CheckActive(ctx, c.userID); err != nil {
			c.replyError(err)
			return
		}
		receipt, err := c.rt.PlaceBets(ctx, c.userID, cmd.LedgerEntries(), cmd.NoCommission)
		if err != nil {
			c.replyError(err)
			return
		}
		c.reply(pubsub.TypeBetAck, receipt)
	case ClearBets:
		refund, err := c.rt.ClearBets(ctx, c.userID)
		if err != nil {
			c.replyError(err)
			return
		}
		c.reply(pubsub.TypeBetAck, gin.H{"cleared": true, "refund": refund})
	case GetState:
		c.reply(pubsub.TypeState, c.rt.State(c.userID))
	case Ping:
		c.reply(pubsub.TypePong, gin.H{"message": "pong"})
	}
}

func (c *client) replyError(err error) {
	code := appErr.Code(err)
	msg := err.Error()
	if code == "internal" {
		logger.Log.Error("table command failed", zap.Error(err), zap.Int64("userID", c.userID), zap.Int64("tableID", c.rt.ID()))
		msg = "internal error"
	}
	c.reply(pubsub.TypeError, gin.H{"code": code, "message": msg})
}

// reply queues a direct frame. A client that cannot take it within
// replyWait is disconnected, so acks are never lost silently and the
// reconnect fetches full state.
func (c *client) reply(typ string, data interface{}) bool {
	timer := time.NewTimer(c.replyWait)
	defer timer.Stop()

	select {
	case c.direct <- pubsub.Envelope{Type: typ, Data: data}:
		return true
	case <-c.done:
		return false
	case <-timer.C:
		logger.Log.Warn("ws client too slow, disconnecting", zap.Int64("userID", c.userID), zap.String("type", typ))
		c.conn.Close()
		return false
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sub.C:
			if !ok {
				return
			}
			if !c.write(msg) {
				return
			}
		case msg := <-c.direct:
			if !c.write(msg) {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) write(msg pubsub.Envelope) bool {
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteJSON(msg); err != nil {
		logger.Log.Info("WS write error", zap.Error(err), zap.Int64("userID", c.userID), zap.Int64("tableID", c.rt.ID()))
		return false
	}
	return true
}
