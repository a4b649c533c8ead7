package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Ensarsahaneren/realtime/internal/auth"
	"github.com/Ensarsahaneren/realtime/internal/chat"
	"github.com/Ensarsahaneren/realtime/internal/config"
	"github.com/Ensarsahaneren/realtime/internal/limiter"
	"github.com/Ensarsahaneren/realtime/internal/metrics"
	"github.com/Ensarsahaneren/realtime/internal/presence"
	"github.com/Ensarsahaneren/realtime/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Client 是一条已认证的长连接：readPump 处理入站事件，writePump 负责
// 出站队列。Client 实现 presence.Conn，注册后即对投递引擎可达。
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	connID   string
	userID   string
	username string

	engine   *chat.Engine
	registry *presence.Registry
	limiter  *limiter.Limiter
}

func (c *Client) ConnID() string { return c.connID }

// Send 非阻塞入队；连接已关闭或队列已满时返回 false，由调用方放弃。
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type inboundEvent struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	PeerID      string `json:"peer_id"`
	MessageID   uint   `json:"message_id"`
}

// Serve 返回 websocket 升级入口：认证一次、注册在线、启动收发泵。
// 认证失败的连接不会进入在线注册表。
func Serve(cfg config.Config, db *gorm.DB, engine *chat.Engine, reg *presence.Registry, lim *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Token via Authorization header or token query param for WS
		authz := c.GetHeader("Authorization")
		token := c.Query("token")
		if token == "" && len(authz) > 7 && (authz[:7] == "Bearer " || authz[:7] == "bearer ") {
			token = authz[7:]
		}
		user, err := auth.Authenticate(db, cfg.JWTSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{
			conn:     conn,
			send:     make(chan []byte, 256),
			done:     make(chan struct{}),
			connID:   uuid.NewString(),
			userID:   user.UserID,
			username: user.Username,
			engine:   engine,
			registry: reg,
			limiter:  lim,
		}
		reg.Register(client.userID, client.username, client)
		metrics.WsConnections.Inc()
		log.Info().Str("user_id", client.userID).Str("conn_id", client.connID).Msg("user connected")

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.registry.Remove(c.userID, c.connID)
		c.limiter.Forget(c.connID)
		close(c.done)
		_ = c.conn.Close()
		metrics.WsConnections.Dec()
		log.Info().Str("user_id", c.userID).Str("conn_id", c.connID).Msg("user disconnected")
	}()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in inboundEvent
		if err := json.Unmarshal(data, &in); err != nil {
			c.Send(chat.MarshalError("malformed event"))
			continue
		}
		c.handle(in)
	}
}

// handle 单条事件的处理失败只影响当前连接，绝不拖垮进程。
func (c *Client) handle(in inboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("conn_id", c.connID).Str("event", in.Type).Msg("handler panic")
			c.Send(chat.MarshalError("internal error"))
		}
	}()
	ctx := context.Background()
	switch in.Type {
	case "send_message":
		if !c.limiter.Allow(c.connID) {
			metrics.ChatRateLimited.Inc()
			c.Send(chat.MarshalRateLimited())
			return
		}
		if _, err := c.engine.Send(ctx, c.userID, in.RecipientID, in.Content); err != nil {
			if errors.Is(err, chat.ErrInvalidArgs) {
				c.Send(chat.MarshalError("recipient and content are required"))
				return
			}
			log.Error().Err(err).Str("sender", c.userID).Msg("send message")
			c.Send(chat.MarshalError("failed to send message"))
		}
	case "broadcast_message":
		if !c.limiter.Allow(c.connID) {
			metrics.ChatRateLimited.Inc()
			c.Send(chat.MarshalRateLimited())
			return
		}
		if _, err := c.engine.Broadcast(ctx, c.userID, in.Content); err != nil {
			if errors.Is(err, chat.ErrInvalidArgs) {
				c.Send(chat.MarshalError("content is required"))
				return
			}
			log.Error().Err(err).Str("sender", c.userID).Msg("broadcast message")
			c.Send(chat.MarshalError("failed to send message"))
		}
	case "message_read":
		err := c.engine.MarkRead(ctx, in.MessageID, c.userID)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrNotFound):
			c.Send(chat.MarshalError("message not found"))
		case errors.Is(err, chat.ErrBroadcastStatus):
			c.Send(chat.MarshalError("broadcast messages have no status"))
		default:
			log.Error().Err(err).Uint("message_id", in.MessageID).Msg("mark read")
			c.Send(chat.MarshalError("failed to update message status"))
		}
	case "get_chat_history":
		if in.PeerID == "" {
			c.Send(chat.MarshalError("peer is required"))
			return
		}
		msgs, err := c.engine.History(ctx, c.userID, in.PeerID, 100)
		if err != nil {
			log.Error().Err(err).Str("requester", c.userID).Msg("chat history")
			c.Send(chat.MarshalError("failed to fetch chat history"))
			return
		}
		c.Send(chat.MarshalHistory(msgs))
	default:
		c.Send(chat.MarshalError("unknown event"))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
