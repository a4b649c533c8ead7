package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Ensarsahaneren/realtime/internal/auth"
	"github.com/Ensarsahaneren/realtime/internal/chat"
	"github.com/Ensarsahaneren/realtime/internal/config"
	"github.com/Ensarsahaneren/realtime/internal/models"
	"github.com/Ensarsahaneren/realtime/internal/service"
	"github.com/Ensarsahaneren/realtime/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层与投递引擎。
// 消息相关接口和实时通道共用同一个 Store，内容与状态保持一致。
type Handler struct {
	userSvc *service.UserService
	engine  *chat.Engine
	msgs    *store.MessageStore
	cfg     config.Config
}

func NewHandler(userSvc *service.UserService, engine *chat.Engine, msgs *store.MessageStore, cfg config.Config) *Handler {
	return &Handler{userSvc: userSvc, engine: engine, msgs: msgs, cfg: cfg}
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.userSvc.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": result.UserID, "username": result.Username})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"user_id": result.User.UserID, "username": result.User.Username},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": result.AccessToken, "refresh_token": result.RefreshToken})
}

// MessageHistory 返回某用户收发的全部消息，按时间倒序。
func (h *Handler) MessageHistory(c *gin.Context) {
	userID := c.Param("userID")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	msgs, err := h.msgs.FindByUser(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("message history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	out := make([]chat.MessageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, chat.ToDTO(&msgs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// EditMessage 修改消息内容。
func (h *Handler) EditMessage(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.msgs.UpdateContent(c.Request.Context(), uint(id), req.Content)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		log.Error().Err(err).Int("message_id", id).Msg("edit message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update message"})
		return
	}
	c.JSON(http.StatusOK, chat.ToDTO(msg))
}

// MarkMessageRead 通过 HTTP 将消息置为已读，走与实时通道相同的引擎，
// 原发送方在线时同样会收到状态通知。
func (h *Handler) MarkMessageRead(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	err = h.engine.MarkRead(c.Request.Context(), uint(id), auth.GetUserID(c))
	switch {
	case err == nil:
		msg, ferr := h.msgs.FindByID(c.Request.Context(), uint(id))
		if ferr != nil {
			c.JSON(http.StatusOK, gin.H{"message_id": id, "status": models.StatusRead})
			return
		}
		c.JSON(http.StatusOK, chat.ToDTO(msg))
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, chat.ErrBroadcastStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "broadcast messages have no status"})
	default:
		log.Error().Err(err).Int("message_id", id).Msg("mark message read")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update message status"})
	}
}

// DeleteMessage 删除消息。
func (h *Handler) DeleteMessage(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	if err := h.msgs.Delete(c.Request.Context(), uint(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		log.Error().Err(err).Int("message_id", id).Msg("delete message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "message deleted"})
}

// UploadAudio 接收音频附件，落盘后持久化一条带 AudioURL 的消息。
func (h *Handler) UploadAudio(c *gin.Context) {
	file, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio file is required"})
		return
	}
	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", h.cfg.UploadDir).Msg("create upload dir")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store audio"})
		return
	}
	name := uuid.NewString() + "-" + filepath.Base(file.Filename)
	if err := c.SaveUploadedFile(file, filepath.Join(h.cfg.UploadDir, name)); err != nil {
		log.Error().Err(err).Str("file", name).Msg("save audio")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store audio"})
		return
	}

	msg := &models.Message{
		SenderID: auth.GetUserID(c),
		AudioURL: "/api/v1/messages/audio/" + name,
		Status:   models.StatusSent,
	}
	if recipient := c.PostForm("recipient_id"); recipient != "" {
		msg.RecipientID = &recipient
	}
	if err := h.msgs.Persist(c.Request.Context(), msg); err != nil {
		log.Error().Err(err).Msg("persist audio message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store audio"})
		return
	}
	c.JSON(http.StatusOK, chat.ToDTO(msg))
}

// ServeAudio 按文件名回放已存储的音频附件。
func (h *Handler) ServeAudio(c *gin.Context) {
	filename := c.Param("filename")
	if filename == "" || strings.Contains(filename, "..") || strings.ContainsAny(filename, "/\\") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
		return
	}
	path := filepath.Join(h.cfg.UploadDir, filename)
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "audio not found"})
		return
	}
	c.File(path)
}
