package chat

import (
	"encoding/json"
	"time"

	"github.com/Ensarsahaneren/realtime/internal/models"
	"github.com/Ensarsahaneren/realtime/internal/presence"
)

// 线协议事件类型。客户端到服务端：send_message、broadcast_message、
// message_read、get_chat_history；服务端到客户端：receive_message、
// message_status、users_list、rate_limited、error。
const (
	EventReceiveMessage = "receive_message"
	EventMessageStatus  = "message_status"
	EventUsersList      = "users_list"
	EventRateLimited    = "rate_limited"
	EventError          = "error"
)

// MessageDTO 是对外输出的消息数据。
type MessageDTO struct {
	ID          uint      `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID *string   `json:"recipient_id"`
	Content     string    `json:"content"`
	AudioURL    string    `json:"audio_url,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func ToDTO(m *models.Message) MessageDTO {
	return MessageDTO{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		AudioURL:    m.AudioURL,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
	}
}

func MarshalMessage(m *models.Message) []byte {
	b, _ := json.Marshal(struct {
		Type    string     `json:"type"`
		Message MessageDTO `json:"message"`
	}{EventReceiveMessage, ToDTO(m)})
	return b
}

func MarshalHistory(msgs []models.Message) []byte {
	out := make([]MessageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, ToDTO(&msgs[i]))
	}
	b, _ := json.Marshal(struct {
		Type     string       `json:"type"`
		Messages []MessageDTO `json:"messages"`
	}{EventReceiveMessage, out})
	return b
}

func MarshalStatus(messageID uint, status string) []byte {
	b, _ := json.Marshal(struct {
		Type      string `json:"type"`
		MessageID uint   `json:"message_id"`
		Status    string `json:"status"`
	}{EventMessageStatus, messageID, status})
	return b
}

func MarshalUsersList(users []presence.UserInfo) []byte {
	b, _ := json.Marshal(struct {
		Type  string              `json:"type"`
		Users []presence.UserInfo `json:"users"`
	}{EventUsersList, users})
	return b
}

func MarshalRateLimited() []byte {
	b, _ := json.Marshal(struct {
		Type string `json:"type"`
	}{EventRateLimited})
	return b
}

func MarshalError(message string) []byte {
	b, _ := json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{EventError, message})
	return b
}
