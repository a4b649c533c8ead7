package models

import "time"

// 消息状态只能沿 sent/pending → delivered → read 单向前进。
const (
	StatusSent      = "sent"
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// StatusRank 返回状态在流转链路中的序号，用于禁止状态回退。
func StatusRank(status string) int {
	switch status {
	case StatusSent, StatusPending:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

type User struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       string `gorm:"uniqueIndex;size:64;not null"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message 持久化后归 Store 所有；RecipientID 为空表示广播消息。
type Message struct {
	ID          uint      `gorm:"primaryKey"`
	SenderID    string    `gorm:"index:idx_msg_sender;size:64;not null"`
	RecipientID *string   `gorm:"index:idx_msg_recipient;size:64"`
	Content     string    `gorm:"type:text"`
	AudioURL    string    `gorm:"size:256"`
	Status      string    `gorm:"size:16;not null;default:sent"`
	CreatedAt   time.Time `gorm:"index"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"index;size:64;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
