package store

import (
	"context"
	"errors"

	"github.com/Ensarsahaneren/realtime/internal/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("message not found")
	ErrStatusRegression = errors.New("status regression")
)

// MessageStore 封装消息的持久化契约，实时通道和 HTTP 接口共用同一实现，
// 保证两侧看到的内容和状态一致。
type MessageStore struct {
	db *gorm.DB
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Persist(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *MessageStore) FindByID(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// UpdateStatus 推进消息状态；状态只能前进，回退请求返回 ErrStatusRegression。
func (s *MessageStore) UpdateStatus(ctx context.Context, id uint, status string) (*models.Message, error) {
	msg, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if models.StatusRank(status) < models.StatusRank(msg.Status) {
		return nil, ErrStatusRegression
	}
	if msg.Status == status {
		return msg, nil
	}
	if err := s.db.WithContext(ctx).Model(msg).Update("status", status).Error; err != nil {
		return nil, err
	}
	msg.Status = status
	return msg, nil
}

// UpdateStatusBatch 将一批消息整体推进到目标状态，用于历史拉取时的批量已读。
func (s *MessageStore) UpdateStatusBatch(ctx context.Context, ids []uint, status string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id IN ?", ids).
		Update("status", status).Error
}

// FindConversation 返回两个用户之间双向的消息，按创建时间升序。
func (s *MessageStore) FindConversation(ctx context.Context, a, b string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)", a, b, b, a).
		Order("created_at asc, id asc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// FindByUser 返回某用户收发的全部消息，按时间倒序（最新在前）。
func (s *MessageStore) FindByUser(ctx context.Context, userID string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("sender_id = ? OR recipient_id = ?", userID, userID).
		Order("created_at desc, id desc").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *MessageStore) UpdateContent(ctx context.Context, id uint, content string) (*models.Message, error) {
	msg, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(msg).Update("content", content).Error; err != nil {
		return nil, err
	}
	msg.Content = content
	return msg, nil
}

func (s *MessageStore) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Message{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
