package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/Ensarsahaneren/realtime/internal/metrics"
	"github.com/Ensarsahaneren/realtime/internal/models"
	"github.com/Ensarsahaneren/realtime/internal/presence"
	"github.com/Ensarsahaneren/realtime/internal/store"
	"github.com/rs/zerolog/log"
)

// Engine 是投递核心：落库、查询在线状态、直投或挂起，并把状态变化
// 通知回原发送方。挂起的消息没有后台重投，只在收件方下次拉取历史时
// 对账补投。
type Engine struct {
	store    *store.MessageStore
	presence *presence.Registry
}

func NewEngine(st *store.MessageStore, reg *presence.Registry) *Engine {
	return &Engine{store: st, presence: reg}
}

// Send 处理一条定向消息：校验、落库、回显给发送方，收件方在线则直投
// 并推进到 delivered。delivered 落库失败不回滚投递，只丢弃状态通知。
func (e *Engine) Send(ctx context.Context, senderID, recipientID, content string) (*models.Message, error) {
	if recipientID == "" || content == "" {
		return nil, ErrInvalidArgs
	}

	recipientConn, online := e.presence.Lookup(recipientID)
	status := models.StatusPending
	if online {
		status = models.StatusSent
	}
	msg := &models.Message{
		SenderID:    senderID,
		RecipientID: &recipientID,
		Content:     content,
		Status:      status,
		CreatedAt:   time.Now(),
	}
	if err := e.store.Persist(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	metrics.ChatMessagesSent.Inc()

	// 发送方总是先看到自己的消息。
	if senderConn, ok := e.presence.Lookup(senderID); ok {
		senderConn.Send(MarshalMessage(msg))
	}

	if !online {
		metrics.ChatMessagesPending.Inc()
		return msg, nil
	}

	// 先投给收件方，再推进状态：收件方必须先于状态通知看到消息。
	recipientConn.Send(MarshalMessage(msg))
	updated, err := e.store.UpdateStatus(ctx, msg.ID, models.StatusDelivered)
	if err != nil {
		log.Warn().Err(err).Uint("message_id", msg.ID).Msg("mark delivered")
		return msg, nil
	}
	metrics.ChatMessagesDelivered.Inc()
	if senderConn, ok := e.presence.Lookup(senderID); ok {
		senderConn.Send(MarshalStatus(updated.ID, updated.Status))
	}
	return updated, nil
}

// Broadcast 发送一条无收件人的广播，投给当前所有在线连接（含发送方），
// 广播消息永远不做 delivered/read 状态流转。
func (e *Engine) Broadcast(ctx context.Context, senderID, content string) (*models.Message, error) {
	if content == "" {
		return nil, ErrInvalidArgs
	}
	msg := &models.Message{
		SenderID:  senderID,
		Content:   content,
		Status:    models.StatusSent,
		CreatedAt: time.Now(),
	}
	if err := e.store.Persist(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist broadcast: %w", err)
	}
	metrics.ChatMessagesSent.Inc()
	e.presence.BroadcastAll(MarshalMessage(msg))
	return msg, nil
}

// MarkRead 把消息推进到 read 并通知原发送方。重复调用是无副作用的
// 成功，不会产生第二次通知。
func (e *Engine) MarkRead(ctx context.Context, messageID uint, readerID string) error {
	msg, err := e.store.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.RecipientID == nil {
		return ErrBroadcastStatus
	}
	if msg.Status == models.StatusRead {
		return nil
	}
	if _, err := e.store.UpdateStatus(ctx, messageID, models.StatusRead); err != nil {
		return err
	}
	log.Debug().Uint("message_id", messageID).Str("reader", readerID).Msg("message read")
	if senderConn, ok := e.presence.Lookup(msg.SenderID); ok {
		senderConn.Send(MarshalStatus(messageID, models.StatusRead))
	}
	return nil
}

// History 返回请求方与对端的会话（按时间升序）。发给请求方且尚未读的
// 消息被批量置为 read，对端在线时逐条收到状态通知。
func (e *Engine) History(ctx context.Context, requesterID, peerID string, limit int) ([]models.Message, error) {
	msgs, err := e.store.FindConversation(ctx, requesterID, peerID, limit)
	if err != nil {
		return nil, err
	}

	var unread []uint
	for i := range msgs {
		m := &msgs[i]
		if m.RecipientID != nil && *m.RecipientID == requesterID && m.Status != models.StatusRead {
			unread = append(unread, m.ID)
		}
	}
	if len(unread) == 0 {
		return msgs, nil
	}

	if err := e.store.UpdateStatusBatch(ctx, unread, models.StatusRead); err != nil {
		log.Warn().Err(err).Str("requester", requesterID).Msg("batch mark read")
		return msgs, nil
	}
	for i := range msgs {
		m := &msgs[i]
		if m.RecipientID != nil && *m.RecipientID == requesterID {
			m.Status = models.StatusRead
		}
	}
	if peerConn, ok := e.presence.Lookup(peerID); ok {
		for _, id := range unread {
			peerConn.Send(MarshalStatus(id, models.StatusRead))
		}
	}
	return msgs, nil
}
