package chat

import "errors"

// 业务层通用错误，handler 可根据错误类型映射到合适的响应。
var (
	ErrInvalidArgs     = errors.New("recipient and content are required")
	ErrBroadcastStatus = errors.New("broadcast messages have no delivery status")
)
