package services

import "context"

// Notifier 实时事件出口，由 realtime.Gateway 实现。
// 服务层只关心寻址方式，不关心连接细节。
type Notifier interface {
	EmitToRoom(conversationID uint, event string, payload interface{})
	EmitToUser(ctx context.Context, userID uint, event string, payload interface{})
	BroadcastAttendants(ctx context.Context, event string, payload interface{})
	BroadcastDepartment(ctx context.Context, departmentID uint, event string, payload interface{})
}

// OutboundSender 渠道侧的消息发送接口，由 whatsapp.Client 实现
type OutboundSender interface {
	SendText(ctx context.Context, to, body string) error
}

// EventPublisher 会话生命周期事件的下游管道（kafka），失败只记日志
type EventPublisher interface {
	Publish(eventType string, key string, payload interface{})
}
