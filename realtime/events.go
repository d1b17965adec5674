package realtime

import "encoding/json"

// 服务端 => 客户端
const (
	EventNewMessage         = "new_message"
	EventConversationUpdate = "conversation_update"
	EventNewConversation    = "new_conversation"
	EventAttendantOnline    = "attendant_online"
	EventAttendantOffline   = "attendant_offline"
)

// 客户端 => 服务端
const (
	EventSubscribeConversation   = "subscribe:conversation"
	EventUnsubscribeConversation = "unsubscribe:conversation"
	EventTyping                  = "typing"
)

// Envelope 套接字通道上的统一消息格式
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type SubscribePayload struct {
	ConversationID uint `json:"conversation_id"`
}

type TypingPayload struct {
	ConversationID uint `json:"conversation_id"`
	IsTyping       bool `json:"is_typing"`
}
