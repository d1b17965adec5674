package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/presence"
)

// HandlerFunc 客户端事件处理器，按事件名注册
type HandlerFunc func(c *Client, payload json.RawMessage)

// DepartmentLookup 查询用户所属部门，连接和断开时各查一次（不在连接上缓存）
type DepartmentLookup func(ctx context.Context, userID uint) ([]uint, error)

// Gateway 实时网关。每个进程一个显式实例，依赖注入，不用全局单例。
// 三种寻址方式：会话房间广播、按用户直发、在线客服（或部门）群发。
// 所有推送都是 fire-and-forget：不确认、不重试，掉线的客户端靠自己重新拉取补齐。
type Gateway struct {
	presence *presence.Registry
	deptsOf  DepartmentLookup

	mu      sync.RWMutex
	clients map[string]*Client          // socketID => client
	rooms   map[uint]map[string]*Client // conversationID => socketID => client

	handlers map[string]HandlerFunc
}

func NewGateway(registry *presence.Registry, deptsOf DepartmentLookup) *Gateway {
	g := &Gateway{
		presence: registry,
		deptsOf:  deptsOf,
		clients:  make(map[string]*Client),
		rooms:    make(map[uint]map[string]*Client),
		handlers: make(map[string]HandlerFunc),
	}
	// 内置的订阅/输入中事件
	g.On(EventSubscribeConversation, g.handleSubscribe)
	g.On(EventUnsubscribeConversation, g.handleUnsubscribe)
	g.On(EventTyping, g.handleTyping)
	return g
}

// On 注册客户端事件处理器
func (g *Gateway) On(event string, h HandlerFunc) {
	g.handlers[event] = h
}

func (g *Gateway) dispatch(c *Client, env Envelope) {
	h, ok := g.handlers[env.Type]
	if !ok {
		return
	}
	h(c, env.Payload)
}

// Register 接入一个已认证连接：登记 presence 映射、在线集合、部门集合，
// 并向所有在线客服广播上线事件。调用方负责启动读写泵。
func (g *Gateway) Register(ctx context.Context, conn *websocket.Conn, userID uint, fullName string) *Client {
	cctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		SocketID: uuid.New().String(),
		UserID:   userID,
		FullName: fullName,
		Conn:     conn,
		Send:     make(chan map[string]interface{}, 256),
		ctx:      cctx,
		cancel:   cancel,
		gateway:  g,
	}

	g.mu.Lock()
	g.clients[client.SocketID] = client
	g.mu.Unlock()

	// 同一用户二次登录直接覆盖旧映射，事件只发给最新连接
	if err := g.presence.Put(ctx, userID, client.SocketID); err != nil {
		log.Printf("Failed to register presence for user %d: %v", userID, err)
	}
	if err := g.presence.AddOnline(ctx, userID); err != nil {
		log.Printf("Failed to add user %d to online set: %v", userID, err)
	}
	if deptIDs, err := g.deptsOf(ctx, userID); err != nil {
		log.Printf("Failed to load departments for user %d: %v", userID, err)
	} else {
		for _, deptID := range deptIDs {
			if err := g.presence.AddToDepartment(ctx, deptID, userID); err != nil {
				log.Printf("Failed to add user %d to department %d set: %v", userID, deptID, err)
			}
		}
	}

	g.BroadcastAttendants(ctx, EventAttendantOnline, map[string]interface{}{
		"user_id":   userID,
		"full_name": fullName,
	})

	return client
}

func (g *Gateway) unregister(c *Client) {
	g.mu.Lock()
	delete(g.clients, c.SocketID)
	for conversationID, members := range g.rooms {
		delete(members, c.SocketID)
		if len(members) == 0 {
			delete(g.rooms, conversationID)
		}
	}
	g.mu.Unlock()

	ctx := context.Background()

	// 二次登录后旧连接才断开时，映射已指向新 socket，不能误删
	current, ok, err := g.presence.Get(ctx, c.UserID)
	if err != nil {
		log.Printf("Failed to look up presence for user %d: %v", c.UserID, err)
	}
	if ok && current != c.SocketID {
		return
	}

	if err := g.presence.Remove(ctx, c.UserID); err != nil {
		log.Printf("Failed to remove presence for user %d: %v", c.UserID, err)
	}
	if err := g.presence.RemoveOnline(ctx, c.UserID); err != nil {
		log.Printf("Failed to remove user %d from online set: %v", c.UserID, err)
	}
	// 部门集合在断开时重新查询，成员关系可能在连接期间变过
	if deptIDs, err := g.deptsOf(ctx, c.UserID); err != nil {
		log.Printf("Failed to load departments for user %d: %v", c.UserID, err)
	} else {
		for _, deptID := range deptIDs {
			if err := g.presence.RemoveFromDepartment(ctx, deptID, c.UserID); err != nil {
				log.Printf("Failed to remove user %d from department %d set: %v", c.UserID, deptID, err)
			}
		}
	}

	g.BroadcastAttendants(ctx, EventAttendantOffline, map[string]interface{}{
		"user_id": c.UserID,
	})
}

// Subscribe 把连接加入会话房间
func (g *Gateway) Subscribe(c *Client, conversationID uint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	members, ok := g.rooms[conversationID]
	if !ok {
		members = make(map[string]*Client)
		g.rooms[conversationID] = members
	}
	members[c.SocketID] = c
}

// Unsubscribe 把连接移出会话房间
func (g *Gateway) Unsubscribe(c *Client, conversationID uint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if members, ok := g.rooms[conversationID]; ok {
		delete(members, c.SocketID)
		if len(members) == 0 {
			delete(g.rooms, conversationID)
		}
	}
}

// EmitToRoom 向会话房间内所有连接广播
func (g *Gateway) EmitToRoom(conversationID uint, event string, payload interface{}) {
	g.mu.RLock()
	members := make([]*Client, 0, len(g.rooms[conversationID]))
	for _, c := range g.rooms[conversationID] {
		members = append(members, c)
	}
	g.mu.RUnlock()

	for _, c := range members {
		g.send(c, event, payload)
	}
}

// EmitToUser 按用户直发。用户不在线时静默跳过，不算错误。
func (g *Gateway) EmitToUser(ctx context.Context, userID uint, event string, payload interface{}) {
	socketID, ok, err := g.presence.Get(ctx, userID)
	if err != nil {
		log.Printf("Failed to resolve socket for user %d: %v", userID, err)
		return
	}
	if !ok {
		return
	}

	g.mu.RLock()
	c, found := g.clients[socketID]
	g.mu.RUnlock()
	if !found {
		return
	}
	g.send(c, event, payload)
}

// BroadcastAttendants 向所有在线客服群发
func (g *Gateway) BroadcastAttendants(ctx context.Context, event string, payload interface{}) {
	userIDs, err := g.presence.OnlineAttendants(ctx)
	if err != nil {
		log.Printf("Failed to list online attendants: %v", err)
		return
	}
	for _, userID := range userIDs {
		g.EmitToUser(ctx, userID, event, payload)
	}
}

// BroadcastDepartment 向指定部门的在线客服群发。
// 机器人交接时部门内所有在线客服同时收到提醒，谁先接管算谁的，这里不做抢占锁。
func (g *Gateway) BroadcastDepartment(ctx context.Context, departmentID uint, event string, payload interface{}) {
	userIDs, err := g.presence.DepartmentAttendants(ctx, departmentID)
	if err != nil {
		log.Printf("Failed to list department %d attendants: %v", departmentID, err)
		return
	}
	for _, userID := range userIDs {
		g.EmitToUser(ctx, userID, event, payload)
	}
}

// 发送队列满了直接丢弃，推送本身不保证送达
func (g *Gateway) send(c *Client, event string, payload interface{}) {
	msg := map[string]interface{}{
		"type":    event,
		"payload": payload,
	}
	select {
	case c.Send <- msg:
	default:
		log.Printf("Client %s send buffer full, dropping %s event", c.SocketID, event)
	}
}

func (g *Gateway) handleSubscribe(c *Client, payload json.RawMessage) {
	var p SubscribePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == 0 {
		return
	}
	g.Subscribe(c, p.ConversationID)
}

func (g *Gateway) handleUnsubscribe(c *Client, payload json.RawMessage) {
	var p SubscribePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == 0 {
		return
	}
	g.Unsubscribe(c, p.ConversationID)
}

// 输入中状态转发给房间里除发送者以外的成员
func (g *Gateway) handleTyping(c *Client, payload json.RawMessage) {
	var p TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == 0 {
		return
	}

	g.mu.RLock()
	members := make([]*Client, 0, len(g.rooms[p.ConversationID]))
	for _, member := range g.rooms[p.ConversationID] {
		if member.SocketID == c.SocketID {
			continue
		}
		members = append(members, member)
	}
	g.mu.RUnlock()

	for _, member := range members {
		g.send(member, EventTyping, map[string]interface{}{
			"conversation_id": p.ConversationID,
			"user_id":         c.UserID,
			"full_name":       c.FullName,
			"is_typing":       p.IsTyping,
		})
	}
}
