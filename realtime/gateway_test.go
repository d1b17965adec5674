package realtime

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/presence"
)

func newTestGateway(t *testing.T, deptIDs ...uint) (*Gateway, *presence.Registry) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	registry := presence.NewRegistry(client)
	gateway := NewGateway(registry, func(ctx context.Context, userID uint) ([]uint, error) {
		return deptIDs, nil
	})
	return gateway, registry
}

func drain(c *Client) []map[string]interface{} {
	var out []map[string]interface{}
	for {
		select {
		case msg := <-c.Send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestRegisterTracksPresence(t *testing.T) {
	ctx := context.Background()
	gateway, registry := newTestGateway(t, 10)

	client := gateway.Register(ctx, nil, 1, "Ana")
	require.NotEmpty(t, client.SocketID)

	socketID, ok, err := registry.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, client.SocketID, socketID)

	online, err := registry.OnlineAttendants(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1}, online)

	members, err := registry.DepartmentAttendants(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1}, members)
}

func TestEmitToRoomReachesSubscribersOnly(t *testing.T) {
	ctx := context.Background()
	gateway, _ := newTestGateway(t)

	ana := gateway.Register(ctx, nil, 1, "Ana")
	bruno := gateway.Register(ctx, nil, 2, "Bruno")
	drain(ana)
	drain(bruno)

	gateway.Subscribe(ana, 77)
	gateway.EmitToRoom(77, EventNewMessage, map[string]interface{}{"content": "oi"})

	anaMsgs := drain(ana)
	require.Len(t, anaMsgs, 1)
	assert.Equal(t, EventNewMessage, anaMsgs[0]["type"])
	assert.Empty(t, drain(bruno))

	// 退订之后不再收到
	gateway.Unsubscribe(ana, 77)
	gateway.EmitToRoom(77, EventNewMessage, nil)
	assert.Empty(t, drain(ana))
}

func TestEmitToUserIsNoopWhenOffline(t *testing.T) {
	ctx := context.Background()
	gateway, _ := newTestGateway(t)

	// 没人在线，不报错也不炸
	gateway.EmitToUser(ctx, 42, EventNewMessage, nil)
}

func TestBroadcastAttendantsReachesEveryone(t *testing.T) {
	ctx := context.Background()
	gateway, _ := newTestGateway(t)

	ana := gateway.Register(ctx, nil, 1, "Ana")
	bruno := gateway.Register(ctx, nil, 2, "Bruno")
	drain(ana)
	drain(bruno)

	gateway.BroadcastAttendants(ctx, EventConversationUpdate, nil)
	require.Len(t, drain(ana), 1)
	require.Len(t, drain(bruno), 1)
}

// 二次登录后旧连接断开，不能把新连接的 presence 误删掉
func TestStaleDisconnectKeepsNewestMapping(t *testing.T) {
	ctx := context.Background()
	gateway, registry := newTestGateway(t)

	old := gateway.Register(ctx, nil, 1, "Ana")
	newer := gateway.Register(ctx, nil, 1, "Ana")

	gateway.unregister(old)

	socketID, ok, err := registry.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newer.SocketID, socketID)

	online, err := registry.OnlineAttendants(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1}, online)
}

func TestUnregisterCleansUpPresence(t *testing.T) {
	ctx := context.Background()
	gateway, registry := newTestGateway(t, 10)

	client := gateway.Register(ctx, nil, 1, "Ana")
	gateway.Subscribe(client, 77)
	drain(client)

	gateway.unregister(client)

	_, ok, err := registry.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	online, err := registry.OnlineAttendants(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)

	members, err := registry.DepartmentAttendants(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, members)

	// 房间里也不能残留
	gateway.EmitToRoom(77, EventNewMessage, nil)
	assert.Empty(t, drain(client))
}
