package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	socketHashKey = "presence:sockets" // userID => socketID，1:1，后写覆盖
	onlineSetKey  = "presence:online_attendants"
)

func departmentSetKey(departmentID uint) string {
	return fmt.Sprintf("presence:department:%d:attendants", departmentID)
}

// Registry 在线状态登记表，记录每个用户当前的 socket 连接
// 以及在线客服集合、各部门在线客服集合。连接断开即失效，不做持久化保证。
type Registry struct {
	rdb *redis.Client
}

func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

// Put 登记用户当前的 socketID。同一用户重复登录时直接覆盖旧映射，
// 之后的事件只会派发到最新的连接。
func (r *Registry) Put(ctx context.Context, userID uint, socketID string) error {
	return r.rdb.HSet(ctx, socketHashKey, strconv.FormatUint(uint64(userID), 10), socketID).Err()
}

// Get 查询用户当前的 socketID，不在线时 ok=false
func (r *Registry) Get(ctx context.Context, userID uint) (socketID string, ok bool, err error) {
	socketID, err = r.rdb.HGet(ctx, socketHashKey, strconv.FormatUint(uint64(userID), 10)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return socketID, true, nil
}

func (r *Registry) Remove(ctx context.Context, userID uint) error {
	return r.rdb.HDel(ctx, socketHashKey, strconv.FormatUint(uint64(userID), 10)).Err()
}

func (r *Registry) AddOnline(ctx context.Context, userID uint) error {
	return r.rdb.SAdd(ctx, onlineSetKey, strconv.FormatUint(uint64(userID), 10)).Err()
}

func (r *Registry) RemoveOnline(ctx context.Context, userID uint) error {
	return r.rdb.SRem(ctx, onlineSetKey, strconv.FormatUint(uint64(userID), 10)).Err()
}

func (r *Registry) AddToDepartment(ctx context.Context, departmentID, userID uint) error {
	return r.rdb.SAdd(ctx, departmentSetKey(departmentID), strconv.FormatUint(uint64(userID), 10)).Err()
}

func (r *Registry) RemoveFromDepartment(ctx context.Context, departmentID, userID uint) error {
	return r.rdb.SRem(ctx, departmentSetKey(departmentID), strconv.FormatUint(uint64(userID), 10)).Err()
}

// OnlineAttendants 当前所有在线客服
func (r *Registry) OnlineAttendants(ctx context.Context) ([]uint, error) {
	return r.membersOf(ctx, onlineSetKey)
}

// DepartmentAttendants 指定部门的在线客服
func (r *Registry) DepartmentAttendants(ctx context.Context, departmentID uint) ([]uint, error) {
	return r.membersOf(ctx, departmentSetKey(departmentID))
}

func (r *Registry) membersOf(ctx context.Context, setKey string) ([]uint, error) {
	members, err := r.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		id, parseErr := strconv.ParseUint(m, 10, 32)
		if parseErr != nil {
			continue
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
