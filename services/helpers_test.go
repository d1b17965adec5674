package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrateAll(db))
	return db
}

func createDepartment(t *testing.T, db *gorm.DB, name string, order int) *models.Department {
	t.Helper()

	dept := &models.Department{Name: name, Order: order, IsActive: true}
	require.NoError(t, db.Create(dept).Error)
	return dept
}

func createUser(t *testing.T, db *gorm.DB, fullName string) *models.User {
	t.Helper()

	user := &models.User{Email: fullName + "@example.com", FullName: fullName, Role: "attendant", IsActive: true}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createConversation(t *testing.T, db *gorm.DB, customerID uint) *models.Conversation {
	t.Helper()

	svc := NewConversationService(db)
	conversation, created, err := svc.GetOrCreate(customerID)
	require.NoError(t, err)
	require.True(t, created)
	return conversation
}

// notifyCall 记录一次实时推送，方便断言寻址范围
type notifyCall struct {
	Kind   string // room, user, attendants, department
	Target uint
	Event  string
}

type fakeNotifier struct {
	calls []notifyCall
}

func (f *fakeNotifier) EmitToRoom(conversationID uint, event string, payload interface{}) {
	f.calls = append(f.calls, notifyCall{Kind: "room", Target: conversationID, Event: event})
}

func (f *fakeNotifier) EmitToUser(ctx context.Context, userID uint, event string, payload interface{}) {
	f.calls = append(f.calls, notifyCall{Kind: "user", Target: userID, Event: event})
}

func (f *fakeNotifier) BroadcastAttendants(ctx context.Context, event string, payload interface{}) {
	f.calls = append(f.calls, notifyCall{Kind: "attendants", Event: event})
}

func (f *fakeNotifier) BroadcastDepartment(ctx context.Context, departmentID uint, event string, payload interface{}) {
	f.calls = append(f.calls, notifyCall{Kind: "department", Target: departmentID, Event: event})
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) SendText(ctx context.Context, to, body string) error {
	f.sent = append(f.sent, body)
	return f.err
}

type fakePublisher struct {
	events []string
}

func (f *fakePublisher) Publish(eventType string, key string, payload interface{}) {
	f.events = append(f.events, eventType)
}
