package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/models"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/realtime"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrateAll(db))
	return db
}

type notifyCall struct {
	Kind   string
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

func (f *fakeNotifier) eventsOf(kind string) []string {
	var events []string
	for _, call := range f.calls {
		if call.Kind == kind {
			events = append(events, call.Event)
		}
	}
	return events
}

type fakeSender struct {
	sent []string
}

func (f *fakeSender) SendText(ctx context.Context, to, body string) error {
	f.sent = append(f.sent, body)
	return nil
}

type webhookFixture struct {
	db       *gorm.DB
	handler  *WebhookHandler
	notifier *fakeNotifier
	sender   *fakeSender
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	db := newTestDB(t)
	notifier := &fakeNotifier{}
	sender := &fakeSender{}
	conversations := services.NewConversationService(db)
	bot := services.NewBotService(services.NewTemplateService(db), services.NewDirectoryService(db))
	handler := NewWebhookHandler("verify-secret", conversations, bot, notifier, sender, nil)
	return &webhookFixture{db: db, handler: handler, notifier: notifier, sender: sender}
}

func textMessage(from, id, body string) inboundMessage {
	return inboundMessage{
		From:      from,
		ID:        id,
		Type:      "text",
		Timestamp: "1700000000",
		Text:      &textContent{Body: body},
	}
}

func messagesPayload(contactName string, messages ...inboundMessage) webhookPayload {
	value := webhookValue{Messages: messages}
	if contactName != "" {
		contact := inboundContact{}
		contact.Profile.Name = contactName
		value.Contacts = []inboundContact{contact}
	}
	return webhookPayload{
		Entry: []webhookEntry{{
			Changes: []webhookChange{{Field: "messages", Value: value}},
		}},
	}
}

func TestVerifyEchoesChallenge(t *testing.T) {
	f := newWebhookFixture(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=verify-secret&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, f.handler.Verify(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestVerifyRejectsBadToken(t *testing.T) {
	f := newWebhookFixture(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, f.handler.Verify(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// 渠道把非 2xx 当投递失败，哪怕载荷是坏的也必须先确认
func TestReceiveAlwaysAcknowledges(t *testing.T) {
	f := newWebhookFixture(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	require.NoError(t, f.handler.Receive(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EVENT_RECEIVED", rec.Body.String())
}

func TestProcessCreatesCustomerConversationAndMessage(t *testing.T) {
	f := newWebhookFixture(t)

	f.handler.process(messagesPayload("Maria", textMessage("5511999990000", "wamid.1", "oi")))

	var customer models.Customer
	require.NoError(t, f.db.Where("phone = ?", "5511999990000").First(&customer).Error)
	assert.Equal(t, "Maria", customer.Name)

	var conversation models.Conversation
	require.NoError(t, f.db.Where("customer_id = ?", customer.ID).First(&conversation).Error)
	assert.Equal(t, models.ConversationOpen, conversation.Status)

	var inbound models.Message
	require.NoError(t, f.db.Where("conversation_id = ? AND sender_type = ?",
		conversation.ID, models.SenderCustomer).First(&inbound).Error)
	assert.Equal(t, "oi", inbound.Content)
	assert.Equal(t, "wamid.1", inbound.ExternalMessageID)

	// 机器人回了主菜单并通过渠道发送
	var botReply models.Message
	require.NoError(t, f.db.Where("conversation_id = ? AND sender_type = ?",
		conversation.ID, models.SenderBot).First(&botReply).Error)
	assert.Contains(t, botReply.Content, services.FallbackGreeting)
	require.NotEmpty(t, f.sender.sent)
	assert.Equal(t, botReply.Content, f.sender.sent[0])

	// 新消息三路分发
	assert.Contains(t, f.notifier.eventsOf("room"), realtime.EventNewMessage)
	assert.Contains(t, f.notifier.eventsOf("attendants"), realtime.EventNewMessage)
}

func TestProcessIgnoresNonMessageChanges(t *testing.T) {
	f := newWebhookFixture(t)

	f.handler.process(webhookPayload{
		Entry: []webhookEntry{{
			Changes: []webhookChange{
				{Field: "statuses", Value: webhookValue{Messages: []inboundMessage{textMessage("5511999990000", "wamid.1", "oi")}}},
				{Field: "messages", Value: webhookValue{}}, // 空消息数组同样忽略
			},
		}},
	})

	var count int64
	require.NoError(t, f.db.Model(&models.Customer{}).Count(&count).Error)
	assert.Zero(t, count)
}

// 没有按渠道消息ID去重：同一事件重投会落两条记录
func TestProcessRedeliveryDuplicatesMessage(t *testing.T) {
	f := newWebhookFixture(t)

	payload := messagesPayload("Maria", textMessage("5511999990000", "wamid.1", "oi"))
	f.handler.process(payload)
	f.handler.process(payload)

	var count int64
	require.NoError(t, f.db.Model(&models.Message{}).
		Where("external_message_id = ?", "wamid.1").Count(&count).Error)
	assert.EqualValues(t, 2, count)

	// 但会话仍然只有一条
	var conversations int64
	require.NoError(t, f.db.Model(&models.Conversation{}).Count(&conversations).Error)
	assert.EqualValues(t, 1, conversations)
}

func TestProcessRoutesHandoffToDepartment(t *testing.T) {
	f := newWebhookFixture(t)
	require.NoError(t, f.db.Create(&models.Department{Name: "Sales", Order: 1, IsActive: true}).Error)
	support := &models.Department{Name: "Support", Order: 2, IsActive: true}
	require.NoError(t, f.db.Create(support).Error)

	f.handler.process(messagesPayload("Maria", textMessage("5511999990000", "wamid.1", "1")))
	f.handler.process(messagesPayload("Maria", textMessage("5511999990000", "wamid.2", "2")))

	var conversation models.Conversation
	require.NoError(t, f.db.First(&conversation).Error)
	assert.True(t, conversation.NeedsHumanAttention)
	require.NotNil(t, conversation.DepartmentID)
	assert.Equal(t, support.ID, *conversation.DepartmentID)

	// Support 部门的在线客服收到了新会话提醒
	found := false
	for _, call := range f.notifier.calls {
		if call.Kind == "department" && call.Event == realtime.EventNewConversation {
			assert.Equal(t, support.ID, call.Target)
			found = true
		}
	}
	assert.True(t, found, "expected a department broadcast for the handoff")
}

func TestProcessNotifiesAssignedAttendantDirectly(t *testing.T) {
	f := newWebhookFixture(t)

	attendant := &models.User{Email: "ana@example.com", FullName: "Ana", Role: "attendant", IsActive: true}
	require.NoError(t, f.db.Create(attendant).Error)

	f.handler.process(messagesPayload("Maria", textMessage("5511999990000", "wamid.1", "oi")))

	var conversation models.Conversation
	require.NoError(t, f.db.First(&conversation).Error)
	require.NoError(t, f.db.Model(&conversation).Updates(map[string]interface{}{
		"assigned_user_id": attendant.ID,
		"is_bot_active":    false,
	}).Error)
	f.notifier.calls = nil

	f.handler.process(messagesPayload("Maria", textMessage("5511999990000", "wamid.2", "ainda estou aqui")))

	direct := false
	for _, call := range f.notifier.calls {
		if call.Kind == "user" && call.Target == attendant.ID {
			direct = true
		}
	}
	assert.True(t, direct, "assigned attendant gets a direct notification")

	// 机器人已经停了，不再回复
	var botMessages int64
	require.NoError(t, f.db.Model(&models.Message{}).
		Where("sender_type = ?", models.SenderBot).Count(&botMessages).Error)
	assert.EqualValues(t, 1, botMessages)
}
