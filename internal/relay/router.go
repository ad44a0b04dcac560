package relay

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/backend"
	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/events"
	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/metrics"
	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/presence"
)

// Backend request bodies, field names fixed by the REST contract.
type sendMessageReq struct {
	MessageID      string          `json:"message_id"`
	ConversationID string          `json:"conversation_id"`
	Message        string          `json:"message"`
	SenderID       string          `json:"sender_id"`
	Time           string          `json:"time,omitempty"`
	ParentID       json.RawMessage `json:"parent_id,omitempty"`
	SentFiles      json.RawMessage `json:"sentFiles,omitempty"`
}

type receiptReq struct {
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	SenderID       string `json:"sender_id"`
}

type updateMessageReq struct {
	Message   string `json:"message"`
	MessageID string `json:"message_id"`
}

type deleteMessageReq struct {
	MessageID string `json:"message_id"`
}

// Router classifies inbound frames and drives the backend call plus fan-out
// for each kind. Ordering is write-then-notify: for mutation kinds a failed
// backend call aborts fan-out, since peers must not hear about a mutation
// that was never recorded. Activity kinds skip the backend entirely.
type Router struct {
	hub      *Hub
	backend  *backend.Client
	members  *backend.MemberCache
	producer *events.Producer
	presence *presence.Store
	log      *zap.SugaredLogger
}

func NewRouter(hub *Hub, bc *backend.Client, mc *backend.MemberCache, prod *events.Producer, pres *presence.Store, log *zap.SugaredLogger) *Router {
	return &Router{
		hub:      hub,
		backend:  bc,
		members:  mc,
		producer: prod,
		presence: pres,
		log:      log,
	}
}

// Connected registers the client and runs the login sequence: presence
// toggle, catch-up receipt call, and a login broadcast to the other side.
func (r *Router) Connected(ctx context.Context, c *Client) {
	r.hub.Register(c)
	r.presence.SetOnline(ctx, c.UserID)
	r.backend.ToggleOnline(ctx, c.Token, c.UserID, true)

	if c.IsAdmin {
		if err := r.backend.Post(ctx, c.Token, "/messages/delivered-all", receiptReq{SenderID: c.UserID}); err != nil {
			r.log.Warnw("delivered-all failed on admin login", "user_id", c.UserID, "error", err)
		}
		r.hub.BroadcastToUsers(Payload{Type: KindAdminLogin}.encode(), c.UserID)
		return
	}

	// On-app connects mark pending messages delivered, off-app connects
	// mark them read.
	path := "/messages/read-all"
	if c.OnApp {
		path = "/messages/delivered-all"
	}
	if err := r.backend.Post(ctx, c.Token, path, receiptReq{SenderID: c.UserID}); err != nil {
		r.log.Warnw("receipt catch-up failed on login", "user_id", c.UserID, "path", path, "error", err)
	}
	onApp := c.OnApp
	r.hub.BroadcastToAdmins(Payload{
		Type:            KindUserLogin,
		ConversationID:  c.ConversationID,
		UserID:          c.UserID,
		UserOnWebmaster: &onApp,
	}.encode())
}

// Disconnected removes the client and flips presence off. The backend
// toggle fires on every close, matching the upstream contract; the Redis
// mirror only goes offline once the user's last connection is gone.
func (r *Router) Disconnected(ctx context.Context, c *Client) {
	r.hub.Remove(c)
	r.backend.ToggleOnline(ctx, c.Token, c.UserID, false)
	if !r.hub.UserOnline(c.UserID) {
		r.presence.SetOffline(ctx, c.UserID)
	}
}

// HandleFrame processes one inbound text frame. Malformed or unknown
// frames are logged and discarded; the connection stays open.
func (r *Router) HandleFrame(ctx context.Context, c *Client, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		r.log.Warnw("malformed frame discarded", "user_id", c.UserID, "error", err)
		return
	}
	metrics.Events.WithLabelValues(eventLabel(f.Type)).Inc()
	r.presence.SetOnline(ctx, c.UserID)

	switch f.Type {
	case KindSendMessage:
		r.handleSend(ctx, c, f)
	case KindDeliveredMessage:
		r.handleDelivered(ctx, c, f)
	case KindReadMessage:
		r.handleRead(ctx, c, f)
	case KindEditMessage:
		r.handleEdit(ctx, c, f)
	case KindDeleteMessage:
		r.handleDelete(ctx, c, f)
	case KindAdminOpenChat:
		r.handleAdminOpenChat(ctx, c, f)
	case KindFocus, KindActiveTyping, KindIdleTyping, KindBlur:
		r.handleActivity(ctx, c, f)
	default:
		r.log.Infow("unknown event kind discarded", "type", f.Type, "user_id", c.UserID)
	}
}

// eventLabel bounds the metric's label set: only enumerated kinds get
// their own series, everything else is folded into "unknown".
func eventLabel(k Kind) string {
	switch k {
	case KindSendMessage, KindDeliveredMessage, KindReadMessage,
		KindEditMessage, KindDeleteMessage, KindAdminOpenChat,
		KindFocus, KindActiveTyping, KindIdleTyping, KindBlur:
		return string(k)
	}
	return "unknown"
}

func (r *Router) handleSend(ctx context.Context, c *Client, f Frame) {
	out := Payload{
		Type:           KindMessageSent,
		ConversationID: f.ConversationID,
		MessageID:      f.MessageID,
		Message:        f.Message,
		Time:           f.Time,
		SenderID:       c.UserID,
		DeviceID:       c.DeviceID,
		Reply:          f.Reply,
		Files:          f.Files,
	}
	err := r.backend.Post(ctx, c.Token, "/messages/send", sendMessageReq{
		MessageID:      f.MessageID,
		ConversationID: f.ConversationID,
		Message:        f.Message,
		SenderID:       c.UserID,
		Time:           f.Time,
		ParentID:       f.Reply,
		SentFiles:      f.Files,
	})
	if err != nil {
		r.log.Errorw("message not recorded, fan-out aborted",
			"message_id", f.MessageID, "conversation_id", f.ConversationID, "error", err)
		return
	}

	members, err := r.members.Resolve(ctx, c.Token, f.ConversationID)
	if err != nil {
		return
	}
	b := out.encode()
	r.hub.SendToUser(members.UserID, b)
	r.hub.SendToUser(members.AdminID, b)
	if c.IsAdmin {
		// mirror to the rest of the admin team
		r.hub.BroadcastToAdmins(b, c.UserID)
	}

	if err := r.producer.PublishMessageSent(ctx, f.ConversationID, out); err != nil {
		r.log.Warnw("kafka publish failed", "message_id", f.MessageID, "error", err)
	}
}

func (r *Router) handleDelivered(ctx context.Context, c *Client, f Frame) {
	err := r.backend.Post(ctx, c.Token, "/messages/delivered", receiptReq{
		MessageID:      f.MessageID,
		ConversationID: f.ConversationID,
		SenderID:       c.UserID,
	})
	if err != nil {
		r.log.Errorw("delivered receipt not recorded, fan-out aborted",
			"message_id", f.MessageID, "error", err)
		return
	}
	r.fanOutToConversation(ctx, c, f, Payload{
		Type:           KindMessageDelivered,
		ConversationID: f.ConversationID,
		MessageID:      f.MessageID,
		SenderID:       c.UserID,
		DeviceID:       c.DeviceID,
	})
}

func (r *Router) handleRead(ctx context.Context, c *Client, f Frame) {
	err := r.backend.Post(ctx, c.Token, "/messages/read", receiptReq{
		MessageID:      f.MessageID,
		ConversationID: f.ConversationID,
		SenderID:       c.UserID,
	})
	if err != nil {
		r.log.Errorw("read receipt not recorded, fan-out aborted",
			"message_id", f.MessageID, "error", err)
		return
	}
	r.fanOutToConversation(ctx, c, f, Payload{
		Type:           KindMessageRead,
		ConversationID: f.ConversationID,
		MessageID:      f.MessageID,
		SenderID:       c.UserID,
		DeviceID:       c.DeviceID,
	})
}

func (r *Router) handleEdit(ctx context.Context, c *Client, f Frame) {
	err := r.backend.Post(ctx, c.Token, "/messages/update", updateMessageReq{
		Message:   f.Message,
		MessageID: f.MessageID,
	})
	if err != nil {
		r.log.Errorw("edit not recorded, fan-out aborted", "message_id", f.MessageID, "error", err)
		return
	}
	r.fanOutToConversation(ctx, c, f, Payload{
		Type:           KindMessageEdited,
		ConversationID: f.ConversationID,
		MessageID:      f.MessageID,
		Message:        f.Message,
		SenderID:       c.UserID,
		DeviceID:       c.DeviceID,
	})
}

func (r *Router) handleDelete(ctx context.Context, c *Client, f Frame) {
	err := r.backend.Post(ctx, c.Token, "/messages/delete", deleteMessageReq{MessageID: f.MessageID})
	if err != nil {
		r.log.Errorw("delete not recorded, fan-out aborted", "message_id", f.MessageID, "error", err)
		return
	}
	r.fanOutToConversation(ctx, c, f, Payload{
		Type:           KindMessageDeleted,
		ConversationID: f.ConversationID,
		MessageID:      f.MessageID,
		SenderID:       c.UserID,
		DeviceID:       c.DeviceID,
	})
}

// handleAdminOpenChat marks the whole conversation read and tells the
// end-user side only; other admins don't care which chat was opened.
func (r *Router) handleAdminOpenChat(ctx context.Context, c *Client, f Frame) {
	err := r.backend.Post(ctx, c.Token, "/messages/read-all", receiptReq{
		ConversationID: f.ConversationID,
		SenderID:       c.UserID,
	})
	if err != nil {
		r.log.Errorw("read-all not recorded, fan-out aborted",
			"conversation_id", f.ConversationID, "error", err)
		return
	}
	members, err := r.members.Resolve(ctx, c.Token, f.ConversationID)
	if err != nil {
		return
	}
	r.hub.SendToUser(members.UserID, Payload{
		Type:           KindAdminOpenChat,
		ConversationID: f.ConversationID,
		SenderID:       c.UserID,
		DeviceID:       c.DeviceID,
	}.encode())
}

// handleActivity relays focus/typing/blur untouched. These deliberately fan
// out even when the backend is down: typing indicators must stay responsive
// and nothing durable depends on them.
func (r *Router) handleActivity(ctx context.Context, c *Client, f Frame) {
	r.fanOutToConversation(ctx, c, f, Payload{
		Type:           f.Type,
		ConversationID: f.ConversationID,
		SenderID:       c.UserID,
		DeviceID:       c.DeviceID,
	})
}

func (r *Router) fanOutToConversation(ctx context.Context, c *Client, f Frame, out Payload) {
	members, err := r.members.Resolve(ctx, c.Token, f.ConversationID)
	if err != nil {
		return
	}
	b := out.encode()
	r.hub.SendToUser(members.UserID, b)
	r.hub.SendToUser(members.AdminID, b)
}
