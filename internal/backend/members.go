package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Members is the pair of identities attached to a conversation.
type Members struct {
	UserID  string
	AdminID string
}

// flexID tolerates the backend serializing ids as either strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	*f = flexID(string(b))
	return nil
}

type conversationData struct {
	UserID  flexID `json:"conversation_user_id"`
	AdminID flexID `json:"conversation_admin_id"`
}

// MemberCache memoizes conversation membership. Entries are immutable once
// stored; conversation membership is assumed static for the lifetime of the
// process. Failed lookups are never cached, so the next call for the same
// conversation retries the backend.
type MemberCache struct {
	mu      sync.Mutex
	entries map[string]Members
	client  *Client
	log     *zap.SugaredLogger
}

func NewMemberCache(client *Client, log *zap.SugaredLogger) *MemberCache {
	return &MemberCache{
		entries: make(map[string]Members),
		client:  client,
		log:     log,
	}
}

// Resolve returns the conversation's (user, admin) pair, fetching it from
// the backend on first use. An error means "unresolved": the caller must
// treat the event as having no recipients and skip fan-out.
func (m *MemberCache) Resolve(ctx context.Context, token, conversationID string) (Members, error) {
	m.mu.Lock()
	if members, ok := m.entries[conversationID]; ok {
		m.mu.Unlock()
		return members, nil
	}
	m.mu.Unlock()

	data, err := m.client.Get(ctx, token, "/messages/conversation/"+conversationID, nil)
	if err != nil {
		m.log.Warnw("conversation lookup failed", "conversation_id", conversationID, "error", err)
		return Members{}, err
	}
	var conv conversationData
	if err := json.Unmarshal(data, &conv); err != nil {
		m.log.Warnw("conversation payload malformed", "conversation_id", conversationID, "error", err)
		return Members{}, fmt.Errorf("%w: conversation %s: %v", ErrBackend, conversationID, err)
	}
	members := Members{UserID: string(conv.UserID), AdminID: string(conv.AdminID)}

	m.mu.Lock()
	m.entries[conversationID] = members
	m.mu.Unlock()
	return members, nil
}
