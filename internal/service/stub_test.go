package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
	"github.com/velickovic/clubchat/internal/feed"
)

type stubUserRepo struct {
	users map[uuid.UUID]*domain.User
}

func newStubUserRepo(users ...*domain.User) *stubUserRepo {
	r := &stubUserRepo{users: make(map[uuid.UUID]*domain.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *stubUserRepo) Create(_ context.Context, user *domain.User) error {
	r.users[user.ID] = user
	return nil
}

func (r *stubUserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	return r.users[id], nil
}

func (r *stubUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (r *stubUserRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

type stubConvRepo struct {
	convs   map[uuid.UUID]*domain.Conversation
	members map[uuid.UUID]map[uuid.UUID]*domain.ConversationMember
	directs map[string]*domain.Conversation
}

func newStubConvRepo() *stubConvRepo {
	return &stubConvRepo{
		convs:   make(map[uuid.UUID]*domain.Conversation),
		members: make(map[uuid.UUID]map[uuid.UUID]*domain.ConversationMember),
		directs: make(map[string]*domain.Conversation),
	}
}

func directKey(a, b uuid.UUID) string { return a.String() + ":" + b.String() }

func (r *stubConvRepo) CreateDirect(_ context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error) {
	key := directKey(user1ID, user2ID)
	if conv, ok := r.directs[key]; ok {
		return conv, nil
	}
	conv := &domain.Conversation{ID: uuid.New(), Kind: domain.KindDirect, CreatedAt: time.Now()}
	r.directs[key] = conv
	r.convs[conv.ID] = conv
	for _, uid := range []uuid.UUID{user1ID, user2ID} {
		r.addMember(conv.ID, uid, false)
	}
	return conv, nil
}

func (r *stubConvRepo) GetDirectByUsers(_ context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error) {
	return r.directs[directKey(user1ID, user2ID)], nil
}

func (r *stubConvRepo) CreateGroup(_ context.Context, conv *domain.Conversation, creatorID uuid.UUID, memberIDs []uuid.UUID) error {
	r.convs[conv.ID] = conv
	r.addMember(conv.ID, creatorID, true)
	for _, uid := range memberIDs {
		if uid == creatorID {
			continue
		}
		r.addMember(conv.ID, uid, false)
	}
	return nil
}

func (r *stubConvRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	return r.convs[id], nil
}

func (r *stubConvRepo) ListForUser(_ context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	var out []domain.Conversation
	for convID, members := range r.members {
		if _, ok := members[userID]; ok {
			out = append(out, *r.convs[convID])
		}
	}
	return out, nil
}

func (r *stubConvRepo) AddMember(_ context.Context, m *domain.ConversationMember) error {
	if _, ok := r.members[m.ConversationID][m.UserID]; !ok {
		r.addMember(m.ConversationID, m.UserID, m.IsAdmin)
	}
	return nil
}

func (r *stubConvRepo) RemoveMember(_ context.Context, conversationID, userID uuid.UUID) error {
	delete(r.members[conversationID], userID)
	return nil
}

func (r *stubConvRepo) SetAdmin(_ context.Context, conversationID, userID uuid.UUID, isAdmin bool) error {
	if m, ok := r.members[conversationID][userID]; ok {
		m.IsAdmin = isAdmin
	}
	return nil
}

func (r *stubConvRepo) GetMember(_ context.Context, conversationID, userID uuid.UUID) (*domain.ConversationMember, error) {
	return r.members[conversationID][userID], nil
}

func (r *stubConvRepo) ListMembers(_ context.Context, conversationID uuid.UUID) ([]domain.ConversationMember, error) {
	var out []domain.ConversationMember
	for _, m := range r.members[conversationID] {
		out = append(out, *m)
	}
	return out, nil
}

func (r *stubConvRepo) addMember(conversationID, userID uuid.UUID, isAdmin bool) {
	if r.members[conversationID] == nil {
		r.members[conversationID] = make(map[uuid.UUID]*domain.ConversationMember)
	}
	r.members[conversationID][userID] = &domain.ConversationMember{
		ConversationID: conversationID,
		UserID:         userID,
		IsAdmin:        isAdmin,
		JoinedAt:       time.Now(),
	}
}

type stubMessageRepo struct {
	msgs map[uuid.UUID]*domain.Message
	page []domain.Message
}

func newStubMessageRepo() *stubMessageRepo {
	return &stubMessageRepo{msgs: make(map[uuid.UUID]*domain.Message)}
}

func (r *stubMessageRepo) Create(_ context.Context, msg *domain.Message) error {
	clone := *msg
	r.msgs[msg.ID] = &clone
	return nil
}

func (r *stubMessageRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	msg, ok := r.msgs[id]
	if !ok || msg.DeletedAt != nil {
		return nil, nil
	}
	return msg, nil
}

func (r *stubMessageRepo) ListPage(_ context.Context, channelID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error) {
	if len(r.page) > limit {
		return r.page[len(r.page)-limit:], nil
	}
	return r.page, nil
}

func (r *stubMessageRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	if msg, ok := r.msgs[id]; ok {
		now := time.Now()
		msg.DeletedAt = &now
	}
	return nil
}

type stubReactionRepo struct {
	groups map[uuid.UUID][]domain.ReactionGroup
	added  bool
}

func (r *stubReactionRepo) Toggle(_ context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	r.added = !r.added
	return r.added, nil
}

func (r *stubReactionRepo) ListForMessages(_ context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]domain.ReactionGroup, error) {
	if r.groups == nil {
		return map[uuid.UUID][]domain.ReactionGroup{}, nil
	}
	return r.groups, nil
}

type stubReceiptRepo struct {
	receipts map[uuid.UUID][]domain.ReadReceipt
	seen     map[string]bool
}

func newStubReceiptRepo() *stubReceiptRepo {
	return &stubReceiptRepo{
		receipts: make(map[uuid.UUID][]domain.ReadReceipt),
		seen:     make(map[string]bool),
	}
}

func (r *stubReceiptRepo) MarkRead(_ context.Context, messageID, userID uuid.UUID, readAt time.Time) (bool, error) {
	key := messageID.String() + ":" + userID.String()
	if r.seen[key] {
		return false, nil
	}
	r.seen[key] = true
	r.receipts[messageID] = append(r.receipts[messageID], domain.ReadReceipt{UserID: userID, ReadAt: readAt})
	return true, nil
}

func (r *stubReceiptRepo) ListForMessages(_ context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]domain.ReadReceipt, error) {
	return r.receipts, nil
}

// capturingFeed records published events for assertions.
type capturingFeed struct {
	mu     sync.Mutex
	events []feed.Event
}

func (f *capturingFeed) Publish(_ context.Context, ev feed.Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return "1-0", nil
}

func (f *capturingFeed) LastID(context.Context, uuid.UUID) (string, error) {
	return "", nil
}

func (f *capturingFeed) Replay(context.Context, uuid.UUID, string) ([]feed.Event, error) {
	return nil, nil
}

func (f *capturingFeed) Tail(context.Context, uuid.UUID, string) (<-chan feed.Event, error) {
	ch := make(chan feed.Event)
	close(ch)
	return ch, nil
}

func (f *capturingFeed) published() []feed.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]feed.Event, len(f.events))
	copy(out, f.events)
	return out
}

func decodePayload[T any](ev feed.Event) (T, error) {
	var out T
	err := json.Unmarshal(ev.Payload, &out)
	return out, err
}

type stubBlobStore struct {
	deleted []string
}

func (s *stubBlobStore) Upload(_ context.Context, path string, _ []byte, _ string) (string, error) {
	return "https://blobs.test/" + path, nil
}

func (s *stubBlobStore) Delete(_ context.Context, fileURL string) error {
	s.deleted = append(s.deleted, fileURL)
	return nil
}

type stubPresence struct {
	times map[uuid.UUID]*time.Time
}

func (p *stubPresence) LastActive(_ context.Context, userID uuid.UUID) (*time.Time, error) {
	return p.times[userID], nil
}
