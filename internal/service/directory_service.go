package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
	"github.com/velickovic/clubchat/internal/repository"
	"golang.org/x/sync/singleflight"
)

var (
	ErrCannotDirectSelf     = errors.New("cannot start a direct conversation with yourself")
	ErrPeerNotFound         = errors.New("peer not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotMember            = errors.New("not a member of this conversation")
	ErrNotAdmin             = errors.New("only an admin can perform this action")
	ErrCannotRemoveAdmin    = errors.New("cannot remove an admin from the conversation")
)

// Presence resolves a user's last recorded activity for peer decoration.
type Presence interface {
	LastActive(ctx context.Context, userID uuid.UUID) (*time.Time, error)
}

type DirectoryService struct {
	convRepo repository.ConversationRepository
	userRepo repository.UserRepository
	presence Presence

	// direct collapses concurrent StartDirect calls for the same pair into
	// one repository round-trip; the unique index stays the real guarantee.
	direct singleflight.Group
}

func NewDirectoryService(convRepo repository.ConversationRepository, userRepo repository.UserRepository, presence Presence) *DirectoryService {
	return &DirectoryService{
		convRepo: convRepo,
		userRepo: userRepo,
		presence: presence,
	}
}

// StartDirect finds or creates the single direct conversation between the two
// users. The pair is canonicalized so (a,b) and (b,a) hit the same row.
func (s *DirectoryService) StartDirect(ctx context.Context, userID, peerID uuid.UUID) (*domain.Conversation, error) {
	if userID == peerID {
		return nil, ErrCannotDirectSelf
	}

	peer, err := s.userRepo.GetByID(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if peer == nil {
		return nil, ErrPeerNotFound
	}

	first, second := canonicalPair(userID, peerID)
	key := first.String() + ":" + second.String()
	v, err, _ := s.direct.Do(key, func() (any, error) {
		existing, err := s.convRepo.GetDirectByUsers(ctx, first, second)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		return s.convRepo.CreateDirect(ctx, first, second)
	})
	if err != nil {
		return nil, fmt.Errorf("starting direct conversation: %w", err)
	}

	conv := v.(*domain.Conversation)
	out := *conv
	out.MemberCount = 2
	out.Peer = s.peerProfile(ctx, peer)
	return &out, nil
}

type CreateGroupInput struct {
	Name      string      `json:"name"`
	MemberIDs []uuid.UUID `json:"member_ids"`
}

// CreateGroup creates a group conversation with the creator as admin. Group
// names are not unique.
func (s *DirectoryService) CreateGroup(ctx context.Context, creatorID uuid.UUID, input CreateGroupInput) (*domain.Conversation, error) {
	name := input.Name
	conv := &domain.Conversation{
		ID:        uuid.New(),
		Kind:      domain.KindGroup,
		Name:      &name,
		CreatedAt: time.Now(),
	}

	if err := s.convRepo.CreateGroup(ctx, conv, creatorID, input.MemberIDs); err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}

	return s.convRepo.GetByID(ctx, conv.ID)
}

// List returns the user's conversations ordered by last activity, with peer
// presence resolved for directs.
func (s *DirectoryService) List(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	convs, err := s.convRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	for i := range convs {
		if convs[i].Peer == nil {
			continue
		}
		lastActive, err := s.presence.LastActive(ctx, convs[i].Peer.UserID)
		if err != nil {
			// Presence is decoration; the list still renders without it.
			log.Printf("directory: last active for %s: %v", convs[i].Peer.UserID, err)
			continue
		}
		convs[i].Peer.LastActive = lastActive
	}
	return convs, nil
}

func (s *DirectoryService) Get(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error) {
	if _, err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

func (s *DirectoryService) ListMembers(ctx context.Context, userID, conversationID uuid.UUID) ([]domain.ConversationMember, error) {
	if _, err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.convRepo.ListMembers(ctx, conversationID)
}

// AddMember lets a group admin add a user. Adding an existing member is a
// no-op.
func (s *DirectoryService) AddMember(ctx context.Context, adminID, conversationID, userID uuid.UUID) error {
	if err := s.requireGroupAdmin(ctx, conversationID, adminID); err != nil {
		return err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrPeerNotFound
	}

	return s.convRepo.AddMember(ctx, &domain.ConversationMember{
		ConversationID: conversationID,
		UserID:         userID,
		JoinedAt:       time.Now(),
	})
}

// RemoveMember lets an admin remove a non-admin member, or any member remove
// themselves.
func (s *DirectoryService) RemoveMember(ctx context.Context, actorID, conversationID, userID uuid.UUID) error {
	if actorID != userID {
		if err := s.requireGroupAdmin(ctx, conversationID, actorID); err != nil {
			return err
		}
		target, err := s.convRepo.GetMember(ctx, conversationID, userID)
		if err != nil {
			return err
		}
		if target == nil {
			return ErrNotMember
		}
		if target.IsAdmin {
			return ErrCannotRemoveAdmin
		}
	} else if _, err := s.requireMember(ctx, conversationID, actorID); err != nil {
		return err
	}

	return s.convRepo.RemoveMember(ctx, conversationID, userID)
}

func (s *DirectoryService) SetAdmin(ctx context.Context, adminID, conversationID, userID uuid.UUID, isAdmin bool) error {
	if err := s.requireGroupAdmin(ctx, conversationID, adminID); err != nil {
		return err
	}
	target, err := s.convRepo.GetMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrNotMember
	}
	return s.convRepo.SetAdmin(ctx, conversationID, userID, isAdmin)
}

func (s *DirectoryService) requireMember(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ConversationMember, error) {
	member, err := s.convRepo.GetMember(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotMember
	}
	return member, nil
}

func (s *DirectoryService) requireGroupAdmin(ctx context.Context, conversationID, userID uuid.UUID) error {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrConversationNotFound
	}
	if conv.Kind != domain.KindGroup {
		return ErrNotAdmin
	}
	member, err := s.requireMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !member.IsAdmin {
		return ErrNotAdmin
	}
	return nil
}

func (s *DirectoryService) peerProfile(ctx context.Context, peer *domain.User) *domain.PeerProfile {
	profile := &domain.PeerProfile{
		UserID:      peer.ID,
		Username:    peer.Username,
		DisplayName: peer.DisplayName,
		AvatarURL:   peer.AvatarURL,
	}
	lastActive, err := s.presence.LastActive(ctx, peer.ID)
	if err != nil {
		log.Printf("directory: last active for %s: %v", peer.ID, err)
		return profile
	}
	profile.LastActive = lastActive
	return profile
}

func canonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}
