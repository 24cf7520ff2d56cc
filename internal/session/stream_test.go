package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
)

var streamTestBase = time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)

func makeMessage(channelID uuid.UUID, offset time.Duration) domain.Message {
	content := "m"
	return domain.Message{
		ID:        uuid.New(),
		ChannelID: channelID,
		AuthorID:  uuid.New(),
		Content:   &content,
		CreatedAt: streamTestBase.Add(offset),
	}
}

func TestIngestRemoteOrderIndependent(t *testing.T) {
	channelID := uuid.New()

	msgs := make([]domain.Message, 10)
	for i := range msgs {
		msgs[i] = makeMessage(channelID, time.Duration(i)*time.Second)
	}
	// Two messages share a timestamp; id breaks the tie.
	msgs[4].CreatedAt = msgs[3].CreatedAt

	shuffled := make([]domain.Message, len(msgs))
	copy(shuffled, msgs)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	s := NewStream(channelID)
	for _, m := range shuffled {
		s.IngestRemote(m, uuid.Nil)
	}

	got := s.List()
	if len(got) != len(msgs) {
		t.Fatalf("expected %d entries, got %d", len(msgs), len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Message.Before(&got[i].Message) {
			t.Fatalf("entries %d and %d out of order: %v/%s then %v/%s",
				i-1, i, got[i-1].CreatedAt, got[i-1].ID, got[i].CreatedAt, got[i].ID)
		}
	}
}

func TestIngestRemoteIdempotent(t *testing.T) {
	channelID := uuid.New()
	s := NewStream(channelID)

	msg := makeMessage(channelID, 0)
	s.IngestRemote(msg, uuid.Nil)
	s.IngestRemote(msg, uuid.Nil)

	if got := s.Len(); got != 1 {
		t.Fatalf("expected 1 entry after duplicate ingest, got %d", got)
	}
}

func TestIngestRemoteUpdatesInPlace(t *testing.T) {
	channelID := uuid.New()
	s := NewStream(channelID)

	msg := makeMessage(channelID, 0)
	s.IngestRemote(msg, uuid.Nil)

	edited := msg
	newContent := "edited"
	edited.Content = &newContent
	s.IngestRemote(edited, uuid.Nil)

	got := s.List()
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].Content == nil || *got[0].Content != "edited" {
		t.Fatalf("expected updated content, got %v", got[0].Content)
	}
}

func TestOptimisticReconciliationNoDuplicate(t *testing.T) {
	channelID := uuid.New()
	s := NewStream(channelID)

	clientKey := uuid.New()
	pending := makeMessage(channelID, 0)
	pending.ID = clientKey
	s.AppendPending(pending, clientKey)

	authoritative := pending
	authoritative.ID = uuid.New()

	// HTTP response reconciles first, then the echo arrives via the feed.
	s.Reconcile(clientKey, authoritative)
	s.IngestRemote(authoritative, clientKey)

	got := s.List()
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 entry after reconciliation, got %d", len(got))
	}
	if got[0].ID != authoritative.ID {
		t.Fatalf("expected server-assigned id %s, got %s", authoritative.ID, got[0].ID)
	}
	if got[0].Pending {
		t.Fatal("reconciled entry still marked pending")
	}
}

func TestEchoBeforeReconcileCollapses(t *testing.T) {
	channelID := uuid.New()
	s := NewStream(channelID)

	clientKey := uuid.New()
	pending := makeMessage(channelID, 0)
	pending.ID = clientKey
	s.AppendPending(pending, clientKey)

	authoritative := pending
	authoritative.ID = uuid.New()

	// Feed echo beats the HTTP response.
	s.IngestRemote(authoritative, clientKey)
	s.Reconcile(clientKey, authoritative)

	if got := s.Len(); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}
}

func TestRemovePendingRollsBack(t *testing.T) {
	channelID := uuid.New()
	s := NewStream(channelID)

	existing := makeMessage(channelID, 0)
	s.IngestRemote(existing, uuid.Nil)

	clientKey := uuid.New()
	pending := makeMessage(channelID, time.Second)
	pending.ID = clientKey
	s.AppendPending(pending, clientKey)

	s.RemovePending(clientKey)

	got := s.List()
	if len(got) != 1 || got[0].ID != existing.ID {
		t.Fatalf("expected rollback to leave only the existing entry, got %d entries", len(got))
	}
}

func TestDeleteKeepsReplyPreviews(t *testing.T) {
	channelID := uuid.New()
	s := NewStream(channelID)

	target := makeMessage(channelID, 0)
	s.IngestRemote(target, uuid.Nil)

	reply := makeMessage(channelID, time.Second)
	reply.ReplyToID = &target.ID
	reply.ReplyPreview = &domain.ReplyPreview{AuthorName: "ana", Content: target.Content}
	s.IngestRemote(reply, uuid.Nil)

	s.Delete(target.ID)

	got := s.List()
	if len(got) != 1 {
		t.Fatalf("expected 1 entry after delete, got %d", len(got))
	}
	if got[0].ReplyPreview == nil || got[0].ReplyPreview.AuthorName != "ana" {
		t.Fatal("reply preview was lost when its target was deleted")
	}
}

func TestHydrateKeepsPendingEntries(t *testing.T) {
	channelID := uuid.New()
	s := NewStream(channelID)

	clientKey := uuid.New()
	pending := makeMessage(channelID, 10*time.Second)
	pending.ID = clientKey
	s.AppendPending(pending, clientKey)

	page := []domain.Message{
		makeMessage(channelID, 0),
		makeMessage(channelID, time.Second),
	}
	s.Hydrate(page)

	got := s.List()
	if len(got) != 3 {
		t.Fatalf("expected page plus pending entry, got %d entries", len(got))
	}
	if !got[2].Pending {
		t.Fatal("pending entry lost its pending flag across hydration")
	}
}
