package gormstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Mirror the sqlite plugin: one connection serializes writers and
	// keeps the in-memory database alive.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Participant{},
		&model.Message{},
	))
	cfg := config.DefaultConfig()
	return New(db, &cfg), db
}

func newGroup(t *testing.T, s *Store, creator string, others ...string) uuid.UUID {
	t.Helper()
	conv, err := s.CreateGroupConversation(context.Background(), creator, others, "test group")
	require.NoError(t, err)
	return conv.ID
}

func TestCreateDirectConversation_SelfTargetRejected(t *testing.T) {
	s, _ := newTestStore(t)
	_, _, err := s.CreateDirectConversation(context.Background(), "alice", "alice")
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "targetUserId", validation.Field)
}

func TestCreateDirectConversation_IdempotentAcrossOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.CreateDirectConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.ConversationDirect, first.Type)
	assert.ElementsMatch(t, []string{"alice", "bob"}, first.ParticipantIDs)

	// Same pair again, from the other side: same conversation, not created.
	second, created, err := s.CreateDirectConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// Still exactly one conversation for the pair.
	all, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateDirectConversation_ColonIDsKeepPairsDistinct(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// ("a:b","c") and ("a","b:c") must not collapse into one pair key.
	first, created, err := s.CreateDirectConversation(ctx, "a:b", "c")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.CreateDirectConversation(ctx, "a", "b:c")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)

	// Each pair still dedupes against itself.
	again, created, err := s.CreateDirectConversation(ctx, "c", "a:b")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestCreateDirectConversation_RejectsBusinessTarget(t *testing.T) {
	s, _ := newTestStore(t)
	_, _, err := s.CreateDirectConversation(context.Background(), "alice", model.BusinessParticipantID("acme"))
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "targetUserId", validation.Field)
}

func TestCreateGroupConversation_RequiresThreeDistinctParticipants(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Duplicates collapse before the size check.
	_, err := s.CreateGroupConversation(ctx, "alice", []string{"bob", "bob", "alice"}, "too small")
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)

	conv, err := s.CreateGroupConversation(ctx, "alice", []string{"bob", "carol", "alice"}, "big enough")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, conv.ParticipantIDs)
	assert.Equal(t, model.ConversationGroup, conv.Type)
}

func TestCreateGroupConversation_IgnoresBlankParticipantIDs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Blank ids don't count toward the size rule and never become members.
	_, err := s.CreateGroupConversation(ctx, "alice", []string{"", "bob"}, "padded")
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)

	conv, err := s.CreateGroupConversation(ctx, "alice", []string{"", "bob", " ", "carol"}, "clean")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, conv.ParticipantIDs)
}

func TestCreateBusinessConversation_InitialMessageAtSeqOne(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	conv, initial, err := s.CreateBusinessConversation(ctx, "alice", "acme", &registrystore.NewMessage{Content: "hello acme"})
	require.NoError(t, err)
	require.NotNil(t, initial)
	assert.Equal(t, int64(1), initial.Seq)
	assert.Equal(t, "alice", initial.SenderID)
	assert.Equal(t, model.ConversationBusiness, conv.Type)
	assert.ElementsMatch(t, []string{"alice", model.BusinessParticipantID("acme")}, conv.ParticipantIDs)

	// The business side has the initial message unread; the sender does not.
	participants, err := s.ListParticipants(ctx, conv.ID)
	require.NoError(t, err)
	byUser := map[string]model.Participant{}
	for _, p := range participants {
		byUser[p.UserID] = p
	}
	assert.Equal(t, int64(0), byUser["alice"].UnreadCount)
	assert.Equal(t, int64(1), byUser[model.BusinessParticipantID("acme")].UnreadCount)
}

func TestAppendMessage_RejectsEmptyContentAndNonParticipants(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	convID := newGroup(t, s, "alice", "bob", "carol")

	_, err := s.AppendMessage(ctx, convID, "alice", registrystore.NewMessage{})
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = s.AppendMessage(ctx, convID, "mallory", registrystore.NewMessage{Content: "let me in"})
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	// An unknown conversation fails the membership check the same way.
	_, err = s.AppendMessage(ctx, uuid.New(), "alice", registrystore.NewMessage{Content: "nowhere"})
	require.ErrorAs(t, err, &forbidden)
}

func TestAppendMessage_ConcurrentSendsGetContiguousSequences(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	convID := newGroup(t, s, "alice", "bob", "carol")

	const senders = 4
	const perSender = 5
	users := []string{"alice", "bob", "carol", "alice"}

	var mu sync.Mutex
	var seqs []int64
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(user string, n int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				msg, err := s.AppendMessage(ctx, convID, user, registrystore.NewMessage{
					Content: fmt.Sprintf("from %s #%d", user, j),
				})
				assert.NoError(t, err)
				if msg != nil {
					mu.Lock()
					seqs = append(seqs, msg.Seq)
					mu.Unlock()
				}
			}
		}(users[i], i)
	}
	wg.Wait()

	// Sequences are 1..N with no gaps and no duplicates.
	require.Len(t, seqs, senders*perSender)
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		assert.Equal(t, int64(i+1), seq)
	}
}

func TestGetMessages_PaginatesDescendingExactlyOnce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	convID := newGroup(t, s, "alice", "bob", "carol")

	const total = 25
	for i := 0; i < total; i++ {
		_, err := s.AppendMessage(ctx, convID, "alice", registrystore.NewMessage{Content: fmt.Sprintf("msg %d", i+1)})
		require.NoError(t, err)
	}

	seen := map[int64]bool{}
	var cursor *int64
	pages := 0
	for {
		page, err := s.GetMessages(ctx, "bob", convID, cursor, 10)
		require.NoError(t, err)
		pages++

		// Each page is strictly descending by seq.
		for i := 1; i < len(page.Data); i++ {
			assert.Greater(t, page.Data[i-1].Seq, page.Data[i].Seq)
		}
		for _, m := range page.Data {
			assert.False(t, seen[m.Seq], "seq %d returned twice", m.Seq)
			seen[m.Seq] = true
		}
		if page.BeforeCursor == nil {
			break
		}
		cursor = page.BeforeCursor
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, seen, total)
	assert.True(t, seen[1])
	assert.True(t, seen[total])
}

func TestGetMessages_NonMemberGetsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	convID := newGroup(t, s, "alice", "bob", "carol")

	_, err := s.GetMessages(ctx, "mallory", convID, nil, 10)
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestGetMessage_MembershipGatesAccess(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	convID := newGroup(t, s, "alice", "bob", "carol")
	msg, err := s.AppendMessage(ctx, convID, "alice", registrystore.NewMessage{Content: "secret"})
	require.NoError(t, err)

	got, err := s.GetMessage(ctx, "bob", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)

	// Outsiders see the same error as for an unknown id.
	_, err = s.GetMessage(ctx, "mallory", msg.ID)
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)

	_, err = s.GetMessage(ctx, "bob", uuid.New())
	require.ErrorAs(t, err, &notFound)
}

func TestUnreadAccounting(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	convID := newGroup(t, s, "alice", "bob", "carol")

	const n = 3
	var lastSeq int64
	for i := 0; i < n; i++ {
		msg, err := s.AppendMessage(ctx, convID, "alice", registrystore.NewMessage{Content: "ping"})
		require.NoError(t, err)
		require.NoError(t, s.IncrementUnread(ctx, convID, "alice"))
		lastSeq = msg.Seq
	}

	unread := func(user string) int64 {
		counts, err := s.UnreadCounts(ctx, user)
		require.NoError(t, err)
		require.Len(t, counts, 1)
		return counts[0].Count
	}
	assert.Equal(t, int64(0), unread("alice"))
	assert.Equal(t, int64(n), unread("bob"))
	assert.Equal(t, int64(n), unread("carol"))

	require.NoError(t, s.MarkRead(ctx, convID, "bob", lastSeq))
	assert.Equal(t, int64(0), unread("bob"))
	assert.Equal(t, int64(n), unread("carol"))
}

func TestMarkRead_IgnoresLateAcknowledgements(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	convID := newGroup(t, s, "alice", "bob", "carol")

	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, convID, "alice", registrystore.NewMessage{Content: "ping"})
		require.NoError(t, err)
		require.NoError(t, s.IncrementUnread(ctx, convID, "alice"))
	}

	require.NoError(t, s.MarkRead(ctx, convID, "bob", 5))

	// A stale ack arriving after a newer one must not move the pointer back.
	require.NoError(t, s.MarkRead(ctx, convID, "bob", 2))

	participants, err := s.ListParticipants(ctx, convID)
	require.NoError(t, err)
	for _, p := range participants {
		if p.UserID == "bob" {
			assert.Equal(t, int64(5), p.LastReadSeq)
			assert.Equal(t, int64(0), p.UnreadCount)
		}
	}
}

func TestRepairUnreadCounts_RecomputesFromLog(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	convID := newGroup(t, s, "alice", "bob", "carol")

	for i := 0; i < 4; i++ {
		_, err := s.AppendMessage(ctx, convID, "alice", registrystore.NewMessage{Content: "ping"})
		require.NoError(t, err)
		require.NoError(t, s.IncrementUnread(ctx, convID, "alice"))
	}
	require.NoError(t, s.MarkRead(ctx, convID, "bob", 2))

	// Corrupt the counters as a crash between append and increment would.
	require.NoError(t, db.Exec("UPDATE participants SET unread_count = 99").Error)

	_, err := s.RepairUnreadCounts(ctx)
	require.NoError(t, err)

	participants, err := s.ListParticipants(ctx, convID)
	require.NoError(t, err)
	byUser := map[string]model.Participant{}
	for _, p := range participants {
		byUser[p.UserID] = p
	}
	// Own messages never count as unread.
	assert.Equal(t, int64(0), byUser["alice"].UnreadCount)
	// bob read through seq 2, leaving 2 of alice's 4 messages.
	assert.Equal(t, int64(2), byUser["bob"].UnreadCount)
	assert.Equal(t, int64(4), byUser["carol"].UnreadCount)
}

func TestListConversations_SummariesCarryUnreadAndLastMessage(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	groupID := newGroup(t, s, "alice", "bob", "carol")
	direct, _, err := s.CreateDirectConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	msg, err := s.AppendMessage(ctx, groupID, "bob", registrystore.NewMessage{Content: "latest"})
	require.NoError(t, err)
	require.NoError(t, s.IncrementUnread(ctx, groupID, "bob"))

	summaries, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// The conversation with the newest activity sorts first.
	assert.Equal(t, groupID, summaries[0].ID)
	assert.Equal(t, direct.ID, summaries[1].ID)

	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, msg.ID, summaries[0].LastMessage.ID)
	assert.Equal(t, int64(1), summaries[0].UnreadCount)
	assert.Nil(t, summaries[1].LastMessage)
	assert.Equal(t, int64(0), summaries[1].UnreadCount)
}

func TestGetConversation_NonMemberSameAsUnknown(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	convID := newGroup(t, s, "alice", "bob", "carol")

	var notFound *registrystore.NotFoundError
	_, err := s.GetConversation(ctx, "mallory", convID)
	require.ErrorAs(t, err, &notFound)

	_, err = s.GetConversation(ctx, "alice", uuid.New())
	require.ErrorAs(t, err, &notFound)

	conv, err := s.GetConversation(ctx, "alice", convID)
	require.NoError(t, err)
	assert.Equal(t, convID, conv.ID)
}

func TestEnsureUser_CreatesAndRestampsKahaID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, "alice", "kaha-1")
	require.NoError(t, err)
	assert.Equal(t, "kaha-1", u.KahaID)

	// Unchanged mapping is a no-op.
	u, err = s.EnsureUser(ctx, "alice", "kaha-1")
	require.NoError(t, err)
	assert.Equal(t, "kaha-1", u.KahaID)

	// A drifted external mapping is re-stamped; the internal id is stable.
	u, err = s.EnsureUser(ctx, "alice", "kaha-2")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.ID)
	assert.Equal(t, "kaha-2", u.KahaID)
}
