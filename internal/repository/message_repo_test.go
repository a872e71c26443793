package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat/internal/models"
)

func seedMessages(t *testing.T, repo MessageRepository, chatID uint, senders ...string) []models.Message {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	out := make([]models.Message, 0, len(senders))
	for i, sender := range senders {
		msg := models.Message{
			ChatID:    chatID,
			SenderID:  sender,
			Content:   sender + " says hi",
			Type:      models.MessageTypeText,
			Status:    models.MessageStatusSent,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(context.Background(), &msg))
		out = append(out, msg)
	}
	return out
}

func TestMessageRepositoryListByChatPaginatesChronologically(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	seeded := seedMessages(t, repo, 1, "alice", "bob", "alice", "bob")
	seedMessages(t, repo, 2, "carol")

	latest, err := repo.ListByChat(ctx, 1, "", time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, seeded[2].ID, latest[0].ID)
	require.Equal(t, seeded[3].ID, latest[1].ID)

	older, err := repo.ListByChat(ctx, 1, "", latest[0].CreatedAt, 10)
	require.NoError(t, err)
	require.Len(t, older, 2)
	require.Equal(t, seeded[0].ID, older[0].ID)
	require.Equal(t, seeded[1].ID, older[1].ID)
}

func TestMessageRepositoryHiddenMessagesAreFilteredPerViewer(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	seeded := seedMessages(t, repo, 1, "alice", "bob")
	require.NoError(t, repo.HideForUser(ctx, seeded[0].ID, "bob"))
	require.NoError(t, repo.HideForUser(ctx, seeded[0].ID, "bob"), "hiding twice is idempotent")

	forBob, err := repo.ListByChat(ctx, 1, "bob", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	require.Equal(t, seeded[1].ID, forBob[0].ID)

	forAlice, err := repo.ListByChat(ctx, 1, "alice", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, forAlice, 2)

	hidden, err := repo.HideChatForUser(ctx, 1, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(2), hidden)

	forAlice, err = repo.ListByChat(ctx, 1, "alice", time.Time{}, 10)
	require.NoError(t, err)
	require.Empty(t, forAlice)
}

func TestMessageRepositoryReactionsUpsertPerUser(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	msg := seedMessages(t, repo, 1, "alice")[0]
	require.NoError(t, repo.UpsertReaction(ctx, &models.MessageReaction{MessageID: msg.ID, UserID: "bob", Emoji: "👍"}))
	require.NoError(t, repo.UpsertReaction(ctx, &models.MessageReaction{MessageID: msg.ID, UserID: "bob", Emoji: "🎉"}))

	stored, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, stored.Reactions, 1)
	require.Equal(t, "🎉", stored.Reactions[0].Emoji)

	removed, err := repo.RemoveReaction(ctx, msg.ID, "bob")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = repo.RemoveReaction(ctx, msg.ID, "bob")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestMessageRepositoryStatusOnlyMovesForward(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	msg := seedMessages(t, repo, 1, "alice")[0]

	changed, err := repo.AdvanceStatus(ctx, msg.ID, models.MessageStatusRead)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = repo.AdvanceStatus(ctx, msg.ID, models.MessageStatusDelivered)
	require.NoError(t, err)
	require.False(t, changed, "read is sticky")

	stored, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, models.MessageStatusRead, stored.Status)
}

func TestMessageRepositoryMarkChatReadSkipsOwnMessages(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	seeded := seedMessages(t, repo, 1, "alice", "bob", "bob")
	_, err := repo.AdvanceStatus(ctx, seeded[1].ID, models.MessageStatusDelivered)
	require.NoError(t, err)

	ids, err := repo.MarkChatRead(ctx, 1, "alice")
	require.NoError(t, err)
	require.Equal(t, []uint{seeded[1].ID, seeded[2].ID}, ids)

	again, err := repo.MarkChatRead(ctx, 1, "alice")
	require.NoError(t, err)
	require.Empty(t, again)

	own, err := repo.GetByID(ctx, seeded[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.MessageStatusSent, own.Status)
}

func TestMessageRepositoryDeleteForEveryoneClearsPayload(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	msg := models.Message{ChatID: 1, SenderID: "alice", Content: "secret", Type: models.MessageTypeImage, Status: models.MessageStatusSent}
	msg.SetAttachments([]models.Attachment{{Type: "image", URL: "https://cdn/x.png", Name: "x.png", Size: 10}})
	require.NoError(t, repo.Create(ctx, &msg))

	require.NoError(t, repo.DeleteForEveryone(ctx, msg.ID))

	stored, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	require.Empty(t, stored.Content)
	require.Empty(t, stored.AttachmentList())
	require.True(t, stored.IsDeleted)
	require.True(t, stored.DeletedForEveryone)

	require.Error(t, repo.UpdateContent(ctx, msg.ID, "edited"), "deleted messages cannot be edited")
}
