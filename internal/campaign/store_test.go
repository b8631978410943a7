package campaign

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewStore(db), mock
}

func TestGetCampaignNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetCampaign(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMailboxNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM mailboxes WHERE id").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetMailbox(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMessageByProviderIDNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM campaign_messages WHERE provider_message_id").
		WithArgs("unknown-provider-id").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetMessageByProviderID(context.Background(), "unknown-provider-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrementCampaignCounterWhitelist(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE campaigns SET opened = opened").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.IncrementCampaignCounter(context.Background(), id, "opened"))

	// Column names never come from input. No query is issued.
	err := store.IncrementCampaignCounter(context.Background(), id, "sent; DROP TABLE campaigns")
	assert.Error(t, err)
	err = store.IncrementCampaignCounter(context.Background(), id, "delivered")
	assert.Error(t, err)
}

func TestMarkMessageOpenedFirstWriteWins(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	at := time.Now()

	mock.ExpectExec("UPDATE campaign_messages").
		WithArgs(id, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	applied, err := store.MarkMessageOpened(context.Background(), id, at)
	require.NoError(t, err)
	assert.True(t, applied)

	// Second delivery of the same event matches no row.
	mock.ExpectExec("UPDATE campaign_messages").
		WithArgs(id, at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	applied, err = store.MarkMessageOpened(context.Background(), id, at)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMarkMessageDeliveredGuard(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	at := time.Now()

	// The guard is in the WHERE clause: already-opened messages match no row.
	mock.ExpectExec("UPDATE campaign_messages SET status = 'delivered'").
		WithArgs(id, at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := store.MarkMessageDelivered(context.Background(), id, at)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMarkMessageRepliedStoresBody(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	at := time.Now()

	mock.ExpectExec("UPDATE campaign_messages SET status = 'replied'").
		WithArgs(id, at, "sounds interesting, send more info").
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := store.MarkMessageReplied(context.Background(), id, at, "sounds interesting, send more info")
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestMarkCampaignStartedStampsOnce(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	at := time.Now()

	mock.ExpectExec(`UPDATE campaigns SET status = \$2, started_at = COALESCE`).
		WithArgs(id, StatusRunning, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkCampaignStarted(context.Background(), id, at))
}

func TestIncrementMailboxBouncesReturnsNewValue(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE mailboxes SET bounces_30d").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"bounces_30d"}).AddRow(51))

	n, err := store.IncrementMailboxBounces(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 51, n)
}

func TestPauseRunningCampaignsForMailbox(t *testing.T) {
	store, mock := newMockStore(t)
	mailboxID := uuid.New()

	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs(mailboxID, StatusPaused, StatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.PauseRunningCampaignsForMailbox(context.Background(), mailboxID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSuppressedSubsetNormalizes(t *testing.T) {
	store, mock := newMockStore(t)
	orgID := uuid.New()

	mock.ExpectQuery("SELECT email FROM suppression_entries").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("blocked@example.com"))

	got, err := store.SuppressedSubset(context.Background(), orgID,
		[]string{"  Blocked@Example.COM ", "fine@example.com"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"blocked@example.com": true}, got)
}

func TestSuppressedSubsetEmptyInput(t *testing.T) {
	store, _ := newMockStore(t)

	got, err := store.SuppressedSubset(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpsertSuppressionNormalizesEmail(t *testing.T) {
	store, mock := newMockStore(t)
	orgID := uuid.New()

	mock.ExpectExec("INSERT INTO suppression_entries").
		WithArgs(orgID, "who@example.com", ReasonUnsubscribe, "one_click").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertSuppression(context.Background(), orgID, " WHO@Example.com ", ReasonUnsubscribe, "one_click")
	require.NoError(t, err)
}

func TestRemainingCreditsNoRowMeansZero(t *testing.T) {
	store, mock := newMockStore(t)
	orgID := uuid.New()

	mock.ExpectQuery("SELECT remaining FROM tenant_credits").
		WithArgs(orgID).
		WillReturnError(sql.ErrNoRows)

	n, err := store.RemainingCredits(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBulkCreateMessagesSingleTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	campaignID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO campaign_messages")
	mock.ExpectExec("INSERT INTO campaign_messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO campaign_messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msgs := []*Message{
		{CampaignID: campaignID, RecipientEmail: "a@example.com", SequenceStep: 1, Subject: "s", Body: "b"},
		{CampaignID: campaignID, RecipientEmail: "b@example.com", SequenceStep: 1, Subject: "s", Body: "b"},
	}
	require.NoError(t, store.BulkCreateMessages(context.Background(), msgs))

	// Ids and defaults are assigned in place.
	for _, m := range msgs {
		assert.NotEqual(t, uuid.Nil, m.ID)
		assert.Equal(t, MessagePending, m.Status)
	}
}

func TestBulkCreateMessagesEmptyIsNoop(t *testing.T) {
	store, _ := newMockStore(t)
	require.NoError(t, store.BulkCreateMessages(context.Background(), nil))
}

func TestMessageStatusCounts(t *testing.T) {
	store, mock := newMockStore(t)
	campaignID := uuid.New()

	mock.ExpectQuery("SELECT status, COUNT").
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(MessageSent, 5).
			AddRow(MessageOpened, 2))

	counts, err := store.MessageStatusCounts(context.Background(), campaignID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{MessageSent: 5, MessageOpened: 2}, counts)
}

func TestListRunningCampaignIDs(t *testing.T) {
	store, mock := newMockStore(t)
	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT id FROM campaigns WHERE status").
		WithArgs(StatusRunning).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a).AddRow(b))

	ids, err := store.ListRunningCampaignIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)
}
