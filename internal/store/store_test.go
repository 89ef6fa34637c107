package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.RunMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCredentialRoundTrip(t *testing.T) {
	s := newTestStore(t)
	repo := NewCredentialRepo(s)
	ctx := context.Background()

	c := &Credential{
		Name:              "ops-bot",
		Token:             "tok-abc",
		DefaultChannelIDs: []string{uuid.New().String()},
		Status:            CredentialEnabled,
	}
	require.NoError(t, repo.Create(ctx, c))

	got, err := repo.GetByToken(ctx, "tok-abc")
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)
	require.Equal(t, c.DefaultChannelIDs, got.DefaultChannelIDs)
	require.True(t, got.Valid(time.Now()))

	require.NoError(t, repo.Disable(ctx, c.ID))
	got, err = repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.False(t, got.Valid(time.Now()))

	_, err = repo.GetByToken(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCredentialExpiry(t *testing.T) {
	s := newTestStore(t)
	repo := NewCredentialRepo(s)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	c := &Credential{Name: "expired", Token: "tok-exp", Status: CredentialEnabled, ExpiresAt: &past}
	require.NoError(t, repo.Create(ctx, c))

	got, err := repo.GetByToken(ctx, "tok-exp")
	require.NoError(t, err)
	require.False(t, got.Valid(time.Now()))
}

func TestChannelRoundTripAndEnabledFilter(t *testing.T) {
	s := newTestStore(t)
	repo := NewChannelRepo(s)
	ctx := context.Background()

	enabled := &ChannelTemplate{
		Name: "webhook", APIURL: "https://example.test/hook", Method: MethodPOST, ContentType: ContentJSON,
		Placeholders: map[string]string{"title": "{title}"}, Status: TemplateEnabled,
	}
	disabled := &ChannelTemplate{
		Name: "disabled-hook", APIURL: "https://example.test/off", Method: MethodPOST, ContentType: ContentJSON,
		Status: TemplateDisabled,
	}
	require.NoError(t, repo.Create(ctx, enabled))
	require.NoError(t, repo.Create(ctx, disabled))
	require.Equal(t, DefaultMaxLength, enabled.MaxLength)

	got, err := repo.GetEnabledByIDs(ctx, []uuid.UUID{enabled.ID, disabled.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, enabled.ID, got[0].ID)
}

func TestAIChannelRoundTrip(t *testing.T) {
	s := newTestStore(t)
	repo := NewAIChannelRepo(s)
	ctx := context.Background()

	c := &AIChannelTemplate{Name: "summarizer", APIURL: "https://example.test/ai", Model: "gpt", Status: TemplateEnabled}
	require.NoError(t, repo.Create(ctx, c))
	require.Equal(t, MethodPOST, c.Method)

	got, err := repo.GetEnabled(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, c.Model, got.Model)

	require.NoError(t, repo.Update(ctx, &AIChannelTemplate{ID: c.ID, Name: "s2", APIURL: c.APIURL, Model: "gpt2", Status: TemplateDisabled}))
	_, err = repo.GetEnabled(ctx, c.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMessageAndAttemptLifecycle(t *testing.T) {
	s := newTestStore(t)
	credRepo := NewCredentialRepo(s)
	chanRepo := NewChannelRepo(s)
	msgRepo := NewMessageRepo(s)
	attRepo := NewAttemptRepo(s)
	ctx := context.Background()

	cred := &Credential{Name: "c", Token: "t1", Status: CredentialEnabled}
	require.NoError(t, credRepo.Create(ctx, cred))
	ch := &ChannelTemplate{Name: "ch", APIURL: "https://example.test", Method: MethodPOST, ContentType: ContentJSON, Status: TemplateEnabled}
	require.NoError(t, chanRepo.Create(ctx, ch))

	title := "hello"
	msg := &Message{CredentialID: cred.ID, Title: &title}
	require.NoError(t, msgRepo.Create(ctx, msg))
	require.NotEmpty(t, msg.ViewToken)

	att := &Attempt{MessageID: msg.ID, ChannelID: ch.ID}
	require.NoError(t, attRepo.Create(ctx, att))
	require.Equal(t, AttemptWaiting, att.Status)

	require.NoError(t, attRepo.CompareAndSetStatus(ctx, att.ID, AttemptWaiting, AttemptSending, nil, nil))
	now := time.Now()
	require.NoError(t, attRepo.CompareAndSetStatus(ctx, att.ID, AttemptSending, AttemptSuccess, nil, &now))

	// Once latched success, CAS back to anything else must fail.
	errMsg := "late failure"
	err := attRepo.CompareAndSetStatus(ctx, att.ID, AttemptSuccess, AttemptFailed, &errMsg, nil)
	require.ErrorIs(t, err, ErrCASFailed)

	got, err := attRepo.GetByID(ctx, att.ID)
	require.NoError(t, err)
	require.Equal(t, AttemptSuccess, got.Status)
	require.NotNil(t, got.SentAt)

	// A stale CAS from the wrong `from` state is rejected too.
	err = attRepo.CompareAndSetStatus(ctx, att.ID, AttemptWaiting, AttemptSending, nil, nil)
	require.ErrorIs(t, err, ErrCASFailed)

	counts, err := attRepo.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[AttemptSuccess])
}

func TestAttemptRetryAndStuckRecovery(t *testing.T) {
	s := newTestStore(t)
	credRepo := NewCredentialRepo(s)
	chanRepo := NewChannelRepo(s)
	msgRepo := NewMessageRepo(s)
	attRepo := NewAttemptRepo(s)
	ctx := context.Background()

	cred := &Credential{Name: "c", Token: "t2", Status: CredentialEnabled}
	require.NoError(t, credRepo.Create(ctx, cred))
	ch := &ChannelTemplate{Name: "ch", APIURL: "https://example.test", Method: MethodPOST, ContentType: ContentJSON, Status: TemplateEnabled}
	require.NoError(t, chanRepo.Create(ctx, ch))
	msg := &Message{CredentialID: cred.ID}
	require.NoError(t, msgRepo.Create(ctx, msg))

	att := &Attempt{MessageID: msg.ID, ChannelID: ch.ID, MaxRetries: 2}
	require.NoError(t, attRepo.Create(ctx, att))
	require.NoError(t, attRepo.CompareAndSetStatus(ctx, att.ID, AttemptWaiting, AttemptFailed, nil, nil))

	failed, err := attRepo.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	n, err := attRepo.IncrementRetry(ctx, att.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// A second attempt needs its own channel: (message_id, channel_id) is unique.
	ch2 := &ChannelTemplate{Name: "ch2", APIURL: "https://example.test/2", Method: MethodPOST, ContentType: ContentJSON, Status: TemplateEnabled}
	require.NoError(t, chanRepo.Create(ctx, ch2))
	att2 := &Attempt{MessageID: msg.ID, ChannelID: ch2.ID}
	require.NoError(t, attRepo.Create(ctx, att2))
	require.NoError(t, attRepo.CompareAndSetStatus(ctx, att2.ID, AttemptWaiting, AttemptSending, nil, nil))

	stuck, err := attRepo.ListStuck(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, att2.ID, stuck[0].ID)
}

func TestCompareAndSetFailedExhaustsOrIncrements(t *testing.T) {
	s := newTestStore(t)
	credRepo := NewCredentialRepo(s)
	chanRepo := NewChannelRepo(s)
	msgRepo := NewMessageRepo(s)
	attRepo := NewAttemptRepo(s)
	ctx := context.Background()

	cred := &Credential{Name: "c", Token: "t3", Status: CredentialEnabled}
	require.NoError(t, credRepo.Create(ctx, cred))
	ch := &ChannelTemplate{Name: "ch", APIURL: "https://example.test", Method: MethodPOST, ContentType: ContentJSON, Status: TemplateEnabled}
	require.NoError(t, chanRepo.Create(ctx, ch))
	msg := &Message{CredentialID: cred.ID}
	require.NoError(t, msgRepo.Create(ctx, msg))

	transient := &Attempt{MessageID: msg.ID, ChannelID: ch.ID, MaxRetries: 5}
	require.NoError(t, attRepo.Create(ctx, transient))
	require.NoError(t, attRepo.CompareAndSetStatus(ctx, transient.ID, AttemptWaiting, AttemptSending, nil, nil))
	require.NoError(t, attRepo.CompareAndSetFailed(ctx, transient.ID, AttemptSending, "connection refused", false))
	got, err := attRepo.GetByID(ctx, transient.ID)
	require.NoError(t, err)
	require.Equal(t, AttemptFailed, got.Status)
	require.Equal(t, 1, got.RetryCount)
	require.Less(t, got.RetryCount, got.MaxRetries)

	// A second attempt needs its own channel: (message_id, channel_id) is unique.
	ch2 := &ChannelTemplate{Name: "ch2", APIURL: "https://example.test/2", Method: MethodPOST, ContentType: ContentJSON, Status: TemplateEnabled}
	require.NoError(t, chanRepo.Create(ctx, ch2))
	permanent := &Attempt{MessageID: msg.ID, ChannelID: ch2.ID, MaxRetries: 5}
	require.NoError(t, attRepo.Create(ctx, permanent))
	require.NoError(t, attRepo.CompareAndSetStatus(ctx, permanent.ID, AttemptWaiting, AttemptSending, nil, nil))
	require.NoError(t, attRepo.CompareAndSetFailed(ctx, permanent.ID, AttemptSending, "404 not found", true))
	got, err = attRepo.GetByID(ctx, permanent.ID)
	require.NoError(t, err)
	require.Equal(t, AttemptFailed, got.Status)
	require.Equal(t, got.MaxRetries, got.RetryCount)

	// A CAS against the wrong `from` status is rejected, not silently applied.
	err = attRepo.CompareAndSetFailed(ctx, permanent.ID, AttemptSending, "stale", false)
	require.ErrorIs(t, err, ErrCASFailed)
}

func TestSystemConfigUpsert(t *testing.T) {
	s := newTestStore(t)
	repo := NewSystemConfigRepo(s)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "stuck_threshold_seconds", "120", "stuck attempt recovery window"))
	v, err := repo.Get(ctx, "stuck_threshold_seconds")
	require.NoError(t, err)
	require.Equal(t, "120", v)

	require.NoError(t, repo.Set(ctx, "stuck_threshold_seconds", "90", "updated"))
	v, err = repo.Get(ctx, "stuck_threshold_seconds")
	require.NoError(t, err)
	require.Equal(t, "90", v)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
