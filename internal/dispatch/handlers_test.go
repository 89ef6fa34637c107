package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"messagepusher/internal/queue"
	"messagepusher/internal/store"
)

func strPtr(s string) *string { return &s }

func newTestHandlers(t *testing.T) (*Handlers, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.RunMigrations())
	t.Cleanup(func() { _ = s.Close() })

	h := New(store.NewChannelRepo(s), store.NewAIChannelRepo(s), store.NewMessageRepo(s),
		store.NewAttemptRepo(s), store.NewAIAttemptRepo(s), NewClients(2*time.Second), zap.NewNop())
	return h, s
}

func TestSendMessageLatchesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, s := newTestHandlers(t)
	ctx := context.Background()

	cred := &store.Credential{Name: "c", Token: "t", Status: store.CredentialEnabled}
	require.NoError(t, store.NewCredentialRepo(s).Create(ctx, cred))
	channel := &store.ChannelTemplate{Name: "ch", APIURL: srv.URL, Method: store.MethodPOST, ContentType: store.ContentJSON, Status: store.TemplateEnabled}
	require.NoError(t, store.NewChannelRepo(s).Create(ctx, channel))
	msg := &store.Message{CredentialID: cred.ID, Title: strPtr("hi")}
	require.NoError(t, store.NewMessageRepo(s).Create(ctx, msg))
	attempt := &store.Attempt{MessageID: msg.ID, ChannelID: channel.ID}
	require.NoError(t, store.NewAttemptRepo(s).Create(ctx, attempt))

	task := &queue.Task{Payload: SendMessagePayload{AttemptID: attempt.ID}}
	require.NoError(t, h.SendMessage(ctx, task))

	got, err := store.NewAttemptRepo(s).GetByID(ctx, attempt.ID)
	require.NoError(t, err)
	require.Equal(t, store.AttemptSuccess, got.Status)
	require.NotNil(t, got.SentAt)
}

func TestSendMessageRecordsPermanentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	h, s := newTestHandlers(t)
	ctx := context.Background()

	cred := &store.Credential{Name: "c", Token: "t", Status: store.CredentialEnabled}
	require.NoError(t, store.NewCredentialRepo(s).Create(ctx, cred))
	channel := &store.ChannelTemplate{Name: "ch", APIURL: srv.URL, Method: store.MethodPOST, ContentType: store.ContentJSON, Status: store.TemplateEnabled}
	require.NoError(t, store.NewChannelRepo(s).Create(ctx, channel))
	msg := &store.Message{CredentialID: cred.ID, Title: strPtr("hi")}
	require.NoError(t, store.NewMessageRepo(s).Create(ctx, msg))
	attempt := &store.Attempt{MessageID: msg.ID, ChannelID: channel.ID}
	require.NoError(t, store.NewAttemptRepo(s).Create(ctx, attempt))

	task := &queue.Task{Payload: SendMessagePayload{AttemptID: attempt.ID}}
	require.NoError(t, h.SendMessage(ctx, task)) // handler itself never errors; outcome lives in the store

	got, err := store.NewAttemptRepo(s).GetByID(ctx, attempt.ID)
	require.NoError(t, err)
	require.Equal(t, store.AttemptFailed, got.Status)
	require.NotNil(t, got.Error)
}

func TestSendMessageSkipsAlreadySuccessful(t *testing.T) {
	h, s := newTestHandlers(t)
	ctx := context.Background()

	cred := &store.Credential{Name: "c", Token: "t", Status: store.CredentialEnabled}
	require.NoError(t, store.NewCredentialRepo(s).Create(ctx, cred))
	channel := &store.ChannelTemplate{Name: "ch", APIURL: "https://example.test", Method: store.MethodPOST, ContentType: store.ContentJSON, Status: store.TemplateEnabled}
	require.NoError(t, store.NewChannelRepo(s).Create(ctx, channel))
	msg := &store.Message{CredentialID: cred.ID}
	require.NoError(t, store.NewMessageRepo(s).Create(ctx, msg))
	attempt := &store.Attempt{MessageID: msg.ID, ChannelID: channel.ID}
	require.NoError(t, store.NewAttemptRepo(s).Create(ctx, attempt))
	require.NoError(t, store.NewAttemptRepo(s).CompareAndSetStatus(ctx, attempt.ID, store.AttemptWaiting, store.AttemptSending, nil, nil))
	now := time.Now()
	require.NoError(t, store.NewAttemptRepo(s).CompareAndSetStatus(ctx, attempt.ID, store.AttemptSending, store.AttemptSuccess, nil, &now))

	task := &queue.Task{Payload: SendMessagePayload{AttemptID: attempt.ID}}
	require.NoError(t, h.SendMessage(ctx, task))

	got, err := store.NewAttemptRepo(s).GetByID(ctx, attempt.ID)
	require.NoError(t, err)
	require.Equal(t, store.AttemptSuccess, got.Status) // untouched, never re-sent
}

func TestURLFetchStoresBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fetched body"))
	}))
	defer srv.Close()

	h, s := newTestHandlers(t)
	ctx := context.Background()

	cred := &store.Credential{Name: "c", Token: "t", Status: store.CredentialEnabled}
	require.NoError(t, store.NewCredentialRepo(s).Create(ctx, cred))
	u := srv.URL
	msg := &store.Message{CredentialID: cred.ID, URL: &u}
	require.NoError(t, store.NewMessageRepo(s).Create(ctx, msg))

	task := &queue.Task{Payload: URLFetchPayload{MessageID: msg.ID, URL: srv.URL}}
	require.NoError(t, h.URLFetch(ctx, task))

	got, err := store.NewMessageRepo(s).GetByID(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, "fetched body", *got.URLContent)
}

func TestSystemMaintenanceDispatchesRegisteredAction(t *testing.T) {
	h, _ := newTestHandlers(t)
	ran := false
	h.RegisterMaintenance("cleanup", func(ctx context.Context) error {
		ran = true
		return nil
	})

	task := &queue.Task{Payload: SystemMaintenancePayload{Action: "cleanup"}}
	require.NoError(t, h.SystemMaintenance(context.Background(), task))
	require.True(t, ran)
}

func TestSystemMaintenanceUnknownAction(t *testing.T) {
	h, _ := newTestHandlers(t)
	task := &queue.Task{Payload: SystemMaintenancePayload{Action: "nope"}}
	require.Error(t, h.SystemMaintenance(context.Background(), task))
}
