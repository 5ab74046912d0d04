package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/toneill57/muva-chat-sub006/internal/conversation"
	"github.com/toneill57/muva-chat-sub006/internal/guestauth"
	"github.com/toneill57/muva-chat-sub006/internal/retrieval"
	"github.com/toneill57/muva-chat-sub006/internal/tenant"
	"github.com/toneill57/muva-chat-sub006/internal/vectorstore"
)

// staticRegistry backs the resolver with fixed tenants.
type staticRegistry struct {
	tenants map[string]tenant.Tenant
}

func (r staticRegistry) BySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	t, ok := r.tenants[slug]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return &t, nil
}

// staticDirectory matches one reservation per tenant.
type staticDirectory struct {
	reservations []guestauth.Reservation
}

func (d staticDirectory) ActiveReservations(_ context.Context, tenantID tenant.ID, checkIn time.Time, phoneLast4 string) ([]guestauth.Reservation, error) {
	var matched []guestauth.Reservation
	for _, r := range d.reservations {
		if r.TenantID == tenantID && r.CheckIn.Equal(checkIn) && r.PhoneLast4 == phoneLast4 {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

type fakeRetriever struct {
	chunks []vectorstore.SearchResult
	err    error
}

func (f *fakeRetriever) AnswerContext(_ context.Context, _ tenant.Resolved, query string, _ []vectorstore.ContentType) ([]vectorstore.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, retrieval.ErrEmptyQuery
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

type fakeAnswerer struct {
	answer string
	err    error
}

func (f *fakeAnswerer) Answer(context.Context, string, []vectorstore.SearchResult) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

// memoryStore is an in-memory ConversationStore with error injection.
type memoryStore struct {
	conversations map[string]conversation.Conversation
	messages      map[string][]conversation.Message
	failAll       bool
	nextID        int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		conversations: map[string]conversation.Conversation{},
		messages:      map[string][]conversation.Message{},
	}
}

func (m *memoryStore) CreateConversation(_ context.Context, _ guestauth.Grant, title string) (conversation.Conversation, error) {
	if m.failAll {
		return conversation.Conversation{}, fmt.Errorf("store down")
	}
	m.nextID++
	conv := conversation.Conversation{ID: fmt.Sprintf("conv-%d", m.nextID), Title: title}
	m.conversations[conv.ID] = conv
	return conv, nil
}

func (m *memoryStore) ListConversations(context.Context, guestauth.Grant) ([]conversation.Conversation, error) {
	if m.failAll {
		return nil, fmt.Errorf("store down")
	}
	out := []conversation.Conversation{}
	for _, conv := range m.conversations {
		out = append(out, conv)
	}
	return out, nil
}

func (m *memoryStore) RenameConversation(_ context.Context, _ guestauth.Grant, id, title string) error {
	conv, ok := m.conversations[id]
	if !ok {
		return conversation.ErrNotFound
	}
	conv.Title = title
	m.conversations[id] = conv
	return nil
}

func (m *memoryStore) DeleteConversation(_ context.Context, _ guestauth.Grant, id string) error {
	if _, ok := m.conversations[id]; !ok {
		return conversation.ErrNotFound
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

func (m *memoryStore) AppendMessage(_ context.Context, _ guestauth.Grant, id string, role conversation.Role, content string, entities map[string]any) (conversation.Message, error) {
	if m.failAll {
		return conversation.Message{}, fmt.Errorf("store down")
	}
	if _, ok := m.conversations[id]; !ok {
		return conversation.Message{}, conversation.ErrNotFound
	}
	message := conversation.Message{
		ConversationID: id,
		Sequence:       len(m.messages[id]) + 1,
		Role:           role,
		Content:        content,
		Entities:       entities,
	}
	m.messages[id] = append(m.messages[id], message)
	return message, nil
}

func (m *memoryStore) ListMessages(_ context.Context, _ guestauth.Grant, id string) ([]conversation.Message, error) {
	if _, ok := m.conversations[id]; !ok {
		return nil, conversation.ErrNotFound
	}
	return m.messages[id], nil
}

func (m *memoryStore) AddFavorite(_ context.Context, _ guestauth.Grant, id string, favorite conversation.Favorite) error {
	if _, err := conversation.ParseKind(string(favorite.Kind)); err != nil {
		return err
	}
	if _, ok := m.conversations[id]; !ok {
		return conversation.ErrNotFound
	}
	return nil
}

func (m *memoryStore) RemoveFavorite(_ context.Context, _ guestauth.Grant, id, _ string) error {
	if _, ok := m.conversations[id]; !ok {
		return conversation.ErrNotFound
	}
	return conversation.ErrFavoriteNotFound
}

func (m *memoryStore) ListFavorites(_ context.Context, _ guestauth.Grant, id string) ([]conversation.Favorite, error) {
	if _, ok := m.conversations[id]; !ok {
		return nil, conversation.ErrNotFound
	}
	return []conversation.Favorite{}, nil
}

type testEnv struct {
	server *Server
	store  *memoryStore
}

func newTestEnv(t *testing.T, retriever *fakeRetriever, answerer *fakeAnswerer) *testEnv {
	t.Helper()

	registry := staticRegistry{tenants: map[string]tenant.Tenant{
		"hotel-a": {ID: "tenant-a", Slug: "hotel-a", Name: "Hotel A", Active: true},
		"hotel-b": {ID: "tenant-b", Slug: "hotel-b", Name: "Hotel B", Active: true},
	}}
	resolver := tenant.NewResolver(registry, nil, "muva.chat", zap.NewNop())

	directory := staticDirectory{reservations: []guestauth.Reservation{
		{
			ID:         "res-123",
			TenantID:   "tenant-a",
			GuestName:  "Ana Pérez",
			PhoneLast4: "4242",
			CheckIn:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			CheckOut:   time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:         "res-900",
			TenantID:   "tenant-b",
			GuestName:  "Luis Gómez",
			PhoneLast4: "9999",
			CheckIn:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			CheckOut:   time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		},
	}}
	auth, err := guestauth.NewAuthenticator(directory, []byte("server-test-secret"), time.Hour, zap.NewNop())
	require.NoError(t, err)

	store := newMemoryStore()
	srv, err := NewServer(Dependencies{
		Resolver:      resolver,
		Authenticator: auth,
		Retriever:     retriever,
		Answerer:      answerer,
		Store:         store,
	}, Config{Host: "127.0.0.1", Port: 0}, zap.NewNop())
	require.NoError(t, err)

	return &testEnv{server: srv, store: store}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, host, checkIn, phone string) string {
	t.Helper()
	body := fmt.Sprintf(`{"check_in_date":%q,"phone_last_4":%q}`, checkIn, phone)
	req := httptest.NewRequest(http.MethodPost, "/api/guest/login", strings.NewReader(body))
	req.Host = host
	req.Header.Set(echoContentType, "application/json")
	rec := e.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

const echoContentType = "Content-Type"

func TestUnknownTenantIs404(t *testing.T) {
	env := newTestEnv(t, &fakeRetriever{}, &fakeAnswerer{answer: "hi"})

	req := httptest.NewRequest(http.MethodPost, "/api/guest/login", strings.NewReader(`{}`))
	req.Host = "nosuchhotel.muva.chat"
	req.Header.Set(echoContentType, "application/json")
	rec := env.do(req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginSetsCookieAndReturnsSession(t *testing.T) {
	env := newTestEnv(t, &fakeRetriever{}, &fakeAnswerer{answer: "hi"})

	body := `{"check_in_date":"2026-03-10","phone_last_4":"4242"}`
	req := httptest.NewRequest(http.MethodPost, "/api/guest/login", strings.NewReader(body))
	req.Host = "hotel-a.muva.chat"
	req.Header.Set(echoContentType, "application/json")
	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Ana Pérez", resp.GuestName)
	assert.Equal(t, "2026-03-10", resp.CheckIn)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "guest_session", cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
}

func TestLoginBadCredentialsIs401(t *testing.T) {
	env := newTestEnv(t, &fakeRetriever{}, &fakeAnswerer{answer: "hi"})

	body := `{"check_in_date":"2026-03-10","phone_last_4":"0000"}`
	req := httptest.NewRequest(http.MethodPost, "/api/guest/login", strings.NewReader(body))
	req.Host = "hotel-a.muva.chat"
	req.Header.Set(echoContentType, "application/json")
	rec := env.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatRequiresSession(t *testing.T) {
	env := newTestEnv(t, &fakeRetriever{}, &fakeAnswerer{answer: "hi"})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query":"hello"}`))
	req.Host = "hotel-a.muva.chat"
	req.Header.Set(echoContentType, "application/json")
	rec := env.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCrossTenantTokenRejectedAndCookieCleared(t *testing.T) {
	env := newTestEnv(t, &fakeRetriever{}, &fakeAnswerer{answer: "hi"})

	token := env.login(t, "hotel-a.muva.chat", "2026-03-10", "4242")

	// Replay hotel A's token against hotel B.
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query":"hello"}`))
	req.Host = "hotel-b.muva.chat"
	req.Header.Set(echoContentType, "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := env.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "guest_session", cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
}

func TestChatHappyPath(t *testing.T) {
	retriever := &fakeRetriever{chunks: []vectorstore.SearchResult{
		{
			Chunk: vectorstore.Chunk{
				ContentType:    vectorstore.ContentManual,
				SourceDocument: "wifi.md",
				Text:           "Network Guest, password sunset2026",
			},
			Similarity: 0.91,
		},
	}}
	env := newTestEnv(t, retriever, &fakeAnswerer{answer: "The WiFi password is sunset2026."})

	token := env.login(t, "hotel-a.muva.chat", "2026-03-10", "4242")

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query":"what is the wifi password?"}`))
	req.Host = "hotel-a.muva.chat"
	req.Header.Set(echoContentType, "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "The WiFi password is sunset2026.", resp.Answer)
	assert.NotEmpty(t, resp.ConversationID)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "wifi.md", resp.Sources[0].SourceDocument)

	messages := env.store.messages[resp.ConversationID]
	require.Len(t, messages, 2)
	assert.Equal(t, conversation.RoleUser, messages[0].Role)
	assert.Equal(t, conversation.RoleAssistant, messages[1].Role)
}

func TestChatAnswerSurvivesPersistenceFailure(t *testing.T) {
	env := newTestEnv(t, &fakeRetriever{}, &fakeAnswerer{answer: "Still answered."})
	token := env.login(t, "hotel-a.muva.chat", "2026-03-10", "4242")
	env.store.failAll = true

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query":"hello"}`))
	req.Host = "hotel-a.muva.chat"
	req.Header.Set(echoContentType, "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Still answered.", resp.Answer)
	assert.Empty(t, resp.ConversationID)
}

func TestChatEmptyQueryIs400(t *testing.T) {
	env := newTestEnv(t, &fakeRetriever{}, &fakeAnswerer{answer: "hi"})
	token := env.login(t, "hotel-a.muva.chat", "2026-03-10", "4242")

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query":"  "}`))
	req.Host = "hotel-a.muva.chat"
	req.Header.Set(echoContentType, "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := env.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFavoriteErrorsMapToStatuses(t *testing.T) {
	env := newTestEnv(t, &fakeRetriever{}, &fakeAnswerer{answer: "hi"})
	token := env.login(t, "hotel-a.muva.chat", "2026-03-10", "4242")

	conv, err := env.store.CreateConversation(context.Background(), guestauth.Grant{}, "test")
	require.NoError(t, err)

	// Unknown kind is a 400.
	body := `{"kind":"hotel","name":"X"}`
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/"+conv.ID+"/favorites", strings.NewReader(body))
	req.Host = "hotel-a.muva.chat"
	req.Header.Set(echoContentType, "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := env.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing favorite is a 404.
	req = httptest.NewRequest(http.MethodDelete, "/api/conversations/"+conv.ID+"/favorites/Nowhere", nil)
	req.Host = "hotel-a.muva.chat"
	req.Header.Set("Authorization", "Bearer "+token)
	rec = env.do(req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Missing conversation is a 404.
	req = httptest.NewRequest(http.MethodGet, "/api/conversations/nope/favorites", nil)
	req.Host = "hotel-a.muva.chat"
	req.Header.Set("Authorization", "Bearer "+token)
	rec = env.do(req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeRetriever{}, &fakeAnswerer{answer: "hi"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}
