// ABOUTME: HTTP API tests driven through the full route stack with a mock store.
// ABOUTME: Covers auth, both message channels, the session gate, files, and health.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley-gateway/internal/auth"
	"github.com/parleyhq/parley-gateway/internal/config"
	"github.com/parleyhq/parley-gateway/internal/files"
	"github.com/parleyhq/parley-gateway/internal/presence"
	"github.com/parleyhq/parley-gateway/internal/relay"
	"github.com/parleyhq/parley-gateway/internal/room"
	"github.com/parleyhq/parley-gateway/internal/session"
	"github.com/parleyhq/parley-gateway/internal/store"
	"github.com/parleyhq/parley-gateway/internal/wire"
)

const (
	testJWTSecret = "0123456789abcdef0123456789abcdef"
	testMaxUpload = 1 << 20
)

type emitCall struct {
	a       string
	b       string
	event   string
	payload any
}

// emitRecorder stands in for the relay router on the API's emit path.
type emitRecorder struct {
	mu    sync.Mutex
	calls []emitCall
}

func (r *emitRecorder) ToRoom(idA, idB, event string, payload any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, emitCall{a: idA, b: idB, event: event, payload: payload})
	return 1
}

func (r *emitRecorder) recorded() []emitCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitCall(nil), r.calls...)
}

// testGateway is a Gateway wired against the in-memory store, with the
// router's emit path replaced by a recorder. Requests go through the real
// mux so the auth middleware and role checks run.
type testGateway struct {
	gw      *Gateway
	store   *store.MockStore
	emits   *emitRecorder
	handler http.Handler
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "localhost:0"},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Files: config.FilesConfig{
			Dir:            t.TempDir(),
			MaxUploadBytes: testMaxUpload,
		},
		Auth: config.AuthConfig{
			JWTSecret: testJWTSecret,
			TokenTTL:  time.Hour,
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mock := store.NewMockStore()
	storage, err := files.NewStorage(cfg.Files.Dir, cfg.Files.MaxUploadBytes, logger)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	registry := presence.NewRegistry(logger)
	rooms := room.NewRooms(logger)
	peers := relay.NewPeers(logger)
	router := relay.NewRouter(registry, rooms, peers, logger)
	emits := &emitRecorder{}

	gw := &Gateway{
		config:   cfg,
		store:    mock,
		storage:  storage,
		verifier: auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		validate: validator.New(),
		registry: registry,
		rooms:    rooms,
		peers:    peers,
		router:   router,
		hub:      relay.NewHub(registry, rooms, peers, router, logger),
		gate:     session.NewGate(mock, logger),
		emitter:  emits,
		logger:   logger,
	}

	handler := gw.routes(logger)
	gw.httpServer = &http.Server{Handler: handler}

	return &testGateway{gw: gw, store: mock, emits: emits, handler: handler}
}

// addAccount seeds an account and mints a bearer token for it. The password
// hash is left empty; login tests hash their own.
func (tg *testGateway) addAccount(t *testing.T, handle, role string) (*store.Account, string) {
	t.Helper()

	account := &store.Account{
		ID:          store.NewID(),
		Handle:      handle,
		DisplayName: handle,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	}
	if err := tg.store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("failed to seed account %s: %v", handle, err)
	}

	token, err := tg.gw.verifier.Generate(account.ID, time.Hour)
	if err != nil {
		t.Fatalf("failed to mint token for %s: %v", handle, err)
	}
	return account, token
}

// confirmedSession seeds a confirmed session directly in the store.
func (tg *testGateway) confirmedSession(t *testing.T, a, b string) *store.Session {
	t.Helper()

	now := time.Now().UTC()
	sess := &store.Session{
		ID:          store.NewID(),
		ExpertA:     a,
		ExpertB:     b,
		Status:      store.SessionConfirmed,
		CreatedAt:   now,
		ConfirmedAt: &now,
	}
	if err := tg.store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	return sess
}

// do runs one request through the route stack and returns the recorder. A
// string body is sent as-is; any other non-nil body is marshaled to JSON.
func (tg *testGateway) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	tg.handler.ServeHTTP(rec, req)
	return rec
}

// sendMessage posts a message to the given collection and returns the
// decoded response, failing the test on any non-201 answer.
func (tg *testGateway) sendMessage(t *testing.T, path, token string, req SendMessageRequest) MessageResponse {
	t.Helper()

	rec := tg.do(t, http.MethodPost, path, token, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send message failed: status %d, body %s", rec.Code, rec.Body.String())
	}

	var resp MessageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode message response: %v", err)
	}
	return resp
}

// doUpload posts content as one multipart field and returns the recorder.
func (tg *testGateway) doUpload(t *testing.T, token, field, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	tg.handler.ServeHTTP(rec, req)
	return rec
}

// uploadFile uploads content under the "file" field and returns the decoded
// metadata response.
func (tg *testGateway) uploadFile(t *testing.T, token, filename string, content []byte) FileResponse {
	t.Helper()

	rec := tg.doUpload(t, token, "file", filename, content)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload failed: status %d, body %s", rec.Code, rec.Body.String())
	}

	var resp FileResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode upload response: %v", err)
	}
	return resp
}

func errBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp["error"]
}

// pngBytes returns a minimal payload that sniffs as image/png.
func pngBytes() []byte {
	return append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, bytes.Repeat([]byte{0}, 64)...)
}

func TestLogin(t *testing.T) {
	tg := newTestGateway(t)

	hash, err := auth.HashPassword("opensesame")
	require.NoError(t, err)
	account := &store.Account{
		ID:           store.NewID(),
		Handle:       "ada",
		DisplayName:  "Ada",
		Role:         store.RoleExpert,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, tg.store.CreateAccount(context.Background(), account))

	rec := tg.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Handle: "ada", Password: "opensesame"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, account.ID, resp.Account.ID)
	assert.Equal(t, store.RoleExpert, resp.Account.Role)

	// The minted token must pass the middleware.
	rec = tg.do(t, http.MethodGet, "/api/me", resp.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin_BadCredentials(t *testing.T) {
	tg := newTestGateway(t)

	hash, err := auth.HashPassword("opensesame")
	require.NoError(t, err)
	require.NoError(t, tg.store.CreateAccount(context.Background(), &store.Account{
		ID:           store.NewID(),
		Handle:       "ada",
		Role:         store.RoleUser,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}))

	wrongPassword := tg.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Handle: "ada", Password: "guess"})
	unknownHandle := tg.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Handle: "nobody", Password: "guess"})

	// Both failures answer identically so handles cannot be probed.
	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownHandle.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownHandle.Body.String())
	assert.Equal(t, "invalid handle or password", errBody(t, wrongPassword))
}

func TestLogin_Validation(t *testing.T) {
	tg := newTestGateway(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "missing password", body: `{"handle":"ada"}`, want: "invalid or missing fields: Password"},
		{name: "missing handle", body: `{"password":"x"}`, want: "invalid or missing fields: Handle"},
		{name: "empty body", body: `{}`, want: "invalid or missing fields: Handle, Password"},
		{name: "invalid json", body: `not json`, want: "invalid JSON body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tg.do(t, http.MethodPost, "/api/auth/login", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, errBody(t, rec))
		})
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	tg := newTestGateway(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/me"},
		{http.MethodPost, "/api/messages"},
		{http.MethodGet, "/api/messages?peer=x"},
		{http.MethodPut, "/api/messages/abc"},
		{http.MethodPost, "/api/expert-messages"},
		{http.MethodGet, "/api/rooms?peer=x"},
		{http.MethodPost, "/api/sessions"},
		{http.MethodPost, "/api/files"},
		{http.MethodGet, "/api/files/abc"},
	}
	for _, ep := range endpoints {
		rec := tg.do(t, ep.method, ep.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", ep.method, ep.path)
	}

	// Garbage tokens and tokens for vanished accounts are rejected too.
	rec := tg.do(t, http.MethodGet, "/api/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	orphan, err := tg.gw.verifier.Generate(store.NewID(), time.Hour)
	require.NoError(t, err)
	rec = tg.do(t, http.MethodGet, "/api/me", orphan, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	tg := newTestGateway(t)
	account, token := tg.addAccount(t, "mallory", store.RoleUser)

	rec := tg.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Decoded as a raw map to pin the _id spelling the clients parse.
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, account.ID, body["_id"])
	assert.Equal(t, "mallory", body["handle"])
	assert.Equal(t, store.RoleUser, body["role"])
}

func TestSendDirectMessage(t *testing.T) {
	tg := newTestGateway(t)
	alice, aliceToken := tg.addAccount(t, "alice", store.RoleUser)
	bob, _ := tg.addAccount(t, "bob", store.RoleExpert)

	rec := tg.do(t, http.MethodPost, "/api/messages", aliceToken, SendMessageRequest{
		ReceiverID: bob.ID,
		Text:       "hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	raw := rec.Body.Bytes()
	var resp MessageResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Len(t, resp.ID, 24)
	assert.Equal(t, alice.ID, resp.SenderID)
	assert.Equal(t, bob.ID, resp.ReceiverID)
	assert.Equal(t, "hello", resp.Text)
	assert.False(t, resp.Time.IsZero())
	assert.Nil(t, resp.EditedAt)

	// Field spellings must match the socket payloads.
	var keys map[string]any
	require.NoError(t, json.Unmarshal(raw, &keys))
	for _, k := range []string{"_id", "senderId", "receiverId", "time", "isFile", "isVoice"} {
		assert.Contains(t, keys, k)
	}

	stored, err := tg.store.GetMessage(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ChannelDirect, stored.Channel)

	// Direct sends are relayed by the sender's own socket frame, never
	// routed by the server.
	assert.Empty(t, tg.emits.recorded())
}

func TestSendMessage_Validation(t *testing.T) {
	tg := newTestGateway(t)
	_, token := tg.addAccount(t, "alice", store.RoleUser)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "empty body", body: `{}`, want: http.StatusBadRequest},
		{name: "text missing without file", body: `{"receiverId":"r1"}`, want: http.StatusBadRequest},
		{name: "file flag without file id", body: `{"receiverId":"r1","isFile":true}`, want: http.StatusBadRequest},
		{name: "invalid json", body: `{{`, want: http.StatusBadRequest},
		{name: "file message needs no text", body: `{"receiverId":"r1","isFile":true,"fileId":"f1"}`, want: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tg.do(t, http.MethodPost, "/api/messages", token, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestDirectConversation(t *testing.T) {
	tg := newTestGateway(t)
	alice, aliceToken := tg.addAccount(t, "alice", store.RoleUser)
	bob, bobToken := tg.addAccount(t, "bob", store.RoleExpert)
	_, carolToken := tg.addAccount(t, "carol", store.RoleUser)

	tg.sendMessage(t, "/api/messages", aliceToken, SendMessageRequest{ReceiverID: bob.ID, Text: "one"})
	tg.sendMessage(t, "/api/messages", bobToken, SendMessageRequest{ReceiverID: alice.ID, Text: "two"})
	tg.sendMessage(t, "/api/messages", aliceToken, SendMessageRequest{ReceiverID: bob.ID, Text: "three"})
	tg.sendMessage(t, "/api/messages", carolToken, SendMessageRequest{ReceiverID: alice.ID, Text: "other pair"})

	// Both directions of the pair, oldest first, other pairs excluded.
	rec := tg.do(t, http.MethodGet, "/api/messages?peer="+bob.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ConversationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, "one", resp.Messages[0].Text)
	assert.Equal(t, "two", resp.Messages[1].Text)
	assert.Equal(t, "three", resp.Messages[2].Text)

	// Same view from the other side.
	rec = tg.do(t, http.MethodGet, "/api/messages?peer="+alice.ID, bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mirror ConversationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&mirror))
	assert.Len(t, mirror.Messages, 3)

	// Limit keeps the oldest slice of the window.
	rec = tg.do(t, http.MethodGet, "/api/messages?peer="+bob.ID+"&limit=2", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var limited ConversationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&limited))
	require.Len(t, limited.Messages, 2)
	assert.Equal(t, "one", limited.Messages[0].Text)

	rec = tg.do(t, http.MethodGet, "/api/messages", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "peer query parameter is required", errBody(t, rec))

	for _, limit := range []string{"0", "-3", "abc"} {
		rec = tg.do(t, http.MethodGet, "/api/messages?peer="+bob.ID+"&limit="+limit, aliceToken, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestEditMessage(t *testing.T) {
	tg := newTestGateway(t)
	_, aliceToken := tg.addAccount(t, "alice", store.RoleUser)
	bob, bobToken := tg.addAccount(t, "bob", store.RoleExpert)

	msg := tg.sendMessage(t, "/api/messages", aliceToken, SendMessageRequest{ReceiverID: bob.ID, Text: "teh fix"})

	rec := tg.do(t, http.MethodPut, "/api/messages/"+msg.ID, aliceToken, EditMessageRequest{Text: "the fix"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp MessageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "the fix", resp.Text)
	assert.NotNil(t, resp.EditedAt)

	stored, err := tg.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "the fix", stored.Text)
	assert.NotNil(t, stored.EditedAt)

	// Only the sender may edit.
	rec = tg.do(t, http.MethodPut, "/api/messages/"+msg.ID, bobToken, EditMessageRequest{Text: "hijack"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "only the sender can modify a message", errBody(t, rec))

	rec = tg.do(t, http.MethodPut, "/api/messages/"+store.NewID(), aliceToken, EditMessageRequest{Text: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = tg.do(t, http.MethodPut, "/api/messages/"+msg.ID, aliceToken, `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessageEndpointsAreChannelDisjoint(t *testing.T) {
	tg := newTestGateway(t)
	alice, aliceToken := tg.addAccount(t, "alice", store.RoleExpert)
	bob, _ := tg.addAccount(t, "bob", store.RoleExpert)

	msg := &store.Message{
		ID:         store.NewID(),
		Channel:    store.ChannelExpert,
		SenderID:   alice.ID,
		ReceiverID: bob.ID,
		Text:       "peer talk",
		SentAt:     time.Now().UTC(),
	}
	require.NoError(t, tg.store.CreateMessage(context.Background(), msg))

	// An expert-channel message is invisible through the direct endpoint.
	rec := tg.do(t, http.MethodPut, "/api/messages/"+msg.ID, aliceToken, EditMessageRequest{Text: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "message not found", errBody(t, rec))

	rec = tg.do(t, http.MethodDelete, "/api/messages/"+msg.ID, aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMessage_RemovesUpload(t *testing.T) {
	tg := newTestGateway(t)
	_, aliceToken := tg.addAccount(t, "alice", store.RoleUser)
	bob, _ := tg.addAccount(t, "bob", store.RoleExpert)

	upload := tg.uploadFile(t, aliceToken, "note.png", pngBytes())
	msg := tg.sendMessage(t, "/api/messages", aliceToken, SendMessageRequest{
		ReceiverID: bob.ID,
		IsFile:     true,
		FileID:     upload.ID,
	})

	rec := tg.do(t, http.MethodDelete, "/api/messages/"+msg.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp DeleteMessageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, msg.ID, resp.MessageID)
	assert.Equal(t, upload.ID, resp.FileID)

	_, err := tg.store.GetMessage(context.Background(), msg.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = tg.store.GetFile(context.Background(), upload.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The blob is gone from disk too.
	entries, err := os.ReadDir(tg.gw.config.Files.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteConversation(t *testing.T) {
	tg := newTestGateway(t)
	alice, aliceToken := tg.addAccount(t, "alice", store.RoleUser)
	bob, bobToken := tg.addAccount(t, "bob", store.RoleExpert)
	_, carolToken := tg.addAccount(t, "carol", store.RoleUser)

	upload := tg.uploadFile(t, aliceToken, "scan.png", pngBytes())
	tg.sendMessage(t, "/api/messages", aliceToken, SendMessageRequest{ReceiverID: bob.ID, Text: "one"})
	tg.sendMessage(t, "/api/messages", bobToken, SendMessageRequest{ReceiverID: alice.ID, Text: "two"})
	tg.sendMessage(t, "/api/messages", aliceToken, SendMessageRequest{ReceiverID: bob.ID, IsFile: true, FileID: upload.ID})
	keep := tg.sendMessage(t, "/api/messages", carolToken, SendMessageRequest{ReceiverID: alice.ID, Text: "keep me"})

	rec := tg.do(t, http.MethodDelete, "/api/messages?peer="+bob.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair wire.Pair
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pair))
	assert.Equal(t, alice.ID, pair.SenderID)
	assert.Equal(t, bob.ID, pair.ReceiverID)

	msgs, err := tg.store.ListConversation(context.Background(), store.ChannelDirect, alice.ID, bob.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Other conversations survive.
	_, err = tg.store.GetMessage(context.Background(), keep.ID)
	assert.NoError(t, err)

	// The referenced upload is cleaned up with the conversation.
	_, err = tg.store.GetFile(context.Background(), upload.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec = tg.do(t, http.MethodDelete, "/api/messages", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpertEndpointsRequireExpertRole(t *testing.T) {
	tg := newTestGateway(t)
	_, userToken := tg.addAccount(t, "uma", store.RoleUser)

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/expert-messages"},
		{http.MethodGet, "/api/expert-messages?peer=x"},
		{http.MethodPut, "/api/expert-messages/abc"},
		{http.MethodGet, "/api/rooms?peer=x"},
		{http.MethodPost, "/api/sessions"},
		{http.MethodGet, "/api/sessions"},
		{http.MethodPost, "/api/sessions/abc/confirm"},
		{http.MethodDelete, "/api/sessions/abc"},
	}
	for _, ep := range endpoints {
		rec := tg.do(t, ep.method, ep.path, userToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", ep.method, ep.path)
	}
}

func TestExpertChannelRequiresConfirmedSession(t *testing.T) {
	tg := newTestGateway(t)
	ann, annToken := tg.addAccount(t, "ann", store.RoleExpert)
	ben, _ := tg.addAccount(t, "ben", store.RoleExpert)

	send := SendMessageRequest{ReceiverID: ben.ID, Text: "hi"}
	rec := tg.do(t, http.MethodPost, "/api/expert-messages", annToken, send)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "no confirmed session with this expert", errBody(t, rec))

	rec = tg.do(t, http.MethodGet, "/api/expert-messages?peer="+ben.ID, annToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = tg.do(t, http.MethodGet, "/api/rooms?peer="+ben.ID, annToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A pending session does not open the channel either.
	require.NoError(t, tg.store.CreateSession(context.Background(), &store.Session{
		ID:        store.NewID(),
		ExpertA:   ann.ID,
		ExpertB:   ben.ID,
		Status:    store.SessionPending,
		CreatedAt: time.Now().UTC(),
	}))
	rec = tg.do(t, http.MethodPost, "/api/expert-messages", annToken, send)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Empty(t, tg.emits.recorded())
}

func TestSessionLifecycle(t *testing.T) {
	tg := newTestGateway(t)
	ann, annToken := tg.addAccount(t, "ann", store.RoleExpert)
	ben, benToken := tg.addAccount(t, "ben", store.RoleExpert)

	// Request.
	rec := tg.do(t, http.MethodPost, "/api/sessions", annToken, SessionRequest{ExpertID: ben.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sess SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sess))
	assert.Equal(t, store.SessionPending, sess.Status)
	assert.Equal(t, ann.ID, sess.ExpertA)
	assert.Equal(t, ben.ID, sess.ExpertB)
	assert.Nil(t, sess.ConfirmedAt)

	// Only the requested expert can confirm, not the requester.
	rec = tg.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/confirm", annToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "only the requested expert can confirm", errBody(t, rec))

	rec = tg.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/confirm", benToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var confirmed SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&confirmed))
	assert.Equal(t, store.SessionConfirmed, confirmed.Status)
	assert.NotNil(t, confirmed.ConfirmedAt)

	// Confirming twice conflicts.
	rec = tg.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/confirm", benToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "session is not pending", errBody(t, rec))

	// Both parties see the session in their list.
	for _, token := range []string{annToken, benToken} {
		rec = tg.do(t, http.MethodGet, "/api/sessions", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var list SessionsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
		require.Len(t, list.Sessions, 1)
		assert.Equal(t, sess.ID, list.Sessions[0].ID)
	}

	// The confirmed session opens the expert channel.
	tg.sendMessage(t, "/api/expert-messages", annToken, SendMessageRequest{ReceiverID: ben.ID, Text: "hello"})

	// Either party can cancel; cancelling closes the channel again.
	rec = tg.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, annToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cancelled))
	assert.Equal(t, store.SessionCancelled, cancelled.Status)
	assert.Nil(t, cancelled.ConfirmedAt)

	rec = tg.do(t, http.MethodPost, "/api/expert-messages", annToken, SendMessageRequest{ReceiverID: ben.ID, Text: "gone?"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = tg.do(t, http.MethodGet, "/api/expert-messages?peer="+ben.ID, annToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateSession_Validation(t *testing.T) {
	tg := newTestGateway(t)
	ann, annToken := tg.addAccount(t, "ann", store.RoleExpert)
	ben, benToken := tg.addAccount(t, "ben", store.RoleExpert)
	uma, _ := tg.addAccount(t, "uma", store.RoleUser)

	rec := tg.do(t, http.MethodPost, "/api/sessions", annToken, SessionRequest{ExpertID: ann.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cannot request a session with yourself", errBody(t, rec))

	rec = tg.do(t, http.MethodPost, "/api/sessions", annToken, SessionRequest{ExpertID: store.NewID()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "expert not found", errBody(t, rec))

	rec = tg.do(t, http.MethodPost, "/api/sessions", annToken, SessionRequest{ExpertID: uma.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "sessions can only be requested with experts", errBody(t, rec))

	rec = tg.do(t, http.MethodPost, "/api/sessions", annToken, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A confirmed session blocks a duplicate request from either side.
	tg.confirmedSession(t, ann.ID, ben.ID)
	rec = tg.do(t, http.MethodPost, "/api/sessions", annToken, SessionRequest{ExpertID: ben.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = tg.do(t, http.MethodPost, "/api/sessions", benToken, SessionRequest{ExpertID: ann.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "a confirmed session already exists", errBody(t, rec))
}

func TestSessionByID_Errors(t *testing.T) {
	tg := newTestGateway(t)
	ann, annToken := tg.addAccount(t, "ann", store.RoleExpert)
	ben, _ := tg.addAccount(t, "ben", store.RoleExpert)
	_, caraToken := tg.addAccount(t, "cara", store.RoleExpert)

	sess := &store.Session{
		ID:        store.NewID(),
		ExpertA:   ann.ID,
		ExpertB:   ben.ID,
		Status:    store.SessionPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, tg.store.CreateSession(context.Background(), sess))

	// Outsiders are not parties, even with the expert role.
	rec := tg.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/confirm", caraToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not a party to this session", errBody(t, rec))

	rec = tg.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, caraToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = tg.do(t, http.MethodPost, "/api/sessions/"+store.NewID()+"/confirm", annToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A cancelled session cannot be cancelled again.
	rec = tg.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, annToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = tg.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, annToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "session is already cancelled", errBody(t, rec))

	// Malformed paths and wrong methods.
	rec = tg.do(t, http.MethodDelete, "/api/sessions/a/b", annToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = tg.do(t, http.MethodGet, "/api/sessions/"+sess.ID, annToken, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestExpertMessageRouting(t *testing.T) {
	tg := newTestGateway(t)
	ann, annToken := tg.addAccount(t, "ann", store.RoleExpert)
	ben, benToken := tg.addAccount(t, "ben", store.RoleExpert)
	tg.confirmedSession(t, ann.ID, ben.ID)

	msg := tg.sendMessage(t, "/api/expert-messages", annToken, SendMessageRequest{ReceiverID: ben.ID, Text: "draft"})

	stored, err := tg.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ChannelExpert, stored.Channel)

	// The receiver reads the same history through the gate.
	rec := tg.do(t, http.MethodGet, "/api/expert-messages?peer="+ann.ID, benToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conv ConversationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conv))
	require.Len(t, conv.Messages, 1)

	rec = tg.do(t, http.MethodPut, "/api/expert-messages/"+msg.ID, annToken, EditMessageRequest{Text: "final"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = tg.do(t, http.MethodDelete, "/api/expert-messages/"+msg.ID, annToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = tg.do(t, http.MethodDelete, "/api/expert-messages?peer="+ben.ID, annToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Every write was routed to the pair's room after committing, in order.
	calls := tg.emits.recorded()
	require.Len(t, calls, 4)

	assert.Equal(t, wire.EventNewExpertMessage, calls[0].event)
	assert.Equal(t, ann.ID, calls[0].a)
	assert.Equal(t, ben.ID, calls[0].b)
	created, ok := calls[0].payload.(MessageResponse)
	require.True(t, ok, "payload type %T", calls[0].payload)
	assert.Equal(t, msg.ID, created.ID)
	assert.Equal(t, "draft", created.Text)

	assert.Equal(t, wire.EventExpertMessageEdited, calls[1].event)
	edited, ok := calls[1].payload.(MessageResponse)
	require.True(t, ok, "payload type %T", calls[1].payload)
	assert.Equal(t, "final", edited.Text)
	assert.NotNil(t, edited.EditedAt)

	assert.Equal(t, wire.EventExpertMessageDeleted, calls[2].event)
	deleted, ok := calls[2].payload.(wire.Deletion)
	require.True(t, ok, "payload type %T", calls[2].payload)
	assert.Equal(t, msg.ID, deleted.MessageID)
	assert.Equal(t, ann.ID, deleted.SenderID)
	assert.Equal(t, ben.ID, deleted.ReceiverID)

	assert.Equal(t, wire.EventAllExpertMessagesDeleted, calls[3].event)
	cleared, ok := calls[3].payload.(wire.Pair)
	require.True(t, ok, "payload type %T", calls[3].payload)
	assert.Equal(t, wire.Pair{SenderID: ann.ID, ReceiverID: ben.ID}, cleared)
}

func TestRoomLookup(t *testing.T) {
	tg := newTestGateway(t)
	ann, annToken := tg.addAccount(t, "ann", store.RoleExpert)
	ben, benToken := tg.addAccount(t, "ben", store.RoleExpert)
	tg.confirmedSession(t, ann.ID, ben.ID)

	rec := tg.do(t, http.MethodGet, "/api/rooms?peer="+ben.ID, annToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var annView RoomResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&annView))
	assert.Equal(t, room.Key(ann.ID, ben.ID), annView.Room)

	// The key is the same from both sides.
	rec = tg.do(t, http.MethodGet, "/api/rooms?peer="+ann.ID, benToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var benView RoomResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&benView))
	assert.Equal(t, annView.Room, benView.Room)

	rec = tg.do(t, http.MethodGet, "/api/rooms", annToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFileUploadAndDownload(t *testing.T) {
	tg := newTestGateway(t)
	_, token := tg.addAccount(t, "alice", store.RoleUser)

	content := pngBytes()
	upload := tg.uploadFile(t, token, "diagram.png", content)
	assert.NotEmpty(t, upload.ID)
	assert.Equal(t, "diagram.png", upload.Name)
	assert.Equal(t, "image/png", upload.ContentType)
	assert.Equal(t, int64(len(content)), upload.Size)

	rec := tg.do(t, http.MethodGet, "/api/files/"+upload.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "diagram.png")
	assert.Equal(t, content, rec.Body.Bytes())

	// Voice note playback scrubbing needs range requests.
	req := httptest.NewRequest(http.MethodGet, "/api/files/"+upload.ID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Range", "bytes=0-3")
	partial := httptest.NewRecorder()
	tg.handler.ServeHTTP(partial, req)
	assert.Equal(t, http.StatusPartialContent, partial.Code)
	assert.Equal(t, content[:4], partial.Body.Bytes())

	rec = tg.do(t, http.MethodGet, "/api/files/"+store.NewID(), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "file not found", errBody(t, rec))
}

func TestFileDownload_MissingBlob(t *testing.T) {
	tg := newTestGateway(t)
	_, token := tg.addAccount(t, "alice", store.RoleUser)

	// A metadata row whose blob is gone from disk reads as missing content.
	require.NoError(t, tg.store.CreateFile(context.Background(), &store.FileObject{
		ID:          "f-ghost",
		Name:        "ghost.bin",
		ContentType: "application/octet-stream",
		Size:        3,
		DiskName:    "f-ghost.bin",
		CreatedAt:   time.Now().UTC(),
	}))

	rec := tg.do(t, http.MethodGet, "/api/files/f-ghost", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "file content missing", errBody(t, rec))
}

func TestFileUpload_Errors(t *testing.T) {
	tg := newTestGateway(t)
	_, token := tg.addAccount(t, "alice", store.RoleUser)

	// Not multipart at all.
	rec := tg.do(t, http.MethodPost, "/api/files", token, `{"name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "multipart field 'file' is required", errBody(t, rec))

	// Wrong field name.
	rec = tg.doUpload(t, token, "attachment", "x.bin", []byte("abc"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A payload just past the cap is refused and leaves nothing behind.
	over := bytes.Repeat([]byte{'a'}, testMaxUpload+1)
	rec = tg.doUpload(t, token, "file", "big.bin", over)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "file exceeds upload limit", errBody(t, rec))

	entries, err := os.ReadDir(tg.gw.config.Files.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// A grossly oversized body trips the request-size guard instead.
	huge := bytes.Repeat([]byte{'b'}, testMaxUpload*3)
	rec = tg.doUpload(t, token, "file", "huge.bin", huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

type pingFailStore struct {
	store.Store
}

func (pingFailStore) Ping(context.Context) error {
	return errors.New("database is locked")
}

func TestHealth(t *testing.T) {
	tg := newTestGateway(t)

	rec := tg.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	// An unreachable store flips the endpoint to unavailable.
	tg.gw.store = pingFailStore{tg.store}
	rec = tg.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store unavailable", rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	tg := newTestGateway(t)
	_, userToken := tg.addAccount(t, "uma", store.RoleUser)
	_, expertToken := tg.addAccount(t, "eve", store.RoleExpert)

	tests := []struct {
		method string
		path   string
		token  string
	}{
		{http.MethodGet, "/api/auth/login", ""},
		{http.MethodDelete, "/api/me", userToken},
		{http.MethodPatch, "/api/messages", userToken},
		{http.MethodPost, "/api/messages/abc", userToken},
		{http.MethodPut, "/api/sessions", expertToken},
		{http.MethodPost, "/api/rooms", expertToken},
		{http.MethodPut, "/api/files", userToken},
		{http.MethodPost, "/api/files/abc", userToken},
	}
	for _, tt := range tests {
		rec := tg.do(t, tt.method, tt.path, tt.token, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tt.method, tt.path)
	}
}
