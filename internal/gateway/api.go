// ABOUTME: HTTP API handlers for accounts, messages, sessions, and file blobs.
// ABOUTME: Expert-channel writes persist first and are then routed to the pair's room.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/parleyhq/parley-gateway/internal/auth"
	"github.com/parleyhq/parley-gateway/internal/files"
	"github.com/parleyhq/parley-gateway/internal/room"
	"github.com/parleyhq/parley-gateway/internal/store"
	"github.com/parleyhq/parley-gateway/internal/wire"
)

// roomEmitter is the slice of the relay router the API layer uses: persist
// first, then hand the committed event to the conversation pair's room.
// Tests substitute a recorder.
type roomEmitter interface {
	ToRoom(idA, idB, event string, payload any) int
}

// LoginRequest is the JSON body for POST /api/auth/login.
type LoginRequest struct {
	Handle   string `json:"handle" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the minted token and the account it belongs to.
type LoginResponse struct {
	Token   string          `json:"token"`
	Account AccountResponse `json:"account"`
}

// AccountResponse is the public view of an account. The _id spelling
// matches the socket payloads the deployed clients already parse.
type AccountResponse struct {
	ID          string    `json:"_id"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SendMessageRequest is the JSON body for POST /api/messages and
// POST /api/expert-messages.
type SendMessageRequest struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Text       string `json:"text" validate:"required_without=FileID"`
	IsFile     bool   `json:"isFile"`
	FileID     string `json:"fileId" validate:"required_if=IsFile true"`
	IsVoice    bool   `json:"isVoice"`
}

// EditMessageRequest is the JSON body for PUT /api/messages/{id}.
type EditMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

// MessageResponse is a stored message in the spelling the socket protocol
// uses, so a client can drop it into a frame payload unchanged.
type MessageResponse struct {
	ID         string     `json:"_id"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Text       string     `json:"text"`
	Time       time.Time  `json:"time"`
	IsFile     bool       `json:"isFile"`
	FileID     string     `json:"fileId,omitempty"`
	IsVoice    bool       `json:"isVoice"`
	EditedAt   *time.Time `json:"editedAt,omitempty"`
}

// ConversationResponse is the JSON response for conversation history.
type ConversationResponse struct {
	Messages []MessageResponse `json:"messages"`
}

// DeleteMessageResponse identifies what a single-message delete removed.
// FileID is set when the message carried an upload so clients can
// invalidate cached blobs.
type DeleteMessageResponse struct {
	MessageID string `json:"messageId"`
	FileID    string `json:"fileId,omitempty"`
}

// SessionRequest is the JSON body for POST /api/sessions.
type SessionRequest struct {
	ExpertID string `json:"expertId" validate:"required"`
}

// SessionResponse is the public view of a consultation session.
type SessionResponse struct {
	ID          string     `json:"_id"`
	ExpertA     string     `json:"expertA"`
	ExpertB     string     `json:"expertB"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
}

// SessionsResponse is the JSON response for GET /api/sessions.
type SessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// RoomResponse carries the canonical room key for a conversation pair.
type RoomResponse struct {
	Room string `json:"room"`
}

// FileResponse is the metadata returned after an upload. Clients reference
// the ID from message payloads via fileId.
type FileResponse struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toAccountResponse(account *store.Account) AccountResponse {
	return AccountResponse{
		ID:          account.ID,
		Handle:      account.Handle,
		DisplayName: account.DisplayName,
		Role:        account.Role,
		CreatedAt:   account.CreatedAt,
	}
}

func toMessageResponse(msg *store.Message) MessageResponse {
	return MessageResponse{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		Time:       msg.SentAt,
		IsFile:     msg.IsFile,
		FileID:     msg.FileID,
		IsVoice:    msg.IsVoice,
		EditedAt:   msg.EditedAt,
	}
}

func toSessionResponse(session *store.Session) SessionResponse {
	return SessionResponse{
		ID:          session.ID,
		ExpertA:     session.ExpertA,
		ExpertB:     session.ExpertB,
		Status:      session.Status,
		CreatedAt:   session.CreatedAt,
		ConfirmedAt: session.ConfirmedAt,
	}
}

func toFileResponse(obj *store.FileObject) FileResponse {
	return FileResponse{
		ID:          obj.ID,
		Name:        obj.Name,
		ContentType: obj.ContentType,
		Size:        obj.Size,
		CreatedAt:   obj.CreatedAt,
	}
}

// sendJSON writes a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes and validates a JSON request body. On failure it
// writes the error response and reports false.
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := g.validate.Struct(dst); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage flattens a validator error into one client-facing line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		return fe.Field()
	})
	return "invalid or missing fields: " + strings.Join(fields, ", ")
}

// handleLogin handles POST /api/auth/login: verify handle and password,
// mint a bearer token. Unknown handle and wrong password answer
// identically.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if !g.decodeBody(w, r, &req) {
		return
	}

	account, err := g.store.GetAccountByHandle(r.Context(), req.Handle)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid handle or password")
		return
	}
	if err != nil {
		g.logger.Error("failed to load account", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !auth.CheckPassword(account.PasswordHash, req.Password) {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid handle or password")
		return
	}

	token, err := g.verifier.Generate(account.ID, g.config.Auth.TokenTTL)
	if err != nil {
		g.logger.Error("failed to mint token", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("account logged in", "account", account.ID, "role", account.Role)
	g.sendJSON(w, http.StatusOK, LoginResponse{Token: token, Account: toAccountResponse(account)})
}

// handleMe handles GET /api/me.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	account, err := g.store.GetAccount(r.Context(), authCtx.AccountID)
	if err != nil {
		// The middleware loaded this account moments ago.
		g.logger.Error("failed to load own account", "account", authCtx.AccountID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, toAccountResponse(account))
}

// handleMessages serves the direct-channel message collection: POST
// persists, GET lists history with a peer, DELETE clears the conversation.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.createMessage(w, r, store.ChannelDirect)
	case http.MethodGet:
		g.listConversation(w, r, store.ChannelDirect)
	case http.MethodDelete:
		g.deleteConversation(w, r, store.ChannelDirect)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleExpertMessages serves the expert-channel message collection. The
// session gate guards creation and reads: a confirmed session between the
// caller and the peer must exist.
func (g *Gateway) handleExpertMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.createMessage(w, r, store.ChannelExpert)
	case http.MethodGet:
		g.listConversation(w, r, store.ChannelExpert)
	case http.MethodDelete:
		g.deleteConversation(w, r, store.ChannelExpert)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleMessageByID serves PUT and DELETE on /api/messages/{id}.
func (g *Gateway) handleMessageByID(w http.ResponseWriter, r *http.Request) {
	g.messageByID(w, r, store.ChannelDirect, "/api/messages/")
}

// handleExpertMessageByID serves PUT and DELETE on /api/expert-messages/{id}.
func (g *Gateway) handleExpertMessageByID(w http.ResponseWriter, r *http.Request) {
	g.messageByID(w, r, store.ChannelExpert, "/api/expert-messages/")
}

func (g *Gateway) messageByID(w http.ResponseWriter, r *http.Request, channel, prefix string) {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" || strings.Contains(id, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "invalid path")
		return
	}

	switch r.Method {
	case http.MethodPut:
		g.editMessage(w, r, channel, id)
	case http.MethodDelete:
		g.deleteMessage(w, r, channel, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// requireSession enforces the conversation session gate. Gate errors deny,
// so a store outage never opens the expert channel.
func (g *Gateway) requireSession(w http.ResponseWriter, r *http.Request, a, b string) bool {
	if g.gate.ConfirmedSessionExists(r.Context(), a, b) {
		return true
	}
	g.sendJSONError(w, http.StatusForbidden, "no confirmed session with this expert")
	return false
}

// createMessage persists a new message from the caller. On the expert
// channel the stored record is also routed to the pair's room as a live
// event; on the direct channel the client emits the socket frame itself.
func (g *Gateway) createMessage(w http.ResponseWriter, r *http.Request, channel string) {
	authCtx := auth.MustFromContext(r.Context())

	var req SendMessageRequest
	if !g.decodeBody(w, r, &req) {
		return
	}

	if channel == store.ChannelExpert && !g.requireSession(w, r, authCtx.AccountID, req.ReceiverID) {
		return
	}

	msg := &store.Message{
		ID:         store.NewID(),
		Channel:    channel,
		SenderID:   authCtx.AccountID,
		ReceiverID: req.ReceiverID,
		Text:       req.Text,
		SentAt:     time.Now().UTC(),
		IsFile:     req.IsFile,
		FileID:     req.FileID,
		IsVoice:    req.IsVoice,
	}
	if err := g.store.CreateMessage(r.Context(), msg); err != nil {
		g.logger.Error("failed to create message", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := toMessageResponse(msg)
	if channel == store.ChannelExpert {
		g.emitter.ToRoom(msg.SenderID, msg.ReceiverID, wire.EventNewExpertMessage, resp)
	}
	g.sendJSON(w, http.StatusCreated, resp)
}

// listConversation handles GET ?peer=ID on either message collection.
func (g *Gateway) listConversation(w http.ResponseWriter, r *http.Request, channel string) {
	authCtx := auth.MustFromContext(r.Context())

	peer := r.URL.Query().Get("peer")
	if peer == "" {
		g.sendJSONError(w, http.StatusBadRequest, "peer query parameter is required")
		return
	}
	if channel == store.ChannelExpert && !g.requireSession(w, r, authCtx.AccountID, peer) {
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	messages, err := g.store.ListConversation(r.Context(), channel, authCtx.AccountID, peer, limit)
	if err != nil {
		g.logger.Error("failed to list conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, ConversationResponse{
		Messages: lo.Map(messages, func(msg *store.Message, _ int) MessageResponse {
			return toMessageResponse(msg)
		}),
	})
}

// deleteConversation handles DELETE ?peer=ID: remove every message between
// the caller and the peer on one channel, clean up uploaded blobs, and on
// the expert channel announce the teardown to the room. The response is the
// pair payload the client relays (or receives) as the cleared event.
func (g *Gateway) deleteConversation(w http.ResponseWriter, r *http.Request, channel string) {
	authCtx := auth.MustFromContext(r.Context())

	peer := r.URL.Query().Get("peer")
	if peer == "" {
		g.sendJSONError(w, http.StatusBadRequest, "peer query parameter is required")
		return
	}

	fileIDs, err := g.store.DeleteConversation(r.Context(), channel, authCtx.AccountID, peer)
	if err != nil {
		g.logger.Error("failed to delete conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	for _, fileID := range fileIDs {
		g.removeFile(r.Context(), fileID)
	}

	pair := wire.Pair{SenderID: authCtx.AccountID, ReceiverID: peer}
	if channel == store.ChannelExpert {
		g.emitter.ToRoom(pair.SenderID, pair.ReceiverID, wire.EventAllExpertMessagesDeleted, pair)
	}

	g.logger.Info("conversation deleted",
		"channel", channel,
		"sender", pair.SenderID,
		"receiver", pair.ReceiverID,
		"files_removed", len(fileIDs))
	g.sendJSON(w, http.StatusOK, pair)
}

// loadOwnMessage fetches a message and enforces that it sits on the
// expected channel and belongs to the caller. Channel mismatches read as
// not-found so the two endpoints stay disjoint.
func (g *Gateway) loadOwnMessage(w http.ResponseWriter, r *http.Request, channel, id string) *store.Message {
	authCtx := auth.MustFromContext(r.Context())

	msg, err := g.store.GetMessage(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "message not found")
		return nil
	}
	if err != nil {
		g.logger.Error("failed to load message", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return nil
	}
	if msg.Channel != channel {
		g.sendJSONError(w, http.StatusNotFound, "message not found")
		return nil
	}
	if msg.SenderID != authCtx.AccountID {
		g.sendJSONError(w, http.StatusForbidden, "only the sender can modify a message")
		return nil
	}
	return msg
}

func (g *Gateway) editMessage(w http.ResponseWriter, r *http.Request, channel, id string) {
	var req EditMessageRequest
	if !g.decodeBody(w, r, &req) {
		return
	}

	if g.loadOwnMessage(w, r, channel, id) == nil {
		return
	}

	updated, err := g.store.UpdateMessageText(r.Context(), id, req.Text, time.Now().UTC())
	if err != nil {
		g.logger.Error("failed to update message", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := toMessageResponse(updated)
	if channel == store.ChannelExpert {
		g.emitter.ToRoom(updated.SenderID, updated.ReceiverID, wire.EventExpertMessageEdited, resp)
	}
	g.sendJSON(w, http.StatusOK, resp)
}

func (g *Gateway) deleteMessage(w http.ResponseWriter, r *http.Request, channel, id string) {
	msg := g.loadOwnMessage(w, r, channel, id)
	if msg == nil {
		return
	}

	if err := g.store.DeleteMessage(r.Context(), id); err != nil {
		g.logger.Error("failed to delete message", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if msg.IsFile && msg.FileID != "" {
		g.removeFile(r.Context(), msg.FileID)
	}

	if channel == store.ChannelExpert {
		g.emitter.ToRoom(msg.SenderID, msg.ReceiverID, wire.EventExpertMessageDeleted, wire.Deletion{
			MessageID:  msg.ID,
			FileID:     msg.FileID,
			SenderID:   msg.SenderID,
			ReceiverID: msg.ReceiverID,
		})
	}
	g.sendJSON(w, http.StatusOK, DeleteMessageResponse{MessageID: msg.ID, FileID: msg.FileID})
}

// removeFile deletes a blob and its metadata row, logging rather than
// failing: the message deletion already committed.
func (g *Gateway) removeFile(ctx context.Context, fileID string) {
	obj, err := g.store.GetFile(ctx, fileID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		g.logger.Warn("failed to load file for cleanup", "file_id", fileID, "error", err)
		return
	}

	g.storage.Remove(obj)
	if err := g.store.DeleteFile(ctx, fileID); err != nil && !errors.Is(err, store.ErrNotFound) {
		g.logger.Warn("failed to delete file row", "file_id", fileID, "error", err)
	}
}

// handleRoomLookup handles GET /api/rooms?peer=ID: the canonical room key
// for the caller and a peer, which the client may join with a joinRoom
// frame. Expert only, session gated.
func (g *Gateway) handleRoomLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	peer := r.URL.Query().Get("peer")
	if peer == "" {
		g.sendJSONError(w, http.StatusBadRequest, "peer query parameter is required")
		return
	}
	if !g.requireSession(w, r, authCtx.AccountID, peer) {
		return
	}

	g.sendJSON(w, http.StatusOK, RoomResponse{Room: room.Key(authCtx.AccountID, peer)})
}

// handleSessions serves the session collection: POST requests a new
// consultation, GET lists the caller's sessions newest first.
func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.createSession(w, r)
	case http.MethodGet:
		g.listSessions(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) createSession(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req SessionRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.ExpertID == authCtx.AccountID {
		g.sendJSONError(w, http.StatusBadRequest, "cannot request a session with yourself")
		return
	}

	peer, err := g.store.GetAccount(r.Context(), req.ExpertID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "expert not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load account", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if peer.Role != store.RoleExpert {
		g.sendJSONError(w, http.StatusBadRequest, "sessions can only be requested with experts")
		return
	}

	confirmed, err := g.store.HasConfirmedSession(r.Context(), authCtx.AccountID, req.ExpertID)
	if err != nil {
		g.logger.Error("failed to check sessions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if confirmed {
		g.sendJSONError(w, http.StatusConflict, "a confirmed session already exists")
		return
	}

	session := &store.Session{
		ID:        store.NewID(),
		ExpertA:   authCtx.AccountID,
		ExpertB:   req.ExpertID,
		Status:    store.SessionPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.CreateSession(r.Context(), session); err != nil {
		g.logger.Error("failed to create session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("session requested", "session", session.ID, "from", session.ExpertA, "to", session.ExpertB)
	g.sendJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (g *Gateway) listSessions(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	sessions, err := g.store.ListSessions(r.Context(), authCtx.AccountID)
	if err != nil {
		g.logger.Error("failed to list sessions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, SessionsResponse{
		Sessions: lo.Map(sessions, func(s *store.Session, _ int) SessionResponse {
			return toSessionResponse(s)
		}),
	})
}

// handleSessionByID routes POST /api/sessions/{id}/confirm and
// DELETE /api/sessions/{id}.
func (g *Gateway) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")

	if id, ok := strings.CutSuffix(rest, "/confirm"); ok {
		if id == "" || strings.Contains(id, "/") {
			g.sendJSONError(w, http.StatusBadRequest, "invalid path")
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.confirmSession(w, r, id)
		return
	}

	if rest == "" || strings.Contains(rest, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.cancelSession(w, r, rest)
}

// loadSessionParty fetches a session and checks the caller is one of its
// two parties.
func (g *Gateway) loadSessionParty(w http.ResponseWriter, r *http.Request, id string) *store.Session {
	authCtx := auth.MustFromContext(r.Context())

	session, err := g.store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return nil
	}
	if err != nil {
		g.logger.Error("failed to load session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return nil
	}
	if session.ExpertA != authCtx.AccountID && session.ExpertB != authCtx.AccountID {
		g.sendJSONError(w, http.StatusForbidden, "not a party to this session")
		return nil
	}
	return session
}

// confirmSession lets the requested counterparty confirm a pending session,
// opening the expert channel between the two parties.
func (g *Gateway) confirmSession(w http.ResponseWriter, r *http.Request, id string) {
	authCtx := auth.MustFromContext(r.Context())

	session := g.loadSessionParty(w, r, id)
	if session == nil {
		return
	}
	if session.ExpertB != authCtx.AccountID {
		g.sendJSONError(w, http.StatusForbidden, "only the requested expert can confirm")
		return
	}
	if session.Status != store.SessionPending {
		g.sendJSONError(w, http.StatusConflict, "session is not pending")
		return
	}

	now := time.Now().UTC()
	if err := g.store.UpdateSessionStatus(r.Context(), id, store.SessionConfirmed, &now); err != nil {
		g.logger.Error("failed to confirm session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	session.Status = store.SessionConfirmed
	session.ConfirmedAt = &now
	g.logger.Info("session confirmed", "session", session.ID, "by", authCtx.AccountID)
	g.sendJSON(w, http.StatusOK, toSessionResponse(session))
}

// cancelSession lets either party cancel a session. Cancelling a confirmed
// session closes the expert channel again.
func (g *Gateway) cancelSession(w http.ResponseWriter, r *http.Request, id string) {
	session := g.loadSessionParty(w, r, id)
	if session == nil {
		return
	}
	if session.Status == store.SessionCancelled {
		g.sendJSONError(w, http.StatusConflict, "session is already cancelled")
		return
	}

	if err := g.store.UpdateSessionStatus(r.Context(), id, store.SessionCancelled, nil); err != nil {
		g.logger.Error("failed to cancel session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	session.Status = store.SessionCancelled
	session.ConfirmedAt = nil
	g.logger.Info("session cancelled", "session", session.ID)
	g.sendJSON(w, http.StatusOK, toSessionResponse(session))
}

// formOverhead is the slack above the payload cap allowed for multipart
// boundaries and part headers when limiting an upload request body.
const formOverhead = 1 << 20

// handleFiles handles POST /api/files: a multipart upload under the field
// name "file". Voice notes use the same endpoint; the voice flag lives on
// the message that references the blob.
func (g *Gateway) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, g.config.Files.MaxUploadBytes+formOverhead)

	part, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "file exceeds upload limit")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer part.Close()

	obj, err := g.storage.Save(part, header.Filename)
	if errors.Is(err, files.ErrTooLarge) {
		g.sendJSONError(w, http.StatusRequestEntityTooLarge, "file exceeds upload limit")
		return
	}
	if err != nil {
		g.logger.Error("failed to save upload", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := g.store.CreateFile(r.Context(), obj); err != nil {
		g.storage.Remove(obj)
		g.logger.Error("failed to record file", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusCreated, toFileResponse(obj))
}

// handleFileByID handles GET /api/files/{id}, streaming the blob with range
// support.
func (g *Gateway) handleFileByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/files/")
	if id == "" || strings.Contains(id, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "invalid path")
		return
	}

	obj, err := g.store.GetFile(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load file", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// ServeFile fails before writing anything, so an error response is
	// still possible here. A present row with a missing blob reads as
	// not found.
	if err := g.storage.ServeFile(w, r, obj); err != nil {
		g.logger.Error("failed to serve file", "file_id", id, "error", err)
		g.sendJSONError(w, http.StatusNotFound, "file content missing")
	}
}

// handleHealth reports liveness, including a store round-trip.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Error("store ping failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
