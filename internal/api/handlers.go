package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"lexilearn.com/tutor/internal/auth"
	"lexilearn.com/tutor/internal/chat"
	"lexilearn.com/tutor/internal/core"
	"lexilearn.com/tutor/internal/exercise"
	"lexilearn.com/tutor/internal/settings"
	"lexilearn.com/tutor/internal/store"
	"lexilearn.com/tutor/internal/transcript"
)

type ctxKey string

const userIDKey ctxKey = "userID"

type APIHandler struct {
	chatService *core.ChatService
	hub         *Hub
	logger      *zap.Logger
}

func NewAPIHandler(cs *core.ChatService, hub *Hub, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{chatService: cs, hub: hub, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}

// authenticate resolves a bearer token to an existing user id.
func (h *APIHandler) authenticate(token string) (int64, error) {
	claims, err := auth.ValidateJWT(token)
	if err != nil {
		return 0, err
	}
	id, err := claims.UserID()
	if err != nil {
		return 0, err
	}
	user, err := h.chatService.GetUserByID(id)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, auth.ErrInvalidToken
	}
	return id, nil
}

func (h *APIHandler) unauthorized(w http.ResponseWriter, err error) {
	msg := "invalid token"
	if errors.Is(err, auth.ErrTokenExpired) {
		msg = "session expired"
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": msg, "redirect": "/login"})
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization header is required", "redirect": "/login"})
			return
		}

		userID, err := h.authenticate(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrTokenExpired) {
				h.logger.Error("failed to resolve user identity", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to process user identity")
				return
			}
			h.unauthorized(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Auth

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	user, err := h.chatService.Signup(req.Username, req.Email, req.Password)
	switch {
	case errors.Is(err, core.ErrMissingFields), errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to create user", zap.String("username", req.Username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	token, user, err := h.chatService.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, core.ErrMissingFields):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, core.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	case err != nil:
		h.logger.Error("login failed", zap.String("username", req.Username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

// Chat

type PostMessageRequest struct {
	Message    string                 `json:"message"`
	Attachment *transcript.Attachment `json:"attachment,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrUnsupportedAttachment),
		errors.Is(err, exercise.ErrUnknownSkillArea):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	out, err := h.chatService.PostMessage(r.Context(), userID, req.Message, req.Attachment)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type historyResponse struct {
	transcript.HistoryResponse
	CurrentSessionID string `json:"current_session_id"`
}

func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	hist, err := h.chatService.History(r.Context(), strconv.FormatInt(userID, 10))
	if err != nil {
		h.logger.Error("failed to load chat history", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load chat history")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{HistoryResponse: hist, CurrentSessionID: h.chatService.CurrentSessionID(userID)})
}

func (h *APIHandler) TranscriptHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	reload, _ := strconv.ParseBool(r.URL.Query().Get("reload"))
	msgs := h.chatService.Transcript(r.Context(), userID, reload)
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"thinking": h.chatService.Thinking(userID),
	})
}

func (h *APIHandler) ClearScreenHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	if err := h.chatService.ClearScreen(r.Context(), userID); err != nil {
		h.logger.Error("failed to clear screen", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	st, err := h.chatService.Stats(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load stats", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) StateHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	st, err := h.chatService.State(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load session state", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Settings

func (h *APIHandler) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	s, err := h.chatService.Settings(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load settings", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *APIHandler) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	var p settings.Partial
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	s, err := h.chatService.UpdateSettings(r.Context(), userID, p)
	if err != nil {
		h.logger.Error("failed to save settings", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *APIHandler) ResetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	s, err := h.chatService.ResetSettings(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to reset settings", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset settings")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Study time

func (h *APIHandler) studyTime(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) (int64, error)) {
	userID := userIDFrom(r.Context())
	total, err := fn(r.Context(), userID)
	if err != nil {
		h.logger.Error("study time update failed", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update study time")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"study_seconds": total})
}

func (h *APIHandler) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	h.studyTime(w, r, h.chatService.Heartbeat)
}

func (h *APIHandler) StopStudyHandler(w http.ResponseWriter, r *http.Request) {
	h.studyTime(w, r, h.chatService.StopStudy)
}

func (h *APIHandler) StudyTimeHandler(w http.ResponseWriter, r *http.Request) {
	h.studyTime(w, r, h.chatService.StudySeconds)
}

// Checklist

func (h *APIHandler) GetChecklistHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	items, err := h.chatService.Checklist(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load checklist", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load checklist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *APIHandler) PutChecklistHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	var req struct {
		Items []core.ChecklistItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	items, err := h.chatService.SetChecklist(r.Context(), userID, req.Items)
	if err != nil {
		h.logger.Error("failed to save checklist", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save checklist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Analysis and exercises

func (h *APIHandler) AnalyzeTextHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.chatService.AnalyzeText(r.Context(), req.Text))
}

var skillNames = map[exercise.SkillArea]string{
	exercise.Phonics:       "Phonics",
	exercise.SightWords:    "Sight Words",
	exercise.Spelling:      "Spelling",
	exercise.Writing:       "Writing",
	exercise.Comprehension: "Reading Comprehension",
}

func (h *APIHandler) SkillsHandler(w http.ResponseWriter, r *http.Request) {
	type skill struct {
		ID   exercise.SkillArea `json:"id"`
		Name string             `json:"name"`
	}
	skills := make([]skill, 0, len(exercise.SkillAreas))
	for _, a := range exercise.SkillAreas {
		skills = append(skills, skill{ID: a, Name: skillNames[a]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"skill_areas": skills})
}

func (h *APIHandler) GenerateExerciseHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	area, err := exercise.ParseSkillArea(q.Get("skill_area"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	count, _ := strconv.Atoi(q.Get("count"))
	ex, err := h.chatService.GenerateExercise(r.Context(), exercise.Request{
		SkillArea:  area,
		Difficulty: exercise.ParseDifficulty(q.Get("difficulty")),
		Count:      count,
	})
	if err != nil {
		if errors.Is(err, exercise.ErrUnknownSkillArea) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("exercise generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate an exercise")
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (h *APIHandler) StartExerciseHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	var req struct {
		SkillArea string `json:"skill_area"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	area, err := exercise.ParseSkillArea(req.SkillArea)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.chatService.StartExercise(r.Context(), userID, area)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chatService.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
