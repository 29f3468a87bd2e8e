package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexilearn.com/tutor/internal/auth"
	"lexilearn.com/tutor/internal/chat"
	"lexilearn.com/tutor/internal/config"
	"lexilearn.com/tutor/internal/core"
	"lexilearn.com/tutor/internal/exercise"
	"lexilearn.com/tutor/internal/kv"
	"lexilearn.com/tutor/internal/settings"
	"lexilearn.com/tutor/internal/store"
)

type testEnv struct {
	srv   *httptest.Server
	hub   *Hub
	token string
	user  *store.User
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	config.AppConfig.JWTSecret = "api-test-secret"

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db")+"?_busy_timeout=5000", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := core.NewChatService(core.ChatServiceDeps{
		Store: db,
		KV:    kv.NewMemory(),
		Chat: chat.Deps{
			Tutor:     core.NewTutorService(nil, nil, nil),
			Generator: exercise.NewLocalGenerator(11),
			Timeout:   time.Second,
		},
		StudyFlushInterval: time.Hour,
	})
	t.Cleanup(svc.Close)

	hub := NewHub(nil)
	svc.SetSettingsApplier(hub)
	srv := httptest.NewServer(NewRouter(NewAPIHandler(svc, hub, nil)))
	t.Cleanup(srv.Close)

	env := &testEnv{srv: srv, hub: hub}
	resp := env.do(t, http.MethodPost, "/api/auth/signup", "", `{"username":"maya","email":"maya@example.com","password":"readingrocks"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	var login struct {
		Token string      `json:"token"`
		User  *store.User `json:"user"`
	}
	resp = env.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"maya","password":"readingrocks"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &login)
	env.token = login.Token
	env.user = login.User
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestSignupValidation(t *testing.T) {
	env := newEnv(t)

	resp := env.do(t, http.MethodPost, "/api/auth/signup", "", `{"username":"maya","password":"readingrocks"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/auth/signup", "", `{"username":"leo","password":"short"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"maya","password":"nope-nope"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAuthMiddleware(t *testing.T) {
	env := newEnv(t)

	resp := env.do(t, http.MethodGet, "/api/settings", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/settings", "garbage", "")
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "invalid token", body["error"])
	assert.Equal(t, "/login", body["redirect"])

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Username: "maya",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(env.user.ID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte(config.AppConfig.JWTSecret))
	require.NoError(t, err)
	resp = env.do(t, http.MethodGet, "/api/settings", signed, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	decode(t, resp, &body)
	assert.Equal(t, "session expired", body["error"])
	assert.Equal(t, "/login", body["redirect"])

	resp = env.do(t, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestChatFlow(t *testing.T) {
	env := newEnv(t)

	resp := env.do(t, http.MethodPost, "/api/chat/message", env.token, `{"message":"give me 2 words"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out chat.Outcome
	decode(t, resp, &out)
	require.NotNil(t, out.Active)
	require.Len(t, out.Active.Target, 2)

	answer := strings.Join(out.Active.Target, " ")
	resp = env.do(t, http.MethodPost, "/api/chat/message", env.token, `{"message":"I wrote `+answer+` today"}`)
	decode(t, resp, &out)
	require.NotNil(t, out.Feedback)
	assert.Equal(t, 100, *out.Feedback.Score)
	assert.Contains(t, out.Reply.Body, "✅ Correct!")
	assert.Nil(t, out.Active)

	resp = env.do(t, http.MethodPost, "/api/chat/message", env.token, `{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/chat/message", env.token, `{"message":"look","attachment":{"name":"a.pdf","mime_type":"application/pdf"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	var hist struct {
		TotalMessages    int    `json:"total_messages"`
		TotalDays        int    `json:"total_days"`
		CurrentSessionID string `json:"current_session_id"`
	}
	resp = env.do(t, http.MethodGet, "/api/chat/history", env.token, "")
	decode(t, resp, &hist)
	assert.Equal(t, 2, hist.TotalMessages)
	assert.Equal(t, 1, hist.TotalDays)
	assert.NotEmpty(t, hist.CurrentSessionID)

	resp = env.do(t, http.MethodDelete, "/api/chat/history", env.token, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var tr struct {
		Messages []json.RawMessage `json:"messages"`
		Thinking bool              `json:"thinking"`
	}
	resp = env.do(t, http.MethodGet, "/api/chat/transcript?reload=true", env.token, "")
	decode(t, resp, &tr)
	assert.Len(t, tr.Messages, 1)
	assert.False(t, tr.Thinking)
}

func TestUserStats(t *testing.T) {
	env := newEnv(t)

	resp := env.do(t, http.MethodPost, "/api/exercises/start", env.token, `{"skill_area":"spelling"}`)
	var out chat.Outcome
	decode(t, resp, &out)
	require.NotNil(t, out.Active)
	resp = env.do(t, http.MethodPost, "/api/chat/message", env.token, `{"message":"zzzz"}`)
	resp.Body.Close()

	var st core.UserStats
	resp = env.do(t, http.MethodGet, "/api/user/stats", env.token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &st)
	assert.EqualValues(t, 1, st.ExercisesCompleted)
	assert.Zero(t, st.Accuracy)
	assert.Equal(t, 1, st.TotalMessages)
	assert.Len(t, st.DailyMessages, 7)
	require.Len(t, st.Skills, len(exercise.SkillAreas))

	resp = env.do(t, http.MethodGet, "/api/user/stats", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestSettingsEndpoints(t *testing.T) {
	env := newEnv(t)

	resp := env.do(t, http.MethodPut, "/api/settings", env.token, `{"font_size": 99, "color_scheme": "neon"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var s settings.Settings
	decode(t, resp, &s)
	assert.Equal(t, 32, s.FontSize)
	assert.Equal(t, settings.Defaults().ColorScheme, s.ColorScheme)

	resp = env.do(t, http.MethodGet, "/api/settings", env.token, "")
	decode(t, resp, &s)
	assert.Equal(t, 32, s.FontSize)

	resp = env.do(t, http.MethodDelete, "/api/settings", env.token, "")
	decode(t, resp, &s)
	assert.Equal(t, settings.Defaults(), s)
}

func TestStudyTimeAndChecklist(t *testing.T) {
	env := newEnv(t)

	var st map[string]int64
	resp := env.do(t, http.MethodPost, "/api/study-time/heartbeat", env.token, "")
	decode(t, resp, &st)
	assert.Contains(t, st, "study_seconds")

	resp = env.do(t, http.MethodPost, "/api/study-time/stop", env.token, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var list struct {
		Items []core.ChecklistItem `json:"items"`
	}
	resp = env.do(t, http.MethodPut, "/api/checklist", env.token, `{"items":[{"text":"Read every day"}]}`)
	decode(t, resp, &list)
	require.Len(t, list.Items, 1)

	resp = env.do(t, http.MethodGet, "/api/checklist", env.token, "")
	decode(t, resp, &list)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "Read every day", list.Items[0].Text)
}

func TestExerciseEndpoints(t *testing.T) {
	env := newEnv(t)

	var skills struct {
		SkillAreas []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"skill_areas"`
	}
	resp := env.do(t, http.MethodGet, "/api/exercises/skills", "", "")
	decode(t, resp, &skills)
	assert.Len(t, skills.SkillAreas, len(exercise.SkillAreas))

	resp = env.do(t, http.MethodGet, "/api/exercises/generate?skill_area=painting", env.token, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	var ex exercise.Exercise
	resp = env.do(t, http.MethodGet, "/api/exercises/generate?skill_area=spelling&difficulty=beginner", env.token, "")
	decode(t, resp, &ex)
	assert.Equal(t, exercise.Spelling, ex.SkillArea)

	var out chat.Outcome
	resp = env.do(t, http.MethodPost, "/api/exercises/start", env.token, `{"skill_area":"sight_words"}`)
	decode(t, resp, &out)
	require.NotNil(t, out.Active)
	assert.Equal(t, exercise.SightWords, out.Active.SkillArea)

	var res struct {
		ErrorCount int `json:"error_count"`
	}
	resp = env.do(t, http.MethodPost, "/api/analyze-text", env.token, `{"text":"teh cat sed hi"}`)
	decode(t, resp, &res)
	assert.GreaterOrEqual(t, res.ErrorCount, 2)
}

func TestChatSocket(t *testing.T) {
	env := newEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/chat"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+env.token, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.hub.Connections(strconv.FormatInt(env.user.ID, 10)) == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "hello"}))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "thinking", ev.Type)
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "ai_response", ev.Type)
	require.NotNil(t, ev.Outcome)
	assert.Contains(t, ev.Outcome.Reply.Body, "Hello!")

	resp2 := env.do(t, http.MethodPut, "/api/settings", env.token, `{"font_size": 20}`)
	resp2.Body.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		ev = Event{}
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == "settings" && ev.Settings != nil && ev.Settings.FontSize == 20 {
			break
		}
	}
}
