// Package tutorclient calls a remote tutor service over HTTP. It satisfies
// the same collaborator interfaces as the in-process implementations.
package tutorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lexilearn.com/tutor/internal/analysis"
	"lexilearn.com/tutor/internal/chat"
	"lexilearn.com/tutor/internal/compose"
	"lexilearn.com/tutor/internal/exercise"
	"lexilearn.com/tutor/internal/transcript"
)

// Client calls the tutor service over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// APIError represents a tutor service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsUnauthorized reports whether err is a 401 from the service.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// NewClient constructs a tutor service client. token is sent as a bearer
// token when non-empty.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var (
	_ transcript.HistorySource = (*Client)(nil)
	_ chat.Tutor               = (*Client)(nil)
	_ exercise.Generator       = (*Client)(nil)
	_ analysis.Analyzer        = (*Client)(nil)
)

func (c *Client) History(ctx context.Context, userID string) (transcript.HistoryResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/chat/history", userID, nil)
	if err != nil {
		return transcript.HistoryResponse{}, err
	}
	var h transcript.HistoryResponse
	if err := c.do(req, &h); err != nil {
		return transcript.HistoryResponse{}, err
	}
	return normalizeHistory(h), nil
}

type chatRequest struct {
	Message    string                 `json:"message"`
	History    []historyTurn          `json:"history,omitempty"`
	Attachment *transcript.Attachment `json:"attachment,omitempty"`
}

type historyTurn struct {
	Role    transcript.Role `json:"role"`
	Content string          `json:"content"`
}

type chatResponse struct {
	Message          string           `json:"message"`
	Encouragement    string           `json:"encouragement"`
	PracticeWords    []string         `json:"practice_words"`
	Instructions     []string         `json:"instructions"`
	Suggestions      []string         `json:"suggestions"`
	Tips             []string         `json:"tips"`
	EmotionalSupport string           `json:"emotional_support"`
	IsCorrect        *bool            `json:"is_correct"`
	Score            *int             `json:"score"`
	TextAnalysis     *analysis.Result `json:"text_analysis"`
}

// Reply implements chat.Tutor against POST /api/chat/message.
func (c *Client) Reply(ctx context.Context, in chat.TutorRequest) (compose.Reply, error) {
	body := chatRequest{Message: in.Message, Attachment: in.Attachment}
	for _, m := range in.History {
		if m.Role == transcript.RoleSeparator {
			continue
		}
		body.History = append(body.History, historyTurn{Role: m.Role, Content: m.Body})
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat/message", in.UserID, body)
	if err != nil {
		return compose.Reply{}, err
	}
	var resp chatResponse
	if err := c.do(req, &resp); err != nil {
		return compose.Reply{}, err
	}
	return resp.reply(), nil
}

func (r chatResponse) reply() compose.Reply {
	out := compose.Reply{
		Message:          r.Message,
		Encouragement:    r.Encouragement,
		PracticeWords:    r.PracticeWords,
		Instructions:     r.Instructions,
		Suggestions:      r.Suggestions,
		Tips:             r.Tips,
		EmotionalSupport: r.EmotionalSupport,
		IsCorrect:        r.IsCorrect,
		Score:            r.Score,
	}
	if r.TextAnalysis != nil {
		for _, e := range r.TextAnalysis.Errors {
			if e.Type == analysis.TypeSpelling && e.Suggestion != "" {
				out.Errors = append(out.Errors, compose.Correction{Word: e.Word, Suggestion: e.Suggestion})
			}
		}
	}
	return out
}

// Generate implements exercise.Generator against GET /api/exercises/generate.
func (c *Client) Generate(ctx context.Context, r exercise.Request) (exercise.Exercise, error) {
	q := url.Values{}
	area := r.SkillArea
	if area == "" {
		area = exercise.Writing
	}
	q.Set("skill_area", string(area))
	if r.Difficulty != "" {
		q.Set("difficulty", string(r.Difficulty))
	}
	if r.Count > 0 {
		q.Set("count", strconv.Itoa(r.Count))
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/exercises/generate?"+q.Encode(), "", nil)
	if err != nil {
		return exercise.Exercise{}, err
	}
	var ex exercise.Exercise
	if err := c.do(req, &ex); err != nil {
		return exercise.Exercise{}, err
	}
	if ex.SkillArea == "" {
		ex.SkillArea = area
	}
	if ex.Difficulty == "" {
		ex.Difficulty = exercise.ParseDifficulty(string(r.Difficulty))
	}
	return ex, nil
}

// Analyze implements analysis.Analyzer against POST /api/analyze-text.
func (c *Client) Analyze(ctx context.Context, text string) (analysis.Result, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/analyze-text", "", map[string]string{"text": text})
	if err != nil {
		return analysis.Result{}, err
	}
	var res analysis.Result
	if err := c.do(req, &res); err != nil {
		return analysis.Result{}, err
	}
	if res.Errors == nil {
		res.Errors = []analysis.Error{}
	}
	if res.CorrectedText == "" {
		res.CorrectedText = text
	}
	if res.ErrorCount == 0 {
		res.ErrorCount = len(res.Errors)
	}
	return res, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, userID string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = errResp.Detail
		}
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func normalizeHistory(h transcript.HistoryResponse) transcript.HistoryResponse {
	if h.HistoryByDate == nil {
		h.HistoryByDate = []transcript.DayGroup{}
	}
	total := 0
	for i := range h.HistoryByDate {
		g := &h.HistoryByDate[i]
		if g.Messages == nil {
			g.Messages = []transcript.Exchange{}
		}
		if g.MessageCount == 0 {
			g.MessageCount = len(g.Messages)
		}
		total += len(g.Messages)
	}
	if h.TotalDays == 0 {
		h.TotalDays = len(h.HistoryByDate)
	}
	if h.TotalMessages == 0 {
		h.TotalMessages = total
	}
	return h
}
