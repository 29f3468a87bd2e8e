package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexilearn.com/tutor/internal/chat"
	"lexilearn.com/tutor/internal/store"
	"lexilearn.com/tutor/internal/transcript"
)

type completeCall struct {
	System  string
	History []Turn
	Prompt  string
}

// mockCompleter returns canned responses in order and records every call.
type mockCompleter struct {
	responses []string
	err       error
	calls     []completeCall
}

func (m *mockCompleter) Complete(ctx context.Context, system string, history []Turn, prompt string) (string, error) {
	m.calls = append(m.calls, completeCall{System: system, History: history, Prompt: prompt})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", ErrEmptyCompletion
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

// keywordEmbedder maps text to a vector by the presence of a few keywords.
type keywordEmbedder struct {
	err error
}

func (e keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	v := []float32{0.01, 0.01, 0.01}
	for i, kw := range []string{"read", "spell", "write"} {
		if strings.Contains(strings.ToLower(text), kw) {
			v[i] = 1
		}
	}
	return v, nil
}

type fakeTipStore struct {
	chunks   []store.TipChunk
	ingested []string
}

func (f *fakeTipStore) GetAllTipChunks() ([]store.TipChunk, error) {
	return f.chunks, nil
}

func (f *fakeTipStore) IngestTips(ctx context.Context, tips []string, embedder func(context.Context, string) ([]float32, error), _ time.Duration) (int, error) {
	f.chunks = nil
	f.ingested = tips
	for i, tip := range tips {
		emb, err := embedder(ctx, tip)
		if err != nil {
			continue
		}
		f.chunks = append(f.chunks, store.TipChunk{ID: int64(i + 1), Content: tip, Embedding: emb})
	}
	return len(f.chunks), nil
}

func TestDetectTopic(t *testing.T) {
	tests := []struct {
		msg  string
		want Topic
	}{
		{"can you help me with this", TopicHelp},
		{"I want to study today", TopicPractice},
		{"why is the sky blue", TopicQuestion},
		{"I finished my story about dragons and knights", TopicSharingWork},
		{"this is too hard for me right now", TopicFrustration},
		{"I got it right this time", TopicCelebration},
		{"is the spelling here correct please", TopicSpelling},
		{"dragons", TopicShortText},
		{"help", TopicGeneral},
		{"the weather is nice and the birds sing today", TopicGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectTopic(tt.msg))
		})
	}
}

func TestDetectEmotion(t *testing.T) {
	assert.Equal(t, "frustrated", DetectEmotion("Ugh this is stupid"))
	assert.Equal(t, "confused", DetectEmotion("huh? I'm lost"))
	assert.Equal(t, "excited", DetectEmotion("I love reading!"))
	assert.Equal(t, "worried", DetectEmotion("I'm nervous about the test"))
	assert.Equal(t, "neutral", DetectEmotion("the dog ran"))

	assert.NotEmpty(t, EmotionalSupport("frustrated"))
	assert.Empty(t, EmotionalSupport("neutral"))
}

func TestTutorTemplateReplyWithoutModel(t *testing.T) {
	tutor := NewTutorService(nil, nil, nil)
	reply, err := tutor.Reply(context.Background(), chat.TutorRequest{UserID: "1", Message: "this is too hard, I'm so frustrated"})
	require.NoError(t, err)
	assert.Contains(t, reply.Message, "frustrating")
	assert.NotEmpty(t, reply.Suggestions)
	assert.Equal(t, EmotionalSupport("frustrated"), reply.EmotionalSupport)
}

func TestTutorAttachmentOnly(t *testing.T) {
	tutor := NewTutorService(&mockCompleter{}, nil, nil)
	reply, err := tutor.Reply(context.Background(), chat.TutorRequest{
		Attachment: &transcript.Attachment{Name: "page.png", MIMEType: "image/png"},
	})
	require.NoError(t, err)
	assert.Contains(t, reply.Message, "picture")
}

func TestTutorUsesModelWithHistoryAndTips(t *testing.T) {
	tips := &fakeTipStore{chunks: []store.TipChunk{
		{ID: 1, Content: "Read aloud with a finger under each word", Embedding: []float32{1, 0, 0}},
		{ID: 2, Content: "Spell by tapping each sound", Embedding: []float32{0, 1, 0}},
	}}
	tipService, err := NewTipService(tips, keywordEmbedder{}, nil)
	require.NoError(t, err)

	llm := &mockCompleter{responses: []string{"Let's read it together! 📚"}}
	tutor := NewTutorService(llm, tipService, nil)

	history := []transcript.Message{
		transcript.Greeting(time.Now()),
		transcript.Separator(time.Now()),
		{Role: transcript.RoleUser, Body: "hi"},
		{Role: transcript.RoleAssistant, Body: "Hello!"},
	}
	reply, err := tutor.Reply(context.Background(), chat.TutorRequest{UserID: "1", Message: "how do I read faster?", History: history})
	require.NoError(t, err)

	assert.Equal(t, "Let's read it together! 📚", reply.Message)
	assert.Equal(t, []string{"Read aloud with a finger under each word"}, reply.Tips)
	require.Len(t, llm.calls, 1)
	call := llm.calls[0]
	assert.Equal(t, "how do I read faster?", call.Prompt)
	assert.Contains(t, call.System, "Read aloud with a finger")
	assert.NotContains(t, call.System, "tapping")
	assert.Equal(t, []Turn{
		{Role: "model", Text: transcript.Greeting(time.Now()).Body},
		{Role: "user", Text: "hi"},
		{Role: "model", Text: "Hello!"},
	}, call.History)
}

func TestTutorFallsBackToTemplateOnModelError(t *testing.T) {
	tipService, err := NewTipService(&fakeTipStore{}, keywordEmbedder{err: errors.New("quota")}, nil)
	require.NoError(t, err)
	tutor := NewTutorService(&mockCompleter{err: errors.New("503")}, tipService, nil)

	reply, err := tutor.Reply(context.Background(), chat.TutorRequest{UserID: "1", Message: "can you help me"})
	require.NoError(t, err)
	assert.Equal(t, "I'm here to help you! Let's work through this together.", reply.Message)
}

func TestTutorReturnsErrorWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tutor := NewTutorService(&mockCompleter{responses: []string{"late"}}, nil, nil)
	_, err := tutor.Reply(ctx, chat.TutorRequest{Message: "hello there friend"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHistoryTurnsKeepsRecentWindow(t *testing.T) {
	var msgs []transcript.Message
	for i := 0; i < 15; i++ {
		msgs = append(msgs, transcript.Message{Role: transcript.RoleUser, Body: string(rune('a' + i))})
	}
	turns := historyTurns(msgs)
	require.Len(t, turns, maxHistoryTurns)
	assert.Equal(t, "f", turns[0].Text)
	assert.Equal(t, "o", turns[len(turns)-1].Text)
}
