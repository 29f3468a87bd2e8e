package core

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"lexilearn.com/tutor/internal/store"
	"lexilearn.com/tutor/internal/utils"
)

const (
	NumRelevantTips     = 3   // Number of tips handed to the model as context
	SimilarityThreshold = 0.7 // Minimum similarity score to consider a tip relevant
)

// TipStore is the persistence TipService needs.
type TipStore interface {
	GetAllTipChunks() ([]store.TipChunk, error)
	IngestTips(ctx context.Context, tips []string, embedder func(context.Context, string) ([]float32, error), interval time.Duration) (int, error)
}

// TipService retrieves the learning tips most relevant to a message.
type TipService struct {
	store    TipStore
	embedder Embedder
	logger   *zap.Logger

	mu     sync.RWMutex
	chunks []store.TipChunk // in-memory cache of tips and their embeddings
}

func NewTipService(st TipStore, embedder Embedder, logger *zap.Logger) (*TipService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TipService{store: st, embedder: embedder, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload refreshes the in-memory cache from the store.
func (s *TipService) Reload() error {
	chunks, err := s.store.GetAllTipChunks()
	if err != nil {
		return fmt.Errorf("failed to load tips: %w", err)
	}
	if len(chunks) == 0 {
		s.logger.Warn("tip service has no tips; run ingest-tips to load them")
	} else {
		s.logger.Info("tip service loaded", zap.Int("tips", len(chunks)))
	}
	s.mu.Lock()
	s.chunks = chunks
	s.mu.Unlock()
	return nil
}

func (s *TipService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Relevant returns up to NumRelevantTips tips whose similarity to query is
// at least SimilarityThreshold, best first.
func (s *TipService) Relevant(ctx context.Context, query string) ([]string, error) {
	s.mu.RLock()
	chunks := s.chunks
	s.mu.RUnlock()
	if len(chunks) == 0 || s.embedder == nil {
		return nil, nil
	}

	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get query embedding: %w", err)
	}

	candidates := make([][]float32, len(chunks))
	for i, c := range chunks {
		candidates[i] = c.Embedding
	}
	matches := utils.TopMatches(queryEmbedding, candidates, NumRelevantTips, SimilarityThreshold)
	tips := make([]string, 0, len(matches))
	for _, m := range matches {
		tips = append(tips, chunks[m.Index].Content)
	}
	s.logger.Debug("retrieved tips", zap.Int("count", len(tips)))
	return tips, nil
}

// IngestFile replaces the stored tips with the rows of the markdown table in
// path and reloads the cache.
func (s *TipService) IngestFile(ctx context.Context, path string, interval time.Duration) (int, error) {
	if s.embedder == nil {
		return 0, fmt.Errorf("tip ingestion needs an embedder")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read tips file %s: %w", path, err)
	}
	tips := store.ParseTipTable(string(content))
	s.logger.Info("parsed tips file", zap.String("path", path), zap.Int("tips", len(tips)))

	n, err := s.store.IngestTips(ctx, tips, s.embedder.Embed, interval)
	if err != nil {
		return n, err
	}
	return n, s.Reload()
}
