package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 200
	DefaultTopK         = 3
	defaultEmbedBatch   = 64
)

// KnowledgeConfig tunes chunking and retrieval.
type KnowledgeConfig struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
	BatchSize    int
}

type knowledgeChunk struct {
	Source string
	Text   string
	Vector []float32
	norm   float64
}

// ScoredChunk is a retrieved passage with its cosine similarity to the query.
type ScoredChunk struct {
	Source string
	Text   string
	Score  float64
}

// KnowledgeBase is an in-memory embedding index over reference material.
type KnowledgeBase struct {
	embedder Embedder
	cfg      KnowledgeConfig

	mu     sync.RWMutex
	chunks []knowledgeChunk
}

// NewKnowledgeBase builds an empty knowledge base backed by the embedder.
func NewKnowledgeBase(embedder Embedder, cfg KnowledgeConfig) *KnowledgeBase {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultEmbedBatch
	}
	return &KnowledgeBase{embedder: embedder, cfg: cfg}
}

// ChunkText splits text into fixed-size character windows that overlap by the
// given amount.
func ChunkText(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if size <= 0 || len(runes) == 0 {
		return nil
	}
	step := size - overlap
	if overlap < 0 || step <= 0 {
		step = size
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Add chunks and embeds a document and returns how many chunks were indexed.
func (kb *KnowledgeBase) Add(ctx context.Context, source, text string) (int, error) {
	texts := ChunkText(text, kb.cfg.ChunkSize, kb.cfg.ChunkOverlap)
	if len(texts) == 0 {
		return 0, nil
	}

	indexed := make([]knowledgeChunk, 0, len(texts))
	for start := 0; start < len(texts); start += kb.cfg.BatchSize {
		end := start + kb.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := kb.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return 0, fmt.Errorf("embed %s: %w", source, err)
		}
		if len(vectors) != end-start {
			return 0, fmt.Errorf("embed %s: got %d vectors for %d chunks", source, len(vectors), end-start)
		}
		for idx, vector := range vectors {
			indexed = append(indexed, knowledgeChunk{
				Source: source,
				Text:   texts[start+idx],
				Vector: vector,
				norm:   vectorNorm(vector),
			})
		}
	}

	kb.mu.Lock()
	kb.chunks = append(kb.chunks, indexed...)
	kb.mu.Unlock()
	return len(indexed), nil
}

// LoadDir indexes every .txt and .md file in dir.
func (kb *KnowledgeBase) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read knowledge dir: %w", err)
	}

	total := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".txt", ".md":
		default:
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return total, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		count, err := kb.Add(ctx, entry.Name(), string(data))
		if err != nil {
			return total, err
		}
		total += count
	}
	return total, nil
}

// Len reports the number of indexed chunks.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.chunks)
}

// Search returns the top-k chunks most similar to the query.
func (kb *KnowledgeBase) Search(ctx context.Context, query string) ([]ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}

	kb.mu.RLock()
	chunks := kb.chunks
	kb.mu.RUnlock()
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors, err := kb.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	queryVec := vectors[0]
	queryNorm := vectorNorm(queryVec)

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Vector) != len(queryVec) {
			continue
		}
		scored = append(scored, ScoredChunk{
			Source: chunk.Source,
			Text:   chunk.Text,
			Score:  cosineSimilarity(queryVec, chunk.Vector, queryNorm, chunk.norm),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > kb.cfg.TopK {
		scored = scored[:kb.cfg.TopK]
	}
	return scored, nil
}

// Retrieve implements ContextProvider.
func (kb *KnowledgeBase) Retrieve(ctx context.Context, query string) ([]string, error) {
	scored, err := kb.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	passages := make([]string, len(scored))
	for idx, chunk := range scored {
		passages[idx] = chunk.Text
	}
	return passages, nil
}

func cosineSimilarity(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	dot := 0.0
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

func vectorNorm(v []float32) float64 {
	sum := 0.0
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}
