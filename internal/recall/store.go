// Package recall keeps a similarity-searchable memory of completed tasks.
// The coordinator records every finished request and, before routing a new
// one, pulls the most similar prior tasks to give the decision engine
// context. Backed by a chromem-go collection, optionally persisted.
package recall

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"foreman/internal/logging"
)

// Embedder turns text into a vector. Production wires a provider-backed
// implementation; tests use the deterministic HashEmbedder.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// Config configures the store.
type Config struct {
	PersistPath   string  `yaml:"persist_path" mapstructure:"persist_path"`
	Collection    string  `yaml:"collection" mapstructure:"collection"`
	TopK          int     `yaml:"top_k" mapstructure:"top_k"`
	MinSimilarity float32 `yaml:"min_similarity" mapstructure:"min_similarity"`
}

// Entry is one remembered task.
type Entry struct {
	ID         string
	Prompt     string
	Worker     string
	Summary    string
	When       time.Time
	Similarity float32
}

// Store is the prior-task memory.
type Store struct {
	collection *chromem.Collection
	topK       int
	minSim     float32
	logger     logging.Logger
}

// NewStore opens or creates the collection. An empty PersistPath keeps the
// store in memory only.
func NewStore(cfg Config, embed Embedder, logger logging.Logger) (*Store, error) {
	if cfg.Collection == "" {
		cfg.Collection = "foreman-tasks"
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if embed == nil {
		embed = HashEmbedder(128)
	}

	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.PersistPath, "recall.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("open recall store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, chromem.EmbeddingFunc(embed))
	if err != nil {
		return nil, fmt.Errorf("open recall collection: %w", err)
	}

	return &Store{
		collection: collection,
		topK:       cfg.TopK,
		minSim:     cfg.MinSimilarity,
		logger:     logging.OrNop(logger),
	}, nil
}

// Record remembers one completed task.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.When.IsZero() {
		entry.When = time.Now()
	}
	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:      entry.ID,
		Content: entry.Prompt,
		Metadata: map[string]string{
			"worker":  entry.Worker,
			"summary": entry.Summary,
			"when":    entry.When.Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("record task %s: %w", entry.ID, err)
	}
	return nil
}

// Similar returns up to TopK prior tasks resembling the prompt, most similar
// first. An empty store yields an empty slice, never an error.
func (s *Store) Similar(ctx context.Context, prompt string) ([]Entry, error) {
	n := s.topK
	if count := s.collection.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := s.collection.Query(ctx, prompt, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query recall store: %w", err)
	}

	entries := make([]Entry, 0, len(results))
	for _, r := range results {
		if r.Similarity < s.minSim {
			continue
		}
		when, _ := time.Parse(time.RFC3339, r.Metadata["when"])
		entries = append(entries, Entry{
			ID:         r.ID,
			Prompt:     r.Content,
			Worker:     r.Metadata["worker"],
			Summary:    r.Metadata["summary"],
			When:       when,
			Similarity: r.Similarity,
		})
	}
	return entries, nil
}

// Count returns the number of remembered tasks.
func (s *Store) Count() int {
	return s.collection.Count()
}

// Render formats entries for inclusion in a routing prompt.
func Render(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Similar past tasks:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- [%s] %s → %s\n", e.Worker, firstLine(e.Prompt), firstLine(e.Summary))
	}
	return sb.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// HashEmbedder is a deterministic local embedder: token hashes bucketed into
// a fixed-dimension vector, L2-normalized. No external calls; similar word
// bags land near each other, which is enough for tests and offline runs.
func HashEmbedder(dim int) Embedder {
	if dim <= 0 {
		dim = 128
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(word))
			vec[int(h.Sum32())%dim]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			vec[0] = 1
			return vec, nil
		}
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
		return vec, nil
	}
}
