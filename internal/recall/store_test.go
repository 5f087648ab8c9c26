package recall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreRecordAndSimilar(t *testing.T) {
	s, err := NewStore(Config{TopK: 2}, HashEmbedder(64), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Record(ctx, Entry{Prompt: "add a submit button to the login form", Worker: "coder", Summary: "0 errors, 1 warning"}))
	require.NoError(t, s.Record(ctx, Entry{Prompt: "deploy the payment service to staging", Worker: "deployer", Summary: "validated"}))
	require.NoError(t, s.Record(ctx, Entry{Prompt: "add a cancel button to the signup form", Worker: "coder", Summary: "validated"}))
	require.Equal(t, 3, s.Count())

	entries, err := s.Similar(ctx, "add a reset button to the form")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "coder", entries[0].Worker, "button/form tasks should rank above the deploy task")
}

func TestStoreSimilarOnEmptyStore(t *testing.T) {
	s, err := NewStore(Config{}, nil, nil)
	require.NoError(t, err)

	entries, err := s.Similar(context.Background(), "anything")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	embed := HashEmbedder(64)

	s, err := NewStore(Config{PersistPath: dir}, embed, nil)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), Entry{ID: "task-1", Prompt: "refactor the parser"}))

	reopened, err := NewStore(Config{PersistPath: dir}, embed, nil)
	require.NoError(t, err)
	require.Equal(t, 1, reopened.Count())
}

func TestHashEmbedderDeterministic(t *testing.T) {
	embed := HashEmbedder(32)
	a, err := embed(context.Background(), "fix the login bug")
	require.NoError(t, err)
	b, err := embed(context.Background(), "fix the login bug")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestRender(t *testing.T) {
	out := Render([]Entry{{Worker: "coder", Prompt: "add a button\nwith details", Summary: "validated"}})
	require.Contains(t, out, "[coder] add a button → validated")
	require.Equal(t, "", Render(nil))
}
