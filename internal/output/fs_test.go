package output

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() Key {
	return Key{Operation: "embed", Model: "ollama/nomic-embed-text", Collection: "articles", Field: "body"}
}

func TestKeyDir(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{"plain", Key{"tokenize", "cl100k_base", "docs", "text"}, "tokenize/cl100k_base/docs/text"},
		{"slash in model", testKey(), "embed/ollama_nomic-embed-text/articles/body"},
		{"empty part", Key{"embed", "", "docs", "text"}, "embed/_/docs/text"},
		{"dot dot", Key{"embed", "m", "..", "text"}, "embed/m/__/text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.Dir())
		})
	}
}

func TestUnitName(t *testing.T) {
	assert.Equal(t, "batch-0000000000.json", UnitName(0))
	assert.Equal(t, "batch-0000002000.json", UnitName(2000))
}

func TestFSWriteUnitOverwrites(t *testing.T) {
	ctx := context.Background()
	w, err := NewFS(t.TempDir())
	require.NoError(t, err)

	u := Unit{Key: testKey(), Offset: 1000, BatchIndex: 1, Items: []Item{{DocID: "a", Value: 1.0, Units: 1}}, WrittenAt: time.Now()}
	require.NoError(t, w.WriteUnit(ctx, u))

	u.Items = []Item{{DocID: "b", Value: 2.0, Units: 1}}
	require.NoError(t, w.WriteUnit(ctx, u))

	got, err := w.ReadUnit(testKey(), 1000)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "b", got.Items[0].DocID)

	entries, err := os.ReadDir(filepath.Dir(w.UnitPath(testKey(), 1000)))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFSWriteSchemaOnce(t *testing.T) {
	ctx := context.Background()
	w, err := NewFS(t.TempDir())
	require.NoError(t, err)

	first := Descriptor{Key: testKey(), Kind: "embed", Provider: "ollama/nomic-embed-text", TextField: "body", IDField: "id"}
	require.NoError(t, w.WriteSchema(ctx, first))

	second := first
	second.Provider = "other"
	require.NoError(t, w.WriteSchema(ctx, second))

	data, err := os.ReadFile(filepath.Join(w.Root(), filepath.FromSlash(testKey().Dir()), SchemaFile))
	require.NoError(t, err)

	var got Descriptor
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "ollama/nomic-embed-text", got.Provider)
}

func TestFSWriteUnitCanceled(t *testing.T) {
	w, err := NewFS(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, w.WriteUnit(ctx, Unit{Key: testKey()}), context.Canceled)
}

func TestNewFSRequiresRoot(t *testing.T) {
	_, err := NewFS("")
	require.Error(t, err)
}
