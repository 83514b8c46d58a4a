//go:build integration

package provider

import (
	"context"
	"testing"

	"github.com/raphaelgruber/docjobs/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Loading an encoding downloads its BPE ranks on first use.
func TestTokenizerCountsTokens(t *testing.T) {
	tok := NewTokenizer(config.Config{TiktokenEncoding: "cl100k_base"}, Spec{Options: map[string]any{"include_ids": true}})
	require.NoError(t, tok.Load(context.Background()))
	defer tok.Unload(context.Background())

	results, err := tok.Transform(context.Background(), []string{"hello world", ""})
	require.NoError(t, err)
	require.Len(t, results, 2)

	first := results[0].Value.(TokenCount)
	assert.Equal(t, 2, first.Count)
	assert.Len(t, first.IDs, 2)
	assert.Equal(t, 2, results[0].Units)
	assert.Zero(t, results[1].Units)
}

func TestTokenizerModelNameFallback(t *testing.T) {
	tok := NewTokenizer(config.Config{}, Spec{Model: "gpt-4"})
	require.NoError(t, tok.Load(context.Background()))
	assert.Equal(t, "tiktoken/gpt-4", tok.Name())
}
