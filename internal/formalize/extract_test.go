package formalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLeanBlock(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		got, err := ExtractLeanBlock("intro\n\n### Lean Code\n```lean\nstructure A where\n  id : Nat\n```\n")
		require.NoError(t, err)
		assert.Equal(t, "structure A where\n  id : Nat", got)
	})

	t.Run("takes last section", func(t *testing.T) {
		resp := "### Lean Code\n```lean\nold\n```\nmore reasoning\n### Lean Code\n```lean\nnew\n```\n"
		got, err := ExtractLeanBlock(resp)
		require.NoError(t, err)
		assert.Equal(t, "new", got)
	})

	t.Run("ignores earlier fences", func(t *testing.T) {
		resp := "```lean\nscratch\n```\n### Lean Code\n```lean\nfinal\n```"
		got, err := ExtractLeanBlock(resp)
		require.NoError(t, err)
		assert.Equal(t, "final", got)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := ExtractLeanBlock("```lean\ncode\n```")
		var ee *ExtractionError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "### Lean Code", ee.Section)
	})

	t.Run("unterminated fence", func(t *testing.T) {
		_, err := ExtractLeanBlock("### Lean Code\n```lean\ncode")
		var ee *ExtractionError
		require.ErrorAs(t, err, &ee)
	})

	t.Run("header without fence", func(t *testing.T) {
		_, err := ExtractLeanBlock("### Lean Code\nno fence")
		require.Error(t, err)
	})
}

func TestExtractJSONBlock(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		got, err := ExtractJSONBlock("reasoning\n\n### Output\n```json\n{\"a\": []}\n```\n")
		require.NoError(t, err)
		assert.Equal(t, `{"a": []}`, got)
	})

	t.Run("missing section", func(t *testing.T) {
		_, err := ExtractJSONBlock("### Lean Code\n```lean\nx\n```")
		var ee *ExtractionError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "### Output", ee.Section)
	})
}
