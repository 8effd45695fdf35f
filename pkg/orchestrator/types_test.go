package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMetadataCoercesLooseTypes(t *testing.T) {
	var out PhaseOutput
	err := DecodeMetadata(map[string]any{
		"notes":     "looks good",
		"artifacts": "a.go,b.go",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "looks good", out.Notes)
	assert.Equal(t, []string{"a.go", "b.go"}, out.Artifacts)
}

func TestDecodeMetadataRejectsIncompatibleShape(t *testing.T) {
	var out PhaseOutput
	err := DecodeMetadata(map[string]any{
		"notes": func() {},
	}, &out)
	assert.Error(t, err)
}

func TestNormalizePhaseOutputCoercesAndPreservesUnknownKeys(t *testing.T) {
	raw := map[string]any{
		"qa_findings": "missing test,off-by-one",
		"ticket":      "PROJ-42",
	}
	normalized := normalizePhaseOutput(raw)
	assert.Equal(t, []string{"missing test", "off-by-one"}, normalized["qa_findings"])
	assert.Equal(t, "PROJ-42", normalized["ticket"])
}

func TestNormalizePhaseOutputPassesThroughIncompatibleShape(t *testing.T) {
	raw := map[string]any{"notes": func() {}}
	result := normalizePhaseOutput(raw)
	require.Len(t, result, 1)
	_, ok := result["notes"].(func())
	assert.True(t, ok, "raw map must be returned unchanged when it doesn't decode as a PhaseOutput")
}

func TestNormalizePhaseOutputNil(t *testing.T) {
	assert.Nil(t, normalizePhaseOutput(nil))
}
