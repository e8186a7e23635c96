package server

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectGeminiModelAddsModelAndStreamFields(t *testing.T) {
	body := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)
	out := injectGeminiModel(body, "gemini-1.5-pro", true)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "gemini-1.5-pro", decoded["model"])
	assert.Equal(t, true, decoded["stream"])
	assert.NotNil(t, decoded["contents"], "original fields must survive the splice")
}

func TestInjectGeminiModelNonStreaming(t *testing.T) {
	body := []byte(`{"contents":[]}`)
	out := injectGeminiModel(body, "gemini-1.5-flash", false)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, false, decoded["stream"])
}

func TestInjectGeminiModelEscapesModelName(t *testing.T) {
	body := []byte(`{"contents":[]}`)
	out := injectGeminiModel(body, `weird"name`, false)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, `weird"name`, decoded["model"])
}

func TestInjectGeminiModelEmptyObjectHasNoTrailingComma(t *testing.T) {
	body := []byte(`{}`)
	out := injectGeminiModel(body, "gemini-1.5-pro", false)

	require.False(t, bytes.Contains(out, []byte(",}")), "spliced body must not leave a dangling comma before the closing brace: %s", out)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "gemini-1.5-pro", decoded["model"])
	assert.Equal(t, false, decoded["stream"])
}

func TestInjectGeminiModelEmptyObjectWithWhitespace(t *testing.T) {
	body := []byte("{ \n}")
	out := injectGeminiModel(body, "gemini-1.5-pro", true)

	require.False(t, bytes.Contains(out, []byte("true,")), "no fields follow, so no separating comma should follow the spliced stream field: %s", out)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, true, decoded["stream"])
}
