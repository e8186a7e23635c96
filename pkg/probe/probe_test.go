package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbeBasicFields(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","stream":true,"tools":[{"type":"function"}],"messages":[{"role":"user","content":"hi"}]}`)
	res, err := ParseProbe(body)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", res.Model)
	assert.True(t, res.HasStream)
	assert.True(t, res.Stream)
	assert.True(t, res.HasTools)
	assert.Equal(t, `"gpt-4o"`, string(res.ModelRange.Slice(body)))
}

func TestParseProbeEmptyToolsArray(t *testing.T) {
	body := []byte(`{"model":"claude-3-opus","tools":[]}`)
	res, err := ParseProbe(body)
	require.NoError(t, err)
	assert.False(t, res.HasTools)
}

func TestParseProbeNoStreamField(t *testing.T) {
	body := []byte(`{"model":"gemini-1.5-pro","messages":[]}`)
	res, err := ParseProbe(body)
	require.NoError(t, err)
	assert.False(t, res.HasStream)
}

func TestParseProbeMissingModelFalsBackThenFails(t *testing.T) {
	body := []byte(`{"messages":[]}`)
	_, err := ParseProbe(body)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseProbeEscapedStringsInModel(t *testing.T) {
	body := []byte(`{"model":"gpt-\"weird\"","stream":false}`)
	res, err := ParseProbe(body)
	require.NoError(t, err)
	assert.Equal(t, `gpt-"weird"`, res.Model)
}

func TestParseProbeNestedBracesDoNotConfuseScanner(t *testing.T) {
	body := []byte(`{"model":"m","messages":[{"role":"user","content":[{"type":"text","text":"a } b [ c"}]}],"stream":null}`)
	res, err := ParseProbe(body)
	require.NoError(t, err)
	assert.Equal(t, "m", res.Model)
	assert.False(t, res.HasStream)
}

func TestRewriteModelInBodyPreservesRestOfBody(t *testing.T) {
	body := []byte(`{"model":"alias-a","stream":true}`)
	res, err := ParseProbe(body)
	require.NoError(t, err)
	rewritten := RewriteModelInBody(body, res.ModelRange, "upstream-real-model")
	res2, err := ParseProbe(rewritten)
	require.NoError(t, err)
	assert.Equal(t, "upstream-real-model", res2.Model)
	assert.True(t, res2.Stream)
}

func TestParseProbeCacheReturnsConsistentResult(t *testing.T) {
	body := []byte(`{"model":"cached-model","stream":true}`)
	first, err := ParseProbe(body)
	require.NoError(t, err)
	second, err := ParseProbe(append([]byte(nil), body...))
	require.NoError(t, err)
	assert.Equal(t, first.Model, second.Model)
	assert.Equal(t, first.BodyHash, second.BodyHash)
}
