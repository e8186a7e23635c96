package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaygate/llmgateway/pkg/probe"
)

func TestRewriteModelIfNeededNoOpWhenModelsMatch(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[]}`)
	result, err := probe.ParseProbe(body)
	assert.NoError(t, err)
	out := rewriteModelIfNeeded(body, result.ModelRange, result.Model, result.Model)
	assert.Equal(t, body, out)
}

func TestRewriteModelIfNeededRewritesToTargetModel(t *testing.T) {
	body := []byte(`{"model":"my-alias","messages":[]}`)
	result, err := probe.ParseProbe(body)
	assert.NoError(t, err)
	out := rewriteModelIfNeeded(body, result.ModelRange, result.Model, "gpt-4-turbo")
	assert.Contains(t, string(out), `"gpt-4-turbo"`)
	assert.NotContains(t, string(out), "my-alias")
}
