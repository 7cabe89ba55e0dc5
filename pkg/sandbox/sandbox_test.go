package sandbox_test

import (
	"testing"
	"time"

	"github.com/retrack-dev/retrack/pkg/errkind"
	"github.com/retrack-dev/retrack/pkg/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ReturnsContextDerivedValue(t *testing.T) {
	out, err := sandbox.Run(sandbox.EntryExtractor, `context.value + 1`, map[string]interface{}{"value": 41}, sandbox.Options{})
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)
}

func TestRun_UndefinedReturnsNull(t *testing.T) {
	out, err := sandbox.Run(sandbox.EntryExtractor, `;`, nil, sandbox.Options{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRun_ThrowIsTerminal(t *testing.T) {
	_, err := sandbox.Run(sandbox.EntryFormatter, `throw new Error("boom")`, nil, sandbox.Options{})
	require.Error(t, err)
	assert.Equal(t, errkind.Terminal, errkind.KindOf(err))
}

func TestRun_TimeoutIsScriptTimeout(t *testing.T) {
	_, err := sandbox.Run(sandbox.EntryConfigurator, `while (true) {}`, nil, sandbox.Options{Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, errkind.ScriptTimeout, errkind.KindOf(err))
}

func TestRun_ForbiddenImport(t *testing.T) {
	_, err := sandbox.Run(sandbox.EntryExtractor, "import fs from 'fs';\ncontext", nil, sandbox.Options{})
	require.Error(t, err)
	assert.Equal(t, errkind.ScriptForbiddenImport, errkind.KindOf(err))
}

func TestRun_EncodeDecodeRoundTrip(t *testing.T) {
	out, err := sandbox.Run(sandbox.EntryExtractor, `decode(encode("hi"))`, nil, sandbox.Options{})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestRun_IsDeterministicAcrossCalls(t *testing.T) {
	src := `({a: 1, b: context.items.length})`
	ctx := map[string]interface{}{"items": []int{1, 2, 3}}
	a, err := sandbox.Run(sandbox.EntryExtractor, src, ctx, sandbox.Options{})
	require.NoError(t, err)
	b, err := sandbox.Run(sandbox.EntryExtractor, src, ctx, sandbox.Options{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
