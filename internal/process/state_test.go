package process

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateNames(t *testing.T) {
	for _, s := range AllStates() {
		parsed, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseState("paused")
	assert.Error(t, err)
	assert.Equal(t, "state(42)", State(42).String())
}

func TestStateClassification(t *testing.T) {
	assert.True(t, Starting.Active())
	assert.True(t, Running.Active())
	assert.True(t, Stopping.Active())
	assert.False(t, Stopped.Active())
	assert.False(t, Crashed.Active())
	assert.True(t, Crashed.Terminal())
	assert.True(t, Stopped.Terminal())
}

func TestStateJSON(t *testing.T) {
	b, err := json.Marshal(map[string]State{"s": Crashed})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"crashed"}`, string(b))

	var out map[string]State
	require.NoError(t, json.Unmarshal([]byte(`{"s":"stopping"}`), &out))
	assert.Equal(t, Stopping, out["s"])
}
