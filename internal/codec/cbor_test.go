package codec

import (
	"testing"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryKeepsEveryField(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.UTC)
	in := models.NewLogEntry("wf", "run", "node", models.ErrorLevel, "boom",
		models.WithError("E42", "disk full"),
		models.WithMeta(map[string]string{"attempt": "2"}),
		models.WithTraceID("trace"),
		models.WithHierarchy("a/b"),
		models.WithUserID("u1"),
		models.WithTimestamp(ts))

	data, err := Marshal(in)
	require.NoError(t, err)

	var out models.LogEntry
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, *in, out)
}

func TestDeterministic(t *testing.T) {
	m := map[string]string{"b": "2", "a": "1", "c": "3"}
	first, err := Marshal(m)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Marshal(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestUntypedMapsUseStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"k": map[string]any{"n": 1}})
	require.NoError(t, err)

	var out any
	require.NoError(t, Unmarshal(data, &out))
	m, ok := out.(map[string]any)
	require.True(t, ok)
	_, ok = m["k"].(map[string]any)
	assert.True(t, ok)
}
