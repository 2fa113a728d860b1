package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	prevLevel, prevFormatter, prevOut := logger.GetLevel(), logger.Formatter, logger.Out
	defer func() {
		logger.SetLevel(prevLevel)
		logger.SetFormatter(prevFormatter)
		logger.SetOutput(prevOut)
	}()

	t.Run("JSONWithComponent", func(t *testing.T) {
		var buf bytes.Buffer
		logger.SetOutput(&buf)
		require.NoError(t, Configure("debug", "json"))
		assert.Equal(t, logrus.DebugLevel, GetLogger().GetLevel())

		Component("collector").Infof("persisted %d entries", 3)
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "collector", line["component"])
		assert.Equal(t, "persisted 3 entries", line["msg"])
	})

	t.Run("EmptyKeepsSettings", func(t *testing.T) {
		require.NoError(t, Configure("warn", "text"))
		require.NoError(t, Configure("", ""))
		assert.Equal(t, logrus.WarnLevel, GetLogger().GetLevel())
	})

	t.Run("RejectsUnknownValues", func(t *testing.T) {
		assert.Error(t, Configure("verbose", ""))
		assert.Error(t, Configure("", "xml"))
	})
}
