package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	quiet := NewWithWriter(false, &buf)
	quiet.Info("round created")
	quiet.Debug("vote cast")
	assert.Empty(t, buf.String())
	quiet.Warn("store slow")
	assert.Contains(t, buf.String(), "store slow")

	buf.Reset()
	loud := NewWithWriter(true, &buf)
	loud.Debug("vote cast", "round_id", 3)
	assert.Contains(t, buf.String(), "vote cast")
	assert.Contains(t, buf.String(), "round_id=3")
	assert.Contains(t, buf.String(), "source=")
}

func TestNilWriter(t *testing.T) {
	assert.NotPanics(t, func() {
		NewWithWriter(true, nil).Error("dropped")
		Discard().Error("dropped")
	})
}
