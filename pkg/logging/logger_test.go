package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewText(&buf, slog.LevelDebug).WithComponent("gridstore").WithTile(7)

	l.Warn("tile checksum mismatch")

	out := buf.String()
	assert.Contains(t, out, "component=gridstore")
	assert.Contains(t, out, "tile=7")
	assert.Contains(t, out, "tile checksum mismatch")
}

func TestNoopAndOr(t *testing.T) {
	assert.NotNil(t, Or(nil))
	l := Noop()
	assert.Same(t, l, Or(l))
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
}
