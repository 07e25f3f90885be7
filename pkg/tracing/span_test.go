package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "reload", "")
	require.NotEmpty(t, root.TraceID)
	assert.Equal(t, root.TraceID, TraceIDFromContext(ctx))

	_, child := StartChildSpan(ctx, "scan")
	child.SetAttr("loaded", 3)
	child.End()
	first := child.EndTime
	child.End()
	assert.Equal(t, first, child.EndTime, "End is idempotent")
	root.End()

	require.Len(t, root.Children, 1)
	assert.Equal(t, root.TraceID, child.TraceID)

	var buf bytes.Buffer
	root.LogTo(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"loaded":3`)
}

func TestChildWithoutParentStartsTrace(t *testing.T) {
	_, span := StartChildSpan(context.Background(), "orphan")
	assert.NotEmpty(t, span.TraceID)
	assert.Empty(t, TraceIDFromContext(context.Background()))
}
