package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-9")
	ctx = WithDispatchID(ctx, "dispatch-9")
	ctx = WithPluginID(ctx, "demo")

	logger := PropagateToLogger(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	for _, want := range []string{`"trace_id":"trace-9"`, `"dispatch_id":"dispatch-9"`, `"plugin_id":"demo"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log output to contain %s, got %s", want, out)
		}
	}
	if strings.Contains(out, "request_id") {
		t.Errorf("Did not expect request_id in %s", out)
	}
}

func TestCloneContext(t *testing.T) {
	parent, cancel := context.WithCancel(WithDispatchID(context.Background(), "d-1"))
	cancel()

	clone := CloneContext(parent)

	if clone.Err() != nil {
		t.Error("Clone should not inherit cancellation")
	}
	if GetDispatchID(clone) != "d-1" {
		t.Error("Dispatch ID not cloned")
	}
}
