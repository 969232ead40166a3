package requestid

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWith_MintsWhenEmpty(t *testing.T) {
	ctx, id := With(context.Background(), "")
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}

func TestWith_KeepsProvidedID(t *testing.T) {
	ctx, id := With(context.Background(), "test-123")
	assert.Equal(t, "test-123", id)
	assert.Equal(t, "test-123", FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	assert.Empty(t, FromContext(context.Background()))
}

func TestLogger_AttachesRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx, _ := With(context.Background(), "abc-123")
	withID := Logger(ctx, base)
	withID.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"request_id":"abc-123"`)

	buf.Reset()
	withoutID := Logger(context.Background(), base)
	withoutID.Info().Msg("hello")
	assert.NotContains(t, buf.String(), "request_id")
}
