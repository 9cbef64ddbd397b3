package obscontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "  req-1 ")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))

	ctx = WithRequestID(context.Background(), "   ")
	assert.Equal(t, "", RequestIDFromContext(ctx))
}

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	assert.NotEmpty(t, cid)

	_, again := EnsureCorrelationID(ctx)
	assert.Equal(t, cid, again)
}
