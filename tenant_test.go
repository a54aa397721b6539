package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantContext(t *testing.T) {
	ctx := NewTenantContext(context.Background(), "tenant_a")
	assert.Equal(t, TenantID("tenant_a"), ctx.GetTenantID())

	tenantID, ok := GetTenantIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, TenantID("tenant_a"), tenantID)

	_, ok = GetTenantIDFromContext(context.Background())
	assert.False(t, ok)
}

func TestNewRuntimeContext(t *testing.T) {
	before := NowMillis()
	rc := NewRuntimeContext("tenant_a", "en-US", nil)

	assert.Equal(t, TenantID("tenant_a"), rc.TenantID)
	assert.Equal(t, "en-US", rc.Locale)
	assert.True(t, strings.HasPrefix(rc.RequestID, "req_"))
	assert.True(t, strings.HasPrefix(rc.TraceID, "trc_"))
	assert.GreaterOrEqual(t, rc.StartedAt, before)
	assert.NotNil(t, rc.Tags, "nil tags normalized to an empty map")

	other := NewRuntimeContext("tenant_a", "en-US", nil)
	assert.NotEqual(t, rc.RequestID, other.RequestID)
	assert.NotEqual(t, rc.TraceID, other.TraceID)
}

func TestToServiceCallDefaults(t *testing.T) {
	rc := NewRuntimeContext("tenant_a", "en-US", map[string]string{"channel": "web"})
	call := rc.ToServiceCall()

	assert.Equal(t, rc.TenantID, call.TenantID)
	assert.Equal(t, rc.RequestID, call.RequestID)
	assert.Equal(t, rc.TraceID, call.TraceID)
	assert.EqualValues(t, DefaultCallTimeoutMS, call.TimeoutMS)
	assert.Equal(t, DefaultCallMaxAttempts, call.MaxAttempts)
	assert.Empty(t, call.IdempotencyKey)
	assert.Equal(t, "web", call.Tags["channel"])
}

func TestToServiceCallOptions(t *testing.T) {
	rc := NewRuntimeContext("tenant_a", "", nil)
	call := rc.ToServiceCall(
		WithTimeout(250*time.Millisecond),
		WithMaxAttempts(5),
		WithIdempotencyKey("K"),
	)

	assert.EqualValues(t, 250, call.TimeoutMS)
	assert.Equal(t, 5, call.MaxAttempts)
	assert.Equal(t, "K", call.IdempotencyKey)
}

func TestServiceCallValidate(t *testing.T) {
	rc := NewRuntimeContext("tenant_a", "", nil)

	assert.NoError(t, rc.ToServiceCall().Validate())
	assert.ErrorIs(t, rc.ToServiceCall(WithTimeout(0)).Validate(), ErrInvalidTimeout)
	assert.ErrorIs(t, rc.ToServiceCall(WithTimeout(-time.Second)).Validate(), ErrInvalidTimeout)
	assert.ErrorIs(t, rc.ToServiceCall(WithMaxAttempts(0)).Validate(), ErrInvalidMaxAttempts)
}
