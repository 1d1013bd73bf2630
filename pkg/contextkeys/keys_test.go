package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", GetRequestID(ctx))

	ctx = WithRequestID(ctx, "abc")
	assert.Equal(t, "abc", GetRequestID(ctx))
}

func TestOrganizationID(t *testing.T) {
	_, ok := GetOrganizationID(context.Background())
	assert.False(t, ok)

	orgID, ok := GetOrganizationID(WithOrganizationID(context.Background(), 9))
	assert.True(t, ok)
	assert.Equal(t, int64(9), orgID)
}

func TestUserID(t *testing.T) {
	ctx := WithUserID(context.Background(), "12")
	assert.Equal(t, "12", GetUserID(ctx))
}
