package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovalsCreateAndGet(t *testing.T) {
	approvals := NewApprovals()

	id := approvals.Create(&PendingApproval{UserID: "user-b", GuildID: "guild-1", NewTag: "alpha"})
	require.NotEmpty(t, id)
	assert.Equal(t, 1, approvals.Len())

	ap, ok := approvals.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, ap.RequestID)
	assert.Equal(t, "user-b", ap.UserID)
	assert.False(t, ap.CreatedAt.IsZero())

	// Get does not consume
	_, ok = approvals.Get(id)
	assert.True(t, ok)
	assert.Equal(t, 1, approvals.Len())
}

func TestApprovalsTakeIsSingleUse(t *testing.T) {
	approvals := NewApprovals()
	id := approvals.Create(&PendingApproval{UserID: "user-b"})

	ap, ok := approvals.Take(id)
	require.True(t, ok)
	assert.Equal(t, "user-b", ap.UserID)
	assert.Equal(t, 0, approvals.Len())

	_, ok = approvals.Take(id)
	assert.False(t, ok)
	_, ok = approvals.Get(id)
	assert.False(t, ok)
}

func TestApprovalsUnknownID(t *testing.T) {
	approvals := NewApprovals()

	_, ok := approvals.Get("missing")
	assert.False(t, ok)
	_, ok = approvals.Take("missing")
	assert.False(t, ok)
}

func TestApprovalsDistinctIDs(t *testing.T) {
	approvals := NewApprovals()

	first := approvals.Create(&PendingApproval{UserID: "user-b"})
	second := approvals.Create(&PendingApproval{UserID: "user-c"})
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, approvals.Len())
}
