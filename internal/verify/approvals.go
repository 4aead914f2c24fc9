package verify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingApproval is one outstanding tag-conflict arbitration request.
// Approvals are held in memory only: a restart drops them, but both
// parties' records stay flagged in the store, so a fresh submission from
// either party raises the conflict again.
type PendingApproval struct {
	RequestID   string
	UserID      string
	GuildID     string
	PrevTag     string
	NewTag      string
	NewPlatform string
	OldImageURL string
	NewImageURL string
	OtherUserID string
	CreatedAt   time.Time
}

// Approvals tracks pending arbitration requests by opaque request id.
// Discord dispatches handlers on separate goroutines, so access is
// mutex-guarded.
type Approvals struct {
	mu      sync.Mutex
	pending map[string]*PendingApproval
}

// NewApprovals creates an empty approval registry
func NewApprovals() *Approvals {
	return &Approvals{
		pending: make(map[string]*PendingApproval),
	}
}

// Create registers a pending approval under a fresh request id
func (a *Approvals) Create(ap *PendingApproval) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ap.RequestID = uuid.NewString()
	ap.CreatedAt = time.Now().UTC()
	a.pending[ap.RequestID] = ap
	return ap.RequestID
}

// Get returns a pending approval without consuming it
func (a *Approvals) Get(requestID string) (*PendingApproval, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ap, ok := a.pending[requestID]
	return ap, ok
}

// Take removes and returns a pending approval. Request ids are
// single-use: a second Take for the same id reports not found.
func (a *Approvals) Take(requestID string) (*PendingApproval, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ap, ok := a.pending[requestID]
	if ok {
		delete(a.pending, requestID)
	}
	return ap, ok
}

// Len returns the number of outstanding requests
func (a *Approvals) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
