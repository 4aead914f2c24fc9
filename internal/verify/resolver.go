package verify

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Terryjones1995/2kbot/internal/stats"
	"github.com/Terryjones1995/2kbot/internal/storage"
)

// Status is the terminal branch a submission or arbitration reached
type Status string

const (
	StatusRateLimited        Status = "rate_limited"
	StatusDuplicateImage     Status = "duplicate_image"
	StatusConflictPending    Status = "conflict_pending"
	StatusAccepted           Status = "accepted"
	StatusReEvaluationFailed Status = "re_evaluation_failed"
)

// RateLimitWindow is the cool-down between submissions from the same
// user in the same guild
const RateLimitWindow = time.Hour

// ErrUnknownApproval means the request id is not in the registry: it was
// already resolved, or never existed
var ErrUnknownApproval = errors.New("approval request not found or already resolved")

// Submission is a validated inbound claim
type Submission struct {
	UserID    string
	GuildID   string
	Stats     stats.PlayerStats
	ImageURL  string
	ImageHash string
}

// Result describes where a submission or arbitration landed
type Result struct {
	Status     Status
	RetryAfter time.Duration
	RequestID  string
	Evaluation stats.Evaluation
	Outcome    Outcome
	Record     *storage.VerificationRecord
}

// Resolver decides, for each incoming claim, whether to accept, reject,
// or escalate to the arbiter, and applies arbitration decisions back to
// the store
type Resolver struct {
	store       RecordStore
	approvals   *Approvals
	coordinator *Coordinator
	notify      Notifier
	thresholds  stats.Thresholds
	now         func() time.Time
}

// NewResolver creates a conflict resolver
func NewResolver(store RecordStore, approvals *Approvals, coordinator *Coordinator, notify Notifier, thresholds stats.Thresholds) *Resolver {
	return &Resolver{
		store:       store,
		approvals:   approvals,
		coordinator: coordinator,
		notify:      notify,
		thresholds:  thresholds,
		now:         time.Now,
	}
}

// Submit runs the decision procedure for an incoming claim
func (r *Resolver) Submit(sub *Submission) (*Result, error) {
	now := r.now().UTC()

	prev, err := r.store.LatestByUser(sub.GuildID, sub.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest record: %w", err)
	}

	// Cool-down window: reject without touching any state
	if prev != nil {
		if elapsed := now.Sub(prev.CreatedAt); elapsed < RateLimitWindow {
			return &Result{
				Status:     StatusRateLimited,
				RetryAfter: RateLimitWindow - elapsed,
			}, nil
		}
	}

	// Same screenshot uploaded before: reject without touching any state
	dup, err := r.store.ByImageHash(sub.GuildID, sub.UserID, sub.ImageHash)
	if err != nil {
		return nil, fmt.Errorf("failed to check image fingerprint: %w", err)
	}
	if dup != nil {
		return &Result{Status: StatusDuplicateImage}, nil
	}

	// Tag collision with another user's active record: persist flagged
	// and escalate, never silently overwrite
	conflict, err := r.store.ActiveByTag(sub.GuildID, sub.Stats.PlayerTag, sub.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to check tag ownership: %w", err)
	}
	if conflict != nil {
		return r.escalate(sub, prev, conflict, sub.Stats.PlayerTag)
	}

	rec := newRecord(sub, now)
	if err := r.store.InsertRecord(rec); err != nil {
		if storage.IsDuplicateTag(err) {
			// A concurrent submission raced ahead and claimed the tag
			// between our check and the write
			return r.escalateAfterRace(sub, prev, now)
		}
		return nil, fmt.Errorf("failed to save record: %w", err)
	}

	eval := r.thresholds.Evaluate(sub.Stats)
	wasVerified := prev != nil && prev.Verified
	outcome, err := r.coordinator.Reconcile(sub.GuildID, sub.UserID, rec, eval, wasVerified)
	if err != nil {
		return nil, err
	}

	status := StatusAccepted
	if wasVerified && !eval.Passed {
		status = StatusReEvaluationFailed
	}
	return &Result{
		Status:     status,
		Evaluation: eval,
		Outcome:    outcome,
		Record:     rec,
	}, nil
}

// escalate persists the claimant's submission flagged, flags the current
// owner for visibility, and opens an arbitration request
func (r *Resolver) escalate(sub *Submission, prev, conflict *storage.VerificationRecord, claimedTag string) (*Result, error) {
	now := r.now().UTC()

	rec := newRecord(sub, now)
	rec.Flagged = true
	rec.FlagReason = fmt.Sprintf("duplicate tag with user %s", conflict.UserID)
	if err := r.store.InsertRecord(rec); err != nil {
		return nil, fmt.Errorf("failed to save flagged record: %w", err)
	}

	// Flag the existing owner too so arbiters see both sides; this is
	// visibility, not punitive
	if !conflict.Flagged {
		reason := fmt.Sprintf("duplicate tag with user %s", sub.UserID)
		if err := r.store.SetFlag(conflict.ID, true, reason); err != nil {
			slog.Error("Failed to flag conflicting record", "recordID", conflict.ID, "error", err)
		}
	}

	ap := &PendingApproval{
		UserID:      sub.UserID,
		GuildID:     sub.GuildID,
		NewTag:      claimedTag,
		NewPlatform: sub.Stats.Platform,
		NewImageURL: sub.ImageURL,
		OtherUserID: conflict.UserID,
	}
	if prev != nil {
		ap.PrevTag = prev.PlayerTag
		ap.OldImageURL = prev.ImageURL
	}
	requestID := r.approvals.Create(ap)

	if err := r.notify.ArbiterReview(ap); err != nil {
		slog.Error("Failed to notify arbiter", "requestID", requestID, "error", err)
	}
	r.dm(sub.UserID, fmt.Sprintf("Your claim on the tag `%s` conflicts with another member. An admin will review it; you'll hear back here.", claimedTag))
	r.dm(conflict.UserID, fmt.Sprintf("Another member has claimed the tag `%s`, which your verification uses. An admin is reviewing the conflict.", claimedTag))
	r.audit(sub.GuildID, fmt.Sprintf("Tag conflict on `%s`: <@%s> vs <@%s>. Pending arbiter review.", claimedTag, sub.UserID, conflict.UserID))

	return &Result{
		Status:    StatusConflictPending,
		RequestID: requestID,
		Record:    rec,
	}, nil
}

// escalateAfterRace recovers from a uniqueness violation discovered only
// at write time. The submission is stored under a deterministically
// disambiguated tag; the approval keeps the original tag so an approval
// restores the clean claim.
func (r *Resolver) escalateAfterRace(sub *Submission, prev *storage.VerificationRecord, now time.Time) (*Result, error) {
	claimedTag := sub.Stats.PlayerTag

	winner, err := r.store.ActiveByTag(sub.GuildID, claimedTag, sub.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-derive conflicting record: %w", err)
	}
	if winner == nil {
		// The winner vanished between the failed insert and this query;
		// retry the plain path once
		rec := newRecord(sub, now)
		if err := r.store.InsertRecord(rec); err != nil {
			return nil, fmt.Errorf("failed to save record after race: %w", err)
		}
		eval := r.thresholds.Evaluate(sub.Stats)
		wasVerified := prev != nil && prev.Verified
		outcome, err := r.coordinator.Reconcile(sub.GuildID, sub.UserID, rec, eval, wasVerified)
		if err != nil {
			return nil, err
		}
		status := StatusAccepted
		if wasVerified && !eval.Passed {
			status = StatusReEvaluationFailed
		}
		return &Result{Status: status, Evaluation: eval, Outcome: outcome, Record: rec}, nil
	}

	raceSub := *sub
	raceSub.Stats.PlayerTag = suffixTag(claimedTag, "dup")
	result, err := r.escalate(&raceSub, prev, winner, claimedTag)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Approve applies an arbiter's accept decision. If a different user has
// taken the desired tag since the request was queued, their claim is
// moved aside first so the tag ends with exactly one active owner.
func (r *Resolver) Approve(requestID string) (*Result, error) {
	ap, ok := r.approvals.Take(requestID)
	if !ok {
		return nil, ErrUnknownApproval
	}

	// Move aside every other current claim on the desired tag, flagged
	// or not; a secondary collision may have formed while the request
	// sat pending
	reassigned := make(map[int64]bool)
	holders, err := r.store.CurrentByTag(ap.GuildID, ap.NewTag)
	if err != nil {
		return nil, fmt.Errorf("failed to list tag holders: %w", err)
	}
	for _, holder := range holders {
		if holder.UserID == ap.UserID {
			continue
		}
		newTag := suffixTag(ap.NewTag, "reassigned")
		if err := r.store.SetTag(holder.ID, newTag); err != nil {
			return nil, fmt.Errorf("failed to reassign tag for record %d: %w", holder.ID, err)
		}
		if err := r.store.SetFlag(holder.ID, true, "tag reassigned by admin decision"); err != nil {
			return nil, fmt.Errorf("failed to flag reassigned record %d: %w", holder.ID, err)
		}
		reassigned[holder.ID] = true
		r.dm(holder.UserID, fmt.Sprintf("An admin has assigned the tag `%s` to another member. Your verification was renamed to `%s`; please re-verify with your own tag.", ap.NewTag, newTag))
	}

	rec, err := r.store.LatestByUser(ap.GuildID, ap.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load requester record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("requester %s has no record in guild %s", ap.UserID, ap.GuildID)
	}

	if err := r.store.SetTag(rec.ID, ap.NewTag); err != nil {
		return nil, fmt.Errorf("failed to apply approved tag: %w", err)
	}
	if err := r.store.SetFlag(rec.ID, false, ""); err != nil {
		return nil, fmt.Errorf("failed to clear requester flag: %w", err)
	}
	rec.PlayerTag = ap.NewTag
	rec.Flagged = false
	rec.FlagReason = ""

	// Clear the originally-conflicting party's flag unless their record
	// was just reassigned above
	other, err := r.store.LatestByUser(ap.GuildID, ap.OtherUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conflicting party record: %w", err)
	}
	if other != nil && other.Flagged && !reassigned[other.ID] {
		if err := r.store.SetFlag(other.ID, false, ""); err != nil {
			slog.Error("Failed to clear flag on conflicting party", "recordID", other.ID, "error", err)
		}
	}

	eval := r.thresholds.Evaluate(recordStats(rec))
	outcome, err := r.coordinator.Reconcile(ap.GuildID, ap.UserID, rec, eval, rec.Verified)
	if err != nil {
		return nil, err
	}

	r.dm(ap.UserID, fmt.Sprintf("An admin approved your claim on the tag `%s`.", ap.NewTag))
	r.audit(ap.GuildID, fmt.Sprintf("Tag conflict on `%s` resolved: approved for <@%s>.", ap.NewTag, ap.UserID))

	status := StatusAccepted
	if !eval.Passed {
		status = StatusReEvaluationFailed
	}
	return &Result{
		Status:     status,
		RequestID:  requestID,
		Evaluation: eval,
		Outcome:    outcome,
		Record:     rec,
	}, nil
}

// Deny applies an arbiter's reject decision
func (r *Resolver) Deny(requestID string) error {
	ap, ok := r.approvals.Take(requestID)
	if !ok {
		return ErrUnknownApproval
	}

	rec, err := r.store.LatestByUser(ap.GuildID, ap.UserID)
	if err != nil {
		return fmt.Errorf("failed to load requester record: %w", err)
	}
	if rec != nil {
		if err := r.store.SetFlag(rec.ID, true, "denied by admin"); err != nil {
			return fmt.Errorf("failed to flag denied record: %w", err)
		}
	}

	r.dm(ap.UserID, fmt.Sprintf("An admin denied your claim on the tag `%s`. If you believe this is a mistake, contact the server admins.", ap.NewTag))
	r.audit(ap.GuildID, fmt.Sprintf("Tag conflict on `%s` resolved: denied for <@%s>.", ap.NewTag, ap.UserID))
	return nil
}

func (r *Resolver) dm(userID, content string) {
	if err := r.notify.DirectMessage(userID, content); err != nil {
		slog.Warn("Failed to DM user", "userID", userID, "error", err)
	}
}

func (r *Resolver) audit(guildID, content string) {
	if err := r.notify.Audit(guildID, content); err != nil {
		slog.Error("Failed to post audit entry", "guildID", guildID, "error", err)
	}
}

// newRecord builds an unflagged record from a submission
func newRecord(sub *Submission, now time.Time) *storage.VerificationRecord {
	return &storage.VerificationRecord{
		UserID:      sub.UserID,
		GuildID:     sub.GuildID,
		PlayerTag:   sub.Stats.PlayerTag,
		Platform:    sub.Stats.Platform,
		WinPct:      sub.Stats.WinPct,
		GamesPlayed: sub.Stats.GamesPlayed,
		Points:      sub.Stats.Points,
		Rebounds:    sub.Stats.Rebounds,
		Assists:     sub.Stats.Assists,
		ImageURL:    sub.ImageURL,
		ImageHash:   sub.ImageHash,
		CreatedAt:   now,
	}
}

// recordStats rebuilds normalized stats from a stored record
func recordStats(rec *storage.VerificationRecord) stats.PlayerStats {
	return stats.PlayerStats{
		PlayerTag:   rec.PlayerTag,
		Platform:    rec.Platform,
		GamesPlayed: rec.GamesPlayed,
		WinPct:      rec.WinPct,
		Points:      rec.Points,
		Rebounds:    rec.Rebounds,
		Assists:     rec.Assists,
	}
}

// suffixTag appends a short random disambiguating token
func suffixTag(tag, kind string) string {
	return fmt.Sprintf("%s-%s-%s", tag, kind, uuid.NewString()[:8])
}
