package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Terryjones1995/2kbot/internal/stats"
	"github.com/Terryjones1995/2kbot/internal/storage"
	"github.com/Terryjones1995/2kbot/internal/verify"
)

// Store is the slice of the repository the sweeper needs
type Store interface {
	ExpiredVerified(now time.Time) ([]*storage.VerificationRecord, error)
	SetVerified(recordID int64, verified bool, verifiedAt, expiresAt *time.Time) error
}

// Sweeper periodically expires lapsed verifications and revokes the
// role best-effort
type Sweeper struct {
	store       Store
	coordinator *verify.Coordinator
	notify      verify.Notifier
	interval    time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new Sweeper. The coordinator is used only for its
// revocation path.
func New(store Store, coordinator *verify.Coordinator, notify verify.Notifier, intervalMinutes int) *Sweeper {
	return &Sweeper{
		store:       store,
		coordinator: coordinator,
		notify:      notify,
		interval:    time.Duration(intervalMinutes) * time.Minute,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the sweep loop
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("Starting expiry sweeper", "interval", s.interval)

	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial sweep
	s.sweep()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sweeper stopped (context cancelled)")
			return
		case <-s.stopChan:
			slog.Info("Sweeper stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Stop signals the sweeper to stop
func (s *Sweeper) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// sweep expires every lapsed verification
func (s *Sweeper) sweep() {
	records, err := s.store.ExpiredVerified(time.Now().UTC())
	if err != nil {
		slog.Error("Failed to query expired verifications", "error", err)
		return
	}

	if len(records) == 0 {
		slog.Debug("No expired verifications")
		return
	}

	slog.Info("Expiring lapsed verifications", "count", len(records))

	for _, rec := range records {
		s.expire(rec)
	}
}

// expire marks one record unverified and revokes the role best-effort
func (s *Sweeper) expire(rec *storage.VerificationRecord) {
	if err := s.store.SetVerified(rec.ID, false, rec.VerifiedAt, rec.ExpiresAt); err != nil {
		slog.Error("Failed to mark record expired", "recordID", rec.ID, "error", err)
		return
	}

	if s.coordinator != nil {
		// A failing evaluation with wasVerified set runs the revocation
		// path, preconditions and audit notes included
		if _, err := s.coordinator.Reconcile(rec.GuildID, rec.UserID, rec, stats.Evaluation{}, true); err != nil {
			slog.Error("Failed to reconcile expired verification", "recordID", rec.ID, "error", err)
		}
	}

	if err := s.notify.DirectMessage(rec.UserID, fmt.Sprintf("Your verification for `%s` has expired. Submit a fresh stats screenshot with /verify to keep your role.", rec.PlayerTag)); err != nil {
		slog.Warn("Failed to DM user about expiry", "userID", rec.UserID, "error", err)
	}

	slog.Info("Expired verification", "userID", rec.UserID, "guildID", rec.GuildID, "tag", rec.PlayerTag)
}
