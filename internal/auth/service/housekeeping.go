package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/lockplane/authd/internal/auth/store"
)

// HousekeepingService periodically deletes expired rows so single-use
// artifacts (codes, tokens, sessions, replay proofs) do not accumulate
// forever.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. An interval of zero
// or less defaults to 1 hour.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:    store,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background worker. Non-blocking; call Stop to shut it
// down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop shuts down the worker and blocks until any in-progress sweep finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// First sweep runs immediately on startup.
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup runs every sweep independently; one failing table does not stop the
// others.
func (s *HousekeepingService) cleanup() {
	ctx := context.Background()
	s.Logger.Info("starting housekeeping sweep")

	sweeps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"authorization_codes", s.Store.AuthorizationCodes().DeleteExpiredAuthorizationCodes},
		{"access_tokens", s.Store.AccessTokens().DeleteExpiredAccessTokens},
		{"refresh_tokens", s.Store.RefreshTokens().DeleteExpiredRefreshTokens},
		{"device_codes", s.Store.DeviceCodes().DeleteExpiredDeviceCodes},
		{"dpop_proofs", s.Store.DPoPProofs().DeleteExpiredProofs},
		{"mfa_sessions", s.Store.MFASessions().DeleteExpiredMFASessions},
		{"signing_keys", s.Store.SigningKeys().DeleteExpiredSigningKeys},
	}

	var failed int
	for _, sweep := range sweeps {
		if err := sweep.fn(ctx); err != nil {
			s.Logger.Error("housekeeping sweep failed", "table", sweep.name, "error", err)
			failed++
			continue
		}
		s.Logger.Debug("housekeeping sweep finished", "table", sweep.name)
	}

	s.Logger.Info("housekeeping sweep completed", "tables", len(sweeps), "failed", failed)
}
