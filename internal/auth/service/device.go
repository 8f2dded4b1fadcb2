package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/lockplane/authd/internal/auth/codec"
	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/cryptox"
	"github.com/lockplane/authd/pkg/idx"
	"github.com/lockplane/authd/pkg/slogx"
)

const (
	// DefaultDeviceCodeTTL is how long a device authorization stays
	// redeemable (RFC 8628 expires_in).
	DefaultDeviceCodeTTL = 30 * time.Minute

	// DefaultPollInterval is the minimum gap between polls from a device.
	DefaultPollInterval = 5 * time.Second

	// userCodeAttempts bounds retries when a generated user code collides
	// with a live row.
	userCodeAttempts = 4
)

// defaultDeviceScopes is granted when a device request names no usable
// scopes after filtering.
var defaultDeviceScopes = []string{"read"}

// DeviceService runs the RFC 8628 device authorization flow: Start hands a
// code pair to the device, Approve records the user's decision from the
// verification page, Poll is the device side of the token exchange.
type DeviceService struct {
	Store  store.Store
	Codec  *codec.Codec
	Scopes *ScopeService

	// VerificationURI is the page users visit to enter a user code.
	VerificationURI string

	CodeTTL      time.Duration // zero means DefaultDeviceCodeTTL
	PollInterval time.Duration // zero means DefaultPollInterval
	RefreshTTL   time.Duration
}

// DeviceAuthorization is the device authorization response
// (RFC 8628 section 3.2).
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// Start mints a device_code/user_code pair for a client. The device code is
// returned once and stored only as a fingerprint.
func (s *DeviceService) Start(ctx context.Context, clientID, clientSecret, rawScope string) (*DeviceAuthorization, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	client, err := authenticateClient(ctx, s.Store.Clients(), clientID, clientSecret, domain.GrantDeviceCode)
	if err != nil {
		return nil, err
	}

	scopes, err := s.Scopes.Filter(ctx, splitScopes(rawScope), client, domain.GrantDeviceCode)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = defaultDeviceScopes
	}

	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}

	ttl := s.CodeTTL
	if ttl <= 0 {
		ttl = DefaultDeviceCodeTTL
	}
	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	dc := domain.DeviceCode{
		ID:                    idx.New().String(),
		DeviceCodeFingerprint: cryptox.FingerprintToken(opaque),
		ClientID:              client.ID,
		Scopes:                scopes,
		ExpiresAt:             now.Add(ttl),
		IntervalSeconds:       int(interval / time.Second),
	}

	// User codes are unique among live rows; on the rare collision just
	// roll a fresh one.
	for attempt := 1; ; attempt++ {
		dc.UserCode, err = cryptox.GenerateUserCode()
		if err != nil {
			return nil, err
		}
		err = s.Store.DeviceCodes().CreateDeviceCode(ctx, dc)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrAlreadyExists) || attempt >= userCodeAttempts {
			return nil, err
		}
	}

	l.Info("device authorization started",
		slog.String("client_id", client.ID),
		slog.String("user_code", dc.UserCode))

	verification := strings.TrimRight(s.VerificationURI, "/")
	return &DeviceAuthorization{
		DeviceCode:              opaque,
		UserCode:                dc.UserCode,
		VerificationURI:         verification,
		VerificationURIComplete: verification + "?user_code=" + url.QueryEscape(dc.UserCode),
		ExpiresIn:               int64(ttl.Seconds()),
		Interval:                dc.IntervalSeconds,
	}, nil
}

// Approve records the user's decision for the device showing userCode.
// Expired rows are lazily deleted on lookup so their user codes free up.
func (s *DeviceService) Approve(ctx context.Context, userCode, userID string, approve bool) error {
	now := time.Now()
	l := slogx.FromContext(ctx)

	normalized := cryptox.NormalizeUserCode(userCode)
	if normalized == "" {
		return fmt.Errorf("%w: user_code is required", ErrInvalidRequest)
	}

	dc, err := s.Store.DeviceCodes().GetDeviceCodeByUserCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown user code", ErrInvalidRequest)
		}
		return err
	}

	switch dc.Status(now) {
	case domain.DeviceStatusPending:
	case domain.DeviceStatusExpired:
		if err := s.Store.DeviceCodes().DeleteDeviceCode(ctx, dc.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: code expired", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: code is not pending", ErrInvalidRequest)
	}

	if approve {
		err = s.Store.DeviceCodes().ApproveDeviceCode(ctx, dc.ID, userID)
	} else {
		err = s.Store.DeviceCodes().DenyDeviceCode(ctx, dc.ID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lost a race with expiry cleanup or another decision.
			return fmt.Errorf("%w: code is not pending", ErrInvalidRequest)
		}
		return err
	}

	l.Info("device authorization decided",
		slog.String("client_id", dc.ClientID),
		slog.Bool("approved", approve))
	return nil
}

// Poll is the device's side of the exchange. The error sequence is fixed:
// client mismatch, then expiry, then denial, then throttling, then pending.
// Only a pending poll that passed the throttle moves last_polled_at, so a
// device that hammers the endpoint never advances its own window.
func (s *DeviceService) Poll(ctx context.Context, deviceCode string, client domain.Client) (*domain.TokenResponse, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	code := strings.TrimSpace(deviceCode)
	if code == "" {
		return nil, fmt.Errorf("%w: device_code is required", ErrInvalidRequest)
	}

	dc, err := s.Store.DeviceCodes().GetDeviceCodeByFingerprint(ctx, cryptox.FingerprintToken(code))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}

	if dc.ClientID != client.ID {
		return nil, ErrInvalidGrant
	}

	switch dc.Status(now) {
	case domain.DeviceStatusExpired:
		if err := s.Store.DeviceCodes().DeleteDeviceCode(ctx, dc.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, ErrExpiredToken
	case domain.DeviceStatusDenied:
		if err := s.Store.DeviceCodes().DeleteDeviceCode(ctx, dc.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, ErrAccessDenied
	}

	interval := time.Duration(dc.IntervalSeconds) * time.Second
	if dc.LastPolledAt != nil && now.Sub(*dc.LastPolledAt) < interval {
		return nil, ErrSlowDown
	}

	if dc.Status(now) == domain.DeviceStatusPending {
		if err := s.Store.DeviceCodes().UpdateLastPolledAt(ctx, dc.ID, now); err != nil {
			return nil, err
		}
		return nil, ErrAuthorizationPending
	}

	// Authorized. Consume the row and issue inside one transaction; the
	// conditional delete means only one racing poll walks away with tokens.
	user, err := s.Store.Users().GetUserByID(ctx, *dc.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}

	var result *domain.TokenResponse
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.DeviceCodes().DeleteDeviceCode(ctx, dc.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidGrant
			}
			return err
		}

		issued, err := issueTokens(ctx, tx, s.Codec, s.RefreshTTL, issueParams{
			client:      client,
			userID:      dc.UserID,
			user:        &user,
			scopes:      dc.Scopes,
			withRefresh: slices.Contains(dc.Scopes, "offline_access"),
			now:         now,
		})
		if err != nil {
			return err
		}
		result = issued
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.Info("device authorization redeemed",
		slog.String("client_id", client.ID),
		slog.String("user_id", user.ID))
	return result, nil
}
