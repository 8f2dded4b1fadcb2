package store

import (
	"context"
	"errors"
	"time"

	"github.com/lockplane/authd/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable. We can change having the sub-repos as methods later but we do it
// now so we can have more control and actively stop people from accidently
// doing transactions within transactions.
type Store interface {
	Users() Users
	Clients() Clients
	Scopes() Scopes
	AuthorizationCodes() AuthorizationCodes
	AccessTokens() AccessTokens
	RefreshTokens() RefreshTokens
	DeviceCodes() DeviceCodes
	DPoPProofs() DPoPProofs
	MFASessions() MFASessions
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// Use it for multi-step operations that must be atomic (e.g., refresh
	// rotation, code redemption). The caller MUST call Commit() or Rollback()
	// on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	// This is the recommended way to handle transactions as it automatically
	// handles commit/rollback logic.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources (optional for sqlite).
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByUsername is used at the authorize endpoint's password check.
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// UpdateTOTPSecret sets the (encrypted) TOTP secret for a user.
	UpdateTOTPSecret(ctx context.Context, userID string, secret string) error

	// EnableMFA marks MFA as enabled for a user (sets mfa_enabled timestamp).
	EnableMFA(ctx context.Context, userID string) error

	// DisableMFA disables MFA for a user (clears mfa_enabled and totp_secret).
	DisableMFA(ctx context.Context, userID string) error

	// IsEmpty returns true if there are no users.
	IsEmpty(ctx context.Context) (bool, error)
}

type Clients interface {
	// GetClientByID fetches a client. Every grant starts here.
	GetClientByID(ctx context.Context, id string) (domain.Client, error)

	// ListClients returns all clients ordered by creation date (newest first).
	ListClients(ctx context.Context) ([]domain.Client, error)

	// CreateClient inserts a new client (id is ULID; secret_hash is nil for
	// public clients).
	CreateClient(ctx context.Context, c domain.Client) error

	// SetClientActive flips is_active. The grant engine never mutates clients
	// itself; this is the external revocation switch.
	SetClientActive(ctx context.Context, clientID string, active bool) error

	// DeleteClient removes a client; fails on protected (bootstrap) clients.
	DeleteClient(ctx context.Context, clientID string) error

	// IsEmpty returns true if there are no clients.
	IsEmpty(ctx context.Context) (bool, error)
}

type Scopes interface {
	// ListScopes returns the scope registry. Rows are seeded by migration and
	// read-only at runtime, so callers may cache the result.
	ListScopes(ctx context.Context) ([]domain.Scope, error)
}

type AuthorizationCodes interface {
	// CreateAuthorizationCode stores a freshly minted authorization code.
	CreateAuthorizationCode(ctx context.Context, code domain.AuthorizationCode) error

	// GetAuthorizationCodeByFingerprint fetches a code for redemption.
	GetAuthorizationCodeByFingerprint(ctx context.Context, fingerprint string) (domain.AuthorizationCode, error)

	// MarkAuthorizationCodeUsed consumes a code. The update is conditional on
	// used_at still being null; a row that was already consumed returns
	// ErrNotFound so concurrent redemptions cannot both win.
	MarkAuthorizationCodeUsed(ctx context.Context, id string) error

	// DeleteExpiredAuthorizationCodes removes any codes that are no longer valid.
	DeleteExpiredAuthorizationCodes(ctx context.Context) error
}

type AccessTokens interface {
	// CreateAccessToken stores the record behind a signed access token.
	CreateAccessToken(ctx context.Context, t domain.AccessToken) error

	// GetAccessTokenByID looks a record up by the JWT's jti.
	GetAccessTokenByID(ctx context.Context, id string) (domain.AccessToken, error)

	// RevokeAccessToken sets revoked_at if it is still null.
	RevokeAccessToken(ctx context.Context, id string) error

	// DeleteExpiredAccessTokens is housekeeping.
	DeleteExpiredAccessTokens(ctx context.Context) error
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new refresh token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByFingerprint returns the token by its SHA-256 fingerprint.
	GetRefreshTokenByFingerprint(ctx context.Context, fingerprint string) (domain.RefreshToken, error)

	// RevokeRefreshToken sets revoked_at on one row.
	RevokeRefreshToken(ctx context.Context, id string) error

	// RevokeRefreshTokensByAccessTokenID revokes every refresh token linked to
	// an access token. Used by the revocation cascade.
	RevokeRefreshTokensByAccessTokenID(ctx context.Context, accessTokenID string) error

	// DeleteExpiredRefreshTokens is optional housekeeping.
	DeleteExpiredRefreshTokens(ctx context.Context) error
}

type DeviceCodes interface {
	// CreateDeviceCode stores a new device authorization.
	CreateDeviceCode(ctx context.Context, d domain.DeviceCode) error

	// GetDeviceCodeByFingerprint fetches a row for polling.
	GetDeviceCodeByFingerprint(ctx context.Context, fingerprint string) (domain.DeviceCode, error)

	// GetDeviceCodeByUserCode fetches a row for the approval page lookup.
	GetDeviceCodeByUserCode(ctx context.Context, userCode string) (domain.DeviceCode, error)

	// ApproveDeviceCode records the approving user. Conditional on the row
	// still being pending; returns ErrNotFound otherwise.
	ApproveDeviceCode(ctx context.Context, id string, userID string) error

	// DenyDeviceCode marks the authorization as denied by the user.
	DenyDeviceCode(ctx context.Context, id string) error

	// UpdateLastPolledAt stamps a successful poll. The slow_down path never
	// calls this.
	UpdateLastPolledAt(ctx context.Context, id string, t time.Time) error

	// DeleteDeviceCode removes a row (consumption, denial ack, lazy expiry).
	// Returns ErrNotFound when the row is already gone, which is how
	// concurrent redemptions of the same device code are serialized.
	DeleteDeviceCode(ctx context.Context, id string) error

	// DeleteExpiredDeviceCodes is housekeeping.
	DeleteExpiredDeviceCodes(ctx context.Context) error
}

type DPoPProofs interface {
	// InsertProof records a consumed proof jti. A duplicate jti returns
	// ErrAlreadyExists, which is how replay is detected across processes.
	InsertProof(ctx context.Context, p domain.DPoPProof) error

	// DeleteExpiredProofs clears replay rows past their window.
	DeleteExpiredProofs(ctx context.Context) error
}

type MFASessions interface {
	// CreateMFASession creates a new MFA challenge session.
	CreateMFASession(ctx context.Context, session domain.MFASession) error

	// GetMFASession retrieves an MFA session by its token (only if not expired).
	GetMFASession(ctx context.Context, mfaToken string) (domain.MFASession, error)

	// IncrementMFASessionAttempts increments the failed attempt counter for an
	// MFA session. Returns the updated MFASession with the new attempt count.
	IncrementMFASessionAttempts(ctx context.Context, mfaToken string) (domain.MFASession, error)

	// DeleteMFASession removes an MFA session by its token.
	DeleteMFASession(ctx context.Context, mfaToken string) error

	// DeleteExpiredMFASessions removes all expired MFA sessions (housekeeping).
	DeleteExpiredMFASessions(ctx context.Context) error
}

type SigningKeys interface {
	// CreateSigningKey stores a new signing key with encrypted private key material.
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error

	// GetSigningKeyByKid fetches a signing key by its key identifier.
	GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error)

	// ListActiveSigningKeys returns all non-retired, non-expired signing keys
	// ordered by creation date (newest first).
	ListActiveSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// ListAllSigningKeys returns all signing keys (including retired and expired)
	// ordered by creation date (newest first). Used for verification during grace period.
	ListAllSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// RetireSigningKey marks a key as retired (sets retired_at timestamp).
	// Retired keys can still be used for verification but not for signing.
	RetireSigningKey(ctx context.Context, kid string) error

	// DeleteExpiredSigningKeys removes all keys that have passed their expires_at
	// timestamp. This is housekeeping to prevent unbounded growth of the table.
	DeleteExpiredSigningKeys(ctx context.Context) error
}
