package domain

import "time"

// DeviceCodeStatus is the derived state of a device authorization.
type DeviceCodeStatus string

const (
	DeviceStatusPending    DeviceCodeStatus = "pending"
	DeviceStatusAuthorized DeviceCodeStatus = "authorized"
	DeviceStatusDenied     DeviceCodeStatus = "denied"
	DeviceStatusExpired    DeviceCodeStatus = "expired"
)

// DeviceCode is one RFC 8628 device authorization. The device_code string is
// stored as a fingerprint; the user_code is stored as typed since the user
// reads it off a screen and it must survive a case-insensitive lookup.
type DeviceCode struct {
	ID                    string
	DeviceCodeFingerprint string
	UserCode              string
	ClientID              string
	Scopes                []string
	UserID                *string // set on approval
	Denied                bool
	ExpiresAt             time.Time
	IntervalSeconds       int
	LastPolledAt          *time.Time
	CreatedAt             time.Time
}

// Status derives the state machine position. Expiry wins over everything
// since an expired row is garbage whatever else happened to it.
func (d *DeviceCode) Status(now time.Time) DeviceCodeStatus {
	switch {
	case now.After(d.ExpiresAt):
		return DeviceStatusExpired
	case d.Denied:
		return DeviceStatusDenied
	case d.UserID != nil:
		return DeviceStatusAuthorized
	default:
		return DeviceStatusPending
	}
}
