package licenses

import "time"

// Reason classifies why a validation was refused. Reasons are logged
// server-side only; the network caller sees a generic denial payload.
type Reason string

const (
	ReasonInvalid        Reason = "KEY_INVALID"
	ReasonRevoked        Reason = "KEY_REVOKED"
	ReasonExpired        Reason = "KEY_EXPIRED"
	ReasonUsed           Reason = "KEY_USED"
	ReasonDeviceMismatch Reason = "KEY_HWID_MISMATCH"
)

// Key is one license credential. BoundDevice is nil until the first
// successful validation binds it; it is only cleared again by an explicit
// device reset. MaxUses nil means unlimited.
type Key struct {
	ID          string  `json:"key"`
	Active      bool    `json:"active"`
	CreatedAt   int64   `json:"created_at"`
	ExpiresAt   int64   `json:"expires_at"`
	BoundDevice *string `json:"bound_device,omitempty"`
	Uses        int     `json:"uses"`
	MaxUses     *int    `json:"max_uses,omitempty"`
	Note        string  `json:"note"`
}

// Status is the derived list view: active/revoked/expired evaluated against
// the current clock, never stored.
type Status struct {
	Key         string `json:"key"`
	Active      bool   `json:"active"`
	Revoked     bool   `json:"revoked"`
	Expired     bool   `json:"expired"`
	DeviceBound bool   `json:"hwid_bound"`
	Uses        int    `json:"uses"`
	MaxUses     *int   `json:"maxUses"`
	Expires     string `json:"expires"`
	Note        string `json:"note"`
}

// Result of ValidateAndConsume. FirstBinding is true when this call bound a
// previously unbound key.
type Result struct {
	OK           bool
	Reason       Reason
	FirstBinding bool
}

func (k *Key) status(now time.Time) Status {
	expired := now.Unix() > k.ExpiresAt
	return Status{
		Key:         k.ID,
		Active:      k.Active && !expired,
		Revoked:     !k.Active,
		Expired:     expired,
		DeviceBound: k.BoundDevice != nil,
		Uses:        k.Uses,
		MaxUses:     k.MaxUses,
		Expires:     time.Unix(k.ExpiresAt, 0).UTC().Format(time.RFC3339),
		Note:        k.Note,
	}
}
