package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Smart session statuses.
const (
	SessionStatusActive  = "active"
	SessionStatusExpired = "expired"
	SessionStatusRevoked = "revoked"
)

// SmartSession mirrors a delegated on-chain spending permission. The
// grant itself is issued externally; this row only gates the autonomous
// execution path. Spent-vs-limit enforcement belongs to the external
// executor, not this service.
type SmartSession struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	SessionID     string `gorm:"type:varchar(80);not null;uniqueIndex" json:"session_id"`
	WalletAddress string `gorm:"type:varchar(64);not null;index" json:"wallet_address"`
	Status        string `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`

	ChainID          int             `gorm:"not null;default:1" json:"chain_id"`
	SpendingLimitUSD decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"spending_limit_usd"`
	SpentUSD         decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"spent_usd"`

	// Allowed action types and token symbols, JSON string arrays.
	AllowedActions datatypes.JSON `gorm:"type:jsonb" json:"allowed_actions,omitempty"`
	AllowedTokens  datatypes.JSON `gorm:"type:jsonb" json:"allowed_tokens,omitempty"`

	ValidUntil  time.Time  `gorm:"type:timestamptz;not null;index" json:"valid_until"`
	GrantTxHash *string    `gorm:"type:varchar(80)" json:"grant_tx_hash,omitempty"`
	RevokedAt   *time.Time `gorm:"type:timestamptz" json:"revoked_at,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (SmartSession) TableName() string {
	return "smart_sessions"
}

// Valid reports whether the session authorizes autonomous execution at
// the given instant.
func (s *SmartSession) Valid(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.Status == SessionStatusActive && s.ValidUntil.After(now)
}
