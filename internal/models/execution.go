package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Execution states. StateIdle is virtual: it is never persisted and only
// appears as the from-state of an execution's first history entry.
const (
	StateIdle             = "idle"
	StateAwaitingApproval = "awaiting_approval"
	StateExecuting        = "executing"
	StateMonitoring       = "monitoring"
	StateCompleted        = "completed"
	StateFailed           = "failed"
	StateCancelled        = "cancelled"
	StatePaused           = "paused"
)

// Transition trigger tags.
const (
	TriggerScheduledExecution      = "scheduled_execution"
	TriggerUserApproved            = "user_approved"
	TriggerUserSkipped             = "user_skipped"
	TriggerSmartSessionAutoExecute = "smart_session_auto_execute"
	TriggerExecutionSuccess        = "execution_success"
	TriggerExecutionError          = "execution_error"
	TriggerManualExecuteNow        = "manual_execute_now"
	TriggerUserPaused              = "user_paused"
	TriggerEngineTelemetry         = "engine_telemetry"
)

// ActiveStates are the non-terminal execution states; at most one
// execution per strategy may be in any of them at a time. A paused
// execution still holds the slot: pausing defers the approval decision,
// it does not release the strategy for another trigger.
var ActiveStates = []string{StateAwaitingApproval, StateExecuting, StateMonitoring, StatePaused}

// TerminalStates admit no further transitions.
var TerminalStates = []string{StateCompleted, StateFailed, StateCancelled}

// StateTransition is one immutable entry of an execution's history log.
type StateTransition struct {
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Trigger   string    `json:"trigger"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Execution is one attempt to carry out a strategy's action. It is
// mutated only through lifecycle state transitions and deleted only via
// the owning strategy's cascade.
type Execution struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	StrategyID    uint64 `gorm:"not null;index" json:"strategy_id"`
	WalletAddress string `gorm:"type:varchar(64);not null;index" json:"wallet_address"`

	State          string    `gorm:"type:varchar(20);not null;index" json:"state"`
	StateEnteredAt time.Time `gorm:"type:timestamptz;not null" json:"state_entered_at"`

	// Append-only JSON array of StateTransition entries.
	History datatypes.JSON `gorm:"type:jsonb;not null" json:"history"`

	RequiresApproval bool       `gorm:"not null;default:false" json:"requires_approval"`
	ApprovalReason   *string    `gorm:"type:text" json:"approval_reason,omitempty"`
	ApprovedBy       *string    `gorm:"type:varchar(64)" json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `gorm:"type:timestamptz" json:"approved_at,omitempty"`

	StartedAt   *time.Time     `gorm:"type:timestamptz" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"type:timestamptz" json:"completed_at,omitempty"`
	TxHash      *string        `gorm:"type:varchar(80)" json:"tx_hash,omitempty"`
	OutputData  datatypes.JSON `gorm:"type:jsonb" json:"output_data,omitempty"`

	ErrorMessage *string `gorm:"type:text" json:"error_message,omitempty"`
	ErrorCode    *string `gorm:"type:varchar(60)" json:"error_code,omitempty"`
	Recoverable  *bool   `json:"recoverable,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Execution) TableName() string {
	return "executions"
}

// IsTerminal reports whether the execution has reached a final state.
func (e *Execution) IsTerminal() bool {
	if e == nil {
		return false
	}
	return IsTerminalState(e.State)
}

func IsTerminalState(state string) bool {
	for _, s := range TerminalStates {
		if s == state {
			return true
		}
	}
	return false
}

func IsActiveState(state string) bool {
	for _, s := range ActiveStates {
		if s == state {
			return true
		}
	}
	return false
}

// Transitions decodes the history log. A corrupt log yields an empty
// slice rather than an error; history is diagnostic, not load-bearing.
func (e *Execution) Transitions() []StateTransition {
	if e == nil || len(e.History) == 0 {
		return nil
	}
	var out []StateTransition
	if err := json.Unmarshal(e.History, &out); err != nil {
		return nil
	}
	return out
}

// AppendTransition returns the history log with one more entry. The
// stored log is never rewritten in place.
func AppendTransition(history datatypes.JSON, entry StateTransition) datatypes.JSON {
	var entries []StateTransition
	if len(history) > 0 {
		_ = json.Unmarshal(history, &entries)
	}
	entries = append(entries, entry)
	raw, err := json.Marshal(entries)
	if err != nil {
		return history
	}
	return datatypes.JSON(raw)
}
