package model

import "time"

type SessionStatus string

const (
	SessionStatusIdle    SessionStatus = "idle"
	SessionStatusRunning SessionStatus = "running"
	SessionStatusPaused  SessionStatus = "paused"
	SessionStatusClosed  SessionStatus = "closed"
)

type ParticipantRole string

const (
	RoleOperator    ParticipantRole = "operator"
	RoleCounterpart ParticipantRole = "counterpart"
)

func (r ParticipantRole) Valid() bool {
	return r == RoleOperator || r == RoleCounterpart
}

// PauseSource records who froze the meter. A system pause (liveness loss)
// lifts on the next heartbeat; an operator pause lifts only on an explicit
// toggle.
type PauseSource string

const (
	PausedByOperator PauseSource = "operator"
	PausedBySystem   PauseSource = "system"
)

// Participant is one of the two parties of a billable session.
type Participant struct {
	ID        string          `json:"participantId"`
	AccountID string          `json:"accountId"`
	Role      ParticipantRole `json:"role"`
	JoinedAt  time.Time       `json:"joinedAt"`
}

// SessionView is the read-only snapshot returned to callers. Elapsed time is
// server-computed; clients use it to reseed their display clocks.
type SessionView struct {
	SessionID      string        `json:"sessionId"`
	Status         SessionStatus `json:"status"`
	Paused         bool          `json:"paused"`
	ElapsedSeconds int64         `json:"elapsedSeconds"`
	RateUnitsHour  int64         `json:"rateUnitsPerHour"`
	RatePerMinute  float64       `json:"ratePerMinute"`
	Participants   []Participant `json:"participants"`
}

type CreateSessionRecordParams struct {
	SessionID      string
	OperatorID     string
	CounterpartID  string
	ElapsedSeconds int64
	BilledMinutes  int64
	BilledUnits    int64
	ChargeOutcome  ChargeOutcome
}

// SessionRecord is the archive row written once per closed session.
type SessionRecord struct {
	ID             string        `db:"id" json:"id"`
	SessionID      string        `db:"session_id" json:"sessionId"`
	OperatorID     string        `db:"operator_id" json:"operatorId"`
	CounterpartID  string        `db:"counterpart_id" json:"counterpartId"`
	ElapsedSeconds int64         `db:"elapsed_seconds" json:"elapsedSeconds"`
	BilledMinutes  int64         `db:"billed_minutes" json:"billedMinutes"`
	BilledUnits    int64         `db:"billed_units" json:"billedUnits"`
	ChargeOutcome  ChargeOutcome `db:"charge_outcome" json:"chargeOutcome"`
	ClosedAt       time.Time     `db:"closed_at" json:"closedAt"`
}
