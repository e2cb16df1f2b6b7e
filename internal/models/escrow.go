package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы escrow-сделки
const (
	EscrowStatusInitiated  = "initiated"
	EscrowStatusInProgress = "in_progress"
	EscrowStatusReleased   = "released"
	EscrowStatusDisputed   = "disputed"
	EscrowStatusRefunded   = "refunded"
	EscrowStatusCancelled  = "cancelled"
)

// Статусы этапа (milestone)
const (
	MilestoneStatusPending   = "pending"
	MilestoneStatusSubmitted = "submitted"
	// approved - короткоживущий статус-захват между вызовом платёжного
	// провайдера и локальным коммитом; гарантирует ровно один release.
	MilestoneStatusApproved = "approved"
	MilestoneStatusReleased = "released"
	MilestoneStatusRejected = "rejected"
)

// EscrowTransaction представляет сделку с условным освобождением средств.
// Суммы хранятся в целых вонах: правило "остаток округления - последнему
// этапу" точно только в целочисленной арифметике.
type EscrowTransaction struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	PayerID       uuid.UUID   `db:"payer_id" json:"payer_id"`
	PayeeID       uuid.UUID   `db:"payee_id" json:"payee_id"`
	TotalAmount   int64       `db:"total_amount" json:"total_amount"`
	PlatformFee   int64       `db:"platform_fee" json:"platform_fee"`
	Status        string      `db:"status" json:"status"`
	HoldID        *string     `db:"hold_id" json:"hold_id,omitempty"`
	DisputeReason *string     `db:"dispute_reason" json:"dispute_reason,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
	FundedAt      *time.Time  `db:"funded_at" json:"funded_at,omitempty"`
	ReleasedAt    *time.Time  `db:"released_at" json:"released_at,omitempty"`
	DisputedAt    *time.Time  `db:"disputed_at" json:"disputed_at,omitempty"`
	RefundedAt    *time.Time  `db:"refunded_at" json:"refunded_at,omitempty"`
	Milestones    []Milestone `json:"milestones,omitempty"`
}

// Terminal сообщает, достигла ли сделка конечного состояния.
func (t *EscrowTransaction) Terminal() bool {
	switch t.Status {
	case EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusCancelled:
		return true
	}
	return false
}

// Milestone представляет именованную долю сделки, освобождаемую отдельно.
type Milestone struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	TransactionID uuid.UUID  `db:"transaction_id" json:"transaction_id"`
	Position      int        `db:"position" json:"position"`
	Name          string     `db:"name" json:"name"`
	Percentage    int        `db:"percentage" json:"percentage"`
	Amount        int64      `db:"amount" json:"amount"`
	Status        string     `db:"status" json:"status"`
	RejectReason  *string    `db:"reject_reason" json:"reject_reason,omitempty"`
	EvidencePath  *string    `db:"evidence_path" json:"evidence_path,omitempty"`
	ReceiptID     *string    `db:"receipt_id" json:"receipt_id,omitempty"`
	SubmittedAt   *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	ReleasedAt    *time.Time `db:"released_at" json:"released_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// MilestoneSpec - входные данные одного этапа при создании сделки.
type MilestoneSpec struct {
	Name       string `json:"name"`
	Percentage int    `json:"percentage"`
}
