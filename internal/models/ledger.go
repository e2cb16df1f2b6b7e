package models

import (
	"time"

	"github.com/google/uuid"
)

// Виды записей журнала
const (
	LedgerKindCapture = "capture"
	LedgerKindRelease = "release"
	LedgerKindRefund  = "refund"
)

// LedgerEntry - неизменяемая запись о движении средств по hold_id.
// Журнал append-only: записи никогда не обновляются и не удаляются,
// сумма release+refund по hold_id не может превысить сумму capture.
type LedgerEntry struct {
	ID        uuid.UUID `db:"id" json:"id"`
	HoldID    string    `db:"hold_id" json:"hold_id"`
	Kind      string    `db:"kind" json:"kind"`
	Amount    int64     `db:"amount" json:"amount"`
	ReceiptID string    `db:"receipt_id" json:"receipt_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
