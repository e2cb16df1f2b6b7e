package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Статусы платной заявки на знакомство (медпред -> врач)
const (
	MatchStatusPendingPayment = "pending_payment"
	MatchStatusPending        = "pending"
	MatchStatusAccepted       = "accepted"
	MatchStatusRejected       = "rejected"
	MatchStatusExpired        = "expired"
	MatchStatusRefunded       = "refunded"
	MatchStatusContactMade    = "contact_made"
	MatchStatusCompleted      = "completed"
)

// Решения адресата заявки
const (
	MatchDecisionAccept = "accept"
	MatchDecisionReject = "reject"
)

// ContactSnapshot - снимок контактных данных, замороженный в момент
// принятия заявки. Хранится как jsonb.
type ContactSnapshot struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Value сериализует снимок для jsonb колонки.
func (s ContactSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan читает снимок из jsonb колонки.
func (s *ContactSnapshot) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("contact snapshot: неожиданный тип %T", src)
	}
	return json.Unmarshal(raw, s)
}

// MatchRequest представляет платную заявку с окном ответа: адресат должен
// ответить до expires_at, иначе заявка истекает и оплата возвращается.
type MatchRequest struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	RequesterID      uuid.UUID        `db:"requester_id" json:"requester_id"`
	TargetID         uuid.UUID        `db:"target_id" json:"target_id"`
	ProductCategory  string           `db:"product_category" json:"product_category"`
	Message          *string          `db:"message" json:"message,omitempty"`
	MatchFee         int64            `db:"match_fee" json:"match_fee"`
	Status           string           `db:"status" json:"status"`
	HoldID           *string          `db:"hold_id" json:"hold_id,omitempty"`
	ExpiresAt        *time.Time       `db:"expires_at" json:"expires_at,omitempty"`
	RespondedAt      *time.Time       `db:"responded_at" json:"responded_at,omitempty"`
	RejectReason     *string          `db:"reject_reason" json:"reject_reason,omitempty"`
	RequesterContact *ContactSnapshot `db:"requester_contact" json:"requester_contact,omitempty"`
	TargetContact    *ContactSnapshot `db:"target_contact" json:"target_contact,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// ContactsVisible сообщает, открыты ли контакты по заявке.
func (r *MatchRequest) ContactsVisible() bool {
	switch r.Status {
	case MatchStatusAccepted, MatchStatusContactMade, MatchStatusCompleted:
		return true
	}
	return false
}
