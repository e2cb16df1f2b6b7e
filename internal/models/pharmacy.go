package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы взаимного матчинга фармацевтов
const (
	PharmacyMatchStatusPending    = "pending"
	PharmacyMatchStatusMutual     = "mutual"
	PharmacyMatchStatusChatting   = "chatting"
	PharmacyMatchStatusMeeting    = "meeting"
	PharmacyMatchStatusContracted = "contracted"
	PharmacyMatchStatusCancelled  = "cancelled"
)

// PharmacyMatch представляет пару анонимных профилей фармацевтов.
// Пара нормализована: profile_a всегда меньший UUID, так что на пару
// существует ровно одна строка. contact_revealed_at выставляется ровно
// один раз - в момент взаимности.
type PharmacyMatch struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	ProfileAID        uuid.UUID  `db:"profile_a_id" json:"profile_a_id"`
	ProfileBID        uuid.UUID  `db:"profile_b_id" json:"profile_b_id"`
	AInterestedAt     *time.Time `db:"a_interested_at" json:"a_interested_at,omitempty"`
	BInterestedAt     *time.Time `db:"b_interested_at" json:"b_interested_at,omitempty"`
	Status            string     `db:"status" json:"status"`
	ContactRevealedAt *time.Time `db:"contact_revealed_at" json:"contact_revealed_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Revealed сообщает, открыты ли контакты пары.
func (m *PharmacyMatch) Revealed() bool {
	return m.ContactRevealedAt != nil
}

// Other возвращает профиль контрагента для заданной стороны.
func (m *PharmacyMatch) Other(profileID uuid.UUID) uuid.UUID {
	if m.ProfileAID == profileID {
		return m.ProfileBID
	}
	return m.ProfileAID
}

// NormalizePair упорядочивает пару профилей (меньший UUID первым).
func NormalizePair(x, y uuid.UUID) (uuid.UUID, uuid.UUID) {
	if x.String() < y.String() {
		return x, y
	}
	return y, x
}

// Profile хранит контактные данные и анонимную сводку участника.
type Profile struct {
	ID            uuid.UUID `db:"id" json:"id"`
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	Role          string    `db:"role" json:"role"`
	Name          string    `db:"name" json:"name"`
	Phone         string    `db:"phone" json:"phone"`
	Email         string    `db:"email" json:"email"`
	Region        string    `db:"region" json:"region"`
	PharmacyScale string    `db:"pharmacy_scale" json:"pharmacy_scale"`
	DealType      string    `db:"deal_type" json:"deal_type"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// AnonymousProfile - то, что стороны видят друг о друге до взаимности.
type AnonymousProfile struct {
	ID            uuid.UUID `json:"id"`
	Region        string    `json:"region"`
	PharmacyScale string    `json:"pharmacy_scale"`
	DealType      string    `json:"deal_type"`
}

// Anonymize возвращает обезличенную сводку профиля.
func (p *Profile) Anonymize() AnonymousProfile {
	return AnonymousProfile{
		ID:            p.ID,
		Region:        p.Region,
		PharmacyScale: p.PharmacyScale,
		DealType:      p.DealType,
	}
}

// Contact возвращает контактный снимок профиля.
func (p *Profile) Contact() ContactSnapshot {
	return ContactSnapshot{Name: p.Name, Phone: p.Phone, Email: p.Email}
}
