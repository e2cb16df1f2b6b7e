package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/medmatch-backend/internal/models"
	"github.com/ignatzorin/medmatch-backend/internal/repository/common"
)

// PharmacyRepository хранит пары взаимного матчинга фармацевтов.
// На пару профилей существует ровно одна строка (profile_a < profile_b).
type PharmacyRepository struct {
	db *sqlx.DB
}

func NewPharmacyRepository(db *sqlx.DB) *PharmacyRepository {
	return &PharmacyRepository{db: db}
}

// ExpressInterest отмечает интерес стороны к контрагенту и транзакционно
// проверяет взаимность. Открытие контактов - одиночный guarded UPDATE:
// revealed == true ровно у одного писателя, даже если обе стороны нажали
// "интересно" одновременно.
func (r *PharmacyRepository) ExpressInterest(ctx context.Context, actorProfileID, otherProfileID uuid.UUID) (*models.PharmacyMatch, bool, error) {
	a, b := models.NormalizePair(actorProfileID, otherProfileID)

	var match models.PharmacyMatch
	revealed := false

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pharmacy_matches (id, profile_a_id, profile_b_id, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (profile_a_id, profile_b_id) DO NOTHING
		`, uuid.New(), a, b, models.PharmacyMatchStatusPending)
		if err != nil {
			return fmt.Errorf("pharmacy repository: upsert pair %w", err)
		}

		column := "a_interested_at"
		if actorProfileID == b {
			column = "b_interested_at"
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE pharmacy_matches SET %s = NOW(), updated_at = NOW()
			WHERE profile_a_id = $1 AND profile_b_id = $2 AND %s IS NULL
		`, column, column), a, b)
		if err != nil {
			return fmt.Errorf("pharmacy repository: mark interest %w", err)
		}

		// Попытка открытия: пройдёт ровно у одного писателя за всю жизнь пары.
		res, err := tx.ExecContext(ctx, `
			UPDATE pharmacy_matches
			SET status = $3, contact_revealed_at = NOW(), updated_at = NOW()
			WHERE profile_a_id = $1 AND profile_b_id = $2
			  AND a_interested_at IS NOT NULL AND b_interested_at IS NOT NULL
			  AND contact_revealed_at IS NULL
		`, a, b, models.PharmacyMatchStatusMutual)
		if err != nil {
			return fmt.Errorf("pharmacy repository: reveal %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			revealed = true
		}

		if err := tx.GetContext(ctx, &match, `
			SELECT * FROM pharmacy_matches WHERE profile_a_id = $1 AND profile_b_id = $2
		`, a, b); err != nil {
			return fmt.Errorf("pharmacy repository: reload pair %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &match, revealed, nil
}

// GetByID возвращает пару.
func (r *PharmacyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PharmacyMatch, error) {
	return common.GetByID[models.PharmacyMatch](ctx, r.db, "pharmacy_matches", id, common.ErrNotFound)
}

// ListForProfile возвращает пары с участием профиля.
func (r *PharmacyRepository) ListForProfile(ctx context.Context, profileID uuid.UUID, limit, offset int) ([]models.PharmacyMatch, error) {
	var list []models.PharmacyMatch
	err := r.db.SelectContext(ctx, &list, `
		SELECT * FROM pharmacy_matches
		WHERE profile_a_id = $1 OR profile_b_id = $1
		ORDER BY updated_at DESC LIMIT $2 OFFSET $3
	`, profileID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("pharmacy repository: list for profile %w", err)
	}
	return list, nil
}

// AdvanceStatus переводит пару на следующий шаг: CAS from -> to.
func (r *PharmacyRepository) AdvanceStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pharmacy_matches SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("pharmacy repository: advance status %w", err)
	}
	return common.EnsureAffected(res)
}

// MarkCancelled отменяет пару из любого незавершённого состояния.
func (r *PharmacyRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pharmacy_matches SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ($3, $4)
	`, id, models.PharmacyMatchStatusCancelled,
		models.PharmacyMatchStatusContracted, models.PharmacyMatchStatusCancelled)
	if err != nil {
		return fmt.Errorf("pharmacy repository: cancel %w", err)
	}
	return common.EnsureAffected(res)
}

// ProfileRepository хранит профили участников.
type ProfileRepository struct {
	db *sqlx.DB
}

func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Create сохраняет профиль. У пользователя может быть только один профиль.
func (r *ProfileRepository) Create(ctx context.Context, p *models.Profile) error {
	err := r.db.GetContext(ctx, p, `
		INSERT INTO profiles (id, user_id, role, name, phone, email, region, pharmacy_scale, deal_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *
	`, p.ID, p.UserID, p.Role, p.Name, p.Phone, p.Email, p.Region, p.PharmacyScale, p.DealType)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("profile repository: create %w", err)
	}
	return nil
}

// GetByID возвращает профиль по ID.
func (r *ProfileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return common.GetByID[models.Profile](ctx, r.db, "profiles", id, common.ErrNotFound)
}

// GetByUserID возвращает профиль пользователя.
func (r *ProfileRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	err := r.db.GetContext(ctx, &p, `SELECT * FROM profiles WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("profile repository: get by user %w", err)
	}
	return &p, nil
}
