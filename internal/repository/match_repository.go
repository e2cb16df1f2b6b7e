package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/medmatch-backend/internal/models"
	"github.com/ignatzorin/medmatch-backend/internal/repository/common"
)

// MatchRepository хранит платные заявки на знакомство. Переходы статусов -
// status-guarded UPDATE, как и в escrow: гонка "ответ против свипа"
// разрешается тем, чей CAS прошёл первым.
type MatchRepository struct {
	db *sqlx.DB
}

func NewMatchRepository(db *sqlx.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// Create сохраняет новую заявку в статусе pending_payment.
func (r *MatchRepository) Create(ctx context.Context, m *models.MatchRequest) error {
	err := r.db.GetContext(ctx, m, `
		INSERT INTO match_requests (id, requester_id, target_id, product_category, message, match_fee, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, m.ID, m.RequesterID, m.TargetID, m.ProductCategory, m.Message, m.MatchFee, m.Status)
	if err != nil {
		return fmt.Errorf("match repository: create %w", err)
	}
	return nil
}

// GetByID возвращает заявку.
func (r *MatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.MatchRequest, error) {
	return common.GetByID[models.MatchRequest](ctx, r.db, "match_requests", id, common.ErrNotFound)
}

// ListByUser возвращает заявки, где пользователь инициатор или адресат.
func (r *MatchRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.MatchRequest, error) {
	var list []models.MatchRequest
	err := r.db.SelectContext(ctx, &list, `
		SELECT * FROM match_requests
		WHERE requester_id = $1 OR target_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("match repository: list by user %w", err)
	}
	return list, nil
}

// CommitFund атомарно фиксирует оплату заявки: запись capture в журнал,
// hold_id, окно ответа и переход pending_payment -> pending.
func (r *MatchRepository) CommitFund(ctx context.Context, id uuid.UUID, holdID string, amount int64, expiresAt time.Time) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := insertLedgerEntry(ctx, tx, holdID, models.LedgerKindCapture, amount, holdID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE match_requests
			SET status = $3, hold_id = $4, expires_at = $5, updated_at = NOW()
			WHERE id = $1 AND status = $2
		`, id, models.MatchStatusPendingPayment, models.MatchStatusPending, holdID, expiresAt)
		if err != nil {
			return fmt.Errorf("match repository: commit fund %w", err)
		}
		return common.EnsureAffected(res)
	})
}

// MarkAccepted принимает заявку и замораживает контактные снимки обеих
// сторон: pending -> accepted. Снимки неизменяемы после записи.
func (r *MatchRepository) MarkAccepted(ctx context.Context, id uuid.UUID, requesterContact, targetContact models.ContactSnapshot) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE match_requests
		SET status = $3, responded_at = NOW(), requester_contact = $4, target_contact = $5, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, models.MatchStatusPending, models.MatchStatusAccepted, requesterContact, targetContact)
	if err != nil {
		return fmt.Errorf("match repository: accept %w", err)
	}
	return common.EnsureAffected(res)
}

// MarkRejected отклоняет заявку: pending -> rejected. Это захват решения,
// возврат фиксируется отдельным CommitRefund.
func (r *MatchRepository) MarkRejected(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE match_requests
		SET status = $3, responded_at = NOW(), reject_reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, models.MatchStatusPending, models.MatchStatusRejected, reason)
	if err != nil {
		return fmt.Errorf("match repository: reject %w", err)
	}
	return common.EnsureAffected(res)
}

// ClaimExpired массово захватывает просроченные заявки: pending -> expired
// для всех записей с истёкшим окном. Возвращает захваченные записи; повторный
// вызов на тех же записях ничего не вернёт - свип идемпотентен.
func (r *MatchRepository) ClaimExpired(ctx context.Context, now time.Time) ([]models.MatchRequest, error) {
	var claimed []models.MatchRequest
	err := r.db.SelectContext(ctx, &claimed, `
		UPDATE match_requests
		SET status = $2, updated_at = NOW()
		WHERE status = $1 AND expires_at <= $3
		RETURNING *
	`, models.MatchStatusPending, models.MatchStatusExpired, now)
	if err != nil {
		return nil, fmt.Errorf("match repository: claim expired %w", err)
	}
	return claimed, nil
}

// ListUnrefunded возвращает захваченные (rejected/expired) заявки, по
// которым возврат ещё не зафиксирован. Свипер добирает их повторно,
// если предыдущая попытка возврата оборвалась.
func (r *MatchRepository) ListUnrefunded(ctx context.Context, limit int) ([]models.MatchRequest, error) {
	var list []models.MatchRequest
	err := r.db.SelectContext(ctx, &list, `
		SELECT * FROM match_requests
		WHERE status IN ($1, $2) AND hold_id IS NOT NULL
		ORDER BY updated_at LIMIT $3
	`, models.MatchStatusRejected, models.MatchStatusExpired, limit)
	if err != nil {
		return nil, fmt.Errorf("match repository: list unrefunded %w", err)
	}
	return list, nil
}

// CommitRefund атомарно фиксирует возврат: запись refund в журнал и
// rejected|expired -> refunded. Провайдер уже выполнил возврат.
func (r *MatchRepository) CommitRefund(ctx context.Context, id uuid.UUID, holdID string, amount int64, receiptID string) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var status string
		if err := tx.GetContext(ctx, &status, `
			SELECT status FROM match_requests WHERE id = $1 FOR UPDATE
		`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrNotFound
			}
			return fmt.Errorf("match repository: lock request %w", err)
		}

		if err := guardLedgerOutflow(ctx, tx, holdID, amount); err != nil {
			return err
		}
		if err := insertLedgerEntry(ctx, tx, holdID, models.LedgerKindRefund, amount, receiptID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE match_requests SET status = $4, updated_at = NOW()
			WHERE id = $1 AND status IN ($2, $3)
		`, id, models.MatchStatusRejected, models.MatchStatusExpired, models.MatchStatusRefunded)
		if err != nil {
			return fmt.Errorf("match repository: commit refund %w", err)
		}
		return common.EnsureAffected(res)
	})
}

// MarkContactMade отмечает состоявшийся контакт: accepted -> contact_made.
func (r *MatchRepository) MarkContactMade(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE match_requests SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, models.MatchStatusAccepted, models.MatchStatusContactMade)
	if err != nil {
		return fmt.Errorf("match repository: mark contact %w", err)
	}
	return common.EnsureAffected(res)
}

// MarkCompleted закрывает заявку: contact_made -> completed.
func (r *MatchRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE match_requests SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, models.MatchStatusContactMade, models.MatchStatusCompleted)
	if err != nil {
		return fmt.Errorf("match repository: mark completed %w", err)
	}
	return common.EnsureAffected(res)
}
