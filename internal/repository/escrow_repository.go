package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/medmatch-backend/internal/models"
	"github.com/ignatzorin/medmatch-backend/internal/repository/common"
)

// EscrowRepository хранит сделки и их этапы. Каждый переход статуса -
// это UPDATE с условием на текущий статус (compare-and-swap): ноль
// затронутых строк означает, что запись изменил параллельный писатель.
type EscrowRepository struct {
	db *sqlx.DB
}

func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// Create сохраняет сделку вместе с этапами одной транзакцией.
func (r *EscrowRepository) Create(ctx context.Context, t *models.EscrowTransaction) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, t, `
			INSERT INTO escrow_transactions (id, payer_id, payee_id, total_amount, platform_fee, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, payer_id, payee_id, total_amount, platform_fee, status, hold_id,
			          dispute_reason, created_at, updated_at, funded_at, released_at, disputed_at, refunded_at
		`, t.ID, t.PayerID, t.PayeeID, t.TotalAmount, t.PlatformFee, t.Status)
		if err != nil {
			return fmt.Errorf("escrow repository: create transaction %w", err)
		}

		for i := range t.Milestones {
			m := &t.Milestones[i]
			err := tx.GetContext(ctx, m, `
				INSERT INTO milestones (id, transaction_id, position, name, percentage, amount, status)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id, transaction_id, position, name, percentage, amount, status,
				          reject_reason, evidence_path, receipt_id, submitted_at, released_at, created_at, updated_at
			`, m.ID, t.ID, m.Position, m.Name, m.Percentage, m.Amount, m.Status)
			if err != nil {
				return fmt.Errorf("escrow repository: create milestone %w", err)
			}
		}
		return nil
	})
}

// GetByID возвращает сделку с этапами в порядке объявления.
func (r *EscrowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	t, err := common.GetByID[models.EscrowTransaction](ctx, r.db, "escrow_transactions", id, common.ErrNotFound)
	if err != nil {
		return nil, err
	}

	err = r.db.SelectContext(ctx, &t.Milestones, `
		SELECT * FROM milestones WHERE transaction_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: load milestones %w", err)
	}
	return t, nil
}

// GetMilestone возвращает этап внутри сделки.
func (r *EscrowRepository) GetMilestone(ctx context.Context, transactionID, milestoneID uuid.UUID) (*models.Milestone, error) {
	var m models.Milestone
	err := r.db.GetContext(ctx, &m, `
		SELECT * FROM milestones WHERE id = $1 AND transaction_id = $2
	`, milestoneID, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("escrow repository: get milestone %w", err)
	}
	return &m, nil
}

// ListByParticipant возвращает сделки, где пользователь плательщик или получатель.
func (r *EscrowRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.EscrowTransaction, error) {
	var list []models.EscrowTransaction
	err := r.db.SelectContext(ctx, &list, `
		SELECT * FROM escrow_transactions
		WHERE payer_id = $1 OR payee_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("escrow repository: list by participant %w", err)
	}
	return list, nil
}

// CommitFund атомарно фиксирует оплату: запись capture в журнал, hold_id
// и переход initiated -> in_progress. Провайдер уже удержал средства;
// либо коммитится всё, либо ничего.
func (r *EscrowRepository) CommitFund(ctx context.Context, transactionID uuid.UUID, holdID string, amount int64) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := insertLedgerEntry(ctx, tx, holdID, models.LedgerKindCapture, amount, holdID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE escrow_transactions
			SET status = $3, hold_id = $4, funded_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = $2
		`, transactionID, models.EscrowStatusInitiated, models.EscrowStatusInProgress, holdID)
		if err != nil {
			return fmt.Errorf("escrow repository: commit fund %w", err)
		}
		return common.EnsureAffected(res)
	})
}

// MarkMilestoneSubmitted переводит этап pending -> submitted.
func (r *EscrowRepository) MarkMilestoneSubmitted(ctx context.Context, milestoneID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE milestones SET status = $3, submitted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, milestoneID, models.MilestoneStatusPending, models.MilestoneStatusSubmitted)
	if err != nil {
		return fmt.Errorf("escrow repository: submit milestone %w", err)
	}
	return common.EnsureAffected(res)
}

// ClaimMilestoneApproval захватывает этап под выплату: submitted -> approved.
// Захват сериализует вызовы платёжного провайдера: только победивший
// писатель выполняет release.
func (r *EscrowRepository) ClaimMilestoneApproval(ctx context.Context, milestoneID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE milestones SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, milestoneID, models.MilestoneStatusSubmitted, models.MilestoneStatusApproved)
	if err != nil {
		return fmt.Errorf("escrow repository: claim approval %w", err)
	}
	return common.EnsureAffected(res)
}

// RevertMilestoneApproval возвращает захват при отказе провайдера:
// approved -> submitted, этап снова доступен для повторной попытки.
func (r *EscrowRepository) RevertMilestoneApproval(ctx context.Context, milestoneID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE milestones SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, milestoneID, models.MilestoneStatusApproved, models.MilestoneStatusSubmitted)
	if err != nil {
		return fmt.Errorf("escrow repository: revert approval %w", err)
	}
	return common.EnsureAffected(res)
}

// CommitMilestoneRelease атомарно фиксирует выплату по этапу: запись release
// в журнал (с проверкой инварианта журнала) и approved -> released. Если это
// был последний этап, сделка закрывается как released.
// Возвращает true, когда сделка завершена целиком.
func (r *EscrowRepository) CommitMilestoneRelease(ctx context.Context, transactionID, milestoneID uuid.UUID, holdID string, amount int64, receiptID string) (bool, error) {
	finished := false
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		// Блокируем родительскую строку: оттоки по одному hold сериализованы.
		var status string
		if err := tx.GetContext(ctx, &status, `
			SELECT status FROM escrow_transactions WHERE id = $1 FOR UPDATE
		`, transactionID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrNotFound
			}
			return fmt.Errorf("escrow repository: lock transaction %w", err)
		}

		if err := guardLedgerOutflow(ctx, tx, holdID, amount); err != nil {
			return err
		}
		if err := insertLedgerEntry(ctx, tx, holdID, models.LedgerKindRelease, amount, receiptID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE milestones SET status = $3, receipt_id = $4, released_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = $2
		`, milestoneID, models.MilestoneStatusApproved, models.MilestoneStatusReleased, receiptID)
		if err != nil {
			return fmt.Errorf("escrow repository: release milestone %w", err)
		}
		if err := common.EnsureAffected(res); err != nil {
			return err
		}

		var remaining int
		err = tx.GetContext(ctx, &remaining, `
			SELECT COUNT(*) FROM milestones
			WHERE transaction_id = $1 AND status <> $2
		`, transactionID, models.MilestoneStatusReleased)
		if err != nil {
			return fmt.Errorf("escrow repository: count remaining %w", err)
		}

		if remaining == 0 {
			_, err = tx.ExecContext(ctx, `
				UPDATE escrow_transactions SET status = $2, released_at = NOW(), updated_at = NOW()
				WHERE id = $1
			`, transactionID, models.EscrowStatusReleased)
			if err != nil {
				return fmt.Errorf("escrow repository: close transaction %w", err)
			}
			finished = true
		}
		return nil
	})
	return finished, err
}

// MarkMilestoneRejected переводит этап submitted -> rejected с причиной.
func (r *EscrowRepository) MarkMilestoneRejected(ctx context.Context, milestoneID uuid.UUID, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE milestones SET status = $3, reject_reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, milestoneID, models.MilestoneStatusSubmitted, models.MilestoneStatusRejected, reason)
	if err != nil {
		return fmt.Errorf("escrow repository: reject milestone %w", err)
	}
	return common.EnsureAffected(res)
}

// MarkMilestoneResubmitted возвращает отклонённый этап в работу: rejected -> pending.
func (r *EscrowRepository) MarkMilestoneResubmitted(ctx context.Context, milestoneID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE milestones SET status = $3, reject_reason = NULL, submitted_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, milestoneID, models.MilestoneStatusRejected, models.MilestoneStatusPending)
	if err != nil {
		return fmt.Errorf("escrow repository: resubmit milestone %w", err)
	}
	return common.EnsureAffected(res)
}

// SetMilestoneEvidence сохраняет путь к файлу-подтверждению. Разрешено
// только пока этап не ушёл на проверку.
func (r *EscrowRepository) SetMilestoneEvidence(ctx context.Context, milestoneID uuid.UUID, path string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE milestones SET evidence_path = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`, milestoneID, path, models.MilestoneStatusPending, models.MilestoneStatusRejected)
	if err != nil {
		return fmt.Errorf("escrow repository: set evidence %w", err)
	}
	return common.EnsureAffected(res)
}

// MarkCancelled отменяет неоплаченную сделку: initiated -> cancelled.
func (r *EscrowRepository) MarkCancelled(ctx context.Context, transactionID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE escrow_transactions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, transactionID, models.EscrowStatusInitiated, models.EscrowStatusCancelled)
	if err != nil {
		return fmt.Errorf("escrow repository: cancel transaction %w", err)
	}
	return common.EnsureAffected(res)
}

// MarkDisputed замораживает сделку: in_progress -> disputed.
func (r *EscrowRepository) MarkDisputed(ctx context.Context, transactionID uuid.UUID, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE escrow_transactions
		SET status = $3, dispute_reason = $4, disputed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, transactionID, models.EscrowStatusInProgress, models.EscrowStatusDisputed, reason)
	if err != nil {
		return fmt.Errorf("escrow repository: dispute transaction %w", err)
	}
	return common.EnsureAffected(res)
}

// MarkResolved возвращает спорную сделку в работу: disputed -> in_progress.
func (r *EscrowRepository) MarkResolved(ctx context.Context, transactionID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE escrow_transactions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, transactionID, models.EscrowStatusDisputed, models.EscrowStatusInProgress)
	if err != nil {
		return fmt.Errorf("escrow repository: resolve transaction %w", err)
	}
	return common.EnsureAffected(res)
}

// CommitRemainderRefund атомарно фиксирует возврат остатка по спорной
// сделке: запись refund в журнал и disputed -> refunded. Провайдер уже
// выполнил возврат.
func (r *EscrowRepository) CommitRemainderRefund(ctx context.Context, transactionID uuid.UUID, holdID string, amount int64, receiptID string) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var status string
		if err := tx.GetContext(ctx, &status, `
			SELECT status FROM escrow_transactions WHERE id = $1 FOR UPDATE
		`, transactionID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrNotFound
			}
			return fmt.Errorf("escrow repository: lock transaction %w", err)
		}

		if err := guardLedgerOutflow(ctx, tx, holdID, amount); err != nil {
			return err
		}
		if err := insertLedgerEntry(ctx, tx, holdID, models.LedgerKindRefund, amount, receiptID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE escrow_transactions SET status = $3, refunded_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = $2
		`, transactionID, models.EscrowStatusDisputed, models.EscrowStatusRefunded)
		if err != nil {
			return fmt.Errorf("escrow repository: refund transaction %w", err)
		}
		return common.EnsureAffected(res)
	})
}
