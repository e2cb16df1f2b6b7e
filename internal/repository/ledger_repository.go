package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/medmatch-backend/internal/models"
	"github.com/ignatzorin/medmatch-backend/internal/repository/common"
)

// LedgerRepository даёт доступ на чтение к append-only журналу движений
// средств. Записи создаются только внутри транзакций escrow/match
// репозиториев, единым коммитом с переходом статуса.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ListByHold возвращает все записи журнала по hold_id в порядке создания.
func (r *LedgerRepository) ListByHold(ctx context.Context, holdID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, hold_id, kind, amount, receipt_id, created_at
		FROM ledger_entries WHERE hold_id = $1 ORDER BY created_at, id
	`, holdID)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list by hold %w", err)
	}
	return entries, nil
}

// insertLedgerEntry добавляет запись журнала внутри внешней транзакции.
func insertLedgerEntry(ctx context.Context, tx *sqlx.Tx, holdID, kind string, amount int64, receiptID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (hold_id, kind, amount, receipt_id)
		VALUES ($1, $2, $3, $4)
	`, holdID, kind, amount, receiptID)
	if err != nil {
		return fmt.Errorf("ledger: insert %s entry %w", kind, err)
	}
	return nil
}

// guardLedgerOutflow проверяет инвариант журнала перед записью release/refund:
// сумма оттока по hold_id вместе с новой записью не должна превысить capture.
// Вызывается после блокировки родительской строки, так что параллельные
// оттоки по одному hold сериализованы.
func guardLedgerOutflow(ctx context.Context, tx *sqlx.Tx, holdID string, amount int64) error {
	var captured, outflow int64
	err := tx.GetContext(ctx, &captured, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE hold_id = $1 AND kind = $2
	`, holdID, models.LedgerKindCapture)
	if err != nil {
		return fmt.Errorf("ledger: captured sum %w", err)
	}

	err = tx.GetContext(ctx, &outflow, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE hold_id = $1 AND kind IN ($2, $3)
	`, holdID, models.LedgerKindRelease, models.LedgerKindRefund)
	if err != nil {
		return fmt.Errorf("ledger: outflow sum %w", err)
	}

	if outflow+amount > captured {
		return common.ErrLedgerOverdraft
	}
	return nil
}
