package common

import "errors"

// Общие ошибки для всех репозиториев
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	// ErrStaleStatus возвращается, когда status-guarded UPDATE не затронул
	// ни одной строки: запись ушла из ожидаемого состояния параллельным
	// писателем (оптимистическая конкуренция).
	ErrStaleStatus = errors.New("stale status: row changed concurrently")
	// ErrLedgerOverdraft возвращается, когда запись release/refund превысила
	// бы сумму capture по hold_id.
	ErrLedgerOverdraft = errors.New("ledger overdraft: outflow exceeds captured amount")
)
