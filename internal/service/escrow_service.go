package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/medmatch-backend/internal/logger"
	"github.com/ignatzorin/medmatch-backend/internal/models"
	"github.com/ignatzorin/medmatch-backend/internal/payment"
	"github.com/ignatzorin/medmatch-backend/internal/pkg/apperror"
	"github.com/ignatzorin/medmatch-backend/internal/repository/common"
)

// Роль арбитра: только она разрешает споры.
const RoleArbiter = "arbiter"

// Notifier доставляет событие перехода затронутому пользователю.
// Доставка best-effort: движки не зависят от её результата.
type Notifier interface {
	Notify(userID uuid.UUID, event string, data any)
}

type EscrowRepository interface {
	Create(ctx context.Context, t *models.EscrowTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error)
	GetMilestone(ctx context.Context, transactionID, milestoneID uuid.UUID) (*models.Milestone, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.EscrowTransaction, error)
	CommitFund(ctx context.Context, transactionID uuid.UUID, holdID string, amount int64) error
	MarkMilestoneSubmitted(ctx context.Context, milestoneID uuid.UUID) error
	ClaimMilestoneApproval(ctx context.Context, milestoneID uuid.UUID) error
	RevertMilestoneApproval(ctx context.Context, milestoneID uuid.UUID) error
	CommitMilestoneRelease(ctx context.Context, transactionID, milestoneID uuid.UUID, holdID string, amount int64, receiptID string) (bool, error)
	MarkMilestoneRejected(ctx context.Context, milestoneID uuid.UUID, reason string) error
	MarkMilestoneResubmitted(ctx context.Context, milestoneID uuid.UUID) error
	SetMilestoneEvidence(ctx context.Context, milestoneID uuid.UUID, path string) error
	MarkCancelled(ctx context.Context, transactionID uuid.UUID) error
	MarkDisputed(ctx context.Context, transactionID uuid.UUID, reason string) error
	MarkResolved(ctx context.Context, transactionID uuid.UUID) error
	CommitRemainderRefund(ctx context.Context, transactionID uuid.UUID, holdID string, amount int64, receiptID string) error
}

type LedgerReader interface {
	ListByHold(ctx context.Context, holdID string) ([]models.LedgerEntry, error)
}

// EscrowService - движок escrow-сделок: владеет жизненными циклами
// EscrowTransaction и Milestone, вызывает платёжного провайдера и пишет
// журнал. Других путей изменения состояния сделки нет.
type EscrowService struct {
	repo       EscrowRepository
	ledger     LedgerReader
	provider   payment.Provider
	notifier   Notifier
	feePercent int64
}

func NewEscrowService(repo EscrowRepository, ledger LedgerReader, provider payment.Provider, notifier Notifier, feePercent int64) *EscrowService {
	return &EscrowService{
		repo:       repo,
		ledger:     ledger,
		provider:   provider,
		notifier:   notifier,
		feePercent: feePercent,
	}
}

// SplitMilestones раскладывает total по процентам этапов. Остаток
// целочисленного округления достаётся последнему этапу в порядке
// объявления, так что сумма долей всегда в точности равна total.
func SplitMilestones(total int64, specs []models.MilestoneSpec) []int64 {
	if len(specs) == 0 {
		return nil
	}
	amounts := make([]int64, len(specs))
	var assigned int64
	for i, spec := range specs[:len(specs)-1] {
		amounts[i] = total * int64(spec.Percentage) / 100
		assigned += amounts[i]
	}
	amounts[len(specs)-1] = total - assigned
	return amounts
}

// Initiate создаёт сделку в статусе initiated. Разбивка этапов проверяется
// до любых побочных эффектов: нужен хотя бы один этап и сумма процентов 100.
func (s *EscrowService) Initiate(ctx context.Context, payerID, payeeID uuid.UUID, totalAmount int64, specs []models.MilestoneSpec) (*models.EscrowTransaction, error) {
	if totalAmount <= 0 {
		return nil, apperror.ErrInvalidAmount
	}
	if payerID == payeeID {
		return nil, apperror.New(apperror.ErrCodeValidation, "плательщик и получатель должны различаться")
	}
	if len(specs) == 0 {
		return nil, apperror.ErrInvalidMilestoneSpec
	}
	sum := 0
	for _, spec := range specs {
		if spec.Name == "" || spec.Percentage <= 0 || spec.Percentage > 100 {
			return nil, apperror.ErrInvalidMilestoneSpec
		}
		sum += spec.Percentage
	}
	if sum != 100 {
		return nil, apperror.ErrInvalidMilestoneSpec
	}

	amounts := SplitMilestones(totalAmount, specs)
	for _, amount := range amounts {
		// Слишком маленькая сумма: доля этапа округлилась до нуля.
		if amount <= 0 {
			return nil, apperror.ErrInvalidAmount
		}
	}

	t := &models.EscrowTransaction{
		ID:          uuid.New(),
		PayerID:     payerID,
		PayeeID:     payeeID,
		TotalAmount: totalAmount,
		PlatformFee: totalAmount * s.feePercent / 100,
		Status:      models.EscrowStatusInitiated,
	}
	for i, spec := range specs {
		t.Milestones = append(t.Milestones, models.Milestone{
			ID:            uuid.New(),
			TransactionID: t.ID,
			Position:      i,
			Name:          spec.Name,
			Percentage:    spec.Percentage,
			Amount:        amounts[i],
			Status:        models.MilestoneStatusPending,
		})
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("escrow service: initiate %w", err)
	}
	return t, nil
}

// Fund оплачивает сделку. Провайдер удерживает всю сумму; ключ
// идемпотентности выводится из ID сделки, так что повтор после
// CaptureFailed не приводит к двойному удержанию. Отказ провайдера не
// меняет состояние - это единственная операция, повтор которой разрешён
// вызывающей стороне.
func (s *EscrowService) Fund(ctx context.Context, actorID, transactionID uuid.UUID, paymentToken string) (*models.EscrowTransaction, error) {
	t, err := s.get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.PayerID != actorID {
		return nil, apperror.ErrForbidden
	}
	if t.Status != models.EscrowStatusInitiated {
		return nil, apperror.ErrInvalidTransition.WithState(t.Status)
	}

	holdID, err := s.provider.Capture(ctx, paymentToken, t.TotalAmount, "escrow-fund-"+transactionID.String())
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeCaptureFailed, apperror.ErrCaptureFailed.Message)
	}

	if err := s.repo.CommitFund(ctx, transactionID, holdID, t.TotalAmount); err != nil {
		// Провайдер уже удержал средства, а коммит не прошёл: hold нигде
		// не учтён, расхождение разрешает внешняя сверка.
		logger.Log.WithFields(logrus.Fields{
			"transaction_id": transactionID,
			"hold_id":        holdID,
			"amount":         t.TotalAmount,
			"error":          err.Error(),
		}).Error("capture выполнен провайдером, но локальный коммит оплаты не прошёл - требуется сверка")
		if errors.Is(err, common.ErrStaleStatus) {
			return nil, s.transitionConflict(ctx, transactionID, models.EscrowStatusInitiated)
		}
		return nil, fmt.Errorf("escrow service: fund %w", err)
	}

	s.notify(t.PayeeID, "escrow.funded", transactionID)
	return s.get(ctx, transactionID)
}

// SubmitMilestone отправляет этап на проверку плательщику. Доступно только
// получателю и только пока сделка в работе или в споре.
func (s *EscrowService) SubmitMilestone(ctx context.Context, actorID, transactionID, milestoneID uuid.UUID) (*models.Milestone, error) {
	t, m, err := s.getMilestone(ctx, transactionID, milestoneID)
	if err != nil {
		return nil, err
	}
	if t.PayeeID != actorID {
		return nil, apperror.ErrForbidden
	}
	if t.Status != models.EscrowStatusInProgress && t.Status != models.EscrowStatusDisputed {
		return nil, apperror.ErrInvalidTransition.WithState(t.Status)
	}
	if m.Status != models.MilestoneStatusPending {
		return nil, apperror.ErrInvalidTransition.WithState(m.Status)
	}

	if err := s.repo.MarkMilestoneSubmitted(ctx, milestoneID); err != nil {
		if errors.Is(err, common.ErrStaleStatus) {
			return nil, s.milestoneConflict(ctx, transactionID, milestoneID, models.MilestoneStatusPending)
		}
		return nil, fmt.Errorf("escrow service: submit milestone %w", err)
	}

	s.notify(t.PayerID, "milestone.submitted", milestoneID)
	return s.repo.GetMilestone(ctx, transactionID, milestoneID)
}

// ApproveMilestone принимает этап и выплачивает его долю. Порядок жёсткий:
// сначала захват этапа (submitted -> approved), затем необратимый вызов
// провайдера, затем атомарный локальный коммит журнала и статуса. Отказ
// провайдера возвращает этап в submitted без записи в журнал.
func (s *EscrowService) ApproveMilestone(ctx context.Context, actorID, transactionID, milestoneID uuid.UUID) (*models.EscrowTransaction, error) {
	t, m, err := s.getMilestone(ctx, transactionID, milestoneID)
	if err != nil {
		return nil, err
	}
	if t.PayerID != actorID {
		return nil, apperror.ErrForbidden
	}
	if t.Status != models.EscrowStatusInProgress {
		return nil, apperror.ErrInvalidTransition.WithState(t.Status)
	}
	if m.Status != models.MilestoneStatusSubmitted {
		return nil, apperror.ErrInvalidTransition.WithState(m.Status)
	}
	if t.HoldID == nil {
		return nil, apperror.ErrInvalidTransition.WithState(t.Status)
	}

	if err := s.releaseMilestone(ctx, t, m); err != nil {
		return nil, err
	}

	s.notify(t.PayeeID, "milestone.released", milestoneID)
	return s.get(ctx, transactionID)
}

// releaseMilestone - общий путь выплаты этапа для ApproveMilestone и
// арбитражного Resolve.
func (s *EscrowService) releaseMilestone(ctx context.Context, t *models.EscrowTransaction, m *models.Milestone) error {
	if err := s.repo.ClaimMilestoneApproval(ctx, m.ID); err != nil {
		if errors.Is(err, common.ErrStaleStatus) {
			return s.milestoneConflict(ctx, t.ID, m.ID, models.MilestoneStatusSubmitted)
		}
		return fmt.Errorf("escrow service: claim approval %w", err)
	}

	receiptID, err := s.provider.Release(ctx, *t.HoldID, m.Amount, "escrow-release-"+m.ID.String())
	if err != nil {
		// Средства могли зависнуть на стороне провайдера - сигнал для сверки.
		logger.Log.WithFields(logrus.Fields{
			"transaction_id": t.ID,
			"milestone_id":   m.ID,
			"hold_id":        *t.HoldID,
			"amount":         m.Amount,
			"error":          err.Error(),
		}).Error("провайдер не выполнил release, этап возвращён в submitted")

		if revertErr := s.repo.RevertMilestoneApproval(ctx, m.ID); revertErr != nil {
			logger.Log.WithField("milestone_id", m.ID).Errorf("не удалось снять захват этапа: %v", revertErr)
		}
		return apperror.Wrap(err, apperror.ErrCodeCollaborator, apperror.ErrReleaseFailed.Message)
	}

	finished, err := s.repo.CommitMilestoneRelease(ctx, t.ID, m.ID, *t.HoldID, m.Amount, receiptID)
	if err != nil {
		// Провайдер уже выплатил, а локальный коммит не прошёл: расхождение
		// разрешает внешняя сверка журнала с квитанциями провайдера.
		logger.Log.WithFields(logrus.Fields{
			"milestone_id": m.ID,
			"receipt_id":   receiptID,
			"error":        err.Error(),
		}).Error("release выполнен провайдером, но локальный коммит не прошёл - требуется сверка")
		return apperror.Wrap(err, apperror.ErrCodeCollaborator, apperror.ErrReleaseFailed.Message)
	}

	if finished {
		s.notify(t.PayerID, "escrow.released", t.ID)
		s.notify(t.PayeeID, "escrow.released", t.ID)
	}
	return nil
}

// RejectMilestone отклоняет отправленный этап с причиной.
func (s *EscrowService) RejectMilestone(ctx context.Context, actorID, transactionID, milestoneID uuid.UUID, reason string) (*models.Milestone, error) {
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина отклонения обязательна")
	}
	t, m, err := s.getMilestone(ctx, transactionID, milestoneID)
	if err != nil {
		return nil, err
	}
	if t.PayerID != actorID {
		return nil, apperror.ErrForbidden
	}
	// В споре этапы заморожены для сторон (разрешена только отправка),
	// в терминальных статусах сделка неизменяема.
	if t.Status != models.EscrowStatusInProgress {
		return nil, apperror.ErrInvalidTransition.WithState(t.Status)
	}
	if m.Status != models.MilestoneStatusSubmitted {
		return nil, apperror.ErrInvalidTransition.WithState(m.Status)
	}

	if err := s.repo.MarkMilestoneRejected(ctx, milestoneID, reason); err != nil {
		if errors.Is(err, common.ErrStaleStatus) {
			return nil, s.milestoneConflict(ctx, transactionID, milestoneID, models.MilestoneStatusSubmitted)
		}
		return nil, fmt.Errorf("escrow service: reject milestone %w", err)
	}

	s.notify(t.PayeeID, "milestone.rejected", milestoneID)
	return s.repo.GetMilestone(ctx, transactionID, milestoneID)
}

// ResubmitMilestone возвращает отклонённый этап в работу.
func (s *EscrowService) ResubmitMilestone(ctx context.Context, actorID, transactionID, milestoneID uuid.UUID) (*models.Milestone, error) {
	t, m, err := s.getMilestone(ctx, transactionID, milestoneID)
	if err != nil {
		return nil, err
	}
	if t.PayeeID != actorID {
		return nil, apperror.ErrForbidden
	}
	if t.Status != models.EscrowStatusInProgress {
		return nil, apperror.ErrInvalidTransition.WithState(t.Status)
	}
	if m.Status != models.MilestoneStatusRejected {
		return nil, apperror.ErrInvalidTransition.WithState(m.Status)
	}

	if err := s.repo.MarkMilestoneResubmitted(ctx, milestoneID); err != nil {
		if errors.Is(err, common.ErrStaleStatus) {
			return nil, s.milestoneConflict(ctx, transactionID, milestoneID, models.MilestoneStatusRejected)
		}
		return nil, fmt.Errorf("escrow service: resubmit milestone %w", err)
	}
	return s.repo.GetMilestone(ctx, transactionID, milestoneID)
}

// AttachEvidence сохраняет путь к файлу-подтверждению этапа.
func (s *EscrowService) AttachEvidence(ctx context.Context, actorID, transactionID, milestoneID uuid.UUID, path string) error {
	t, m, err := s.getMilestone(ctx, transactionID, milestoneID)
	if err != nil {
		return err
	}
	if t.PayeeID != actorID {
		return apperror.ErrForbidden
	}
	if err := s.repo.SetMilestoneEvidence(ctx, milestoneID, path); err != nil {
		if errors.Is(err, common.ErrStaleStatus) {
			return apperror.ErrInvalidTransition.WithState(m.Status)
		}
		return fmt.Errorf("escrow service: attach evidence %w", err)
	}
	return nil
}

// Dispute замораживает сделку до решения арбитра. Доступно обеим сторонам.
func (s *EscrowService) Dispute(ctx context.Context, actorID, transactionID uuid.UUID, reason string) (*models.EscrowTransaction, error) {
	t, err := s.get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.PayerID != actorID && t.PayeeID != actorID {
		return nil, apperror.ErrForbidden
	}
	if t.Status != models.EscrowStatusInProgress {
		return nil, apperror.ErrInvalidTransition.WithState(t.Status)
	}

	if err := s.repo.MarkDisputed(ctx, transactionID, reason); err != nil {
		if errors.Is(err, common.ErrStaleStatus) {
			return nil, s.transitionConflict(ctx, transactionID, t.Status)
		}
		return nil, fmt.Errorf("escrow service: dispute %w", err)
	}

	other := t.PayerID
	if actorID == t.PayerID {
		other = t.PayeeID
	}
	s.notify(other, "escrow.disputed", transactionID)
	return s.get(ctx, transactionID)
}

// Действия арбитра при разрешении спора
const (
	ResolveActionRelease = "release"
	ResolveActionRefund  = "refund"
	ResolveActionReopen  = "reopen"
)

// Resolve - единственный выход из спора, доступен только роли арбитра:
// выплата спорного этапа, возврат остатка плательщику (сделка закрывается
// как refunded) или возврат сделки в работу.
func (s *EscrowService) Resolve(ctx context.Context, actorRole string, transactionID uuid.UUID, action string, milestoneID *uuid.UUID, refundAmount int64) (*models.EscrowTransaction, error) {
	if actorRole != RoleArbiter {
		return nil, apperror.ErrForbidden
	}
	t, err := s.get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.EscrowStatusDisputed {
		return nil, apperror.ErrInvalidTransition.WithState(t.Status)
	}

	switch action {
	case ResolveActionRelease:
		if milestoneID == nil {
			return nil, apperror.New(apperror.ErrCodeValidation, "milestone_id обязателен для действия release")
		}
		m, err := s.repo.GetMilestone(ctx, transactionID, *milestoneID)
		if err != nil {
			return nil, s.translateNotFound(err, apperror.ErrMilestoneNotFound)
		}
		if m.Status != models.MilestoneStatusSubmitted {
			return nil, apperror.ErrInvalidTransition.WithState(m.Status)
		}
		if err := s.releaseMilestone(ctx, t, m); err != nil {
			return nil, err
		}

	case ResolveActionRefund:
		if refundAmount <= 0 {
			return nil, apperror.ErrInvalidAmount
		}
		if t.HoldID == nil {
			return nil, apperror.ErrInvalidTransition.WithState(t.Status)
		}
		receiptID, err := s.provider.Refund(ctx, *t.HoldID, refundAmount, "escrow-resolve-refund-"+transactionID.String())
		if err != nil {
			logger.Log.WithFields(logrus.Fields{
				"transaction_id": transactionID,
				"hold_id":        *t.HoldID,
				"amount":         refundAmount,
				"error":          err.Error(),
			}).Error("провайдер не выполнил refund по решению арбитра")
			return nil, apperror.Wrap(err, apperror.ErrCodeCollaborator, apperror.ErrRefundFailed.Message)
		}
		if err := s.repo.CommitRemainderRefund(ctx, transactionID, *t.HoldID, refundAmount, receiptID); err != nil {
			if errors.Is(err, common.ErrLedgerOverdraft) {
				return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "возврат превышает удержанный остаток")
			}
			logger.Log.WithField("transaction_id", transactionID).
				Errorf("refund выполнен провайдером, но локальный коммит не прошёл - требуется сверка: %v", err)
			return nil, apperror.Wrap(err, apperror.ErrCodeCollaborator, apperror.ErrRefundFailed.Message)
		}
		s.notify(t.PayerID, "escrow.refunded", transactionID)
		s.notify(t.PayeeID, "escrow.refunded", transactionID)

	case ResolveActionReopen:
		if err := s.repo.MarkResolved(ctx, transactionID); err != nil {
			if errors.Is(err, common.ErrStaleStatus) {
				return nil, s.transitionConflict(ctx, transactionID, models.EscrowStatusDisputed)
			}
			return nil, fmt.Errorf("escrow service: reopen %w", err)
		}

	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестное действие арбитра")
	}

	return s.get(ctx, transactionID)
}

// Cancel отменяет неоплаченную сделку. После оплаты отмена невозможна:
// выход только через явные конечные переходы.
func (s *EscrowService) Cancel(ctx context.Context, actorID, transactionID uuid.UUID) (*models.EscrowTransaction, error) {
	t, err := s.get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.PayerID != actorID {
		return nil, apperror.ErrForbidden
	}
	if t.Status != models.EscrowStatusInitiated {
		return nil, apperror.ErrInvalidTransition.WithState(t.Status)
	}

	if err := s.repo.MarkCancelled(ctx, transactionID); err != nil {
		if errors.Is(err, common.ErrStaleStatus) {
			return nil, s.transitionConflict(ctx, transactionID, models.EscrowStatusInitiated)
		}
		return nil, fmt.Errorf("escrow service: cancel %w", err)
	}
	return s.get(ctx, transactionID)
}

// Get возвращает сделку с этапами. Доступ только сторонам и арбитру.
func (s *EscrowService) Get(ctx context.Context, actorID uuid.UUID, actorRole string, transactionID uuid.UUID) (*models.EscrowTransaction, error) {
	t, err := s.get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.PayerID != actorID && t.PayeeID != actorID && actorRole != RoleArbiter {
		return nil, apperror.ErrForbidden
	}
	return t, nil
}

// List возвращает сделки пользователя.
func (s *EscrowService) List(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]models.EscrowTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByParticipant(ctx, actorID, limit, offset)
}

// Ledger возвращает журнал движений по hold сделки (для сверки).
func (s *EscrowService) Ledger(ctx context.Context, actorID uuid.UUID, actorRole string, transactionID uuid.UUID) ([]models.LedgerEntry, error) {
	t, err := s.Get(ctx, actorID, actorRole, transactionID)
	if err != nil {
		return nil, err
	}
	if t.HoldID == nil {
		return []models.LedgerEntry{}, nil
	}
	return s.ledger.ListByHold(ctx, *t.HoldID)
}

func (s *EscrowService) get(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.translateNotFound(err, apperror.ErrTransactionNotFound)
	}
	return t, nil
}

func (s *EscrowService) getMilestone(ctx context.Context, transactionID, milestoneID uuid.UUID) (*models.EscrowTransaction, *models.Milestone, error) {
	t, err := s.get(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.repo.GetMilestone(ctx, transactionID, milestoneID)
	if err != nil {
		return nil, nil, s.translateNotFound(err, apperror.ErrMilestoneNotFound)
	}
	return t, m, nil
}

func (s *EscrowService) translateNotFound(err error, notFound *apperror.AppError) error {
	if errors.Is(err, common.ErrNotFound) {
		return notFound
	}
	return err
}

// transitionConflict классифицирует проигрыш CAS по перечитанному статусу:
// если запись всё ещё в ожидаемом состоянии, гонку можно повторить,
// иначе переход более недействителен.
func (s *EscrowService) transitionConflict(ctx context.Context, transactionID uuid.UUID, expected string) error {
	t, err := s.repo.GetByID(ctx, transactionID)
	if err != nil {
		return apperror.ErrConcurrentModification
	}
	if t.Status == expected {
		return apperror.ErrConcurrentModification.WithState(t.Status)
	}
	return apperror.ErrInvalidTransition.WithState(t.Status)
}

func (s *EscrowService) milestoneConflict(ctx context.Context, transactionID, milestoneID uuid.UUID, expected string) error {
	m, err := s.repo.GetMilestone(ctx, transactionID, milestoneID)
	if err != nil {
		return apperror.ErrConcurrentModification
	}
	if m.Status == expected {
		return apperror.ErrConcurrentModification.WithState(m.Status)
	}
	return apperror.ErrInvalidTransition.WithState(m.Status)
}

func (s *EscrowService) notify(userID uuid.UUID, event string, id uuid.UUID) {
	if s.notifier != nil {
		s.notifier.Notify(userID, event, map[string]string{"id": id.String()})
	}
}
