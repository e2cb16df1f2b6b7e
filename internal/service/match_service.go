package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/medmatch-backend/internal/logger"
	"github.com/ignatzorin/medmatch-backend/internal/models"
	"github.com/ignatzorin/medmatch-backend/internal/payment"
	"github.com/ignatzorin/medmatch-backend/internal/pkg/apperror"
	"github.com/ignatzorin/medmatch-backend/internal/repository/common"
)

type MatchRepository interface {
	Create(ctx context.Context, r *models.MatchRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.MatchRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.MatchRequest, error)
	CommitFund(ctx context.Context, id uuid.UUID, holdID string, amount int64, expiresAt time.Time) error
	MarkAccepted(ctx context.Context, id uuid.UUID, requesterContact, targetContact models.ContactSnapshot) error
	MarkRejected(ctx context.Context, id uuid.UUID, reason string) error
	ClaimExpired(ctx context.Context, now time.Time) ([]models.MatchRequest, error)
	ListUnrefunded(ctx context.Context, limit int) ([]models.MatchRequest, error)
	CommitRefund(ctx context.Context, id uuid.UUID, holdID string, amount int64, receiptID string) error
	MarkContactMade(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
}

type ProfileReader interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

// MatchService - движок адресных заявок на знакомство с оплатой и
// дедлайном ответа. Контакты сторон раскрываются только при акцепте;
// отказ и просрочка гарантированно заканчиваются возвратом средств.
type MatchService struct {
	repo     MatchRepository
	profiles ProfileReader
	provider payment.Provider
	notifier Notifier
	ttl      time.Duration
	now      func() time.Time
}

func NewMatchService(repo MatchRepository, profiles ProfileReader, provider payment.Provider, notifier Notifier, ttl time.Duration) *MatchService {
	return &MatchService{
		repo:     repo,
		profiles: profiles,
		provider: provider,
		notifier: notifier,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create создаёт заявку в статусе pending_payment. До оплаты адресат
// ничего не видит и уведомлений не получает.
func (s *MatchService) Create(ctx context.Context, requesterID, targetID uuid.UUID, productCategory string, message *string, matchFee int64) (*models.MatchRequest, error) {
	if matchFee <= 0 {
		return nil, apperror.ErrInvalidAmount
	}
	if requesterID == targetID {
		return nil, apperror.New(apperror.ErrCodeValidation, "нельзя отправить заявку самому себе")
	}
	if productCategory == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "категория продукта обязательна")
	}
	if _, err := s.profiles.GetByUserID(ctx, targetID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrProfileNotFound
		}
		return nil, err
	}

	r := &models.MatchRequest{
		ID:              uuid.New(),
		RequesterID:     requesterID,
		TargetID:        targetID,
		ProductCategory: productCategory,
		Message:         message,
		MatchFee:        matchFee,
		Status:          models.MatchStatusPendingPayment,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("match service: create %w", err)
	}
	return r, nil
}

// Fund оплачивает заявку: провайдер удерживает комиссию, заявка переходит
// в pending и начинается отсчёт окна ответа. Отказ провайдера состояние
// не меняет, оплату можно повторить с тем же ключом идемпотентности.
func (s *MatchService) Fund(ctx context.Context, actorID, requestID uuid.UUID, paymentToken string) (*models.MatchRequest, error) {
	r, err := s.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.RequesterID != actorID {
		return nil, apperror.ErrForbidden
	}
	if r.Status != models.MatchStatusPendingPayment {
		return nil, apperror.ErrInvalidTransition.WithState(r.Status)
	}

	holdID, err := s.provider.Capture(ctx, paymentToken, r.MatchFee, "match-fund-"+requestID.String())
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeCaptureFailed, apperror.ErrCaptureFailed.Message)
	}

	expiresAt := s.now().Add(s.ttl)
	if err := s.repo.CommitFund(ctx, requestID, holdID, r.MatchFee, expiresAt); err != nil {
		// Комиссия уже удержана провайдером, а коммит не прошёл: hold нигде
		// не учтён, расхождение разрешает внешняя сверка.
		logger.Log.WithFields(logrus.Fields{
			"request_id": requestID,
			"hold_id":    holdID,
			"amount":     r.MatchFee,
			"error":      err.Error(),
		}).Error("capture выполнен провайдером, но локальный коммит оплаты не прошёл - требуется сверка")
		if errors.Is(err, common.ErrStaleStatus) {
			return nil, s.conflict(ctx, requestID, models.MatchStatusPendingPayment)
		}
		return nil, fmt.Errorf("match service: fund %w", err)
	}

	s.notify(r.TargetID, "match.requested", requestID)
	return s.get(ctx, requestID)
}

// Respond фиксирует решение адресата. Акцепт раскрывает контакты обеих
// сторон; отказ сразу запускает возврат комиссии. Просроченную заявку
// отвечать нельзя, даже если sweeper её ещё не забрал.
func (s *MatchService) Respond(ctx context.Context, actorID, requestID uuid.UUID, decision, reason string) (*models.MatchRequest, error) {
	r, err := s.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.TargetID != actorID {
		return nil, apperror.ErrForbidden
	}
	switch r.Status {
	case models.MatchStatusPending:
	case models.MatchStatusAccepted, models.MatchStatusRejected, models.MatchStatusExpired, models.MatchStatusRefunded:
		return nil, apperror.ErrAlreadyResponded.WithState(r.Status)
	default:
		return nil, apperror.ErrInvalidTransition.WithState(r.Status)
	}
	if r.ExpiresAt != nil && !s.now().Before(*r.ExpiresAt) {
		return nil, apperror.ErrRequestExpired
	}

	switch decision {
	case models.MatchDecisionAccept:
		requester, err := s.profiles.GetByUserID(ctx, r.RequesterID)
		if err != nil {
			return nil, s.translateProfile(err)
		}
		target, err := s.profiles.GetByUserID(ctx, r.TargetID)
		if err != nil {
			return nil, s.translateProfile(err)
		}

		if err := s.repo.MarkAccepted(ctx, requestID, requester.Contact(), target.Contact()); err != nil {
			if errors.Is(err, common.ErrStaleStatus) {
				return nil, s.conflict(ctx, requestID, models.MatchStatusPending)
			}
			return nil, fmt.Errorf("match service: accept %w", err)
		}
		s.notify(r.RequesterID, "match.accepted", requestID)

	case models.MatchDecisionReject:
		if err := s.repo.MarkRejected(ctx, requestID, reason); err != nil {
			if errors.Is(err, common.ErrStaleStatus) {
				return nil, s.conflict(ctx, requestID, models.MatchStatusPending)
			}
			return nil, fmt.Errorf("match service: reject %w", err)
		}
		s.notify(r.RequesterID, "match.rejected", requestID)

		// Решение уже зафиксировано, поэтому отказ возврата не ошибка для
		// адресата: незавершённый возврат доберёт sweeper.
		updated, err := s.get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if err := s.refund(ctx, updated); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"request_id": requestID,
				"error":      err.Error(),
			}).Error("возврат по отклонённой заявке не прошёл, повтор при следующем обходе")
		}

	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "решение должно быть accept или reject")
	}

	return s.get(ctx, requestID)
}

// MarkContact фиксирует состоявшийся контакт после акцепта.
func (s *MatchService) MarkContact(ctx context.Context, actorID, requestID uuid.UUID) (*models.MatchRequest, error) {
	return s.advance(ctx, actorID, requestID, models.MatchStatusAccepted, s.repo.MarkContactMade)
}

// Complete закрывает заявку после состоявшегося контакта.
func (s *MatchService) Complete(ctx context.Context, actorID, requestID uuid.UUID) (*models.MatchRequest, error) {
	return s.advance(ctx, actorID, requestID, models.MatchStatusContactMade, s.repo.MarkCompleted)
}

func (s *MatchService) advance(ctx context.Context, actorID, requestID uuid.UUID, from string, mark func(context.Context, uuid.UUID) error) (*models.MatchRequest, error) {
	r, err := s.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.RequesterID != actorID && r.TargetID != actorID {
		return nil, apperror.ErrForbidden
	}
	if r.Status != from {
		return nil, apperror.ErrInvalidTransition.WithState(r.Status)
	}
	if err := mark(ctx, requestID); err != nil {
		if errors.Is(err, common.ErrStaleStatus) {
			return nil, s.conflict(ctx, requestID, from)
		}
		return nil, fmt.Errorf("match service: advance %w", err)
	}
	return s.get(ctx, requestID)
}

// Get возвращает заявку стороне. До акцепта адресат не видит контактов
// инициатора, а инициатор - контактов адресата.
func (s *MatchService) Get(ctx context.Context, actorID, requestID uuid.UUID) (*models.MatchRequest, error) {
	r, err := s.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.RequesterID != actorID && r.TargetID != actorID {
		return nil, apperror.ErrForbidden
	}
	return r, nil
}

// List возвращает заявки пользователя (как инициатора, так и адресата).
func (s *MatchService) List(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]models.MatchRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByUser(ctx, actorID, limit, offset)
}

// SweepExpired забирает просроченные заявки одним set-based обновлением и
// возвращает удержанные комиссии. Заявки, возврат по которым ранее не
// прошёл, добираются повторно с тем же ключом идемпотентности, так что
// параллельные обходы и рестарты безопасны.
func (s *MatchService) SweepExpired(ctx context.Context) (expired, refunded int, err error) {
	claimed, err := s.repo.ClaimExpired(ctx, s.now())
	if err != nil {
		return 0, 0, fmt.Errorf("match service: claim expired %w", err)
	}

	attempted := make(map[uuid.UUID]bool, len(claimed))
	for i := range claimed {
		r := &claimed[i]
		attempted[r.ID] = true
		s.notify(r.RequesterID, "match.expired", r.ID)
		if refundErr := s.refund(ctx, r); refundErr != nil {
			logger.Log.WithFields(logrus.Fields{
				"request_id": r.ID,
				"error":      refundErr.Error(),
			}).Error("возврат по просроченной заявке не прошёл, повтор при следующем обходе")
			continue
		}
		refunded++
	}

	// Повтор возвратов, не прошедших в предыдущих обходах.
	stuck, err := s.repo.ListUnrefunded(ctx, 100)
	if err != nil {
		return len(claimed), refunded, fmt.Errorf("match service: list unrefunded %w", err)
	}
	for i := range stuck {
		r := &stuck[i]
		if attempted[r.ID] {
			continue
		}
		if refundErr := s.refund(ctx, r); refundErr != nil {
			logger.Log.WithFields(logrus.Fields{
				"request_id": r.ID,
				"error":      refundErr.Error(),
			}).Error("повторный возврат по заявке не прошёл")
			continue
		}
		refunded++
	}

	return len(claimed), refunded, nil
}

// refund возвращает комиссию по уже отклонённой или просроченной заявке.
// Ключ идемпотентности выводится из ID заявки: сколько бы раз возврат ни
// повторялся, провайдер выполнит его один раз.
func (s *MatchService) refund(ctx context.Context, r *models.MatchRequest) error {
	if r.HoldID == nil {
		return nil
	}
	receiptID, err := s.provider.Refund(ctx, *r.HoldID, r.MatchFee, "match-refund-"+r.ID.String())
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeCollaborator, apperror.ErrRefundFailed.Message)
	}
	if err := s.repo.CommitRefund(ctx, r.ID, *r.HoldID, r.MatchFee, receiptID); err != nil {
		if errors.Is(err, common.ErrStaleStatus) {
			// Параллельный обход уже закоммитил возврат.
			return nil
		}
		return fmt.Errorf("match service: commit refund %w", err)
	}
	s.notify(r.RequesterID, "match.refunded", r.ID)
	return nil
}

func (s *MatchService) get(ctx context.Context, id uuid.UUID) (*models.MatchRequest, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrMatchRequestNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *MatchService) translateProfile(err error) error {
	if errors.Is(err, common.ErrNotFound) {
		return apperror.ErrProfileNotFound
	}
	return err
}

func (s *MatchService) conflict(ctx context.Context, requestID uuid.UUID, expected string) error {
	r, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return apperror.ErrConcurrentModification
	}
	if r.Status == expected {
		return apperror.ErrConcurrentModification.WithState(r.Status)
	}
	return apperror.ErrInvalidTransition.WithState(r.Status)
}

func (s *MatchService) notify(userID uuid.UUID, event string, id uuid.UUID) {
	if s.notifier != nil {
		s.notifier.Notify(userID, event, map[string]string{"id": id.String()})
	}
}
