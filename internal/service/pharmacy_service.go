package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignatzorin/medmatch-backend/internal/models"
	"github.com/ignatzorin/medmatch-backend/internal/pkg/apperror"
	"github.com/ignatzorin/medmatch-backend/internal/repository/common"
)

type PharmacyRepository interface {
	ExpressInterest(ctx context.Context, actorProfileID, otherProfileID uuid.UUID) (*models.PharmacyMatch, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.PharmacyMatch, error)
	ListForProfile(ctx context.Context, profileID uuid.UUID, limit, offset int) ([]models.PharmacyMatch, error)
	AdvanceStatus(ctx context.Context, id uuid.UUID, from, to string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
}

type ProfileRepository interface {
	Create(ctx context.Context, p *models.Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

// PharmacyMatchView - представление матча для одной из сторон: до
// взаимности контрагент виден только обезличенной сводкой, после -
// полным контактом.
type PharmacyMatchView struct {
	Match       *models.PharmacyMatch   `json:"match"`
	Counterpart models.AnonymousProfile `json:"counterpart"`
	Contact     *models.ContactSnapshot `json:"contact,omitempty"`
}

// PharmacyService - взаимный матчинг фармацевтов: интерес выражают обе
// стороны независимо, контакты раскрываются ровно один раз в момент
// взаимности, дальше пара идёт по цепочке статусов до контракта.
type PharmacyService struct {
	repo     PharmacyRepository
	profiles ProfileRepository
	notifier Notifier
}

func NewPharmacyService(repo PharmacyRepository, profiles ProfileRepository, notifier Notifier) *PharmacyService {
	return &PharmacyService{repo: repo, profiles: profiles, notifier: notifier}
}

// CreateProfile регистрирует анонимный профиль фармацевта.
func (s *PharmacyService) CreateProfile(ctx context.Context, userID uuid.UUID, role, name, phone, email, region, scale, dealType string) (*models.Profile, error) {
	if name == "" || phone == "" || email == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "имя, телефон и email обязательны")
	}
	p := &models.Profile{
		ID:            uuid.New(),
		UserID:        userID,
		Role:          role,
		Name:          name,
		Phone:         phone,
		Email:         email,
		Region:        region,
		PharmacyScale: scale,
		DealType:      dealType,
	}
	if err := s.profiles.Create(ctx, p); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, apperror.New(apperror.ErrCodeConflict, "профиль уже существует")
		}
		return nil, fmt.Errorf("pharmacy service: create profile %w", err)
	}
	return p, nil
}

// ExpressInterest выражает интерес к чужому профилю. Повторный вызов
// идемпотентен. Если интерес оказался взаимным, контакты раскрываются
// и обе стороны получают уведомление - ровно один раз на пару, какая бы
// из сторон ни закрыла её последней.
func (s *PharmacyService) ExpressInterest(ctx context.Context, actorUserID, otherProfileID uuid.UUID) (*PharmacyMatchView, error) {
	actor, err := s.profileOf(ctx, actorUserID)
	if err != nil {
		return nil, err
	}
	if actor.ID == otherProfileID {
		return nil, apperror.New(apperror.ErrCodeValidation, "нельзя выразить интерес к собственному профилю")
	}
	other, err := s.profiles.GetByID(ctx, otherProfileID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrProfileNotFound
		}
		return nil, err
	}

	m, revealed, err := s.repo.ExpressInterest(ctx, actor.ID, otherProfileID)
	if err != nil {
		return nil, fmt.Errorf("pharmacy service: express interest %w", err)
	}

	if revealed && s.notifier != nil {
		s.notifier.Notify(actor.UserID, "pharmacy.contact_revealed", map[string]string{"match_id": m.ID.String()})
		s.notifier.Notify(other.UserID, "pharmacy.contact_revealed", map[string]string{"match_id": m.ID.String()})
	}

	return s.view(ctx, m, actor.ID)
}

// Допустимая цепочка статусов после взаимности.
var pharmacyNextStatus = map[string]string{
	models.PharmacyMatchStatusChatting:   models.PharmacyMatchStatusMutual,
	models.PharmacyMatchStatusMeeting:    models.PharmacyMatchStatusChatting,
	models.PharmacyMatchStatusContracted: models.PharmacyMatchStatusMeeting,
}

// Advance продвигает пару по цепочке mutual -> chatting -> meeting ->
// contracted. Перескоки и откаты запрещены.
func (s *PharmacyService) Advance(ctx context.Context, actorUserID, matchID uuid.UUID, to string) (*PharmacyMatchView, error) {
	actor, m, err := s.getForActor(ctx, actorUserID, matchID)
	if err != nil {
		return nil, err
	}
	from, ok := pharmacyNextStatus[to]
	if !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "недопустимый целевой статус")
	}
	if m.Status != from {
		return nil, apperror.ErrInvalidTransition.WithState(m.Status)
	}

	if err := s.repo.AdvanceStatus(ctx, matchID, from, to); err != nil {
		if errors.Is(err, common.ErrStaleStatus) {
			current, getErr := s.repo.GetByID(ctx, matchID)
			if getErr != nil {
				return nil, apperror.ErrConcurrentModification
			}
			return nil, apperror.ErrInvalidTransition.WithState(current.Status)
		}
		return nil, fmt.Errorf("pharmacy service: advance %w", err)
	}

	m, err = s.repo.GetByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("pharmacy service: reload %w", err)
	}
	return s.view(ctx, m, actor.ID)
}

// Cancel закрывает пару. Доступно любой из сторон на любом неконечном
// статусе.
func (s *PharmacyService) Cancel(ctx context.Context, actorUserID, matchID uuid.UUID) (*PharmacyMatchView, error) {
	actor, m, err := s.getForActor(ctx, actorUserID, matchID)
	if err != nil {
		return nil, err
	}
	if m.Status == models.PharmacyMatchStatusContracted || m.Status == models.PharmacyMatchStatusCancelled {
		return nil, apperror.ErrInvalidTransition.WithState(m.Status)
	}

	if err := s.repo.MarkCancelled(ctx, matchID); err != nil {
		if errors.Is(err, common.ErrStaleStatus) {
			return nil, apperror.ErrInvalidTransition.WithState(m.Status)
		}
		return nil, fmt.Errorf("pharmacy service: cancel %w", err)
	}

	m, err = s.repo.GetByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("pharmacy service: reload %w", err)
	}
	return s.view(ctx, m, actor.ID)
}

// Get возвращает матч глазами запрашивающей стороны.
func (s *PharmacyService) Get(ctx context.Context, actorUserID, matchID uuid.UUID) (*PharmacyMatchView, error) {
	actor, m, err := s.getForActor(ctx, actorUserID, matchID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, m, actor.ID)
}

// List возвращает матчи профиля пользователя.
func (s *PharmacyService) List(ctx context.Context, actorUserID uuid.UUID, limit, offset int) ([]PharmacyMatchView, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	actor, err := s.profileOf(ctx, actorUserID)
	if err != nil {
		return nil, err
	}
	matches, err := s.repo.ListForProfile(ctx, actor.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("pharmacy service: list %w", err)
	}
	views := make([]PharmacyMatchView, 0, len(matches))
	for i := range matches {
		v, err := s.view(ctx, &matches[i], actor.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

func (s *PharmacyService) getForActor(ctx context.Context, actorUserID, matchID uuid.UUID) (*models.Profile, *models.PharmacyMatch, error) {
	actor, err := s.profileOf(ctx, actorUserID)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.repo.GetByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, apperror.ErrPharmacyMatchNotFound
		}
		return nil, nil, err
	}
	if m.ProfileAID != actor.ID && m.ProfileBID != actor.ID {
		return nil, nil, apperror.ErrForbidden
	}
	return actor, m, nil
}

func (s *PharmacyService) profileOf(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	p, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, apperror.ErrProfileNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *PharmacyService) view(ctx context.Context, m *models.PharmacyMatch, actorProfileID uuid.UUID) (*PharmacyMatchView, error) {
	other, err := s.profiles.GetByID(ctx, m.Other(actorProfileID))
	if err != nil {
		return nil, fmt.Errorf("pharmacy service: counterpart %w", err)
	}
	v := &PharmacyMatchView{Match: m, Counterpart: other.Anonymize()}
	if m.Revealed() {
		contact := other.Contact()
		v.Contact = &contact
	}
	return v, nil
}
