package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/medmatch-backend/internal/logger"
	"github.com/ignatzorin/medmatch-backend/internal/models"
	"github.com/ignatzorin/medmatch-backend/internal/pkg/apperror"
	"github.com/ignatzorin/medmatch-backend/internal/repository/common"
)

type mockEscrowRepo struct {
	mock.Mock
}

func (m *mockEscrowRepo) Create(ctx context.Context, t *models.EscrowTransaction) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockEscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowTransaction), args.Error(1)
}

func (m *mockEscrowRepo) GetMilestone(ctx context.Context, transactionID, milestoneID uuid.UUID) (*models.Milestone, error) {
	args := m.Called(ctx, transactionID, milestoneID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Milestone), args.Error(1)
}

func (m *mockEscrowRepo) ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.EscrowTransaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.EscrowTransaction), args.Error(1)
}

func (m *mockEscrowRepo) CommitFund(ctx context.Context, transactionID uuid.UUID, holdID string, amount int64) error {
	args := m.Called(ctx, transactionID, holdID, amount)
	return args.Error(0)
}

func (m *mockEscrowRepo) MarkMilestoneSubmitted(ctx context.Context, milestoneID uuid.UUID) error {
	args := m.Called(ctx, milestoneID)
	return args.Error(0)
}

func (m *mockEscrowRepo) ClaimMilestoneApproval(ctx context.Context, milestoneID uuid.UUID) error {
	args := m.Called(ctx, milestoneID)
	return args.Error(0)
}

func (m *mockEscrowRepo) RevertMilestoneApproval(ctx context.Context, milestoneID uuid.UUID) error {
	args := m.Called(ctx, milestoneID)
	return args.Error(0)
}

func (m *mockEscrowRepo) CommitMilestoneRelease(ctx context.Context, transactionID, milestoneID uuid.UUID, holdID string, amount int64, receiptID string) (bool, error) {
	args := m.Called(ctx, transactionID, milestoneID, holdID, amount, receiptID)
	return args.Bool(0), args.Error(1)
}

func (m *mockEscrowRepo) MarkMilestoneRejected(ctx context.Context, milestoneID uuid.UUID, reason string) error {
	args := m.Called(ctx, milestoneID, reason)
	return args.Error(0)
}

func (m *mockEscrowRepo) MarkMilestoneResubmitted(ctx context.Context, milestoneID uuid.UUID) error {
	args := m.Called(ctx, milestoneID)
	return args.Error(0)
}

func (m *mockEscrowRepo) SetMilestoneEvidence(ctx context.Context, milestoneID uuid.UUID, path string) error {
	args := m.Called(ctx, milestoneID, path)
	return args.Error(0)
}

func (m *mockEscrowRepo) MarkCancelled(ctx context.Context, transactionID uuid.UUID) error {
	args := m.Called(ctx, transactionID)
	return args.Error(0)
}

func (m *mockEscrowRepo) MarkDisputed(ctx context.Context, transactionID uuid.UUID, reason string) error {
	args := m.Called(ctx, transactionID, reason)
	return args.Error(0)
}

func (m *mockEscrowRepo) MarkResolved(ctx context.Context, transactionID uuid.UUID) error {
	args := m.Called(ctx, transactionID)
	return args.Error(0)
}

func (m *mockEscrowRepo) CommitRemainderRefund(ctx context.Context, transactionID uuid.UUID, holdID string, amount int64, receiptID string) error {
	args := m.Called(ctx, transactionID, holdID, amount, receiptID)
	return args.Error(0)
}

type mockLedgerReader struct {
	mock.Mock
}

func (m *mockLedgerReader) ListByHold(ctx context.Context, holdID string) ([]models.LedgerEntry, error) {
	args := m.Called(ctx, holdID)
	return args.Get(0).([]models.LedgerEntry), args.Error(1)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Capture(ctx context.Context, token string, amount int64, idempotencyKey string) (string, error) {
	args := m.Called(ctx, token, amount, idempotencyKey)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) Release(ctx context.Context, holdID string, amount int64, idempotencyKey string) (string, error) {
	args := m.Called(ctx, holdID, amount, idempotencyKey)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) Refund(ctx context.Context, holdID string, amount int64, idempotencyKey string) (string, error) {
	args := m.Called(ctx, holdID, amount, idempotencyKey)
	return args.String(0), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(userID uuid.UUID, event string, data any) {
	m.Called(userID, event, data)
}

func newEscrowService(repo *mockEscrowRepo, provider *mockProvider) *EscrowService {
	return NewEscrowService(repo, new(mockLedgerReader), provider, nil, 10)
}

func TestSplitMilestones_RemainderToLast(t *testing.T) {
	amounts := SplitMilestones(100000, []models.MilestoneSpec{
		{Name: "샘플 납품", Percentage: 33},
		{Name: "시범 운영", Percentage: 33},
		{Name: "본계약 체결", Percentage: 34},
	})
	assert.Equal(t, []int64{33000, 33000, 34000}, amounts)

	amounts = SplitMilestones(101, []models.MilestoneSpec{
		{Name: "a", Percentage: 50},
		{Name: "b", Percentage: 50},
	})
	assert.Equal(t, []int64{50, 51}, amounts)
	assert.Equal(t, int64(101), amounts[0]+amounts[1])

	amounts = SplitMilestones(100, []models.MilestoneSpec{
		{Name: "целиком", Percentage: 100},
	})
	assert.Equal(t, []int64{100}, amounts)

	assert.Nil(t, SplitMilestones(100000, nil))
}

func TestEscrowService_Initiate_Success(t *testing.T) {
	repo := new(mockEscrowRepo)
	svc := newEscrowService(repo, new(mockProvider))
	ctx := context.Background()
	payerID, payeeID := uuid.New(), uuid.New()

	repo.On("Create", ctx, mock.AnythingOfType("*models.EscrowTransaction")).Return(nil)

	tx, err := svc.Initiate(ctx, payerID, payeeID, 1000000, []models.MilestoneSpec{
		{Name: "샘플 납품", Percentage: 30},
		{Name: "본계약 체결", Percentage: 70},
	})
	assert.NoError(t, err)
	assert.Equal(t, models.EscrowStatusInitiated, tx.Status)
	assert.Equal(t, int64(100000), tx.PlatformFee)
	assert.Len(t, tx.Milestones, 2)
	assert.Equal(t, int64(300000), tx.Milestones[0].Amount)
	assert.Equal(t, int64(700000), tx.Milestones[1].Amount)
	assert.Equal(t, models.MilestoneStatusPending, tx.Milestones[0].Status)
	repo.AssertExpectations(t)
}

func TestEscrowService_Initiate_InvalidSpec(t *testing.T) {
	svc := newEscrowService(new(mockEscrowRepo), new(mockProvider))
	ctx := context.Background()
	payerID, payeeID := uuid.New(), uuid.New()

	_, err := svc.Initiate(ctx, payerID, payeeID, 1000, nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidMilestoneSpec)

	_, err = svc.Initiate(ctx, payerID, payeeID, 1000, []models.MilestoneSpec{
		{Name: "a", Percentage: 60},
		{Name: "b", Percentage: 50},
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidMilestoneSpec)

	_, err = svc.Initiate(ctx, payerID, payeeID, 1000, []models.MilestoneSpec{
		{Name: "a", Percentage: 0},
		{Name: "b", Percentage: 100},
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidMilestoneSpec)

	_, err = svc.Initiate(ctx, payerID, payeeID, 0, []models.MilestoneSpec{
		{Name: "a", Percentage: 100},
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidAmount)

	_, err = svc.Initiate(ctx, payerID, payerID, 1000, []models.MilestoneSpec{
		{Name: "a", Percentage: 100},
	})
	assert.True(t, apperror.IsValidation(err))

	// Сумма настолько мала, что доля первого этапа округляется до нуля.
	_, err = svc.Initiate(ctx, payerID, payeeID, 1, []models.MilestoneSpec{
		{Name: "a", Percentage: 50},
		{Name: "b", Percentage: 50},
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidAmount)
}

func TestEscrowService_Fund_Success(t *testing.T) {
	repo := new(mockEscrowRepo)
	provider := new(mockProvider)
	svc := newEscrowService(repo, provider)
	ctx := context.Background()

	payerID := uuid.New()
	txID := uuid.New()
	initiated := &models.EscrowTransaction{ID: txID, PayerID: payerID, TotalAmount: 500000, Status: models.EscrowStatusInitiated}
	hold := "hold-1"
	funded := &models.EscrowTransaction{ID: txID, PayerID: payerID, TotalAmount: 500000, Status: models.EscrowStatusInProgress, HoldID: &hold}

	repo.On("GetByID", ctx, txID).Return(initiated, nil).Once()
	provider.On("Capture", ctx, "tok-1", int64(500000), "escrow-fund-"+txID.String()).Return(hold, nil)
	repo.On("CommitFund", ctx, txID, hold, int64(500000)).Return(nil)
	repo.On("GetByID", ctx, txID).Return(funded, nil).Once()

	tx, err := svc.Fund(ctx, payerID, txID, "tok-1")
	assert.NoError(t, err)
	assert.Equal(t, models.EscrowStatusInProgress, tx.Status)
	repo.AssertExpectations(t)
	provider.AssertExpectations(t)
}

func TestEscrowService_Fund_CaptureFailed(t *testing.T) {
	repo := new(mockEscrowRepo)
	provider := new(mockProvider)
	svc := newEscrowService(repo, provider)
	ctx := context.Background()

	payerID := uuid.New()
	txID := uuid.New()
	initiated := &models.EscrowTransaction{ID: txID, PayerID: payerID, TotalAmount: 500000, Status: models.EscrowStatusInitiated}

	repo.On("GetByID", ctx, txID).Return(initiated, nil)
	provider.On("Capture", ctx, "tok-bad", int64(500000), "escrow-fund-"+txID.String()).Return("", errors.New("card declined"))

	_, err := svc.Fund(ctx, payerID, txID, "tok-bad")
	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeCaptureFailed, appErr.Code)
	// Состояние не изменилось, CommitFund не вызывался
	repo.AssertNotCalled(t, "CommitFund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEscrowService_Fund_WrongActor(t *testing.T) {
	repo := new(mockEscrowRepo)
	svc := newEscrowService(repo, new(mockProvider))
	ctx := context.Background()

	txID := uuid.New()
	repo.On("GetByID", ctx, txID).Return(&models.EscrowTransaction{ID: txID, PayerID: uuid.New(), Status: models.EscrowStatusInitiated}, nil)

	_, err := svc.Fund(ctx, uuid.New(), txID, "tok")
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestEscrowService_Fund_AlreadyFunded(t *testing.T) {
	repo := new(mockEscrowRepo)
	svc := newEscrowService(repo, new(mockProvider))
	ctx := context.Background()

	payerID := uuid.New()
	txID := uuid.New()
	repo.On("GetByID", ctx, txID).Return(&models.EscrowTransaction{ID: txID, PayerID: payerID, Status: models.EscrowStatusInProgress}, nil)

	_, err := svc.Fund(ctx, payerID, txID, "tok")
	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeConflict, appErr.Code)
	assert.Equal(t, models.EscrowStatusInProgress, appErr.CurrentState)
}

func TestEscrowService_Fund_CommitLostRaceLogsHold(t *testing.T) {
	prev := logger.Log
	testLog, hook := logrustest.NewNullLogger()
	logger.Log = testLog
	defer func() { logger.Log = prev }()

	repo := new(mockEscrowRepo)
	provider := new(mockProvider)
	svc := newEscrowService(repo, provider)
	ctx := context.Background()

	payerID := uuid.New()
	txID := uuid.New()
	initiated := &models.EscrowTransaction{ID: txID, PayerID: payerID, TotalAmount: 500000, Status: models.EscrowStatusInitiated}
	cancelled := &models.EscrowTransaction{ID: txID, PayerID: payerID, TotalAmount: 500000, Status: models.EscrowStatusCancelled}
	hold := "hold-orphan"

	repo.On("GetByID", ctx, txID).Return(initiated, nil).Once()
	provider.On("Capture", ctx, "tok-1", int64(500000), "escrow-fund-"+txID.String()).Return(hold, nil)
	repo.On("CommitFund", ctx, txID, hold, int64(500000)).Return(common.ErrStaleStatus)
	repo.On("GetByID", ctx, txID).Return(cancelled, nil).Once()

	_, err := svc.Fund(ctx, payerID, txID, "tok-1")
	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeConflict, appErr.Code)
	assert.Equal(t, models.EscrowStatusCancelled, appErr.CurrentState)

	// Удержание осталось у провайдера: сверке нужны его координаты.
	entry := hook.LastEntry()
	assert.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, hold, entry.Data["hold_id"])
	assert.Equal(t, int64(500000), entry.Data["amount"])
}

func TestEscrowService_ApproveMilestone_Success(t *testing.T) {
	repo := new(mockEscrowRepo)
	provider := new(mockProvider)
	svc := newEscrowService(repo, provider)
	ctx := context.Background()

	payerID, payeeID := uuid.New(), uuid.New()
	txID, msID := uuid.New(), uuid.New()
	hold := "hold-1"
	tx := &models.EscrowTransaction{ID: txID, PayerID: payerID, PayeeID: payeeID, Status: models.EscrowStatusInProgress, HoldID: &hold}
	ms := &models.Milestone{ID: msID, TransactionID: txID, Amount: 300000, Status: models.MilestoneStatusSubmitted}

	repo.On("GetByID", ctx, txID).Return(tx, nil)
	repo.On("GetMilestone", ctx, txID, msID).Return(ms, nil)
	repo.On("ClaimMilestoneApproval", ctx, msID).Return(nil)
	provider.On("Release", ctx, hold, int64(300000), "escrow-release-"+msID.String()).Return("rcpt-1", nil)
	repo.On("CommitMilestoneRelease", ctx, txID, msID, hold, int64(300000), "rcpt-1").Return(false, nil)

	_, err := svc.ApproveMilestone(ctx, payerID, txID, msID)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
	provider.AssertExpectations(t)
	repo.AssertNotCalled(t, "RevertMilestoneApproval", mock.Anything, mock.Anything)
}

func TestEscrowService_ApproveMilestone_ReleaseFailedReverts(t *testing.T) {
	repo := new(mockEscrowRepo)
	provider := new(mockProvider)
	svc := newEscrowService(repo, provider)
	ctx := context.Background()

	payerID := uuid.New()
	txID, msID := uuid.New(), uuid.New()
	hold := "hold-1"
	tx := &models.EscrowTransaction{ID: txID, PayerID: payerID, PayeeID: uuid.New(), Status: models.EscrowStatusInProgress, HoldID: &hold}
	ms := &models.Milestone{ID: msID, TransactionID: txID, Amount: 300000, Status: models.MilestoneStatusSubmitted}

	repo.On("GetByID", ctx, txID).Return(tx, nil)
	repo.On("GetMilestone", ctx, txID, msID).Return(ms, nil)
	repo.On("ClaimMilestoneApproval", ctx, msID).Return(nil)
	provider.On("Release", ctx, hold, int64(300000), "escrow-release-"+msID.String()).Return("", errors.New("provider down"))
	repo.On("RevertMilestoneApproval", ctx, msID).Return(nil)

	_, err := svc.ApproveMilestone(ctx, payerID, txID, msID)
	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeCollaborator, appErr.Code)
	repo.AssertCalled(t, "RevertMilestoneApproval", ctx, msID)
	repo.AssertNotCalled(t, "CommitMilestoneRelease", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEscrowService_ApproveMilestone_ClaimLostRace(t *testing.T) {
	repo := new(mockEscrowRepo)
	provider := new(mockProvider)
	svc := newEscrowService(repo, provider)
	ctx := context.Background()

	payerID := uuid.New()
	txID, msID := uuid.New(), uuid.New()
	hold := "hold-1"
	tx := &models.EscrowTransaction{ID: txID, PayerID: payerID, Status: models.EscrowStatusInProgress, HoldID: &hold}
	submitted := &models.Milestone{ID: msID, TransactionID: txID, Amount: 100, Status: models.MilestoneStatusSubmitted}
	released := &models.Milestone{ID: msID, TransactionID: txID, Amount: 100, Status: models.MilestoneStatusReleased}

	repo.On("GetByID", ctx, txID).Return(tx, nil)
	repo.On("GetMilestone", ctx, txID, msID).Return(submitted, nil).Once()
	repo.On("ClaimMilestoneApproval", ctx, msID).Return(common.ErrStaleStatus)
	repo.On("GetMilestone", ctx, txID, msID).Return(released, nil).Once()

	_, err := svc.ApproveMilestone(ctx, payerID, txID, msID)
	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeConflict, appErr.Code)
	assert.Equal(t, models.MilestoneStatusReleased, appErr.CurrentState)
	// Проигравший гонку никогда не дозванивается до провайдера
	provider.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEscrowService_SubmitMilestone_PayeeOnly(t *testing.T) {
	repo := new(mockEscrowRepo)
	svc := newEscrowService(repo, new(mockProvider))
	ctx := context.Background()

	payerID, payeeID := uuid.New(), uuid.New()
	txID, msID := uuid.New(), uuid.New()
	tx := &models.EscrowTransaction{ID: txID, PayerID: payerID, PayeeID: payeeID, Status: models.EscrowStatusInProgress}
	ms := &models.Milestone{ID: msID, TransactionID: txID, Status: models.MilestoneStatusPending}

	repo.On("GetByID", ctx, txID).Return(tx, nil)
	repo.On("GetMilestone", ctx, txID, msID).Return(ms, nil)

	_, err := svc.SubmitMilestone(ctx, payerID, txID, msID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	repo.On("MarkMilestoneSubmitted", ctx, msID).Return(nil)
	_, err = svc.SubmitMilestone(ctx, payeeID, txID, msID)
	assert.NoError(t, err)
}

func TestEscrowService_RejectThenResubmit(t *testing.T) {
	repo := new(mockEscrowRepo)
	svc := newEscrowService(repo, new(mockProvider))
	ctx := context.Background()

	payerID, payeeID := uuid.New(), uuid.New()
	txID, msID := uuid.New(), uuid.New()
	tx := &models.EscrowTransaction{ID: txID, PayerID: payerID, PayeeID: payeeID, Status: models.EscrowStatusInProgress}
	submitted := &models.Milestone{ID: msID, TransactionID: txID, Status: models.MilestoneStatusSubmitted}
	rejected := &models.Milestone{ID: msID, TransactionID: txID, Status: models.MilestoneStatusRejected}

	repo.On("GetByID", ctx, txID).Return(tx, nil)
	repo.On("GetMilestone", ctx, txID, msID).Return(submitted, nil).Twice()
	repo.On("MarkMilestoneRejected", ctx, msID, "샘플 불량").Return(nil)
	repo.On("GetMilestone", ctx, txID, msID).Return(rejected, nil)

	_, err := svc.RejectMilestone(ctx, payerID, txID, msID, "샘플 불량")
	assert.NoError(t, err)

	_, err = svc.RejectMilestone(ctx, payerID, txID, msID, "")
	assert.True(t, apperror.IsValidation(err))

	repo.On("MarkMilestoneResubmitted", ctx, msID).Return(nil)
	_, err = svc.ResubmitMilestone(ctx, payeeID, txID, msID)
	assert.NoError(t, err)
}

func TestEscrowService_RejectMilestone_FrozenTransaction(t *testing.T) {
	ctx := context.Background()
	payerID, payeeID := uuid.New(), uuid.New()

	// В споре этапы могут менять только арбитр и отправка получателя,
	// в терминальном статусе - никто.
	for _, status := range []string{models.EscrowStatusDisputed, models.EscrowStatusRefunded} {
		repo := new(mockEscrowRepo)
		svc := newEscrowService(repo, new(mockProvider))
		txID, msID := uuid.New(), uuid.New()
		tx := &models.EscrowTransaction{ID: txID, PayerID: payerID, PayeeID: payeeID, Status: status}
		repo.On("GetByID", ctx, txID).Return(tx, nil)
		repo.On("GetMilestone", ctx, txID, msID).Return(&models.Milestone{ID: msID, TransactionID: txID, Status: models.MilestoneStatusSubmitted}, nil)

		_, err := svc.RejectMilestone(ctx, payerID, txID, msID, "샘플 불량")
		var appErr *apperror.AppError
		assert.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperror.ErrCodeConflict, appErr.Code)
		assert.Equal(t, status, appErr.CurrentState)
		repo.AssertNotCalled(t, "MarkMilestoneRejected", ctx, msID, "샘플 불량")
	}
}

func TestEscrowService_ResubmitMilestone_TerminalTransaction(t *testing.T) {
	repo := new(mockEscrowRepo)
	svc := newEscrowService(repo, new(mockProvider))
	ctx := context.Background()

	payerID, payeeID := uuid.New(), uuid.New()
	txID, msID := uuid.New(), uuid.New()
	refunded := &models.EscrowTransaction{ID: txID, PayerID: payerID, PayeeID: payeeID, Status: models.EscrowStatusRefunded}
	repo.On("GetByID", ctx, txID).Return(refunded, nil)
	repo.On("GetMilestone", ctx, txID, msID).Return(&models.Milestone{ID: msID, TransactionID: txID, Status: models.MilestoneStatusRejected}, nil)

	_, err := svc.ResubmitMilestone(ctx, payeeID, txID, msID)
	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeConflict, appErr.Code)
	assert.Equal(t, models.EscrowStatusRefunded, appErr.CurrentState)
	repo.AssertNotCalled(t, "MarkMilestoneResubmitted", ctx, msID)
}

func TestEscrowService_Dispute_ForParticipantsOnly(t *testing.T) {
	repo := new(mockEscrowRepo)
	svc := newEscrowService(repo, new(mockProvider))
	ctx := context.Background()

	payerID, payeeID := uuid.New(), uuid.New()
	txID := uuid.New()
	inProgress := &models.EscrowTransaction{ID: txID, PayerID: payerID, PayeeID: payeeID, Status: models.EscrowStatusInProgress}
	disputed := &models.EscrowTransaction{ID: txID, PayerID: payerID, PayeeID: payeeID, Status: models.EscrowStatusDisputed}

	repo.On("GetByID", ctx, txID).Return(inProgress, nil).Twice()
	repo.On("MarkDisputed", ctx, txID, "поставка сорвана").Return(nil)
	repo.On("GetByID", ctx, txID).Return(disputed, nil)

	_, err := svc.Dispute(ctx, uuid.New(), txID, "чужой")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	tx, err := svc.Dispute(ctx, payeeID, txID, "поставка сорвана")
	assert.NoError(t, err)
	assert.Equal(t, models.EscrowStatusDisputed, tx.Status)
}

func TestEscrowService_Resolve_RefundRemainder(t *testing.T) {
	repo := new(mockEscrowRepo)
	provider := new(mockProvider)
	svc := newEscrowService(repo, provider)
	ctx := context.Background()

	txID := uuid.New()
	hold := "hold-1"
	disputed := &models.EscrowTransaction{ID: txID, PayerID: uuid.New(), PayeeID: uuid.New(), Status: models.EscrowStatusDisputed, HoldID: &hold}
	refunded := &models.EscrowTransaction{ID: txID, Status: models.EscrowStatusRefunded, HoldID: &hold}

	repo.On("GetByID", ctx, txID).Return(disputed, nil).Once()
	provider.On("Refund", ctx, hold, int64(700000), "escrow-resolve-refund-"+txID.String()).Return("rcpt-r", nil)
	repo.On("CommitRemainderRefund", ctx, txID, hold, int64(700000), "rcpt-r").Return(nil)
	repo.On("GetByID", ctx, txID).Return(refunded, nil).Once()

	tx, err := svc.Resolve(ctx, RoleArbiter, txID, ResolveActionRefund, nil, 700000)
	assert.NoError(t, err)
	assert.Equal(t, models.EscrowStatusRefunded, tx.Status)
	repo.AssertExpectations(t)
}

func TestEscrowService_Resolve_ArbiterOnly(t *testing.T) {
	svc := newEscrowService(new(mockEscrowRepo), new(mockProvider))

	_, err := svc.Resolve(context.Background(), "doctor", uuid.New(), ResolveActionRefund, nil, 100)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestEscrowService_Resolve_RefundOverdraft(t *testing.T) {
	repo := new(mockEscrowRepo)
	provider := new(mockProvider)
	svc := newEscrowService(repo, provider)
	ctx := context.Background()

	txID := uuid.New()
	hold := "hold-1"
	disputed := &models.EscrowTransaction{ID: txID, Status: models.EscrowStatusDisputed, HoldID: &hold}

	repo.On("GetByID", ctx, txID).Return(disputed, nil)
	provider.On("Refund", ctx, hold, int64(900000), "escrow-resolve-refund-"+txID.String()).Return("rcpt-r", nil)
	repo.On("CommitRemainderRefund", ctx, txID, hold, int64(900000), "rcpt-r").Return(common.ErrLedgerOverdraft)

	_, err := svc.Resolve(ctx, RoleArbiter, txID, ResolveActionRefund, nil, 900000)
	assert.True(t, apperror.IsValidation(err))
}

func TestEscrowService_Cancel_OnlyBeforeFunding(t *testing.T) {
	repo := new(mockEscrowRepo)
	svc := newEscrowService(repo, new(mockProvider))
	ctx := context.Background()

	payerID := uuid.New()
	txID := uuid.New()
	repo.On("GetByID", ctx, txID).Return(&models.EscrowTransaction{ID: txID, PayerID: payerID, Status: models.EscrowStatusInProgress}, nil)

	_, err := svc.Cancel(ctx, payerID, txID)
	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeConflict, appErr.Code)
	repo.AssertNotCalled(t, "MarkCancelled", mock.Anything, mock.Anything)
}

func TestEscrowService_Get_AccessControl(t *testing.T) {
	repo := new(mockEscrowRepo)
	svc := newEscrowService(repo, new(mockProvider))
	ctx := context.Background()

	payerID, payeeID := uuid.New(), uuid.New()
	txID := uuid.New()
	repo.On("GetByID", ctx, txID).Return(&models.EscrowTransaction{ID: txID, PayerID: payerID, PayeeID: payeeID}, nil)

	_, err := svc.Get(ctx, payerID, "doctor", txID)
	assert.NoError(t, err)

	_, err = svc.Get(ctx, uuid.New(), "sales", txID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = svc.Get(ctx, uuid.New(), RoleArbiter, txID)
	assert.NoError(t, err)
}

func TestEscrowService_Get_NotFound(t *testing.T) {
	repo := new(mockEscrowRepo)
	svc := newEscrowService(repo, new(mockProvider))
	ctx := context.Background()
	txID := uuid.New()

	repo.On("GetByID", ctx, txID).Return(nil, common.ErrNotFound)

	_, err := svc.Get(ctx, uuid.New(), "doctor", txID)
	assert.ErrorIs(t, err, apperror.ErrTransactionNotFound)
}
