package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest   ErrorCode = "BAD_REQUEST"
	// Структурные нарушения (неверная разбивка процентов и т.п.) -
	// постоянные ошибки, повтор запроса бессмыслен.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	// Недопустимый переход состояния; в ответе возвращается текущее
	// каноническое состояние, чтобы клиент мог синхронизироваться.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// Провайдер отклонил capture: состояние не изменилось, повтор разрешён.
	ErrCodeCaptureFailed ErrorCode = "CAPTURE_FAILED"
	// Провайдер не выполнил release/refund: деньги могут зависнуть,
	// требуется сверка.
	ErrCodeCollaborator ErrorCode = "COLLABORATOR_ERROR"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	// CurrentState - каноническое состояние записи на момент отказа
	// (заполняется для ошибок перехода).
	CurrentState string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// WithState возвращает копию ошибки с прикреплённым текущим состоянием.
func (e *AppError) WithState(state string) *AppError {
	clone := *e
	clone.CurrentState = state
	return &clone
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeValidation:
		return http.StatusUnprocessableEntity
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeCaptureFailed:
		return http.StatusPaymentRequired
	case ErrCodeCollaborator:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeNotFound
}

func IsConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeConflict
}

func IsValidation(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeValidation
}

var (
	ErrTransactionNotFound   = New(ErrCodeNotFound, "сделка не найдена")
	ErrMilestoneNotFound     = New(ErrCodeNotFound, "этап не найден")
	ErrMatchRequestNotFound  = New(ErrCodeNotFound, "заявка не найдена")
	ErrPharmacyMatchNotFound = New(ErrCodeNotFound, "матч не найден")
	ErrProfileNotFound       = New(ErrCodeNotFound, "профиль не найден")
	ErrUnauthorized          = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden             = New(ErrCodeForbidden, "недостаточно прав")

	ErrInvalidMilestoneSpec = New(ErrCodeValidation, "разбивка этапов невалидна: нужен хотя бы один этап и сумма процентов 100")
	ErrInvalidAmount        = New(ErrCodeValidation, "сумма должна быть положительной")

	ErrInvalidTransition      = New(ErrCodeConflict, "переход недопустим в текущем состоянии")
	ErrAlreadyResponded       = New(ErrCodeConflict, "по заявке уже принято решение")
	ErrRequestExpired         = New(ErrCodeConflict, "окно ответа по заявке истекло")
	ErrConcurrentModification = New(ErrCodeConflict, "запись изменена параллельно, повторите запрос")

	ErrCaptureFailed = New(ErrCodeCaptureFailed, "провайдер отклонил списание, повторите оплату")
	ErrReleaseFailed = New(ErrCodeCollaborator, "провайдер не выполнил выплату, попробуйте позже")
	ErrRefundFailed  = New(ErrCodeCollaborator, "провайдер не выполнил возврат, попробуйте позже")
)
