package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/medmatch-backend/internal/logger"
	"github.com/ignatzorin/medmatch-backend/internal/pkg/apperror"
)

// ErrorHandler переводит ошибки обработчиков в единый формат ответа.
// AppError несёт свой HTTP статус и код; для конфликтов переходов в ответ
// добавляется текущее каноническое состояние записи, чтобы клиент мог
// синхронизироваться без дополнительного запроса. Всё остальное
// маскируется как внутренняя ошибка.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			entry := logger.Log.WithFields(logrus.Fields{
				"code":   appErr.Code,
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			})
			if appErr.HTTPStatus >= http.StatusInternalServerError {
				entry.Errorf("Request failed: %v", err)
			} else {
				entry.Infof("Request rejected: %v", err)
			}

			body := gin.H{
				"error": appErr.Message,
				"code":  appErr.Code,
			}
			if appErr.CurrentState != "" {
				body["current_state"] = appErr.CurrentState
			}
			c.JSON(appErr.HTTPStatus, body)
			return
		}

		logger.Log.WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}).Errorf("Unhandled error: %v", err)

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "внутренняя ошибка сервера",
			"code":  apperror.ErrCodeInternal,
		})
	}
}
