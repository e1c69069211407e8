package middlewares

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

func CorrelationId() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = config.GetLogger()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		entry := logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		})
		if userId, ok := utils.GetUserIdFromContext(c.Request.Context()); ok {
			entry = entry.WithField("user_id", userId)
		}
		entry.Info("request")
	}
}

// RespondError writes the error envelope for err, logging anything that is not
// a caller mistake.
func RespondError(c *gin.Context, logger *logrus.Logger, moduleName, funcName string, err error) {
	status := utils.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(logger, moduleName, funcName, c.Request.URL.Path, cid, err)
	}
	c.JSON(status, gin.H{"error": utils.PublicMessage(err), "code": utils.KindOf(err)})
}

// RespondBindError answers 400 for a request body that does not decode or validate.
func RespondBindError(c *gin.Context, err error) {
	fields := utils.ProcessValidationErrors(err)
	if len(fields) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "code": utils.KindValidation, "fields": fields})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": utils.KindValidation})
}
