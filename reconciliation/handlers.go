package reconciliation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/middlewares"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

type linkRequest struct {
	ExternalImportId string `json:"externalImportId" binding:"required"`
}

// RegisterRoutes mounts the link, payment sync and run history routes. publisher
// may be nil, in which case async requests are refused.
func RegisterRoutes(r gin.IRouter, linker *Linker, syncer *PaymentSyncer, publisher Publisher, runs models.RunStore, logger *logrus.Logger) {
	r.POST("/sales/:id/link-external", middlewares.RequireCapability(auth.CapLink), LinkHandler(linker, logger))
	r.POST("/sync/payment-status", middlewares.RequireCapability(auth.CapSyncPayments), PaymentSyncHandler(syncer, publisher, logger))
	r.GET("/sync/runs", middlewares.RequireCapability(auth.CapViewRuns), ListRunsHandler(runs, logger))
	r.GET("/sync/runs/:id", middlewares.RequireCapability(auth.CapViewRuns), GetRunHandler(runs, logger))
}

func LinkHandler(linker *Linker, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req linkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middlewares.RespondBindError(c, err)
			return
		}
		res, err := linker.Link(c.Request.Context(), c.Param("id"), req.ExternalImportId, middlewares.CurrentIdentity(c))
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "LinkHandler", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// PaymentSyncHandler runs a poll inline, or with ?async=true hands it to Pub/Sub
// and answers 202.
func PaymentSyncHandler(syncer *PaymentSyncer, publisher Publisher, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		identity := middlewares.CurrentIdentity(c)

		if async, _ := strconv.ParseBool(c.Query("async")); async {
			if publisher == nil {
				middlewares.RespondError(c, logger, moduleName, "PaymentSyncHandler", utils.Validation("async payment sync is not configured"))
				return
			}
			msgId, err := publisher.PublishPaymentSync(ctx, PaymentSyncMessage{
				TriggeredBy: models.BatchTriggeredManual,
				ActorId:     identity.UserId,
				RequestedAt: syncer.now(),
			})
			if err != nil {
				middlewares.RespondError(c, logger, moduleName, "PaymentSyncHandler", utils.ExternalSystem("publish payment sync", err))
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"success": true, "messageId": msgId})
			return
		}

		res, err := syncer.Run(ctx, models.BatchTriggeredManual, &identity)
		if errors.Is(err, utils.ErrLockHeld) {
			c.JSON(http.StatusConflict, gin.H{"error": "payment sync already running", "code": "CONFLICT"})
			return
		}
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "PaymentSyncHandler", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func ListRunsHandler(runs models.RunStore, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				middlewares.RespondError(c, logger, moduleName, "ListRunsHandler", utils.Validation("limit must be a positive integer"))
				return
			}
			limit = min(n, 200)
		}
		list, err := runs.ListRuns(c.Request.Context(), c.Query("kind"), limit)
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "ListRunsHandler", utils.Internal("list runs", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": list})
	}
}

func GetRunHandler(runs models.RunStore, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "GetRunHandler", utils.Validation("invalid run id"))
			return
		}
		run, errs, err := runs.GetRun(c.Request.Context(), uint(id))
		if errors.Is(err, utils.ErrorRecordNotFound) {
			middlewares.RespondError(c, logger, moduleName, "GetRunHandler", utils.NotFound("run not found"))
			return
		}
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "GetRunHandler", utils.Internal("get run", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": run, "errors": errs})
	}
}
