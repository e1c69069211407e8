package margins

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/middlewares"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

type recalculateRequest struct {
	DryRun  *bool    `json:"dryRun"`
	SaleIds []string `json:"saleIds"`
}

func RegisterRoutes(r gin.IRouter, recalc *Recalculator, logger *logrus.Logger) {
	r.POST("/margins/recalculate", middlewares.RequireCapability(auth.CapRecalculateMargins), RecalculateHandler(recalc, logger))
}

// RecalculateHandler answers JSON, or the xlsx drift report with ?format=xlsx.
func RecalculateHandler(recalc *Recalculator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recalculateRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			middlewares.RespondBindError(c, err)
			return
		}
		identity := middlewares.CurrentIdentity(c)
		res, err := recalc.Run(c.Request.Context(), Options{
			DryRun:      req.DryRun,
			SaleIds:     req.SaleIds,
			TriggeredBy: models.BatchTriggeredManual,
			Actor:       &identity,
		})
		if errors.Is(err, utils.ErrLockHeld) {
			c.JSON(http.StatusConflict, gin.H{"error": "margin recalculation already running", "code": "CONFLICT"})
			return
		}
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "RecalculateHandler", err)
			return
		}

		if c.Query("format") == "xlsx" {
			c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			c.Header("Content-Disposition", "attachment; filename=margin-drift.xlsx")
			c.Status(http.StatusOK)
			if err := WriteReport(c.Writer, res); err != nil {
				config.LogError(logger, moduleName, "RecalculateHandler", "write report", res.RunId, err)
			}
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
