package allocation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/middlewares"
)

func RegisterRoutes(r gin.IRouter, engine *Engine, logger *logrus.Logger) {
	r.GET("/sales/claimable", middlewares.RequireCapability(auth.CapViewClaimable), ClaimableHandler(engine, logger))
	r.POST("/sales/:id/restore", middlewares.RequireCapability(auth.CapRestore), RestoreHandler(engine, logger))
	r.GET("/unallocated", middlewares.RequireCapability(auth.CapViewPool), PoolHandler(engine, logger))
	r.POST("/unallocated/:id/claim", middlewares.RequireCapability(auth.CapClaim), ClaimHandler(engine, logger))
	r.POST("/unallocated/:id/dismiss", middlewares.RequireCapability(auth.CapDismiss), DismissHandler(engine, logger))
	r.POST("/unallocated/:id/undismiss", middlewares.RequireCapability(auth.CapDismiss), UndismissHandler(engine, logger))
}

func ClaimableHandler(engine *Engine, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := engine.ClaimableSales(c.Request.Context(), middlewares.CurrentIdentity(c))
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "ClaimableHandler", err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func PoolHandler(engine *Engine, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		includeDismissed, _ := strconv.ParseBool(c.Query("includeDismissed"))
		sales, err := engine.ListPool(c.Request.Context(), includeDismissed)
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "PoolHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sales": sales})
	}
}

func ClaimHandler(engine *Engine, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sale, err := engine.Claim(c.Request.Context(), c.Param("id"), middlewares.CurrentIdentity(c))
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "ClaimHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "saleId": sale.ID, "shopperId": sale.ShopperId})
	}
}

func DismissHandler(engine *Engine, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sale, err := engine.Dismiss(c.Request.Context(), c.Param("id"), middlewares.CurrentIdentity(c))
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "DismissHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "saleId": sale.ID})
	}
}

func UndismissHandler(engine *Engine, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sale, err := engine.Undismiss(c.Request.Context(), c.Param("id"))
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "UndismissHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "saleId": sale.ID})
	}
}

func RestoreHandler(engine *Engine, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sale, err := engine.Restore(c.Request.Context(), c.Param("id"), middlewares.CurrentIdentity(c))
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "RestoreHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "saleId": sale.ID})
	}
}
