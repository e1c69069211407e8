package sales

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/middlewares"
)

func RegisterRoutes(r gin.IRouter, svc *Service, logger *logrus.Logger) {
	r.POST("/sales", middlewares.RequireCapability(auth.CapSalesCreate), CreateSaleHandler(svc, logger))
	r.GET("/sales/:id", middlewares.RequireCapability(auth.CapSalesView), GetSaleHandler(svc, logger))
	r.PATCH("/sales/:id/commercials", middlewares.RequireCapability(auth.CapSalesEditCommercials), UpdateCommercialsHandler(svc, logger))
	r.POST("/sales/:id/complete", middlewares.RequireCapability(auth.CapSalesComplete), CompleteSaleHandler(svc, logger))
	r.POST("/imports", middlewares.RequireCapability(auth.CapImportsRecord), RecordImportHandler(svc, logger))
}

func CreateSaleHandler(svc *Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req NewSale
		if err := c.ShouldBindJSON(&req); err != nil {
			middlewares.RespondBindError(c, err)
			return
		}
		sale, err := svc.CreateAuthored(c.Request.Context(), req, middlewares.CurrentIdentity(c))
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "CreateSaleHandler", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "sale": sale})
	}
}

func GetSaleHandler(svc *Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sale, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "GetSaleHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sale": sale})
	}
}

func UpdateCommercialsHandler(svc *Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CommercialPatch
		if err := c.ShouldBindJSON(&req); err != nil {
			middlewares.RespondBindError(c, err)
			return
		}
		sale, err := svc.UpdateCommercials(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "UpdateCommercialsHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "sale": sale})
	}
}

func CompleteSaleHandler(svc *Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sale, err := svc.Complete(c.Request.Context(), c.Param("id"), middlewares.CurrentIdentity(c))
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "CompleteSaleHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "saleId": sale.ID, "completedAt": sale.CompletedAt})
	}
}

func RecordImportHandler(svc *Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req NewImport
		if err := c.ShouldBindJSON(&req); err != nil {
			middlewares.RespondBindError(c, err)
			return
		}
		sale, created, err := svc.RecordImport(c.Request.Context(), req)
		if err != nil {
			middlewares.RespondError(c, logger, moduleName, "RecordImportHandler", err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, gin.H{"success": true, "created": created, "sale": sale})
	}
}
