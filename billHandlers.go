package main

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/bills_backend/middlewares"
	"github.com/mmdatafocus/bills_backend/models"
)

type updateBillRequest struct {
	EstimateNo string            `json:"estimateNo"`
	Updates    *models.BillPatch `json:"updates"`
}

type estimateNoRequest struct {
	EstimateNo string `json:"estimateNo"`
}

type deletedBillRequest struct {
	Id any `json:"id"`
}

func (a *App) saveBillHandler(c *gin.Context) {
	var input models.BillInput
	if err := c.ShouldBindJSON(&input); err != nil {
		a.respondError(c, models.NewValidationError("", "invalid request body"))
		return
	}
	result, err := a.bills.Save(c.Request.Context(), middlewares.OwnerId(c), &input)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "action": result.Action, "id": result.ID})
}

func (a *App) getBillsHandler(c *gin.Context) {
	page := models.ParsePage(c.Query("limit"), c.Query("offset"))
	bills, err := a.bills.List(c.Request.Context(), middlewares.OwnerId(c), page)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bills)
}

func (a *App) getBillHandler(c *gin.Context) {
	bill, err := a.bills.GetByEstimateNo(c.Request.Context(), middlewares.OwnerId(c), c.Param("estimateNo"))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bill)
}

func (a *App) updateBillHandler(c *gin.Context) {
	var req updateBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.respondError(c, models.NewValidationError("", "invalid request body"))
		return
	}
	result, err := a.bills.Update(c.Request.Context(), middlewares.OwnerId(c), req.EstimateNo, req.Updates)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": result.ID})
}

func (a *App) deleteBillHandler(c *gin.Context) {
	var req estimateNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.respondError(c, models.NewValidationError("", "invalid request body"))
		return
	}
	result, err := a.bills.SoftDelete(c.Request.Context(), middlewares.OwnerId(c), req.EstimateNo)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": result.ID})
}

func (a *App) getDeletedBillsHandler(c *gin.Context) {
	page := models.ParsePage(c.Query("limit"), c.Query("offset"))
	bills, err := a.bills.ListDeleted(c.Request.Context(), middlewares.OwnerId(c), page)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bills)
}

func (a *App) restoreBillHandler(c *gin.Context) {
	id, err := bindDeletedBillId(c)
	if err != nil {
		a.respondError(c, err)
		return
	}
	result, err := a.bills.Restore(c.Request.Context(), middlewares.OwnerId(c), id)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": result.ID})
}

func (a *App) permanentDeleteBillHandler(c *gin.Context) {
	id, err := bindDeletedBillId(c)
	if err != nil {
		a.respondError(c, err)
		return
	}
	if err := a.bills.Purge(c.Request.Context(), middlewares.OwnerId(c), id); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *App) exportBillsHandler(c *gin.Context) {
	f, err := a.bills.Export(c.Request.Context(), middlewares.OwnerId(c))
	if err != nil {
		a.respondError(c, err)
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("bills-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func (a *App) billHistoryHandler(c *gin.Context) {
	page := models.ParsePage(c.Query("limit"), c.Query("offset"))
	rows, err := a.bills.ListHistory(c.Request.Context(), middlewares.OwnerId(c), c.Query("estimateNo"), page)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// bindDeletedBillId reads {"id": ...}; numeric strings are accepted.
func bindDeletedBillId(c *gin.Context) (int, error) {
	var req deletedBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return 0, models.NewValidationError("", "invalid request body")
	}
	n := models.CoerceNumber(req.Id)
	if n <= 0 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, models.NewValidationError("id", "is required")
	}
	return int(n), nil
}

// respondError maps lifecycle errors onto status codes. Store failures are
// logged and, in production, reported without detail.
func (a *App) respondError(c *gin.Context, err error) {
	status, message := classifyError(err, a.cfg.IsProduction())
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"success": false, "error": message})
}

func classifyError(err error, production bool) (int, string) {
	var validationErr *models.ValidationError
	var notFoundErr *models.NotFoundError
	var conflictErr *models.ConflictError
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusUnauthorized, models.ErrUnauthenticated.Error()
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized, models.ErrInvalidCredentials.Error()
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, validationErr.Error()
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound, notFoundErr.Error()
	case errors.As(err, &conflictErr):
		return http.StatusConflict, conflictErr.Error()
	}
	if production {
		return http.StatusInternalServerError, "internal server error"
	}
	return http.StatusInternalServerError, err.Error()
}
