package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/bills_backend/config"
	"github.com/mmdatafocus/bills_backend/middlewares"
	"github.com/mmdatafocus/bills_backend/models"
)

var errDbNotConfigured = errors.New("database not configured")

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *App) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.respondError(c, models.NewValidationError("", "email and password are required"))
		return
	}
	info, err := a.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		a.respondError(c, err)
		return
	}
	middlewares.SetSessionCookie(c, a.cfg.Session, info.Token)
	c.JSON(http.StatusOK, gin.H{"success": true, "userId": info.UserId})
}

func (a *App) logoutHandler(c *gin.Context) {
	if err := a.auth.Logout(c.Request.Context(), middlewares.Token(c)); err != nil {
		config.LogError(a.logger, "authHandlers", "logoutHandler", "destroying session", nil, err)
	}
	middlewares.ClearSessionCookie(c, a.cfg.Session)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *App) meHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "userId": middlewares.OwnerId(c)})
}

func (a *App) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := config.PingDatabase(ctx, a.db); err != nil {
		a.respondStoreDown(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok", "database": "connected"})
}

func (a *App) testDbHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if a.db == nil {
		a.respondStoreDown(c, errDbNotConfigured)
		return
	}
	var result int
	if err := a.db.WithContext(ctx).Raw("SELECT 1 + 1 AS result").Scan(&result).Error; err != nil {
		a.respondStoreDown(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (a *App) respondStoreDown(c *gin.Context, err error) {
	_ = c.Error(err)
	message := "database unavailable"
	if !a.cfg.IsProduction() {
		message = err.Error()
	}
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "status": "error", "error": message})
}
