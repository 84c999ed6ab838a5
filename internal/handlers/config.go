package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/k2patel/apcupsd-client/internal/models"
	"github.com/k2patel/apcupsd-client/internal/service"
)

const (
	errInvalidBodyPref = "invalid body: "

	// probeTimeout bounds the connection-test endpoints.
	probeTimeout = 3 * time.Second
)

// configError maps service validation errors to HTTP codes.
func (h *Handler) configError(c *gin.Context, err error, logKey string) {
	switch {
	case errors.Is(err, service.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUPSNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, "config operation failed", logKey, err)
	}
}

// @Summary      List UPS configurations
// @Tags         config
// @Produce      json
// @Success      200  {array}  models.UPSConfig
// @Router       /api/v1/config/ups [get]
func (h *Handler) listUPSConfigs(c *gin.Context) {
	list, err := h.services.ConfigManager.List(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to list configs", "config_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary      Get one UPS configuration
// @Tags         config
// @Produce      json
// @Param        name  path  string  true  "UPS name"
// @Success      200  {object}  models.UPSConfig
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/config/ups/{name} [get]
func (h *Handler) getUPSConfig(c *gin.Context) {
	cfg, ok, err := h.services.ConfigManager.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load config", "config_get_failed", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errUPSNotFound})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// @Summary      Add a UPS configuration
// @Description  The scheduler picks the new device up on its next reconciliation.
// @Tags         config
// @Accept       json
// @Produce      json
// @Param        body  body  models.UPSConfig  true  "Device definition"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Router       /api/v1/config/ups [post]
func (h *Handler) addUPSConfig(c *gin.Context) {
	var cfg models.UPSConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if err := h.services.ConfigManager.Add(c.Request.Context(), cfg); err != nil {
		h.configError(c, err, "config_add_failed")
		return
	}
	h.reconcileAsync()
	c.JSON(http.StatusOK, gin.H{"message": "ups configuration added"})
}

// @Summary      Update a UPS configuration
// @Description  Name is immutable; rename is delete + create.
// @Tags         config
// @Accept       json
// @Produce      json
// @Param        name  path  string             true  "UPS name"
// @Param        body  body  service.UPSUpdate  true  "Partial update"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/config/ups/{name} [put]
func (h *Handler) updateUPSConfig(c *gin.Context) {
	var upd service.UPSUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if err := h.services.ConfigManager.Update(c.Request.Context(), c.Param("name"), upd); err != nil {
		h.configError(c, err, "config_update_failed")
		return
	}
	h.reconcileAsync()
	c.JSON(http.StatusOK, gin.H{"message": "ups configuration updated"})
}

// @Summary      Delete a UPS configuration
// @Tags         config
// @Produce      json
// @Param        name  path  string  true  "UPS name"
// @Success      200  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/config/ups/{name} [delete]
func (h *Handler) deleteUPSConfig(c *gin.Context) {
	if err := h.services.ConfigManager.Delete(c.Request.Context(), c.Param("name")); err != nil {
		h.configError(c, err, "config_delete_failed")
		return
	}
	h.reconcileAsync()
	c.JSON(http.StatusOK, gin.H{"message": "ups configuration deleted"})
}

// reconcileAsync nudges the scheduler after a config write so changes
// apply without waiting for the periodic watch.
func (h *Handler) reconcileAsync() {
	go func() {
		if err := h.services.Poller.Reconcile(context.Background()); err != nil && h.log != nil {
			h.log.Warnw("reconcile after config write failed", "err", err)
		}
	}()
}

// @Summary      Test an existing UPS connection
// @Tags         config
// @Produce      json
// @Param        name  path  string  true  "UPS name"
// @Success      200  {object}  service.ProbeResult
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/config/ups/{name}/test [post]
func (h *Handler) testUPS(c *gin.Context) {
	ctx := c.Request.Context()
	cfg, ok, err := h.services.ConfigManager.Get(ctx, c.Param("name"))
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load config", "config_test_failed", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errUPSNotFound})
		return
	}
	c.JSON(http.StatusOK, h.services.Poller.TestTCP(cfg.Host, cfg.Port, probeTimeout))
}

// @Summary      Test a prospective UPS connection
// @Description  Full protocol probe of the submitted host/port, without saving it.
// @Tags         config
// @Accept       json
// @Produce      json
// @Param        body  body  models.UPSConfig  true  "Device definition"
// @Success      200  {object}  service.ProbeResult
// @Failure      400  {object}  map[string]string
// @Router       /api/v1/config/ups/test [post]
func (h *Handler) testNewUPS(c *gin.Context) {
	var cfg models.UPSConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if cfg.Port == 0 {
		cfg.Port = 3551
	}
	c.JSON(http.StatusOK, h.services.Poller.TestConnection(c.Request.Context(), cfg.Host, cfg.Port, probeTimeout))
}

// @Summary      Get SMTP settings
// @Tags         config
// @Produce      json
// @Success      200  {object}  models.SMTPConfig
// @Router       /api/v1/config/smtp [get]
func (h *Handler) getSMTPConfig(c *gin.Context) {
	smtp, err := h.services.ConfigManager.SMTP(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load smtp config", "smtp_get_failed", err)
		return
	}
	c.JSON(http.StatusOK, smtp)
}

// @Summary      Update SMTP settings
// @Tags         config
// @Accept       json
// @Produce      json
// @Param        body  body  models.SMTPConfig  true  "SMTP settings"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Router       /api/v1/config/smtp [put]
func (h *Handler) updateSMTPConfig(c *gin.Context) {
	var smtp models.SMTPConfig
	if err := c.ShouldBindJSON(&smtp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if err := h.services.ConfigManager.UpdateSMTP(c.Request.Context(), smtp); err != nil {
		h.configError(c, err, "smtp_update_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "smtp configuration updated"})
}
