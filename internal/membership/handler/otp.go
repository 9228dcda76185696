package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rest-ntc/membership/internal/otp"
	"go.uber.org/zap"
)

// GatewayPinger probes SMS gateway connectivity; *soapgw.Client satisfies it.
type GatewayPinger interface {
	Ping(ctx context.Context) error
}

// OTPHandler exposes the OTP core over HTTP for clients that drive the
// send/verify flow directly.
type OTPHandler struct {
	svc          *otp.Service
	gateway      GatewayPinger
	fallbackMode otp.FallbackMode
	logger       *zap.Logger
}

// NewOTPHandler creates an OTPHandler. gateway may be nil when no SMS
// gateway is configured; the status endpoint then reports SMS unavailable.
func NewOTPHandler(svc *otp.Service, gateway GatewayPinger, mode otp.FallbackMode, logger *zap.Logger) *OTPHandler {
	return &OTPHandler{svc: svc, gateway: gateway, fallbackMode: mode, logger: logger}
}

// Register mounts the OTP routes on the given router group.
func (h *OTPHandler) Register(rg *gin.RouterGroup) {
	grp := rg.Group("/otp")
	{
		grp.POST("/send", h.Send)
		grp.POST("/verify", h.Verify)
		grp.GET("/status", h.Status)
	}
}

// Send handles POST /otp/send.
//
// Request body: {"identifier": "...", "delivery_method": "sms"|"email"}
func (h *OTPHandler) Send(c *gin.Context) {
	var req struct {
		Identifier     string `json:"identifier" binding:"required"`
		DeliveryMethod string `json:"delivery_method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind, err := otp.ParseChannel(req.DeliveryMethod)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Issue(c.Request.Context(), req.Identifier, kind)
	if err != nil {
		recordIssue(string(kind), "error")
		h.writeOTPError(c, err)
		return
	}

	recordIssue(string(res.Channel), "ok")
	c.JSON(http.StatusOK, res)
}

// Verify handles POST /otp/verify.
//
// Request body: {"token": "...", "otp": "...", "delivery_method": "sms"|"email"}
func (h *OTPHandler) Verify(c *gin.Context) {
	var req struct {
		Token          string `json:"token" binding:"required"`
		OTP            string `json:"otp" binding:"required"`
		DeliveryMethod string `json:"delivery_method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind, err := otp.ParseChannel(req.DeliveryMethod)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Verify(c.Request.Context(), req.Token, req.OTP, kind)
	if err != nil {
		recordVerify(string(kind), "error")
		h.writeOTPError(c, err)
		return
	}

	recordVerify(string(res.Channel), "ok")
	c.JSON(http.StatusOK, res)
}

// Status handles GET /otp/status — reports per-channel availability for
// operator dashboards and client-side channel pickers.
func (h *OTPHandler) Status(c *gin.Context) {
	sms := gin.H{"available": false, "message": "SMS gateway not configured"}
	if h.gateway != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := h.gateway.Ping(ctx); err != nil {
			recordGatewayProbe("unreachable")
			sms = gin.H{"available": false, "message": "SMS service unavailable: " + err.Error()}
		} else {
			recordGatewayProbe("ok")
			sms = gin.H{"available": true, "message": "SMS service is operational"}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"sms":           sms,
		"email":         gin.H{"available": true, "message": "Email service is operational"},
		"fallback_mode": string(h.fallbackMode),
	})
}

// writeOTPError maps core errors onto HTTP statuses. Remote diagnostic
// codes stay in the message for operators.
func (h *OTPHandler) writeOTPError(c *gin.Context, err error) {
	var suggest *otp.SuggestedChannelError
	switch {
	case errors.As(err, &suggest):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":              "SMS service temporarily unavailable. Please use email OTP instead.",
			"suggested_fallback": string(suggest.Suggested),
		})
	case errors.Is(err, otp.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, otp.ErrChallengeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, otp.ErrInvalidCredential):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, otp.ErrChannelUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, otp.ErrChannelRejected):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.logger.Error("otp request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
