package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rest-ntc/membership/internal/membership"
	"github.com/rest-ntc/membership/internal/otp"
	"go.uber.org/zap"
)

// adminSurfaceHeader is sent by the admin dashboard frontend; login through
// it is restricted to admin accounts.
const adminSurfaceHeader = "X-Admin-Frontend"

// memberSvc is the interface expected by AuthHandler, satisfied by
// *membership.Service.
type memberSvc interface {
	Register(ctx context.Context, in membership.RegisterInput) (*membership.Member, error)
	SetMemberStatus(ctx context.Context, id uuid.UUID, status membership.Status) error
	StartLogin(ctx context.Context, email, password string, kind otp.ChannelKind, adminSurface bool) (*otp.IssueResult, error)
	CompleteLogin(ctx context.Context, token, code string, kind otp.ChannelKind, adminSurface bool) (*membership.Member, string, string, error)
	RequestPasswordReset(ctx context.Context, email string) (*membership.ResetDelivery, error)
	VerifyPasswordReset(ctx context.Context, token, code string, kind otp.ChannelKind) (string, error)
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	Logout(ctx context.Context, memberID uuid.UUID) error
}

// AuthHandler handles member login and password-reset routes.
type AuthHandler struct {
	members memberSvc
	tokens  *membership.TokenIssuer
	logger  *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(members memberSvc, tokens *membership.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{members: members, tokens: tokens, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/register", h.RegisterMember)
		auth.POST("/login", h.Login)
		auth.POST("/login/verify", h.LoginVerify)
		auth.POST("/password/forgot", h.ForgotPassword)
		auth.POST("/password/verify", h.VerifyResetOTP)
		auth.POST("/password/reset", h.ResetPassword)
		auth.POST("/logout", h.RequireAuth(), h.Logout)
	}

	members := rg.Group("/members", h.RequireAuth(), h.RequireAdmin())
	{
		members.PATCH("/:id/status", h.SetStatus)
	}
}

func adminSurface(c *gin.Context) bool {
	return c.GetHeader(adminSurfaceHeader) == "true"
}

// RequireAuth verifies the Bearer access token and stores the member ID and
// role in the request context.
func (h *AuthHandler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if raw == "" || raw == c.GetHeader("Authorization") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		id, role, err := h.tokens.VerifyAccess(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set("member_id", id)
		c.Set("member_role", role)
		c.Next()
	}
}

// RequireAdmin gates a route to admin accounts. Must run after RequireAuth.
func (h *AuthHandler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if role, ok := c.MustGet("member_role").(membership.Role); !ok || role != membership.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

// RegisterMember handles POST /auth/register — a new membership application,
// created in the pending state.
func (h *AuthHandler) RegisterMember(c *gin.Context) {
	var req membership.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.members.Register(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, membership.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"member":  m,
		"message": "Registration received. Your membership is pending approval.",
	})
}

// SetStatus handles PATCH /members/:id/status — admin approval or decline.
func (h *AuthHandler) SetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.members.SetMemberStatus(c.Request.Context(), id, membership.Status(req.Status)); err != nil {
		if errors.Is(err, membership.ErrMemberNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Membership status updated"})
}

// Logout handles POST /auth/logout — revokes the member's refresh token.
func (h *AuthHandler) Logout(c *gin.Context) {
	id := c.MustGet("member_id").(uuid.UUID)
	if err := h.members.Logout(c.Request.Context(), id); err != nil {
		h.writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Login handles POST /auth/login — password check plus OTP issuance.
//
// Request body: {"email": "...", "password": "...", "delivery_method": "sms"|"email"}
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email          string `json:"email" binding:"required"`
		Password       string `json:"password" binding:"required"`
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

	res, err := h.members.StartLogin(c.Request.Context(), req.Email, req.Password, kind, adminSurface(c))
	if err != nil {
		h.writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":           res.Token,
		"identifier":      res.Identifier,
		"delivery_method": res.Channel,
		"message":         res.Message,
	})
}

// LoginVerify handles POST /auth/login/verify — OTP check plus session issue.
func (h *AuthHandler) LoginVerify(c *gin.Context) {
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

	m, access, refresh, err := h.members.CompleteLogin(c.Request.Context(), req.Token, req.OTP, kind, adminSurface(c))
	if err != nil {
		h.writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"member":        m,
		"access_token":  access,
		"refresh_token": refresh,
		"message":       "Login successful",
	})
}

// ForgotPassword handles POST /auth/password/forgot. The response is
// deliberately identical for unknown accounts.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	delivery, err := h.members.RequestPasswordReset(c.Request.Context(), req.Email)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}
	if delivery == nil {
		c.JSON(http.StatusOK, gin.H{"message": "If the account exists, an OTP has been sent"})
		return
	}

	c.JSON(http.StatusOK, delivery)
}

// VerifyResetOTP handles POST /auth/password/verify — exchanges a verified
// OTP for a short-lived reset token.
func (h *AuthHandler) VerifyResetOTP(c *gin.Context) {
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

	resetToken, err := h.members.VerifyPasswordReset(c.Request.Context(), req.Token, req.OTP, kind)
	if err != nil {
		h.writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reset_token": resetToken,
		"message":     "OTP verified. Proceed to reset password.",
	})
}

// ResetPassword handles POST /auth/password/reset.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		ResetToken  string `json:"reset_token" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.members.ResetPassword(c.Request.Context(), req.ResetToken, req.NewPassword); err != nil {
		h.writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password reset successful. Please log in."})
}

func (h *AuthHandler) writeAuthError(c *gin.Context, err error) {
	var suggest *otp.SuggestedChannelError
	switch {
	case errors.Is(err, membership.ErrInvalidLogin):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, membership.ErrNotAdmin):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, membership.ErrNoDeliverableChannel):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, membership.ErrResetTokenInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, membership.ErrMemberNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
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
		h.logger.Error("auth request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
