package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/intentions/internal/auth"
	"github.com/MarcoPoloResearchLab/intentions/internal/collections"
	"github.com/MarcoPoloResearchLab/intentions/internal/debrief"
	"github.com/MarcoPoloResearchLab/intentions/internal/documents"
	"github.com/MarcoPoloResearchLab/intentions/internal/entitlement"
	"github.com/MarcoPoloResearchLab/intentions/internal/richtext"
	"github.com/MarcoPoloResearchLab/intentions/internal/users"
	"github.com/MarcoPoloResearchLab/intentions/internal/validation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type codedError interface {
	Code() string
}

type statusMapping struct {
	target error
	status int
	code   string
}

// Client-caused failures. Order matters where sentinels could overlap.
var clientErrors = []statusMapping{
	{target: collections.ErrItemNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: collections.ErrItemExists, status: http.StatusConflict, code: "item_exists"},
	{target: users.ErrAccountNotFound, status: http.StatusNotFound, code: "account_not_found"},
	{target: users.ErrInvalidCredentials, status: http.StatusUnauthorized, code: "invalid_credentials"},
	{target: users.ErrInvalidIdentity, status: http.StatusUnauthorized, code: "invalid_identity"},
	{target: users.ErrEmailNotVerified, status: http.StatusForbidden, code: "email_not_verified"},
	{target: users.ErrEmailTaken, status: http.StatusConflict, code: "email_taken"},
	{target: auth.ErrExpiredToken, status: http.StatusBadRequest, code: "token_expired"},
	{target: auth.ErrTokenPurposeMismatch, status: http.StatusBadRequest, code: "invalid_token"},
	{target: auth.ErrInvalidToken, status: http.StatusBadRequest, code: "invalid_token"},
	{target: auth.ErrUnknownNonce, status: http.StatusUnauthorized, code: "invalid_nonce"},
	{target: auth.ErrNonceMismatch, status: http.StatusUnauthorized, code: "invalid_nonce"},
	{target: auth.ErrInvalidIdentityToken, status: http.StatusUnauthorized, code: "invalid_identity_token"},
	{target: documents.ErrInvalidUserID, status: http.StatusUnauthorized, code: "unauthorized"},
	{target: debrief.ErrNoActiveDay, status: http.StatusConflict, code: "no_active_day"},
	{target: debrief.ErrClosed, status: http.StatusConflict, code: "session_closed"},
	{target: richtext.ErrRangeOutOfBounds, status: http.StatusBadRequest, code: "invalid_range"},
	{target: richtext.ErrDecode, status: http.StatusBadRequest, code: "invalid_document"},
}

// respondError maps err onto a status code and JSON body. Failures the client can fix are logged
// at Info; anything else is logged at Error with the operation that produced it.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	var validationErr *validation.Error
	if errors.As(err, &validationErr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"fields": validationErr.Fields,
		})
		return
	}

	var quotaErr *entitlement.QuotaExceededError
	if errors.As(err, &quotaErr) {
		h.logger.Info("quota exceeded",
			zap.String("operation", operation),
			zap.String("quota", string(quotaErr.Quota)),
			zap.String("tier", quotaErr.Tier.String()))
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"error":   "quota_exceeded",
			"quota":   quotaErr.Quota,
			"tier":    quotaErr.Tier,
			"limit":   quotaErr.Limit,
			"upgrade": true,
		})
		return
	}

	for _, mapping := range clientErrors {
		if errors.Is(err, mapping.target) {
			h.logger.Info("request rejected", zap.String("operation", operation), zap.Error(err))
			c.AbortWithStatusJSON(mapping.status, gin.H{"error": mapping.code})
			return
		}
	}

	if errors.Is(err, collections.ErrTierUnavailable) || errors.Is(err, debrief.ErrTierUnavailable) {
		h.logger.Warn("tier unavailable", zap.String("operation", operation), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "tier_unavailable"})
		return
	}

	if errors.Is(err, auth.ErrNonceGeneration) {
		h.logger.Error("nonce generation failed", zap.String("operation", operation), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "nonce_unavailable"})
		return
	}

	body := gin.H{"error": "internal_error"}
	var coded codedError
	if errors.As(err, &coded) {
		body["code"] = coded.Code()
	}
	h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, body)
}

func (h *httpHandler) respondInvalidRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
}
