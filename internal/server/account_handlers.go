package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/intentions/internal/auth"
	"github.com/MarcoPoloResearchLab/intentions/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type sessionResponsePayload struct {
	AccessToken string        `json:"access_token"`
	ExpiresIn   int64         `json:"expires_in"`
	TokenType   string        `json:"token_type"`
	User        users.Profile `json:"user"`
}

func (h *httpHandler) sessionResponse(session users.Session) sessionResponsePayload {
	expiresIn := int64(session.ExpiresAt.Sub(h.clock()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return sessionResponsePayload{
		AccessToken: session.Token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        session.Profile,
	}
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request users.SignUpRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	profile, err := h.users.SignUp(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, "auth.signup", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": profile})
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request users.SignInRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	session, err := h.users.SignIn(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, "auth.signin", err)
		return
	}
	c.JSON(http.StatusOK, h.sessionResponse(session))
}

// handleSignOut saves the workspace before the token stops working.
func (h *httpHandler) handleSignOut(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.workspaces.Close(c.Request.Context(), userID); err != nil {
		h.logger.Warn("workspace close on sign out failed", zap.String("user_id", userID), zap.Error(err))
	}
	if claims, ok := c.Get(sessionContextKey); ok {
		if sessionClaims, ok := claims.(auth.SessionClaims); ok {
			h.sessions.Revoke(sessionClaims)
		}
	}
	if err := h.users.SignOut(c.Request.Context(), userID); err != nil {
		h.respondError(c, "auth.signout", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type tokenRequestPayload struct {
	Token string `json:"token"`
}

func (h *httpHandler) handleVerifyEmail(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Token) == "" {
		h.respondInvalidRequest(c)
		return
	}
	profile, err := h.users.VerifyEmail(c.Request.Context(), request.Token)
	if err != nil {
		h.respondError(c, "auth.verify_email", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

func (h *httpHandler) handleResendVerification(c *gin.Context) {
	if err := h.users.ResendVerification(c.Request.Context(), c.GetString(userIDContextKey)); err != nil {
		h.respondError(c, "me.verification", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

type passwordResetRequestPayload struct {
	Email string `json:"email"`
}

// handlePasswordReset answers the same way whether or not the address is registered.
func (h *httpHandler) handlePasswordReset(c *gin.Context) {
	var request passwordResetRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	if err := h.users.SendPasswordReset(c.Request.Context(), request.Email); err != nil {
		h.respondError(c, "auth.password_reset", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

type passwordResetConfirmPayload struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *httpHandler) handlePasswordResetConfirm(c *gin.Context) {
	var request passwordResetConfirmPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Token) == "" {
		h.respondInvalidRequest(c)
		return
	}
	if err := h.users.ResetPassword(c.Request.Context(), request.Token, request.Password); err != nil {
		h.respondError(c, "auth.password_reset_confirm", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleNonce(c *gin.Context) {
	nonce, err := h.nonces.Issue()
	if err != nil {
		h.respondError(c, "auth.nonce", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nonce": nonce})
}

type externalSignInPayload struct {
	IDToken string `json:"id_token"`
	Nonce   string `json:"nonce"`
}

// handleExternalSignIn redeems the server nonce before the ID token is checked, so a nonce is
// spent even when verification fails.
func (h *httpHandler) handleExternalSignIn(c *gin.Context) {
	if h.identity == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "external_sign_in_disabled"})
		return
	}
	var request externalSignInPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.IDToken) == "" || strings.TrimSpace(request.Nonce) == "" {
		h.respondInvalidRequest(c)
		return
	}
	if err := h.nonces.Consume(request.Nonce); err != nil {
		h.respondError(c, "auth.external", err)
		return
	}
	claims, err := h.identity.Verify(c.Request.Context(), request.IDToken, request.Nonce)
	if err != nil {
		h.logger.Warn("identity token verification failed", zap.Error(err))
		h.respondError(c, "auth.external", err)
		return
	}
	session, err := h.users.ResolveExternalIdentity(c.Request.Context(), claims)
	if err != nil {
		h.respondError(c, "auth.external", err)
		return
	}
	c.JSON(http.StatusOK, h.sessionResponse(session))
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	profile, err := h.users.CurrentUser(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "me.get", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var update users.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	profile, err := h.users.UpdateProfile(c.Request.Context(), c.GetString(userIDContextKey), update)
	if err != nil {
		h.respondError(c, "me.update", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

type favouriteRequestPayload struct {
	ExerciseType string `json:"exerciseType"`
}

func (h *httpHandler) handleToggleFavourite(c *gin.Context) {
	var request favouriteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	favourites, err := h.users.ToggleFavourite(c.Request.Context(), c.GetString(userIDContextKey), request.ExerciseType)
	if err != nil {
		h.respondError(c, "me.favourites", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"favourites": favourites})
}

func (h *httpHandler) handleSubscription(c *gin.Context) {
	snapshot, err := h.subscriptions.Snapshot(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "subscription.get", err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

type entitlementsRequestPayload struct {
	ProductIDs []string `json:"productIds"`
}

func (h *httpHandler) handleRecordEntitlements(c *gin.Context) {
	var request entitlementsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c)
		return
	}
	snapshot, err := h.subscriptions.RecordEntitlements(c.Request.Context(), c.GetString(userIDContextKey), request.ProductIDs)
	if err != nil {
		h.respondError(c, "subscription.entitlements", err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
