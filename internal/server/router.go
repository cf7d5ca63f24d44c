package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/auth"
	"github.com/MarcoPoloResearchLab/intentions/internal/debrief"
	"github.com/MarcoPoloResearchLab/intentions/internal/events"
	"github.com/MarcoPoloResearchLab/intentions/internal/render"
	"github.com/MarcoPoloResearchLab/intentions/internal/session"
	"github.com/MarcoPoloResearchLab/intentions/internal/subscriptions"
	"github.com/MarcoPoloResearchLab/intentions/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey       = "intentions_user_id"
	sessionContextKey      = "intentions_session"
	accessTokenQueryParam  = "access_token"
	defaultHeartbeatPeriod = 30 * time.Second
)

var (
	errMissingUsersService        = errors.New("users service dependency required")
	errMissingSubscriptionService = errors.New("subscription service dependency required")
	errMissingWorkspaces          = errors.New("workspace registry dependency required")
	errMissingSessionValidator    = errors.New("session validator dependency required")
	errMissingNonces              = errors.New("nonce registry dependency required")
	errMissingEvents              = errors.New("event stream dependency required")
	errInvalidAuthorization       = errors.New("authorization header missing or invalid")
)

// SessionValidator authenticates requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	ValidateToken(token string) (auth.SessionClaims, error)
	Revoke(claims auth.SessionClaims)
}

// IdentityVerifier checks third-party ID tokens against the nonce the client was given.
type IdentityVerifier interface {
	Verify(ctx context.Context, rawToken string, rawNonce string) (auth.IdentityClaims, error)
}

// EventStream opens a user's event stream.
type EventStream interface {
	Subscribe(ctx context.Context, userID string) (<-chan events.Message, func())
}

// Dependencies wires the HTTP handler. Identity may be nil to disable third-party sign-in.
type Dependencies struct {
	Users             *users.Service
	Subscriptions     *subscriptions.Service
	Workspaces        *session.Registry
	Sessions          SessionValidator
	Nonces            *auth.NonceRegistry
	Identity          IdentityVerifier
	Events            EventStream
	Renderer          *render.HTMLRenderer
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Subscriptions == nil {
		return nil, errMissingSubscriptionService
	}
	if deps.Workspaces == nil {
		return nil, errMissingWorkspaces
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Nonces == nil {
		return nil, errMissingNonces
	}
	if deps.Events == nil {
		return nil, errMissingEvents
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = render.NewHTMLRenderer()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatPeriod
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		users:         deps.Users,
		subscriptions: deps.Subscriptions,
		workspaces:    deps.Workspaces,
		sessions:      deps.Sessions,
		nonces:        deps.Nonces,
		identity:      deps.Identity,
		events:        deps.Events,
		renderer:      renderer,
		heartbeat:     heartbeat,
		clock:         clock,
		logger:        logger,
	}

	public := router.Group("/auth")
	public.POST("/signup", handler.handleSignUp)
	public.POST("/signin", handler.handleSignIn)
	public.POST("/verify-email", handler.handleVerifyEmail)
	public.POST("/password-reset", handler.handlePasswordReset)
	public.POST("/password-reset/confirm", handler.handlePasswordResetConfirm)
	public.POST("/nonce", handler.handleNonce)
	public.POST("/external", handler.handleExternalSignIn)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/signout", handler.handleSignOut)

	protected.GET("/me", handler.handleCurrentUser)
	protected.PATCH("/me", handler.handleUpdateProfile)
	protected.POST("/me/favourites", handler.handleToggleFavourite)
	protected.POST("/me/verification", handler.handleResendVerification)

	protected.GET("/subscription", handler.handleSubscription)
	protected.POST("/subscription/entitlements", handler.handleRecordEntitlements)

	registerCollection(protected, handler, intentionRoute)
	registerCollection(protected, handler, exerciseRoute)
	registerCollection(protected, handler, sleepRoute)
	registerCollection(protected, handler, goalRoute)

	protected.GET("/debrief", handler.handleOpenDebrief)
	protected.PUT("/debrief", handler.handleSetDebrief)
	protected.POST("/debrief/edits", handler.handleEditDebrief)
	protected.POST("/debrief/format", handler.handleFormatDebrief)
	protected.POST("/debrief/save", handler.handleSaveDebrief)
	protected.POST("/debrief/close", handler.handleCloseDebrief)
	protected.GET("/debrief/export", handler.handleExportDebrief)

	protected.GET("/events", handler.handleEventStream)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	users         *users.Service
	subscriptions *subscriptions.Service
	workspaces    *session.Registry
	sessions      SessionValidator
	nonces        *auth.NonceRegistry
	identity      IdentityVerifier
	events        EventStream
	renderer      *render.HTMLRenderer
	heartbeat     time.Duration
	clock         func() time.Time
	logger        *zap.Logger
}

// authorizeRequest accepts a bearer header, the session cookie, or an access_token query
// parameter for clients such as EventSource that cannot set headers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if errors.Is(err, auth.ErrMissingSessionToken) {
		if token := strings.TrimSpace(c.Query(accessTokenQueryParam)); token != "" {
			claims, err = h.sessions.ValidateToken(token)
		}
	}
	if errors.Is(err, auth.ErrMissingSessionToken) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrRevokedSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(sessionContextKey, claims)
	c.Next()
}

func (h *httpHandler) workspace(c *gin.Context) (*session.Workspace, bool) {
	workspace, err := h.workspaces.Workspace(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "workspace.open", err)
		return nil, false
	}
	return workspace, true
}

// activeDate reads the optional date query parameter, defaulting to today.
func (h *httpHandler) activeDate(c *gin.Context) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query("date"))
	if raw == "" {
		return h.clock().In(h.workspaces.Location()), true
	}
	day, err := debrief.ParseDay(raw, h.workspaces.Location())
	if err != nil {
		h.respondError(c, "request.date", err)
		return time.Time{}, false
	}
	return day, true
}
