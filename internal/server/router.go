package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/auth"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/dashboard"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/emissions"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/hectares"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/realtime"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/tokens"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/users"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/views"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

const (
	principalContextKey = "ecocarbon_principal"
	claimsContextKey    = "ecocarbon_claims"

	// DefaultAuthRateLimit bounds sign-in and sign-up attempts per client IP.
	DefaultAuthRateLimit = "20-M"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingIdentityProvider = errors.New("identity provider dependency required")
	errMissingHectareManager   = errors.New("hectare manager dependency required")
	errMissingEmissionManager  = errors.New("emission manager dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingUserManager      = errors.New("user manager dependency required")
	errMissingDashboards       = errors.New("dashboard composer dependency required")
	errMissingRealtime         = errors.New("realtime dependency required")
	errMissingSessionWatcher   = errors.New("session watcher dependency required")
)

// SessionValidator authenticates requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

// IdentityProvider owns credentials and sessions.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (auth.SignedIn, error)
	SignUp(ctx context.Context, email, password, fullName string) (auth.SignedIn, error)
	SignOut(ctx context.Context, claims auth.SessionClaims) error
	Resolve(ctx context.Context, claims auth.SessionClaims) (auth.Principal, error)
}

type HectareManager interface {
	Load(ctx context.Context, actor model.Profile, ownerID string) (hectares.View, error)
	Create(ctx context.Context, actor model.Profile, input hectares.Input) (hectares.View, error)
	Update(ctx context.Context, actor model.Profile, hectareID string, input hectares.Input) (hectares.View, error)
	Delete(ctx context.Context, actor model.Profile, hectareID string, confirmed bool) (hectares.View, error)
}

type EmissionManager interface {
	Load(ctx context.Context, actor model.Profile, ownerID string) (emissions.View, error)
	Create(ctx context.Context, actor model.Profile, input emissions.Input) (emissions.View, error)
}

type TokenManager interface {
	Load(ctx context.Context, actor model.Profile, ownerID string) (tokens.View, error)
	Create(ctx context.Context, actor model.Profile, input tokens.Input) (tokens.View, error)
}

type UserManager interface {
	ListOperators(ctx context.Context, actor model.Profile, search string) ([]model.Profile, error)
	CreateOperator(ctx context.Context, actor model.Profile, input users.CreateOperatorInput) (model.Profile, error)
	UpdateOperator(ctx context.Context, actor model.Profile, operatorID string, input users.UpdateOperatorInput) (model.Profile, error)
	DeleteOperator(ctx context.Context, actor model.Profile, operatorID string, confirmed bool) error
	UpdateOwnProfile(ctx context.Context, actor model.Profile, fullName string) (model.Profile, error)
}

type DashboardComposer interface {
	Operator(ctx context.Context, actor model.Profile) (dashboard.OperatorDashboard, error)
	Admin(ctx context.Context, actor model.Profile) (dashboard.AdminDashboard, error)
	OperatorDetails(ctx context.Context, actor model.Profile, operatorID string) (dashboard.OperatorDetails, error)
}

// RealtimeSubscriber opens per-user event streams.
type RealtimeSubscriber interface {
	Subscribe(ctx context.Context, userID string, eventTypes ...string) (<-chan realtime.Message, func())
}

// SessionWatcher observes a session and reports every change to it.
type SessionWatcher interface {
	Watch(ctx context.Context, claims auth.SessionClaims) <-chan auth.SessionSnapshot
}

// Dependencies wires the HTTP surface to the services behind it.
type Dependencies struct {
	Sessions          SessionValidator
	Identity          IdentityProvider
	Hectares          HectareManager
	Emissions         EmissionManager
	Tokens            TokenManager
	Users             UserManager
	Dashboards        DashboardComposer
	Realtime          RealtimeSubscriber
	SessionWatcher    SessionWatcher
	Logger            *zap.Logger
	AllowedOrigins    []string
	AuthRateLimit     string
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessionValidator
	case deps.Identity == nil:
		return nil, errMissingIdentityProvider
	case deps.Hectares == nil:
		return nil, errMissingHectareManager
	case deps.Emissions == nil:
		return nil, errMissingEmissionManager
	case deps.Tokens == nil:
		return nil, errMissingTokenManager
	case deps.Users == nil:
		return nil, errMissingUserManager
	case deps.Dashboards == nil:
		return nil, errMissingDashboards
	case deps.Realtime == nil:
		return nil, errMissingRealtime
	case deps.SessionWatcher == nil:
		return nil, errMissingSessionWatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rateFormat := deps.AuthRateLimit
	if rateFormat == "" {
		rateFormat = DefaultAuthRateLimit
	}
	rate, err := limiter.NewRateFromFormatted(rateFormat)
	if err != nil {
		return nil, err
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:   deps.Sessions,
		identity:   deps.Identity,
		hectares:   deps.Hectares,
		emissions:  deps.Emissions,
		tokens:     deps.Tokens,
		users:      deps.Users,
		dashboards: deps.Dashboards,
		realtime:   deps.Realtime,
		watcher:    deps.SessionWatcher,
		logger:     logger,
		heartbeat:  heartbeat,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	limitAuth := rateLimit(limiter.New(memory.NewStore(), rate), logger)
	router.POST("/auth/sign-in", limitAuth, handler.handleSignIn)
	router.POST("/auth/sign-up", limitAuth, handler.handleSignUp)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/sign-out", handler.handleSignOut)
	protected.GET("/session", handler.handleSession)
	protected.PUT("/session/profile", handler.handleUpdateOwnProfile)
	protected.POST("/views/navigate", handler.handleNavigate)
	protected.POST("/views/back", handler.handleBack)
	protected.GET("/events", handler.handleEventStream)

	protected.GET("/dashboard", requireView(views.ViewDashboard), handler.handleOperatorDashboard)
	protected.GET("/hectares", requireView(views.ViewHectares), handler.handleListHectares)
	protected.POST("/hectares", requireView(views.ViewHectares), handler.handleCreateHectare)
	protected.PUT("/hectares/:id", requireView(views.ViewHectares), handler.handleUpdateHectare)
	protected.DELETE("/hectares/:id", requireView(views.ViewHectares), handler.handleDeleteHectare)
	protected.GET("/emissions", requireView(views.ViewEmissions), handler.handleListEmissions)
	protected.POST("/emissions", requireView(views.ViewEmissions), handler.handleCreateEmission)
	protected.GET("/tokens", requireView(views.ViewTokens), handler.handleListTokens)
	protected.POST("/tokens", requireView(views.ViewTokens), handler.handleCreateToken)

	admin := protected.Group("/admin")
	admin.GET("/dashboard", requireView(views.ViewAdminDashboard), handler.handleAdminDashboard)
	admin.GET("/operators", requireView(views.ViewUserManagement), handler.handleListOperators)
	admin.POST("/operators", requireView(views.ViewUserManagement), handler.handleCreateOperator)
	admin.GET("/operators/:id", requireView(views.ViewOperatorDetails), handler.handleOperatorDetails)
	admin.PUT("/operators/:id", requireView(views.ViewUserManagement), handler.handleUpdateOperator)
	admin.DELETE("/operators/:id", requireView(views.ViewUserManagement), handler.handleDeleteOperator)

	return router, nil
}

type httpHandler struct {
	sessions   SessionValidator
	identity   IdentityProvider
	hectares   HectareManager
	emissions  EmissionManager
	tokens     TokenManager
	users      UserManager
	dashboards DashboardComposer
	realtime   RealtimeSubscriber
	watcher    SessionWatcher
	logger     *zap.Logger
	heartbeat  time.Duration
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(started)),
		)
	}
}

func rateLimit(limiterInstance *limiter.Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limit, err := limiterInstance.Get(c.Request.Context(), ip)
		if err != nil {
			logger.Error("rate limit lookup failed", zap.String("ip", ip), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate_limit_unavailable"})
			return
		}
		if limit.Reached {
			logger.Warn("rate limit exceeded", zap.String("ip", ip), zap.Int64("limit", limit.Limit))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too_many_requests"})
			return
		}
		c.Next()
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrExpiredSessionToken), errors.Is(err, auth.ErrMissingSessionToken):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	principal, err := h.identity.Resolve(c.Request.Context(), claims)
	if err != nil {
		h.respondError(c, err)
		c.Abort()
		return
	}
	c.Set(claimsContextKey, claims)
	c.Set(principalContextKey, principal)
	c.Next()
}

// requireView admits the request only when the caller's role may render view.
func requireView(view views.View) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFrom(c)
		if !ok || !views.Admissible(principal.Profile.Role, view) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "view_not_admissible", "view": view})
			return
		}
		c.Next()
	}
}

func principalFrom(c *gin.Context) (auth.Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return auth.Principal{}, false
	}
	principal, ok := value.(auth.Principal)
	return principal, ok
}

func claimsFrom(c *gin.Context) (auth.SessionClaims, bool) {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return auth.SessionClaims{}, false
	}
	claims, ok := value.(auth.SessionClaims)
	return claims, ok
}
