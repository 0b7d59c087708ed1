package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"market-service/internal/models"
	"market-service/internal/service"
	"market-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	actorHeader = "X-Actor-ID"
	actorKey    = "actor"
)

// Handler contains HTTP handlers
type Handler struct {
	workflow *service.OrderWorkflow
	users    *service.UserService
	ledger   *service.LedgerService
	seed     func(context.Context) error
	ready    func(context.Context) error
	trust    bool
	logger   *zap.Logger
}

// Options configures optional handler behaviour
type Options struct {
	// Seed runs before list endpoints answer. Nil disables lazy seeding.
	Seed func(context.Context) error
	// Ready reports whether the backing store is reachable
	Ready func(context.Context) error
	// TrustActorHeader accepts X-Actor-ID as the caller identity. Enable it
	// only behind a gateway that authenticates and sets the header.
	TrustActorHeader bool
}

// NewHandler creates a new HTTP handler
func NewHandler(
	workflow *service.OrderWorkflow,
	users *service.UserService,
	ledger *service.LedgerService,
	opts Options,
) *Handler {
	return &Handler{
		workflow: workflow,
		users:    users,
		ledger:   ledger,
		seed:     opts.Seed,
		ready:    opts.Ready,
		trust:    opts.TrustActorHeader,
		logger:   util.Component("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(h.requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/register", h.register)
		v1.POST("/auth/login", h.login)
		v1.POST("/auth/logout", h.logout)
		v1.GET("/auth/me", h.me)

		v1.GET("/users", h.listUsers)
		v1.GET("/users/:id", h.getUser)
		v1.GET("/listings", h.listListings)
		v1.GET("/listings/:id", h.getListing)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/transactions", h.orderTransactions)
		v1.GET("/transactions", h.listTransactions)

		authed := v1.Group("")
		authed.Use(h.requireActor())
		{
			authed.POST("/users", h.createUser)
			authed.PATCH("/users/:id", h.updateProfile)
			authed.POST("/users/:id/role", h.setRole)
			authed.POST("/users/:id/kyc", h.submitKYC)
			authed.POST("/admin/promote", h.promote)
			authed.POST("/listings", h.createListing)
			authed.POST("/orders", h.placeOrder)
			authed.POST("/orders/:id/status", h.transitionOrder)
			authed.GET("/orders/:id/transitions", h.allowedTransitions)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unavailable",
				"details": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// ensureSeed runs the lazy seed hook. It reports false after writing an
// error response.
func (h *Handler) ensureSeed(c *gin.Context) bool {
	if h.seed == nil {
		return true
	}
	if err := h.seed(c.Request.Context()); err != nil {
		writeError(c, err)
		return false
	}
	return true
}

// requireActor resolves the caller from a bearer session token or, when the
// handler trusts it, from the X-Actor-ID header
func (h *Handler) requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var actor models.Actor
		var err error
		if token := bearerToken(c); token != "" {
			var user *models.User
			user, err = h.users.Authenticate(ctx, token)
			if err == nil {
				actor = models.Actor{ID: user.ID, Role: user.Role}
			}
		} else if id := strings.TrimSpace(c.GetHeader(actorHeader)); id != "" && h.trust {
			actor, err = h.users.ResolveActor(ctx, models.NormalizeUserID(id))
		} else {
			err = models.ErrUnauthorized
		}

		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) models.Actor {
	actor, _ := c.MustGet(actorKey).(models.Actor)
	return actor
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// --- auth ---

func (h *Handler) register(c *gin.Context) {
	var req service.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.Register(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.users.Logout(c.Request.Context(), bearerToken(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *Handler) me(c *gin.Context) {
	user, err := h.users.Authenticate(c.Request.Context(), bearerToken(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// --- users ---

func (h *Handler) listUsers(c *gin.Context) {
	if !h.ensureSeed(c) {
		return
	}
	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) createUser(c *gin.Context) {
	if actorFrom(c).Role != models.RoleAdmin {
		writeError(c, models.ErrForbidden)
		return
	}

	var req service.CreateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req service.ProfileUpdate
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), actorFrom(c), c.Param("id"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type roleRequest struct {
	Role models.Role `json:"role" binding:"required"`
}

func (h *Handler) setRole(c *gin.Context) {
	var req roleRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.SetRole(c.Request.Context(), actorFrom(c), c.Param("id"), req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) submitKYC(c *gin.Context) {
	user, err := h.users.SubmitKYC(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type promoteRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h *Handler) promote(c *gin.Context) {
	var req promoteRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.Promote(c.Request.Context(), actorFrom(c), req.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// --- listings ---

func (h *Handler) listListings(c *gin.Context) {
	if !h.ensureSeed(c) {
		return
	}
	listings, err := h.workflow.ListListings(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listings)
}

func (h *Handler) getListing(c *gin.Context) {
	listing, err := h.workflow.GetListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) createListing(c *gin.Context) {
	var req service.CreateListingRequest
	if !bindJSON(c, &req) {
		return
	}

	actor := actorFrom(c)
	owner, ok := onBehalfOf(c, actor, req.OwnerID)
	if !ok {
		return
	}
	req.OwnerID = owner

	listing, err := h.workflow.CreateListing(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// --- orders ---

func (h *Handler) listOrders(c *gin.Context) {
	if !h.ensureSeed(c) {
		return
	}
	orders, err := h.workflow.ListOrders(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.workflow.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// placeOrder handles order creation
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	buyer, ok := onBehalfOf(c, actorFrom(c), req.BuyerID)
	if !ok {
		return
	}
	req.BuyerID = buyer

	order, err := h.workflow.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

type transitionRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
	service.TransitionDetails
}

func (h *Handler) transitionOrder(c *gin.Context) {
	var req transitionRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.workflow.Transition(c.Request.Context(), c.Param("id"), actorFrom(c), req.Status, &req.TransitionDetails)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) allowedTransitions(c *gin.Context) {
	order, err := h.workflow.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	allowed := service.AllowedTransitions(*order, actorFrom(c))
	if allowed == nil {
		allowed = []models.OrderStatus{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  order.Status,
		"allowed": allowed,
	})
}

// --- ledger ---

func (h *Handler) listTransactions(c *gin.Context) {
	txs, err := h.ledger.ListTransactions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

func (h *Handler) orderTransactions(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.workflow.GetOrder(ctx, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	txs, err := h.ledger.TransactionsForOrder(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"escrow":       service.Balance(txs),
	})
}

// --- helpers ---

// onBehalfOf returns the party a request acts for. Only an Admin may name
// someone other than themselves.
func onBehalfOf(c *gin.Context, actor models.Actor, requested string) (string, bool) {
	requested = models.NormalizeUserID(requested)
	if requested == "" || requested == actor.ID {
		return actor.ID, true
	}
	if actor.Role != models.RoleAdmin {
		writeError(c, models.ErrForbidden)
		return "", false
	}
	return requested, true
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyExists),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrConflictingOpenOrder):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientQuantity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}

	body := gin.H{
		"error":   http.StatusText(status),
		"details": err.Error(),
	}
	if models.Retryable(err) {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

// requestLogger logs one line per request
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		h.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
