package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/tablefocus/restoops_backend/config"
	"bitbucket.org/tablefocus/restoops_backend/middlewares"
	"bitbucket.org/tablefocus/restoops_backend/models"
	"bitbucket.org/tablefocus/restoops_backend/utils"
	"bitbucket.org/tablefocus/restoops_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("restoops-allocation")

// RateLimiter throttles per client IP using Redis counters.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if count > rl.limit {
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}
	c.Next()
}

func httpStatusForCode(code utils.ErrorCode) int {
	switch code {
	case utils.ErrorCodeNotFound:
		return http.StatusNotFound
	case utils.ErrorCodeInvalidInput:
		return http.StatusBadRequest
	case utils.ErrorCodeInvalidState, utils.ErrorCodeInvalidTransition:
		return http.StatusUnprocessableEntity
	case utils.ErrorCodeOverAllocation, utils.ErrorCodeDuplicateDestination,
		utils.ErrorCodeDuplicateLink, utils.ErrorCodeConflict:
		return http.StatusConflict
	case utils.ErrorCodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := utils.CodeOf(err)
	c.JSON(httpStatusForCode(code), gin.H{
		"error": gin.H{"code": code, "message": err.Error()},
	})
}

func paramInt(c *gin.Context, name string) (int, bool) {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil || value <= 0 {
		respondError(c, utils.NewAppError(utils.ErrorCodeInvalidInput, "invalid "+name))
		return 0, false
	}
	return value, true
}

func bindJSON[T any](c *gin.Context) (*T, bool) {
	var input T
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, utils.NewAppError(utils.ErrorCodeInvalidInput, err.Error()))
		return nil, false
	}
	return &input, true
}

func queryTimeRange(c *gin.Context) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "invalid from timestamp")
		}
		from = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "invalid to timestamp")
		}
		to = &t
	}
	return from, to, nil
}

func auditFilterFromQuery(c *gin.Context) (*models.AuditTrailFilter, error) {
	filter := &models.AuditTrailFilter{}

	from, to, err := queryTimeRange(c)
	if err != nil {
		return nil, err
	}
	filter.From = from
	filter.To = to

	if v := c.Query("action"); v != "" {
		action := models.AuditAction(v)
		filter.Action = &action
	}
	if v := c.Query("performed_by"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrorCodeInvalidInput, "invalid performed_by")
		}
		filter.PerformedBy = &id
	}
	if v := c.Query("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := c.Query("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}
	return filter, nil
}

type signupRequest struct {
	Business models.NewBusiness `json:"business" binding:"required"`
	User     models.NewUser     `json:"user" binding:"required"`
}

func signupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindJSON[signupRequest](c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		business, err := models.CreateBusiness(ctx, &input.Business)
		if err != nil {
			respondError(c, err)
			return
		}
		input.User.Role = models.UserRoleAdmin
		user, err := models.CreateUser(ctx, business.ID.String(), &input.User)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"business": business, "user": user})
	}
}

type signinRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func signinHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindJSON[signinRequest](c)
		if !ok {
			return
		}
		payload, err := models.Login(c.Request.Context(), input.Username, input.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, payload)
	}
}

func registerAllocationRoutes(api *gin.RouterGroup) {
	api.POST("/allocations", func(c *gin.Context) {
		input, ok := bindJSON[models.NewAllocation](c)
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "CreateAllocation")
		defer span.End()
		allocation, err := models.CreateAllocation(ctx, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, allocation)
	})

	api.GET("/allocations/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
		allocation, err := models.GetAllocationById(c.Request.Context(), businessId, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, allocation)
	})

	api.PUT("/allocations/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		input, ok := bindJSON[models.UpdateAllocationInput](c)
		if !ok {
			return
		}
		allocation, err := models.UpdateAllocation(c.Request.Context(), id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, allocation)
	})

	api.DELETE("/allocations/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		if err := models.DeleteAllocation(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.PUT("/allocations/:id/status", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		input, ok := bindJSON[struct {
			Status models.AllocationStatus `json:"status" binding:"required"`
		}](c)
		if !ok {
			return
		}
		allocation, err := models.UpdateAllocationStatus(c.Request.Context(), id, input.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, allocation)
	})

	api.POST("/allocations/validate", func(c *gin.Context) {
		input, ok := bindJSON[struct {
			PurchaseOrderItemId int                         `json:"purchase_order_item_id" binding:"required"`
			Proposed            []models.ProposedAllocation `json:"proposed" binding:"required"`
			ExceptId            int                         `json:"except_id"`
		}](c)
		if !ok {
			return
		}
		result, err := models.ValidateAllocationConstraints(c.Request.Context(),
			input.PurchaseOrderItemId, input.Proposed, input.ExceptId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.GET("/purchase-orders/:id/allocations", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		matrix, err := models.GetAllocationsForPurchaseOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, matrix)
	})

	api.POST("/allocations/bulk", func(c *gin.Context) {
		input, ok := bindJSON[workflow.BulkAllocationRequest](c)
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "BulkAllocate")
		defer span.End()
		result, err := workflow.BulkAllocate(ctx, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.POST("/purchase-orders/:id/apply-template/:templateId", func(c *gin.Context) {
		orderId, ok := paramInt(c, "id")
		if !ok {
			return
		}
		templateId, ok := paramInt(c, "templateId")
		if !ok {
			return
		}
		validateOnly := strings.EqualFold(c.Query("validate_only"), "true")
		result, err := workflow.ApplyAllocationTemplate(c.Request.Context(), orderId, templateId, validateOnly)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

func registerAuditRoutes(api *gin.RouterGroup) {
	api.GET("/allocations/:id/audit", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		filter, err := auditFilterFromQuery(c)
		if err != nil {
			respondError(c, err)
			return
		}
		trail, err := models.GetAuditTrail(c.Request.Context(), id, filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, trail)
	})

	api.GET("/audit", func(c *gin.Context) {
		filter, err := auditFilterFromQuery(c)
		if err != nil {
			respondError(c, err)
			return
		}
		trail, err := models.GetAuditTrail(c.Request.Context(), 0, filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, trail)
	})

	api.GET("/audit/compliance-report", func(c *gin.Context) {
		from, to, err := queryTimeRange(c)
		if err != nil {
			respondError(c, err)
			return
		}
		report, err := models.GenerateComplianceReport(c.Request.Context(), from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	api.GET("/audit/summary", func(c *gin.Context) {
		from, to, err := queryTimeRange(c)
		if err != nil {
			respondError(c, err)
			return
		}
		summary, err := models.GetAuditSummary(c.Request.Context(), from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	api.GET("/audit/export", func(c *gin.Context) {
		filter, err := auditFilterFromQuery(c)
		if err != nil {
			respondError(c, err)
			return
		}
		allocationId := 0
		if v := c.Query("allocation_id"); v != "" {
			allocationId, err = strconv.Atoi(v)
			if err != nil {
				respondError(c, utils.NewAppError(utils.ErrorCodeInvalidInput, "invalid allocation_id"))
				return
			}
		}

		format := models.AuditExportFormat(c.DefaultQuery("format", "json"))
		if format == "xlsx" {
			f, err := models.ExportAuditWorkbook(c.Request.Context(), allocationId, filter)
			if err != nil {
				respondError(c, err)
				return
			}
			defer f.Close()
			c.Header("Content-Disposition", `attachment; filename="audit-trail.xlsx"`)
			c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			if err := f.Write(c.Writer); err != nil {
				config.LogError(config.GetLogger(), "server.go", "audit export", "write xlsx", nil, err)
			}
			return
		}

		data, err := models.ExportAuditData(c.Request.Context(), format, allocationId, filter)
		if err != nil {
			respondError(c, err)
			return
		}
		contentType := "application/json"
		if format == models.AuditExportCSV {
			contentType = "text/csv"
			c.Header("Content-Disposition", `attachment; filename="audit-trail.csv"`)
		}
		c.Data(http.StatusOK, contentType, []byte(data))
	})
}

func registerTransferRoutes(api *gin.RouterGroup) {
	api.POST("/transfers/from-allocation", func(c *gin.Context) {
		input, ok := bindJSON[models.NewTransferFromAllocation](c)
		if !ok {
			return
		}
		result, err := models.CreateTransferFromAllocation(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	})

	api.POST("/transfers/:id/links", func(c *gin.Context) {
		movementId, ok := paramInt(c, "id")
		if !ok {
			return
		}
		input, ok := bindJSON[struct {
			AllocationId int `json:"allocation_id" binding:"required"`
		}](c)
		if !ok {
			return
		}
		link, err := models.LinkTransferToAllocation(c.Request.Context(), movementId, input.AllocationId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, link)
	})

	api.GET("/transfers/:id/allocations", func(c *gin.Context) {
		movementId, ok := paramInt(c, "id")
		if !ok {
			return
		}
		links, err := models.GetTransferAllocationLinks(c.Request.Context(), movementId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, links)
	})

	api.GET("/allocations/:id/transfers", func(c *gin.Context) {
		allocationId, ok := paramInt(c, "id")
		if !ok {
			return
		}
		links, err := models.GetAllocationTransferLinks(c.Request.Context(), allocationId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, links)
	})

	api.POST("/allocations/:id/sync-transfers", func(c *gin.Context) {
		allocationId, ok := paramInt(c, "id")
		if !ok {
			return
		}
		results, err := models.SyncAllocationTransferStatus(c.Request.Context(), allocationId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, results)
	})

	api.POST("/allocations/:id/partial-transfer", func(c *gin.Context) {
		allocationId, ok := paramInt(c, "id")
		if !ok {
			return
		}
		input, ok := bindJSON[struct {
			PartialQuantity decimal.Decimal `json:"partial_quantity" binding:"required"`
		}](c)
		if !ok {
			return
		}
		result, err := models.HandlePartialTransferScenario(c.Request.Context(), allocationId, input.PartialQuantity)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.GET("/allocations/:id/traceability", func(c *gin.Context) {
		allocationId, ok := paramInt(c, "id")
		if !ok {
			return
		}
		chain, err := models.GetTraceabilityChain(c.Request.Context(), allocationId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, chain)
	})

	api.POST("/movements", func(c *gin.Context) {
		input, ok := bindJSON[models.NewMovementRequest](c)
		if !ok {
			return
		}
		movement, err := models.CreateMovementRequest(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, movement)
	})

	api.GET("/movements/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
		movement, err := models.GetMovementRequestById(c.Request.Context(), businessId, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, movement)
	})

	api.PUT("/movements/:id/status", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		input, ok := bindJSON[struct {
			Status models.MovementStatus `json:"status" binding:"required"`
		}](c)
		if !ok {
			return
		}
		movement, err := models.UpdateMovementRequestStatus(c.Request.Context(), id, input.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, movement)
	})
}

func registerMasterDataRoutes(api *gin.RouterGroup) {
	api.POST("/locations", func(c *gin.Context) {
		input, ok := bindJSON[models.NewLocation](c)
		if !ok {
			return
		}
		location, err := models.CreateLocation(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, location)
	})

	api.GET("/locations", func(c *gin.Context) {
		locations, err := models.GetLocations(c.Request.Context(), mustBusinessId(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, locations)
	})

	api.POST("/products", func(c *gin.Context) {
		input, ok := bindJSON[models.NewProduct](c)
		if !ok {
			return
		}
		product, err := models.CreateProduct(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	})

	api.POST("/purchase-orders", func(c *gin.Context) {
		input, ok := bindJSON[models.NewPurchaseOrder](c)
		if !ok {
			return
		}
		order, err := models.CreatePurchaseOrder(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, order)
	})

	api.GET("/purchase-orders/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		order, err := models.GetPurchaseOrderById(c.Request.Context(), mustBusinessId(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})

	api.PUT("/purchase-orders/:id/status", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		input, ok := bindJSON[struct {
			Status models.PurchaseOrderStatus `json:"status" binding:"required"`
		}](c)
		if !ok {
			return
		}
		order, err := models.UpdatePurchaseOrderStatus(c.Request.Context(), id, input.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})
}

func registerTemplateRoutes(api *gin.RouterGroup) {
	api.POST("/allocation-templates", func(c *gin.Context) {
		input, ok := bindJSON[models.NewAllocationTemplate](c)
		if !ok {
			return
		}
		template, err := models.CreateAllocationTemplate(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, template)
	})

	api.GET("/allocation-templates", func(c *gin.Context) {
		templates, err := models.GetAllocationTemplates(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, templates)
	})

	api.GET("/allocation-templates/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		template, err := models.GetAllocationTemplateById(c.Request.Context(), mustBusinessId(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, template)
	})

	api.PUT("/allocation-templates/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		input, ok := bindJSON[models.UpdateAllocationTemplateInput](c)
		if !ok {
			return
		}
		template, err := models.UpdateAllocationTemplate(c.Request.Context(), id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, template)
	})

	api.DELETE("/allocation-templates/:id", func(c *gin.Context) {
		id, ok := paramInt(c, "id")
		if !ok {
			return
		}
		if err := models.DeleteAllocationTemplate(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func mustBusinessId(c *gin.Context) string {
	businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
	return businessId
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": gin.H{"code": utils.ErrorCodeNotFound, "message": "route not found"},
	})
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := redis.NewClient(&redis.Options{
			Addr:     os.Getenv("REDIS_ADDRESS"),
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/signup", signupHandler())
	r.POST("/signin", signinHandler())

	api := r.Group("/api", middlewares.RequireAuth())
	registerMasterDataRoutes(api)
	registerAllocationRoutes(api)
	registerTemplateRoutes(api)
	registerAuditRoutes(api)
	registerTransferRoutes(api)

	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	// AutoMigrate can run DDL that blocks tables; allow running migrations
	// as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Error(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// READ COMMITTED keeps the allocation re-read under the advisory lock
	// from seeing a snapshot older than the lock acquisition.
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<minInt(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
