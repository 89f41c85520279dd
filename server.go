package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/finsightapps/forecast_backend/config"
	"github.com/finsightapps/forecast_backend/forecast"
	"github.com/finsightapps/forecast_backend/models"
	"github.com/finsightapps/forecast_backend/utils"
	"github.com/finsightapps/forecast_backend/workbook"
	"github.com/finsightapps/forecast_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("forecast-backend")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := c.ClientIP()

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
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

// companyScopeMiddleware resolves the acting company from the X-Company-Id
// header (query param company_id as a fallback) and stashes it in the
// request context. Company management routes run outside this group.
func companyScopeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId := strings.TrimSpace(c.GetHeader("X-Company-Id"))
		if companyId == "" {
			companyId = strings.TrimSpace(c.Query("company_id"))
		}
		if companyId == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "company id is required (X-Company-Id header or company_id query param)"})
			return
		}
		if _, err := models.GetCompanyById(c.Request.Context(), companyId); err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "company not found"})
			return
		}
		c.Request = c.Request.WithContext(utils.SetCompanyIdInContext(c.Request.Context(), companyId))
		c.Next()
	}
}

// respondError maps domain errors onto HTTP statuses: bad input 400,
// missing records 404, storage problems 500.
func respondError(c *gin.Context, err error) {
	switch {
	case utils.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case utils.IsStorageError(err):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func createCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCompany
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		company, err := models.CreateCompany(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, company)
	}
}

func listCompaniesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companies, err := models.GetAllCompanies(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, companies)
	}
}

func getCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		company, err := models.GetCompanyById(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, company)
	}
}

func updateCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewCompany
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		ctx := utils.SetCompanyIdInContext(c.Request.Context(), c.Param("id"))
		company, err := models.UpdateCompany(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, company)
	}
}

// importHandler reads the multipart upload and feeds it into the shared
// import pipeline. 25 MB is plenty for a statement export.
func importHandler(importType models.ImportType) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
			return
		}
		if fileHeader.Size > 25<<20 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file exceeds the 25 MB limit"})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not open uploaded file"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "import."+string(importType))
		defer span.End()

		var summary *workflow.ImportSummary
		if importType == models.ImportTypeActuals {
			summary, err = workflow.ImportActuals(ctx, fileHeader.Filename, data)
		} else {
			summary, err = workflow.ImportHistorical(ctx, fileHeader.Filename, data)
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func listImportsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var importType models.ImportType
		if raw := c.Query("type"); raw != "" {
			parsed, err := models.ParseImportType(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "type must be historical or actuals"})
				return
			}
			importType = parsed
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		batches, err := models.GetImportBatches(c.Request.Context(), importType, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, batches)
	}
}

func listLineItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var statement models.StatementType
		if raw := c.Query("statement"); raw != "" {
			parsed, err := models.ParseStatementType(workbook.NormalizeStatementType(raw))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "statement must be income_statement or balance_sheet"})
				return
			}
			statement = parsed
		}
		items, err := models.GetLineItems(c.Request.Context(), statement)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

type lineItemCategoryRequest struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

func updateLineItemCategoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req lineItemCategoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		item, err := models.UpdateLineItemCategory(c.Request.Context(), c.Param("id"), req.Category, req.Subcategory)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

type lineItemActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func toggleLineItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req lineItemActiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "is_active is required"})
			return
		}
		item, err := models.ToggleActiveLineItem(c.Request.Context(), c.Param("id"), *req.IsActive)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func methodologyCatalogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, forecast.Catalog())
	}
}

func saveMethodologyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewMethodologyConfig
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		cfg, err := models.SaveMethodologyConfig(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}

func getMethodologyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := models.GetMethodologyForLine(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}

func methodologyHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		history, err := models.GetMethodologyHistory(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, history)
	}
}

type runForecastRequest struct {
	Months  int   `json:"months"`
	Persist *bool `json:"persist"`
}

func runForecastHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req runForecastRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		persist := true
		if req.Persist != nil {
			persist = *req.Persist
		}

		ctx, span := tracer.Start(c.Request.Context(), "forecast.run")
		defer span.End()

		summary, err := workflow.RunForecast(ctx, workflow.RunForecastInput{
			Months:  req.Months,
			Persist: persist,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// getForecastHandler returns projections. With ?version= it is the immutable
// view of that run; otherwise the latest projection per period over the
// requested range (defaulting to twelve months from the current one).
func getForecastHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, _ := utils.GetCompanyIdFromContext(c.Request.Context())

		if raw := c.Query("version"); raw != "" {
			version, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || version <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "version must be a positive integer"})
				return
			}
			rows, err := models.GetProjectionsForVersion(c.Request.Context(), companyId, version)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"version": version, "projections": rows})
			return
		}

		now := time.Now().UTC()
		fromYear, fromMonth := now.Year(), int(now.Month())
		toYear, toMonth := workbook.AddMonths(fromYear, fromMonth, 11)
		if raw := c.Query("from"); raw != "" {
			y, m, ok := workbook.ParsePeriodKey(raw)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM"})
				return
			}
			fromYear, fromMonth = y, m
		}
		if raw := c.Query("to"); raw != "" {
			y, m, ok := workbook.ParsePeriodKey(raw)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM"})
				return
			}
			toYear, toMonth = y, m
		}

		rows, err := models.GetLatestProjections(c.Request.Context(), companyId, nil, fromYear, fromMonth, toYear, toMonth)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"from":        workbook.PeriodKey(fromYear, fromMonth),
			"to":          workbook.PeriodKey(toYear, toMonth),
			"projections": rows,
		})
	}
}

func listForecastVersionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, _ := utils.GetCompanyIdFromContext(c.Request.Context())
		limit, _ := strconv.Atoi(c.Query("limit"))
		versions, err := models.ListForecastVersions(c.Request.Context(), companyId, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, versions)
	}
}

func varianceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		period := c.Query("period")
		if period == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "period query param is required (YYYY-MM)"})
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "variance.refresh")
		defer span.End()

		report, err := workflow.RefreshVariance(ctx, period)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// templateHandler serves a CSV skeleton covering the registry's active
// lines, with month columns ending at the last imported period.
func templateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, _ := utils.GetCompanyIdFromContext(c.Request.Context())

		months, _ := strconv.Atoi(c.Query("months"))
		items, err := models.GetActiveLineItems(c.Request.Context(), companyId)
		if err != nil {
			respondError(c, err)
			return
		}

		endYear, endMonth, found, err := models.LastHistoricalPeriod(c.Request.Context(), companyId)
		if err != nil {
			respondError(c, err)
			return
		}
		if !found {
			now := time.Now().UTC()
			endYear, endMonth = now.Year(), int(now.Month())
		}

		lines := make([]workbook.TemplateLine, 0, len(items))
		for _, item := range items {
			lines = append(lines, workbook.TemplateLine{
				Statement:   string(item.StatementType),
				LineCode:    item.LineCode,
				LineName:    item.LineName,
				Category:    item.Category,
				Subcategory: item.Subcategory,
			})
		}

		csvBytes, err := workbook.BuildImportTemplate(lines, endYear, endMonth, months)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="import_template.csv"`)
		c.Data(http.StatusOK, "text/csv", csvBytes)
	}
}

type outboxReplayRequest struct {
	CompanyId string                   `json:"company_id"`
	RecordId  int                      `json:"record_id"`
	EventType models.ForecastEventType `json:"event_type"`
}

// outboxReplayHandler resets DEAD/FAILED outbox rows so the dispatcher
// retries them: one row by id, or every row of the company (optionally
// narrowed to an event type).
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.CompanyId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "company_id is required"})
			return
		}

		if req.RecordId > 0 {
			db := config.GetDB()
			now := time.Now().UTC()
			res := db.WithContext(c.Request.Context()).
				Model(&models.EventRecord{}).
				Where("id = ? AND company_id = ? AND publish_status IN ?", req.RecordId, req.CompanyId,
					[]string{models.OutboxPublishStatusDead, models.OutboxPublishStatusFailed}).
				Updates(map[string]interface{}{
					"publish_status":     models.OutboxPublishStatusPending,
					"next_attempt_at":    &now,
					"publish_attempts":   0,
					"locked_at":          nil,
					"locked_by":          nil,
					"last_publish_error": nil,
				})
			if res.Error != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"company_id": req.CompanyId, "record_id": req.RecordId, "replayed": res.RowsAffected})
			return
		}

		replayed, err := models.ReplayOutboxEvents(c.Request.Context(), req.CompanyId, req.EventType)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"company_id": req.CompanyId, "replayed": replayed})
	}
}

func outboxBacklogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		backlog, err := models.GetOutboxBacklog(c.Request.Context(), c.Query("company_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, backlog)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
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

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "X-Company-Id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
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

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/api/companies", createCompanyHandler())
	r.GET("/api/companies", listCompaniesHandler())
	r.GET("/api/companies/:id", getCompanyHandler())
	r.PUT("/api/companies/:id", updateCompanyHandler())

	api := r.Group("/api", companyScopeMiddleware())
	api.POST("/imports/historical", importHandler(models.ImportTypeHistorical))
	api.POST("/imports/actuals", importHandler(models.ImportTypeActuals))
	api.GET("/imports", listImportsHandler())
	api.GET("/line-items", listLineItemsHandler())
	api.PUT("/line-items/:id/category", updateLineItemCategoryHandler())
	api.PUT("/line-items/:id/active", toggleLineItemHandler())
	api.PUT("/line-items/:id/methodology", saveMethodologyHandler())
	api.GET("/line-items/:id/methodology", getMethodologyHandler())
	api.GET("/line-items/:id/methodology/history", methodologyHistoryHandler())
	api.GET("/methodologies", methodologyCatalogHandler())
	api.POST("/forecast/run", runForecastHandler())
	api.GET("/forecast", getForecastHandler())
	api.GET("/forecast/versions", listForecastVersionsHandler())
	api.GET("/variance", varianceHandler())
	api.GET("/template", templateHandler())

	// Ops tooling: replay outbox messages that were marked DEAD/FAILED.
	r.POST("/internal/ops/outbox/replay", outboxReplayHandler())
	r.GET("/internal/ops/outbox/backlog", outboxBacklogHandler())
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.OutboxDispatcherEnabled() {
		go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)
	} else {
		logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("outbox dispatcher disabled; events will queue as PENDING")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
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

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
