package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/totegamma/ortto-dashboard/internal/domain"
	"github.com/totegamma/ortto-dashboard/internal/logging"
	"github.com/totegamma/ortto-dashboard/internal/present/rest/middleware"
	"github.com/totegamma/ortto-dashboard/internal/present/rest/presenter"
	"github.com/totegamma/ortto-dashboard/internal/service"
	"github.com/totegamma/ortto-dashboard/internal/usecase"
)

type Handler struct {
	dashboard *usecase.DashboardUsecase
	cache     *usecase.CacheStore
	ledger    *usecase.Ledger
	refiller  *usecase.Refiller
	signal    *service.SignalService
	auth      *middleware.AuthMiddleware
	now       func() time.Time
}

func NewHandler(
	dashboard *usecase.DashboardUsecase,
	cache *usecase.CacheStore,
	ledger *usecase.Ledger,
	refiller *usecase.Refiller,
	signal *service.SignalService,
	auth *middleware.AuthMiddleware,
) *Handler {
	return &Handler{
		dashboard: dashboard,
		cache:     cache,
		ledger:    ledger,
		refiller:  refiller,
		signal:    signal,
		auth:      auth,
		now:       time.Now,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("/api/reports", h.auth.IdentifyIdentity)
	g.POST("/dashboard-reports", h.handleDashboardReports)
	g.GET("/cached-reports", h.handleCachedReports)
	g.GET("/poll-cached-reports", h.handlePollCachedReports)
	g.DELETE("/cache", h.handleClearCache)
	g.DELETE("/cache/:timeframe", h.handleClearCache)
	g.GET("/rate-limits", h.handleRateLimits)
	g.DELETE("/rate-limits", h.handleClearRateLimits)
	g.POST("/restart-background", h.handleRestartBackground)
	g.GET("/background-status", h.handleBackgroundStatus)
	g.GET("/realtime", h.handleRealtime)
}

func (h *Handler) handleHealth(c echo.Context) error {
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func timeframeOf(c echo.Context) string {
	if tf := c.Param("timeframe"); tf != "" {
		return tf
	}
	if tf := c.QueryParam("timeframe"); tf != "" {
		return tf
	}
	return domain.DefaultTimeframe
}

func (h *Handler) handleDashboardReports(c echo.Context) error {
	ctx := c.Request().Context()

	var req usecase.DashboardRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	result, err := h.dashboard.Reports(ctx, middleware.RequesterID(ctx), req)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return presenter.ValidationFailed(c, verr.Message, verr.Dropped)
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, result)
}

type cachedReportsResponse struct {
	Reports     []domain.Report `json:"reports"`
	Count       int             `json:"count"`
	CacheAge    *int64          `json:"cacheAge"`
	LastUpdated *time.Time      `json:"lastUpdated"`
	FetchedAt   *time.Time      `json:"fetchedAt"`
}

func (h *Handler) handleCachedReports(c echo.Context) error {
	ctx := c.Request().Context()

	resp := cachedReportsResponse{Reports: []domain.Report{}}
	doc := h.cache.ReadAll(ctx, middleware.RequesterID(ctx), timeframeOf(c))
	if doc != nil {
		age := h.now().Sub(doc.FetchedAt).Milliseconds()
		resp.Reports = domain.AvailableAll(doc.Records)
		resp.Count = len(doc.Records)
		resp.CacheAge = &age
		resp.LastUpdated = &doc.LastUpdated
		resp.FetchedAt = &doc.FetchedAt
	}
	return presenter.OK(c, resp)
}

type pollResponse struct {
	Reports           []domain.Report `json:"reports"`
	Count             int             `json:"count"`
	HasUpdates        bool            `json:"hasUpdates"`
	BackgroundRunning bool            `json:"backgroundRunning"`
}

func (h *Handler) handlePollCachedReports(c echo.Context) error {
	ctx := c.Request().Context()
	userID := middleware.RequesterID(ctx)
	timeframe := timeframeOf(c)

	lastCount := 0
	if raw := c.QueryParam("lastCount"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return presenter.BadRequestMessage(c, "invalid lastCount")
		}
		lastCount = n
	}

	resp := pollResponse{
		Reports:           []domain.Report{},
		BackgroundRunning: h.refiller.Running(userID, timeframe),
	}
	if doc := h.cache.ReadAll(ctx, userID, timeframe); doc != nil {
		resp.Reports = domain.AvailableAll(doc.Records)
		resp.Count = len(doc.Records)
	}
	resp.HasUpdates = resp.Count > lastCount
	return presenter.OK(c, resp)
}

func (h *Handler) handleClearCache(c echo.Context) error {
	ctx := c.Request().Context()
	userID := middleware.RequesterID(ctx)

	if tf := c.Param("timeframe"); tf != "" {
		if err := h.cache.Clear(ctx, userID, tf); err != nil {
			return presenter.InternalError(c, err)
		}
		return presenter.OK(c, echo.Map{"success": true, "message": "Cleared cached reports for " + tf})
	}

	if err := h.cache.ClearAll(ctx, userID); err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"success": true, "message": "Cleared all cached reports"})
}

func (h *Handler) handleRateLimits(c echo.Context) error {
	ctx := c.Request().Context()

	doc, err := h.ledger.Get(ctx, middleware.RequesterID(ctx), timeframeOf(c))
	if err != nil {
		logging.Warn().Str("module", "rest").Err(err).Msg("rate limit ledger unreadable, reporting inactive")
		doc = nil
	}
	if doc == nil {
		return presenter.OK(c, echo.Map{"active": false, "items": []domain.ReportItem{}, "count": 0})
	}
	return presenter.OK(c, echo.Map{
		"active":        true,
		"items":         doc.Items,
		"count":         len(doc.Items),
		"rateLimitedAt": doc.RateLimitedAt,
		"expiresAt":     doc.ExpiresAt,
	})
}

func (h *Handler) handleClearRateLimits(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.ledger.Clear(ctx, middleware.RequesterID(ctx), timeframeOf(c)); err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"success": true})
}

func (h *Handler) handleRestartBackground(c echo.Context) error {
	ctx := c.Request().Context()

	var body struct {
		Timeframe string `json:"timeframe"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return presenter.BadRequest(c, err)
		}
	}
	timeframe := body.Timeframe
	if timeframe == "" {
		timeframe = timeframeOf(c)
	}

	result, err := h.dashboard.RestartBackground(ctx, middleware.RequesterID(ctx), timeframe)
	if err != nil {
		return presenter.BadGateway(c, err)
	}
	return presenter.OK(c, result)
}

func (h *Handler) handleBackgroundStatus(c echo.Context) error {
	ctx := c.Request().Context()
	return presenter.OK(c, h.refiller.Status(middleware.RequesterID(ctx), timeframeOf(c)))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleRealtime streams the requester's refill progress over a websocket.
func (h *Handler) handleRealtime(c echo.Context) error {
	log := logging.Module("socket")

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket")
		return err
	}
	defer ws.Close()

	ctx := c.Request().Context()
	events, cancel := h.signal.Subscribe(ctx, middleware.RequesterID(ctx))
	defer cancel()

	quit := make(chan struct{})
	go func() {
		defer close(quit)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) &&
					(closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
					return
				}
				log.Debug().Err(err).Msg("websocket closed")
				return
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := ws.WriteJSON(event); err != nil {
				log.Error().Err(err).Msg("error writing message")
				return nil
			}
		}
	}
}
