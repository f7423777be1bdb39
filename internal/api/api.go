package api

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"promozone/internal/config"
	"promozone/internal/events"
	"promozone/internal/export"
	"promozone/internal/logger"
	"promozone/internal/metrics"
	"promozone/internal/models"
	"promozone/internal/pipeline"
	"promozone/internal/query"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

// pageLimit is how many promotions the HTML listing shows.
const pageLimit = 15

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"brl": func(v float64) string { return "R$ " + strings.Replace(strconv.FormatFloat(v, 'f', 2, 64), ".", ",", 1) },
	"pct": func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) + "%" },
}).ParseFS(templateFS, "templates/index.html"))

// Runner runs the scrape pipeline for one page.
type Runner interface {
	RunOne(ctx context.Context, targetURL string) pipeline.Result
}

// Reader is the query side the handlers render from.
type Reader interface {
	ListRecent(ctx context.Context, limit int) []models.Promotion
	PriceHistory(ctx context.Context, marketplace, itemID string) []models.Promotion
}

type Deps struct {
	Pipeline       Runner
	Query          Reader
	Hub            *events.Hub
	Metrics        *metrics.Registry
	Marketplace    string
	RequestTimeout time.Duration
	Logger         *logger.Logger
}

type APIHandler struct {
	pipeline       Runner
	query          Reader
	marketplace    string
	requestTimeout time.Duration
	log            *logger.Logger
}

type indexPage struct {
	Promotions    []models.Promotion
	Status        string
	Failed        bool
	URL           string
	DefaultTarget string
}

type scrapeRequest struct {
	URL string `json:"url" form:"url"`
}

func SetupRoutes(r *gin.RouterGroup, deps Deps) *APIHandler {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	handler := &APIHandler{
		pipeline:       deps.Pipeline,
		query:          deps.Query,
		marketplace:    deps.Marketplace,
		requestTimeout: deps.RequestTimeout,
		log:            log.With("service", "APIHandler"),
	}

	// HTML interface
	r.GET("/", handler.Index)
	r.POST("/scrape", handler.Scrape)

	r.GET("/health", handler.Health)

	promotions := r.Group("/api/promotions")
	{
		promotions.GET("", handler.ListPromotions)
		promotions.GET("/history", handler.PriceHistory)
		promotions.GET("/export", handler.ExportPromotions)
	}

	if deps.Hub != nil {
		r.GET("/ws", gin.WrapF(deps.Hub.ServeWS))
	}
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	return handler
}

func (h *APIHandler) Index(c *gin.Context) {
	h.renderIndex(c, http.StatusOK, indexPage{})
}

// Scrape runs the pipeline for the posted url. Browsers get the listing back
// with a status line, JSON clients get the pipeline result.
func (h *APIHandler) Scrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBind(&req); err != nil {
		h.rejectScrape(c, "invalid request body: "+err.Error(), "Requisição inválida: "+err.Error(), "")
		return
	}
	target, err := validateTarget(req.URL)
	if err != nil {
		h.rejectScrape(c, err.Error(), "URL inválida: "+err.Error(), req.URL)
		return
	}

	h.log.Info("Starting live scrape", "url", target)
	ctx := c.Request.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}
	res := h.pipeline.RunOne(ctx, target)

	if wantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"status": res.Status(), "result": res})
		return
	}
	h.renderIndex(c, http.StatusOK, indexPage{
		Status: res.Status(),
		Failed: res.Report.Failed() || res.ScrapeError != "",
		URL:    target,
	})
}

func (h *APIHandler) rejectScrape(c *gin.Context, msg, status, rawURL string) {
	if wantsJSON(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	h.renderIndex(c, http.StatusBadRequest, indexPage{Status: status, Failed: true, URL: rawURL})
}

func (h *APIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Promozone is alive!"})
}

func (h *APIHandler) ListPromotions(c *gin.Context) {
	limit, ok := parseLimit(c, query.DefaultLimit)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.query.ListRecent(c.Request.Context(), limit))
}

func (h *APIHandler) PriceHistory(c *gin.Context) {
	itemID := strings.TrimSpace(c.Query("item_id"))
	if itemID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_id is required"})
		return
	}
	marketplace := strings.TrimSpace(c.DefaultQuery("marketplace", h.marketplace))
	history := h.query.PriceHistory(c.Request.Context(), marketplace, itemID)
	c.JSON(http.StatusOK, gin.H{
		"marketplace": marketplace,
		"item_id":     itemID,
		"summary":     query.Summarize(history),
		"history":     history,
	})
}

func (h *APIHandler) ExportPromotions(c *gin.Context) {
	limit, ok := parseLimit(c, query.MaxLimit)
	if !ok {
		return
	}
	promotions := h.query.ListRecent(c.Request.Context(), limit)

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, promotions); err != nil {
		h.log.Error("Export failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build workbook"})
		return
	}
	filename := fmt.Sprintf("promozone-%s.xlsx", time.Now().UTC().Format("20060102T150405Z"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

func (h *APIHandler) renderIndex(c *gin.Context, status int, page indexPage) {
	page.Promotions = h.query.ListRecent(c.Request.Context(), pageLimit)
	page.DefaultTarget = config.DefaultTarget
	c.Render(status, render.HTML{Template: indexTemplate, Name: "index.html", Data: page})
}

func parseLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return 0, false
	}
	return limit, true
}

func validateTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("url must be an absolute http(s) address")
	}
	return u.String(), nil
}

func wantsJSON(c *gin.Context) bool {
	if c.ContentType() == gin.MIMEJSON {
		return true
	}
	return c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON
}
