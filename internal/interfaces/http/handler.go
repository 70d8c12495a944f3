package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	appmarketdata "mbobook/internal/application/service/marketdata"
	apporderbook "mbobook/internal/application/service/orderbook"
	appprofiles "mbobook/internal/application/service/profiles"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	streamBasePath    = "/api/v1/stream"
	orderbookBasePath = "/api/v1/orderbook"
	snapshotsBasePath = "/api/v1/snapshots"
	profilesBasePath  = "/api/v1/profiles"

	maxLevels = 1000
)

var (
	errMissingUID    = errors.New("missing uid")
	errMissingRange  = errors.New("from/to query params required")
	errInvalidLevels = fmt.Errorf("levels must be an integer between 1 and %d", maxLevels)
	errInvalidSide   = errors.New("side must be B or A")
)

// Config wires the handler. Snapshots, Profiles, Cache, Metrics and
// DepthStream are optional; their routes are not registered when nil.
type Config struct {
	Symbol      string
	PriceScale  int32
	Engine      *apporderbook.Engine
	Streamer    *apporderbook.Streamer
	Snapshots   *appmarketdata.Service
	Profiles    *appprofiles.Service
	Cache       *redis.Client
	CacheTTL    time.Duration
	Metrics     http.Handler
	DepthStream http.Handler
}

type Handler struct {
	router    *gin.Engine
	symbol    string
	scale     int32
	engine    *apporderbook.Engine
	streamer  *apporderbook.Streamer
	snapshots *appmarketdata.Service
	profiles  *appprofiles.Service
	cache     *redis.Client
	cacheTTL  time.Duration
	metrics   http.Handler
	depthWS   http.Handler
}

func NewHandler(cfg Config) *Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{
		router:    router,
		symbol:    cfg.Symbol,
		scale:     cfg.PriceScale,
		engine:    cfg.Engine,
		streamer:  cfg.Streamer,
		snapshots: cfg.Snapshots,
		profiles:  cfg.Profiles,
		cache:     cfg.Cache,
		cacheTTL:  cfg.CacheTTL,
		metrics:   cfg.Metrics,
		depthWS:   cfg.DepthStream,
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/healthz", h.health)
	if h.metrics != nil {
		h.router.GET("/metrics", gin.WrapH(h.metrics))
	}
	if h.depthWS != nil {
		h.router.GET("/ws/depth", gin.WrapH(h.depthWS))
	}

	stream := h.router.Group(streamBasePath)
	{
		stream.POST("/start", h.startStream)
		stream.POST("/stop", h.stopStream)
		stream.GET("/status", h.streamStatus)
	}

	book := h.router.Group(orderbookBasePath)
	{
		book.GET("/snapshot", h.getSnapshot)
		book.GET("/bbo", h.getBBO)
		book.GET("/depth", h.getDepth)
		book.GET("/mbp", h.getMbp)
		book.GET("/stats", h.getStats)
		book.GET("/orders/:id", h.getOrder)
		book.GET("/levels/:side", h.getLevelQueue)
	}

	if h.snapshots != nil {
		history := h.router.Group(snapshotsBasePath)
		if h.cache != nil {
			history.Use(h.cacheMiddleware())
		}
		{
			history.GET("/", h.getSnapshotsRange)
			history.GET("/last", h.getSnapshotsLast)
		}
	}

	if h.profiles != nil {
		profiles := h.router.Group(profilesBasePath)
		{
			profiles.POST("/", h.createProfile)
			profiles.PUT("/", h.updateProfile)
			profiles.GET("/", h.listProfiles)
			profiles.GET("/:uid", h.getProfile)
			profiles.DELETE("/:uid", h.deleteProfile)
		}
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"symbol": h.symbol,
		"stream": h.streamer.Status().Running,
	})
}

// Helpers

func writeError(c *gin.Context, status int, err error) {
	if err == nil {
		status = http.StatusInternalServerError
		err = errors.New("unknown error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// engineStatus maps engine query failures to a response code.
func engineStatus(err error) int {
	if errors.Is(err, apporderbook.ErrEngineStopped) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// cacheMiddleware caches GET responses in Redis.
func (h *Handler) cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cache == nil || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := h.cacheKey(c)
		ctx := c.Request.Context()

		if cached, err := h.cache.Get(ctx, key).Result(); err == nil {
			c.Data(http.StatusOK, "application/json", []byte(cached))
			c.Abort()
			return
		}

		recorder := &responseRecorder{
			ResponseWriter: c.Writer,
			status:         http.StatusOK,
			body:           &bytes.Buffer{},
		}
		c.Writer = recorder

		c.Next()

		if recorder.status >= 200 && recorder.status < 300 && recorder.body.Len() > 0 {
			_ = h.cache.Set(ctx, key, recorder.body.Bytes(), h.cacheTTL).Err()
		}
	}
}

type responseRecorder struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if len(data) > 0 {
		r.body.Write(data)
	}
	return r.ResponseWriter.Write(data)
}

func (h *Handler) cacheKey(c *gin.Context) string {
	return fmt.Sprintf("cache:%s:%s?%s", c.Request.Method, c.FullPath(), c.Request.URL.RawQuery)
}

func parseUIDParam(c *gin.Context) (uuid.UUID, error) {
	uid, err := uuid.Parse(c.Param("uid"))
	if err != nil {
		return uuid.Nil, errMissingUID
	}
	return uid, nil
}

func parseIntQuery(c *gin.Context, key string) (int, error) {
	value := c.Query(key)
	if value == "" {
		return 0, fmt.Errorf("%s query param required", key)
	}
	return strconv.Atoi(value)
}

// parseLevels reads ?levels=, falling back to def when absent.
func parseLevels(c *gin.Context, def int) (int, error) {
	if c.Query("levels") == "" {
		return def, nil
	}
	n, err := parseIntQuery(c, "levels")
	if err != nil || n <= 0 || n > maxLevels {
		return 0, errInvalidLevels
	}
	return n, nil
}

func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, errMissingRange
	}
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}
