package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/distant-lod/internal/coordinator"
	"github.com/annel0/distant-lod/internal/lod"
	"github.com/annel0/distant-lod/internal/logging"
	"github.com/annel0/distant-lod/internal/middleware"
)

// Controller - то, чем отладочный API управляет
type Controller interface {
	Snapshot() coordinator.Snapshot
	LoadedCells() []coordinator.CellInfo
	TierAt(dx, dy int) (lod.Tier, float64)
	Teleport()
	ChangeWorld(worldID string) error
}

// Config содержит конфигурацию отладочного сервера
type Config struct {
	Addr       string // адрес для запуска сервера, по умолчанию ":8088"
	Controller Controller
	// Registry - регистр для HTTP-метрик и /metrics; nil - глобальный
	Registry *prometheus.Registry
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// WorldRequest - тело POST /api/world
type WorldRequest struct {
	WorldID string `json:"world_id" binding:"required"`
}

// TierResponse - ответ GET /api/tier
type TierResponse struct {
	DX       int     `json:"dx"`
	DY       int     `json:"dy"`
	Distance float64 `json:"distance"`
	Tier     string  `json:"tier"`
	Priority int     `json:"priority"`
}

// Server - HTTP-сервер для наблюдения за LOD-подсистемой
type Server struct {
	router  *gin.Engine
	http    *http.Server
	ctl     Controller
	process *ProcessMetrics
	logger  *logging.Logger
}

// NewServer создаёт сервер, но не запускает его
func NewServer(cfg Config) (*Server, error) {
	if cfg.Controller == nil {
		return nil, errors.New("api: controller is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("distant-lod-api"))

	logger := logging.GetAPILogger()
	router.Use(middleware.NewRequestLogger(logger).Handler())

	var (
		reg     prometheus.Registerer
		metrics http.Handler
	)
	if cfg.Registry != nil {
		reg = cfg.Registry
		metrics = promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})
	} else {
		metrics = promhttp.Handler()
	}
	router.Use(middleware.NewPrometheusMiddleware("lod_api", reg).Handler())

	s := &Server{
		router:  router,
		http:    &http.Server{Addr: cfg.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second},
		ctl:     cfg.Controller,
		process: NewProcessMetrics(),
		logger:  logger,
	}
	s.setupRoutes(metrics)
	return s, nil
}

func (s *Server) setupRoutes(metrics http.Handler) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics))

	api := s.router.Group("/api")
	{
		api.GET("/stats", s.handleStats)
		api.GET("/cells", s.handleCells)
		api.GET("/tier", s.handleTier)
		api.POST("/teleport", s.handleTeleport)
		api.POST("/world", s.handleWorld)
	}
}

// Handler открыт для тестов
func (s *Server) Handler() http.Handler { return s.router }

// Start запускает сервер и блокируется до остановки
func (s *Server) Start() error {
	s.logger.Info("🌐 Отладочный API запущен на %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop корректно останавливает сервер
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data: gin.H{
			"lod":     s.ctl.Snapshot(),
			"process": s.process.Report(),
		},
	})
}

func (s *Server) handleCells(c *gin.Context) {
	cells := s.ctl.LoadedCells()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: strconv.Itoa(len(cells)) + " ячеек загружено",
		Data:    cells,
	})
}

func (s *Server) handleTier(c *gin.Context) {
	dx, errX := strconv.Atoi(c.DefaultQuery("dx", "0"))
	dy, errY := strconv.Atoi(c.DefaultQuery("dy", "0"))
	if errX != nil || errY != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "dx и dy должны быть целыми числами",
		})
		return
	}

	tier, distance := s.ctl.TierAt(dx, dy)
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: tier.String(),
		Data: TierResponse{
			DX:       dx,
			DY:       dy,
			Distance: distance,
			Tier:     tier.String(),
			Priority: tier.Priority(),
		},
	})
}

func (s *Server) handleTeleport(c *gin.Context) {
	s.ctl.Teleport()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Память тиров сброшена",
	})
}

func (s *Server) handleWorld(c *gin.Context) {
	var req WorldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	if err := s.ctl.ChangeWorld(req.WorldID); err != nil {
		s.logger.Warn("Смена мира на %q отклонена: %v", req.WorldID, err)
		c.JSON(http.StatusUnprocessableEntity, GenericResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Мир сменён",
		Data:    s.ctl.Snapshot(),
	})
}
