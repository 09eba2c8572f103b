package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RestServer - административный HTTP API мира
type RestServer struct {
	router  *gin.Engine
	world   *world.World
	port    string
	metrics *ServerMetrics
	log     *logging.Logger
	secret  []byte

	mu  sync.Mutex
	srv *http.Server
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port  string       // адрес для запуска сервера, например ":8088"
	World *world.World // обслуживаемый мир
	// JWTSecret - общий секрет HS256 для PUT /blocks, POST /save и POST /gc.
	// Пустой секрет оставляет эти маршруты открытыми.
	JWTSecret string

	// Registerer и Gatherer для HTTP-метрик и /metrics;
	// по умолчанию глобальный реестр Prometheus
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) (*RestServer, error) {
	if config.World == nil {
		return nil, fmt.Errorf("%w: мир не задан", world.ErrInvalidArgument)
	}
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	promMw, err := newHTTPMetrics("world_api", config.Registerer)
	if err != nil {
		return nil, fmt.Errorf("регистрация HTTP-метрик: %w", err)
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	log := logging.For(logging.ComponentAPI)
	router.Use(otelgin.Middleware("world_api"))
	router.Use(requestLogger(log))
	router.Use(promMw.handler())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})))

	rs := &RestServer{
		router:  router,
		world:   config.World,
		port:    config.Port,
		metrics: NewServerMetrics(),
		log:     log,
	}
	if config.JWTSecret != "" {
		rs.secret = []byte(config.JWTSecret)
	} else {
		log.Warn("JWT-секрет не задан: изменяющие маршруты открыты")
	}
	rs.setupRoutes()
	return rs, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	v1 := rs.router.Group("/api/v1")
	{
		v1.GET("/blocks/:x/:y/:z", rs.handleGetBlock)
		v1.GET("/chunks/:x/:z", rs.handleGetChunk)
		v1.GET("/stats", rs.handleStats)
	}

	mutating := v1.Group("")
	if rs.secret != nil {
		mutating.Use(jwtMiddleware(rs.secret, rs.log))
	}
	{
		mutating.PUT("/blocks/:x/:y/:z", rs.handleSetBlock)
		mutating.POST("/save", rs.handleSave)
		mutating.POST("/gc", rs.handleGC)
	}
}

// Handler возвращает http.Handler сервера
func (rs *RestServer) Handler() http.Handler { return rs.router }

// Start запускает REST сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	srv := &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	rs.mu.Lock()
	rs.srv = srv
	rs.mu.Unlock()

	rs.log.Info("REST API слушает %s", rs.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop завершает сервер, дожидаясь активных запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	rs.mu.Lock()
	srv := rs.srv
	rs.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (rs *RestServer) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, world.ErrInvalidArgument), errors.Is(err, world.ErrUnsupported):
		status = http.StatusBadRequest
	case errors.Is(err, block.ErrUnknownState):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, world.ErrAlreadyReleased):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		rs.log.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, GenericResponse{Success: false, Message: err.Error()})
}

func intParams(c *gin.Context, names ...string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		v, err := strconv.Atoi(c.Param(name))
		if err != nil {
			return nil, fmt.Errorf("%w: параметр %s=%q", world.ErrInvalidArgument, name, c.Param(name))
		}
		out[i] = v
	}
	return out, nil
}

// BlockInfo - состояние блока и освещение в точке
type BlockInfo struct {
	ID         block.Identifier `json:"id"`
	LegacyID   int              `json:"legacy_id"`
	Meta       int              `json:"meta"`
	RuntimeID  int              `json:"runtime_id"`
	Layer      int              `json:"layer"`
	BlockLight int              `json:"block_light"`
	SkyLight   int              `json:"sky_light"`
}

func queryLayer(c *gin.Context) (int, error) {
	layer, err := strconv.Atoi(c.DefaultQuery("layer", "0"))
	if err != nil {
		return 0, fmt.Errorf("%w: layer=%q", world.ErrInvalidArgument, c.Query("layer"))
	}
	return layer, nil
}

func (rs *RestServer) handleGetBlock(c *gin.Context) {
	p, err := intParams(c, "x", "y", "z")
	if err != nil {
		rs.fail(c, err)
		return
	}
	layer, err := queryLayer(c)
	if err != nil {
		rs.fail(c, err)
		return
	}
	x, y, z := p[0], p[1], p[2]

	state, err := rs.world.GetBlockStateLayer(x, y, z, layer)
	if err != nil {
		rs.fail(c, err)
		return
	}
	info := BlockInfo{ID: state.ID, LegacyID: state.LegacyID, Meta: state.Meta, RuntimeID: state.RuntimeID(), Layer: layer}
	if info.BlockLight, err = rs.world.GetBlockLight(x, y, z); err != nil {
		rs.fail(c, err)
		return
	}
	if info.SkyLight, err = rs.world.GetSkyLight(x, y, z); err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Блок получен", Data: info})
}

// SetBlockRequest - запрос на установку блока: по идентификатору или legacy ID
type SetBlockRequest struct {
	ID       string `json:"id"`
	LegacyID *int   `json:"legacy_id"`
	Meta     int    `json:"meta"`
	Layer    int    `json:"layer"`
}

func (rs *RestServer) handleSetBlock(c *gin.Context) {
	p, err := intParams(c, "x", "y", "z")
	if err != nil {
		rs.fail(c, err)
		return
	}
	var req SetBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.fail(c, fmt.Errorf("%w: %v", world.ErrInvalidArgument, err))
		return
	}
	x, y, z := p[0], p[1], p[2]

	switch {
	case req.ID != "":
		id, perr := block.ParseIdentifier(req.ID)
		if perr != nil {
			rs.fail(c, fmt.Errorf("%w: %v", world.ErrInvalidArgument, perr))
			return
		}
		err = rs.world.SetBlockStateIDLayer(x, y, z, req.Layer, id, req.Meta)
	case req.LegacyID != nil:
		err = rs.world.SetBlockStateLegacyLayer(x, y, z, req.Layer, *req.LegacyID, req.Meta)
	default:
		err = fmt.Errorf("%w: нужен id или legacy_id", world.ErrInvalidArgument)
	}
	if err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Блок установлен"})
}

// ChunkInfo - сводка по чанку
type ChunkInfo struct {
	X            int      `json:"x"`
	Z            int      `json:"z"`
	Sections     int      `json:"sections"`
	Populated    bool     `json:"populated"`
	Dirty        bool     `json:"dirty"`
	TileEntities int      `json:"tile_entities"`
	HeightMap    [256]int `json:"height_map"` // индекс z<<4|x
}

func (rs *RestServer) handleGetChunk(c *gin.Context) {
	p, err := intParams(c, "x", "z")
	if err != nil {
		rs.fail(c, err)
		return
	}
	chunk, err := rs.world.Manager().GetOrLoadChunk(c.Request.Context(), p[0], p[1])
	if err != nil {
		rs.fail(c, err)
		return
	}
	if chunk == nil {
		c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: "Чанк не существует"})
		return
	}
	defer chunk.Release()

	info := ChunkInfo{
		X:            chunk.X(),
		Z:            chunk.Z(),
		Sections:     chunk.SectionCount(),
		Populated:    chunk.Populated(),
		Dirty:        chunk.Dirty(),
		TileEntities: len(chunk.TileEntities()),
	}
	for z := 0; z < 16; z++ {
		for x := 0; x < 16; x++ {
			info.HeightMap[z<<4|x] = chunk.GetHighestBlock(x, z)
		}
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Чанк получен", Data: info})
}

func (rs *RestServer) handleSave(c *gin.Context) {
	start := time.Now()
	if err := rs.world.Save(c.Request.Context()); err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Мир сохранён",
		Data:    gin.H{"duration_ms": time.Since(start).Milliseconds()},
	})
}

func (rs *RestServer) handleGC(c *gin.Context) {
	full, err := strconv.ParseBool(c.DefaultQuery("full", "false"))
	if err != nil {
		rs.fail(c, fmt.Errorf("%w: full=%q", world.ErrInvalidArgument, c.Query("full")))
		return
	}
	evicted, err := rs.world.Manager().GC(c.Request.Context(), full)
	if err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сборка кэша выполнена",
		Data:    gin.H{"evicted": evicted, "full": full},
	})
}

func (rs *RestServer) handleStats(c *gin.Context) {
	stats := map[string]any{
		"world": gin.H{
			"name":      rs.world.Name(),
			"layers":    rs.world.Layers(),
			"sky_light": rs.world.HasSkyLight(),
			"manager":   rs.world.Manager().ID(),
		},
		"cache": rs.world.Manager().Stats(),
	}

	cpuPercent, _ := rs.metrics.GetCPUUsage()
	rss, _ := rs.metrics.GetRSS()
	stats["server"] = map[string]any{
		"uptime":      rs.metrics.GetUptime(),
		"rss_mb":      fmt.Sprintf("%.2f", rss),
		"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
		"server_time": time.Now().Unix(),
	}
	stats["memory_details"] = rs.metrics.GetDetailedMemoryStats()

	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Статистика получена", Data: stats})
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	status := http.StatusOK
	state := "ok"
	if rs.world.RefCnt() == 0 {
		status, state = http.StatusServiceUnavailable, "closed"
	}
	c.JSON(status, gin.H{
		"status": state,
		"time":   time.Now().Unix(),
	})
}
