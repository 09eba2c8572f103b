package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxel-world/internal/app"
	"github.com/annel0/voxel-world/internal/config"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $WORLD_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	consoleLevel, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("❌ logging.level: %v", err)
	}
	fileLevel, err := logging.ParseLevel(cfg.Logging.FileLevel)
	if err != nil {
		log.Fatalf("❌ logging.file_level: %v", err)
	}
	logging.Configure(logging.Config{Dir: cfg.Logging.Dir, ConsoleLevel: consoleLevel, FileLevel: fileLevel})
	if err := logging.InitDefaultLogger("worldd"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	if err := logging.Components().ApplyLevels(cfg.Logging.Components); err != nil {
		log.Fatalf("❌ logging.components: %v", err)
	}
	defer logging.Components().Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logging.Error("❌ Ошибка инициализации OpenTelemetry: %v", err)
		return
	}

	server, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		logging.Error("❌ Ошибка запуска мира: %v", err)
		return
	}

	port := cfg.Server.GetRESTPort()
	logging.Info("✅ Сервер мира запущен")
	logging.Info("   🌐 REST API: http://localhost:%d/api/v1", port)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", port)
	logging.Info("   📈 Метрики: http://localhost:%d/metrics", port)

	if err := server.Run(ctx); err != nil {
		logging.Error("❌ REST API: %v", err)
	}
	logging.Info("📡 Завершение работы, сохранение мира...")

	// сигнал уже получен, для завершения нужен свежий контекст
	closeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := server.Close(closeCtx); err != nil {
		logging.Error("❌ Ошибка при остановке: %v", err)
	}
	if err := shutdownTelemetry(closeCtx); err != nil {
		logging.Error("❌ Ошибка остановки OpenTelemetry: %v", err)
	}
	logging.Info("👋 Сервер успешно остановлен")
}
