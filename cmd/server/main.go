package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jengzang/porto-trajectory-go/internal/analysis"
	"github.com/jengzang/porto-trajectory-go/internal/api"
	"github.com/jengzang/porto-trajectory-go/internal/config"
	"github.com/jengzang/porto-trajectory-go/internal/database"
	"github.com/jengzang/porto-trajectory-go/internal/metrics"
	"github.com/jengzang/porto-trajectory-go/internal/repository"
	"github.com/jengzang/porto-trajectory-go/internal/service"

	// Import analyzer packages to register them
	_ "github.com/jengzang/porto-trajectory-go/internal/analysis/foundation"
	_ "github.com/jengzang/porto-trajectory-go/internal/analysis/matching"
	_ "github.com/jengzang/porto-trajectory-go/internal/analysis/traversal"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// 初始化数据库
	if err := database.Init(database.Config{Path: cfg.DBPath}); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.Close()
	db := database.GetDB()

	m := metrics.NewCollector()
	tasks := service.NewAnalysisTaskService(
		repository.NewAnalysisTaskRepository(db),
		&analysis.Env{DB: db, Config: cfg, Metrics: m},
	)

	// 初始化路由
	router := api.SetupRouter(cfg, db, m, tasks)
	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// running analyses stop at their next batch boundary
	tasks.CancelAll()
	tasks.Wait()
	log.Println("Server exited")
}
