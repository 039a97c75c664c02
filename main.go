package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/browserwing/domagent/api"
	"github.com/browserwing/domagent/config"
	"github.com/browserwing/domagent/mcp"
	"github.com/browserwing/domagent/pkg/logger"
	"github.com/browserwing/domagent/services/browser"
	"github.com/browserwing/domagent/storage"
)

// 构建信息变量，通过Makefile的LDFLAGS注入
var (
	Version   = "v0.1.0"
	BuildTime = ""
	GoVersion = ""
)

func main() {
	// 命令行参数
	port := flag.String("port", "", "Server port (default: 8080)")
	host := flag.String("host", "", "Server host (default: 0.0.0.0)")
	configPath := flag.String("config", "config.toml", "Path to config file (default: config.toml)")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Go Version: %s\n", GoVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config file, using default config: %v", err)
		cfg = config.Default()
	}

	logger.InitLogger(cfg.Log)
	ctx := context.Background()

	// 命令行参数优先于配置文件
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}
	db, err := storage.NewBoltDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	logger.Info(ctx, "✓ Database initialized: %s", cfg.Database.Path)

	browserManager := browser.NewManager(cfg, db)
	mcpServer := mcp.NewMCPServer(db, browserManager, cfg.Server.MCPPath)
	logger.Info(ctx, "✓ MCP server mounted at %s", cfg.Server.MCPPath)

	handler := api.NewHandler(db, browserManager, cfg)
	router := api.SetupRouter(handler, mcpServer, cfg.Server.MCPPath, cfg.Debug)

	if cfg.Browser.StartURL != "" {
		go openStartURL(ctx, browserManager, cfg.Browser.StartURL)
	}

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := setupGracefulShutdown(srv, browserManager, db)

	logger.Info(ctx, "🚀 DomAgent %s started at http://%s", Version, addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
	// Shutdown 之后 ListenAndServe 立即返回，等清理完成
	<-done
	log.Println("Program exited")
}

// openStartURL 启动浏览器并打开配置的起始页
func openStartURL(ctx context.Context, m *browser.Manager, url string) {
	if err := m.Start(ctx); err != nil {
		logger.Warn(ctx, "Failed to start browser: %v", err)
		return
	}
	if _, err := m.OpenPage(ctx, url); err != nil {
		logger.Warn(ctx, "Failed to open start url %s: %v", url, err)
		return
	}
	logger.Info(ctx, "✓ Start page opened: %s", url)
}

// setupGracefulShutdown 设置优雅退出，自动关闭浏览器
func setupGracefulShutdown(srv *http.Server, browserManager *browser.Manager, db *storage.BoltDB) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	// 监听 SIGINT (Ctrl+C) 和 SIGTERM
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer close(done)
		sig := <-sigChan
		log.Printf("\nReceived exit signal: %v", sig)
		log.Println("Exiting gracefully...")

		// 最多等待 10 秒
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if browserManager.IsRunning() {
			log.Println("Browser is running, closing...")
			if err := browserManager.Stop(ctx); err != nil {
				log.Printf("Failed to close browser: %v", err)
			} else {
				log.Println("✓ Browser closed")
			}
		}

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Failed to shutdown HTTP server: %v", err)
		}

		log.Println("Closing database...")
		if err := db.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		} else {
			log.Println("✓ Database closed")
		}
	}()
	return done
}
