package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"keyproxy.com/internal/keyproxy/app"
)

func main() {
	// 支持 Ctrl+C / kubernetes 停止信号的 context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proxyApp, err := app.New("key-proxy")
	if err != nil {
		log.Fatalf("init key-proxy error: %v", err)
	}

	cleanUp, err := proxyApp.StartService(ctx)
	if err != nil {
		log.Fatalf("start key-proxy error: %v", err)
	}
	defer cleanUp()

	srv := proxyApp.StartHttp()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("key-proxy ListenAndServe error: %v", err)
		}
	}()

	<-ctx.Done()

	// 给在途请求一点收尾时间
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("key-proxy shutdown error: %v", err)
	}
	log.Println("key-proxy exit")
}
