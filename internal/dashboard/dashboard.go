// Package dashboard serves the bridge's read-only status endpoint.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jabagram/internal/dispatch"
	"jabagram/internal/store"
)

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Listen     string // host:port to bind
	Chats      *store.ChatStore
	Dispatcher *dispatch.Dispatcher
	Out        io.Writer
}

// Start launches the status HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Listen == "" {
		return fmt.Errorf("dashboard: listen address is required")
	}
	router, err := newRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    opts.Listen,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "dashboard: status endpoint on http://%s\n", opts.Listen)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func newRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Chats == nil {
		return nil, fmt.Errorf("dashboard: chat store is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dashboard: dispatcher is required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	started := time.Now()
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", handleStatus(opts, started))
	return router, nil
}

type pairingStatus struct {
	TelegramID int64  `json:"telegram_id"`
	MUC        string `json:"muc"`
}

func handleStatus(opts StartOpts, started time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		chats := opts.Chats.All()
		pairings := make([]pairingStatus, 0, len(chats))
		for _, chat := range chats {
			pairings = append(pairings, pairingStatus{
				TelegramID: chat.TelegramID,
				MUC:        chat.MUC,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"uptime_seconds": int64(time.Since(started).Seconds()),
			"queue_depth":    opts.Dispatcher.QueueDepth(),
			"pairings":       pairings,
		})
	}
}
