// Package bridge wires the whole relay together: storage, the pairing
// service, both network clients, the dispatcher, the keepalive schedule and
// the optional status endpoint.
package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/robfig/cron/v3"

	"jabagram/internal/config"
	"jabagram/internal/dashboard"
	"jabagram/internal/db"
	"jabagram/internal/dispatch"
	"jabagram/internal/service"
	"jabagram/internal/store"
	"jabagram/internal/telegram"
	"jabagram/internal/xmpp"
)

// keepaliveSchedule pings the XMPP server often enough to keep NAT
// mappings and idle-connection reapers at bay.
const keepaliveSchedule = "@every 1m"

// RunOpts holds everything Run needs.
type RunOpts struct {
	Config   *config.Config
	DataPath string    // SQLite database file
	Out      io.Writer // defaults to os.Stdout
}

// Run starts the bridge and blocks until ctx is cancelled. Startup errors
// are fatal; runtime errors are handled by the components themselves.
func Run(ctx context.Context, opts RunOpts) error {
	if opts.Config == nil {
		return fmt.Errorf("bridge: config is required")
	}
	if opts.DataPath == "" {
		return fmt.Errorf("bridge: data path is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	cfg := opts.Config

	gdb, err := db.Open(opts.DataPath)
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return fmt.Errorf("bridge: %w", err)
	}

	chats := store.NewChatStore(gdb)
	msgStore := store.NewMessageStore(gdb)
	stickers := store.NewStickerCache(gdb)
	topics := store.NewTopicNameCache(gdb)

	svc, err := service.New(service.Opts{
		Chats: chats,
		Key:   cfg.General.Key,
		Out:   out,
	})
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	disp, err := dispatch.New(dispatch.Opts{Chats: chats, Out: out})
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}

	api, err := telegram.NewAPI(telegram.APIOpts{Token: cfg.Telegram.Token})
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	tg, err := telegram.NewClient(telegram.ClientOpts{
		API:        api,
		JID:        cfg.XMPP.Login,
		Service:    svc,
		Dispatcher: disp,
		Store:      msgStore,
		Topics:     topics,
		Messages:   cfg.Messages,
		Out:        out,
	})
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}

	xm, err := xmpp.NewClient(xmpp.ClientOpts{
		Login:      cfg.XMPP.Login,
		Password:   cfg.XMPP.Password,
		PoolSize:   cfg.XMPP.ActorsPoolSizeLimit,
		Service:    svc,
		Dispatcher: disp,
		Stickers:   stickers,
		Store:      msgStore,
		Messages:   cfg.Messages,
		Out:        out,
	})
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}

	sched := cron.New()
	if _, err := sched.AddFunc(keepaliveSchedule, func() {
		if err := xm.Ping(ctx); err != nil {
			log.Printf("bridge: keepalive: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("bridge: schedule keepalive: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	if cfg.General.StatusListen != "" {
		go func() {
			err := dashboard.Start(ctx, dashboard.StartOpts{
				Listen:     cfg.General.StatusListen,
				Chats:      chats,
				Dispatcher: disp,
				Out:        out,
			})
			if err != nil {
				log.Printf("bridge: %v", err)
			}
		}()
	}

	go disp.Start(ctx)
	go tg.Start(ctx)
	go xm.Start(ctx)

	fmt.Fprintf(out, "bridge: running as %s\n", cfg.XMPP.Login)
	<-ctx.Done()
	return nil
}
