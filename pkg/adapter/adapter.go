// Package adapter owns the top-level lifecycle of one running bridge
// process (spec §4.8): wiring the configured platform.Client, the three
// caches and their maintenance sweeps, the ConversationManager, the
// incoming/outgoing processors and the EventBus together, then starting
// and stopping them in the documented dependency order.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"chatbridge/pkg/attachments"
	"chatbridge/pkg/cache"
	"chatbridge/pkg/config"
	"chatbridge/pkg/conversation"
	"chatbridge/pkg/emoji"
	"chatbridge/pkg/eventbus"
	"chatbridge/pkg/incoming"
	"chatbridge/pkg/outgoing"
	"chatbridge/pkg/platform"
	"chatbridge/pkg/ratelimit"
)

// selfIdentifier is an optional capability a platform.Client may
// implement to report its own platform user id, used to drive the
// reaction-loopback filter (spec §9) and RecordOutgoingMessage's
// no-loopback guarantee. platform.Client stays narrow and
// per-platform-implementable; clients with no notion of a bot identity
// (a pure webhook receiver) simply don't implement it.
type selfIdentifier interface {
	SelfUserID() string
}

// Adapter owns every long-lived component of one running bridge
// process. Build it with New, then call Start.
type Adapter struct {
	cfg    *config.Config
	sysCfg *config.SystemConfig

	client      platform.Client
	manager     *conversation.ConversationManager
	rateLimiter *ratelimit.RateLimiter
	incoming    *incoming.Processor
	outgoing    *outgoing.OutgoingEventProcessor
	bus         *eventbus.EventBus
	httpServer  *http.Server

	handlers map[string]incoming.Handler
	history  *incoming.HistoryFetcher
	selfID   string

	users *cache.UserCache
	msgs  *cache.MessageCache
	atts  *cache.AttachmentCache

	cancelMaintenance context.CancelFunc
	wg                sync.WaitGroup

	fatal chan error
}

// New resolves the configured platform.Factory, builds every
// downstream component, and wires them together in this order:
// platform client -> caches -> conversation manager -> rate limiter ->
// outgoing processor -> event bus -> incoming processor.
func New(cfg *config.Config, sysCfg *config.SystemConfig, handlers map[string]incoming.Handler) (*Adapter, error) {
	factory, ok := platform.Lookup(cfg.AdapterType)
	if !ok {
		return nil, fmt.Errorf("no platform registered for adapter_type %q", cfg.AdapterType)
	}
	client, err := factory.Create(cfg.Platform)
	if err != nil {
		return nil, fmt.Errorf("failed to construct %s client: %w", cfg.AdapterType, err)
	}

	users := cache.NewUserCache(sysCfg.Cache.MaxTotalUsers, hours(sysCfg.Cache.UserMaxAgeHours))
	msgs := cache.NewMessageCache(sysCfg.Cache.MaxTotalMessages, sysCfg.Cache.MaxMessagesPerConversation, hours(sysCfg.Cache.MessageMaxAgeHours))
	atts := cache.NewAttachmentCache(sysCfg.Attachment.StorageDir, sysCfg.Cache.MaxTotalAttachments, hours(sysCfg.Cache.AttachmentMaxAgeHours))

	downloader := attachments.NewDownloader(atts, int64(sysCfg.Attachment.MaxFileSizeMB)*1024*1024)
	builder := conversation.NewDefaultMessageBuilder(cfg.AdapterType, downloader)
	manager := conversation.New(users, msgs, atts, builder, 64)

	emojiConv, err := emoji.New(sysCfg.EmojiOverlayPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load emoji table: %w", err)
	}

	rl := ratelimit.New(ratelimit.Limits{
		GlobalRPM:          sysCfg.RateLimit.GlobalRPM,
		PerConversationRPM: sysCfg.RateLimit.PerConversationRPM,
		MessageRPM:         sysCfg.RateLimit.MessageRPM,
	})

	selfID := ""
	if si, ok := client.(selfIdentifier); ok {
		selfID = si.SelfUserID()
	}

	history := incoming.NewHistoryFetcher(manager, sysCfg.MaxPaginationIterations, sysCfg.CacheFetchedHistory)

	outProc := &outgoing.OutgoingEventProcessor{
		Manager:                manager,
		Attachments:            atts,
		Client:                 client,
		PlatformType:           cfg.AdapterType,
		RateLimiter:            rl,
		Uploader:               attachments.NewUploader(attachmentTempDir(sysCfg)),
		Emoji:                  emojiConv,
		History:                history,
		MaxMessageLength:       sysCfg.MaxMessageLength,
		AllowAttachmentsOnEdit: false,
		SupportsPinUnpin:       true,
		SelfUserID:             selfID,
		Now:                    time.Now,
	}

	// The bus starts wired to a placeholder Transport; if the adapter is
	// configured to dial out, Start replaces it immediately, before
	// bus.Start ever runs. If it's configured to listen instead, Start
	// blocks on acceptEventSocket and swaps in the real connection once
	// the framework dials in.
	bus := eventbus.New(cfg.AdapterType, noopTransport{}, outProc)

	deps := &incoming.Deps{
		Manager:      manager,
		Attachments:  atts,
		Client:       client,
		PlatformType: cfg.AdapterType,
		Emoji:        emojiConv,
		Now:          time.Now,
	}
	incProc := incoming.New(deps, handlers, bus, history,
		incoming.WithReactionLoopbackFilter(sysCfg.FilterOwnReactions, selfID))

	var httpServer *http.Server
	if cfg.EventSocketURL == "" && cfg.EventSocketListenAddr != "" {
		httpServer = &http.Server{Addr: cfg.EventSocketListenAddr}
	}

	return &Adapter{
		cfg:         cfg,
		sysCfg:      sysCfg,
		client:      client,
		manager:     manager,
		rateLimiter: rl,
		incoming:    incProc,
		outgoing:    outProc,
		bus:         bus,
		httpServer:  httpServer,
		handlers:    handlers,
		history:     history,
		selfID:      selfID,
		users:       users,
		msgs:        msgs,
		atts:        atts,
		fatal:       make(chan error, 1),
	}, nil
}

func hours(h int) time.Duration {
	if h <= 0 {
		return 0
	}
	return time.Duration(h) * time.Hour
}

func attachmentTempDir(sysCfg *config.SystemConfig) string {
	dir := sysCfg.Attachment.StorageDir
	if dir == "" {
		dir = "data/attachments"
	}
	return dir + "/tmp"
}

// noopTransport is a placeholder Transport that never produces input
// and silently drops output, used only for the brief window before the
// real Transport (dialed or accepted) is wired in.
type noopTransport struct{}

func (noopTransport) Send(v any) error { return nil }
func (noopTransport) Receive() ([]byte, error) {
	select {}
}
func (noopTransport) Close() error { return nil }

// Start brings every component online in dependency order (spec §4.8):
// resolve the event-socket transport (dial or accept), connect the
// platform client, start the event bus's receive/worker loops, start
// the incoming processor's event loop, start cache maintenance, and
// launch the connection monitor as a background task whose FatalError
// is escalated through Fatal().
func (a *Adapter) Start(ctx context.Context) error {
	if n, err := a.atts.Rehydrate(); err != nil {
		slog.Warn("attachment cache rehydrate reported an error", "error", err)
	} else {
		slog.Info("attachment cache rehydrated from storage_dir", "count", n)
	}

	if err := a.resolveTransport(ctx); err != nil {
		return err
	}

	if err := a.client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect platform client: %w", err)
	}

	a.bus.Start(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.incoming.Run(ctx)
	}()

	maintCtx, cancel := context.WithCancel(ctx)
	a.cancelMaintenance = cancel
	a.startMaintenance(maintCtx)

	interval := a.sysCfg.ConnectionCheckInterval()
	if interval <= 0 {
		interval = 15 * time.Second
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.bus.MonitorConnection(ctx, a.client.IsAlive, interval, a.sysCfg.MaxReconnectAttempts); err != nil {
			slog.Error("platform connection monitor terminated fatally", "error", err)
			select {
			case a.fatal <- err:
			default:
			}
		}
	}()

	return nil
}

// resolveTransport establishes the event-socket connection: dials out
// if EventSocketURL is configured, otherwise listens on
// EventSocketListenAddr and blocks until the framework connects. If
// neither is configured the adapter runs with the bus's placeholder
// Transport (useful for tests exercising the platform side in
// isolation without a framework attached).
func (a *Adapter) resolveTransport(ctx context.Context) error {
	if a.cfg.EventSocketURL != "" {
		t, err := eventbus.Dial(a.cfg.EventSocketURL)
		if err != nil {
			return fmt.Errorf("failed to dial event socket %s: %w", a.cfg.EventSocketURL, err)
		}
		a.rewire(t)
		return nil
	}
	if a.httpServer == nil {
		return nil
	}

	accepted := make(chan *eventbus.WebSocketTransport, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t, err := eventbus.Accept(w, r)
		if err != nil {
			slog.Error("failed to accept event socket connection", "error", err)
			return
		}
		select {
		case accepted <- t:
		default:
			_ = t.Close()
		}
	})
	a.httpServer.Handler = mux

	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.httpServer.Addr, err)
	}
	go func() {
		if err := a.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("event socket listener failed", "error", err)
		}
	}()

	select {
	case t := <-accepted:
		a.rewire(t)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rewire replaces the bus's placeholder Transport with a live one and
// rebuilds the incoming processor against the new bus, since Processor
// captures its bus at construction time.
func (a *Adapter) rewire(t eventbus.Transport) {
	a.bus = eventbus.New(a.cfg.AdapterType, t, a.outgoing)
	a.incoming = incoming.New(a.incomingDeps(), a.handlers, a.bus, a.history,
		incoming.WithReactionLoopbackFilter(a.sysCfg.FilterOwnReactions, a.selfID))
}

func (a *Adapter) incomingDeps() *incoming.Deps {
	return &incoming.Deps{
		Manager:      a.manager,
		Attachments:  a.atts,
		Client:       a.client,
		PlatformType: a.cfg.AdapterType,
		Emoji:        a.outgoing.Emoji,
		Now:          time.Now,
	}
}

// Fatal returns a channel that receives exactly one error if the
// connection monitor exhausts max_reconnect_attempts (spec §7's Fatal
// category); the caller is expected to terminate the process on
// receipt.
func (a *Adapter) Fatal() <-chan error {
	return a.fatal
}

// Stop tears every component down in reverse dependency order: stop
// maintenance, drain the event bus, disconnect the platform client.
// Attachment-cache on-disk contents are left untouched for the next
// run.
func (a *Adapter) Stop(ctx context.Context) {
	if a.cancelMaintenance != nil {
		a.cancelMaintenance()
	}
	a.bus.Stop(5 * time.Second)
	if a.httpServer != nil {
		_ = a.httpServer.Shutdown(ctx)
	}
	if err := a.client.Disconnect(ctx); err != nil {
		slog.Warn("platform client disconnect reported an error", "error", err)
	}
	a.wg.Wait()
}

// startMaintenance launches the background sweep loop for all three
// caches at the configured cadence (spec §4.2), reporting what each
// sweep evicted the way the eventbus connection monitor reports its own
// periodic state.
func (a *Adapter) startMaintenance(ctx context.Context) {
	interval := hours(a.sysCfg.Cache.CleanupIntervalHours)
	if interval <= 0 {
		interval = time.Hour
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				evictedUsers := a.users.Sweep(now)
				evictedMsgs := a.msgs.Sweep(now)
				evictedAtts := a.atts.Sweep(now)
				slog.Info("cache maintenance sweep complete",
					"evicted_users", evictedUsers,
					"evicted_messages", evictedMsgs,
					"evicted_attachments", evictedAtts)
			}
		}
	}()
}
