package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatbridge/pkg/platform"
)

// mediaGroupBuffer aggregates the individual messages Telegram sends for
// one album (MediaGroupID) into a single RawEvent, the way
// TelegramChannel.handleMediaGroup did for UnifiedMessage.
type mediaGroupBuffer struct {
	first   *tgbotapi.Message
	extra   []*tgbotapi.Message
	caption string
	timer   *time.Timer
}

// Client implements platform.Client for Telegram. Reconnection is not
// needed in the traditional sense — GetUpdates long-polling reconnects
// on every iteration — but the update loop must be forcibly abortable on
// Disconnect, which is why it carries its own cancellable context the
// way TelegramChannel does.
type Client struct {
	cfg        Config
	bot        *tgbotapi.BotAPI
	httpClient *http.Client

	events chan platform.RawEvent

	mu          sync.Mutex
	mediaGroups map[string]*mediaGroupBuffer

	alive      atomic.Bool
	stopCtx    context.Context
	stopCancel context.CancelFunc
}

// New constructs a telegram Client from its parsed Config. It authorizes
// against the Bot API immediately (mirroring NewTelegramChannel) so a
// bad token fails fast at startup rather than on first event.
func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	botHTTPClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHTTPClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	timeoutMs := cfg.DownloadTimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}

	return &Client{
		cfg:         cfg,
		bot:         bot,
		httpClient:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		events:      make(chan platform.RawEvent, 64),
		mediaGroups: make(map[string]*mediaGroupBuffer),
		stopCtx:     ctx,
		stopCancel:  cancel,
	}, nil
}

// Connect starts the long-polling update loop in the background.
func (c *Client) Connect(ctx context.Context) error {
	slog.Info("telegram bot authorized", "username", c.bot.Self.UserName)
	c.alive.Store(true)
	go c.pollLoop()
	return nil
}

// Disconnect aborts the long-polling loop and closes idle connections,
// mirroring TelegramChannel.Stop's handling of tgbotapi's lack of native
// per-request context cancellation.
func (c *Client) Disconnect(ctx context.Context) error {
	c.alive.Store(false)
	c.stopCancel()

	if transport, ok := c.bot.Client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}

	close(c.events)
	return nil
}

// IsAlive reports whether the update loop believes it is connected.
func (c *Client) IsAlive() bool {
	return c.alive.Load()
}

// StreamEvents returns the channel of raw Telegram updates.
func (c *Client) StreamEvents() <-chan platform.RawEvent {
	return c.events
}

// SelfUserID returns the bot's own user id, used by pkg/adapter to wire
// up the incoming/outgoing processors' reaction-loopback filter (spec
// §4.4: a platform that echoes the bot's own reactions back through the
// event stream needs this to avoid re-applying its own change as if a
// human had made it).
func (c *Client) SelfUserID() string {
	return strconv.FormatInt(c.bot.Self.ID, 10)
}

func (c *Client) pollLoop() {
	offset := 0

	for {
		select {
		case <-c.stopCtx.Done():
			return
		default:
		}

		reqConfig := tgbotapi.NewUpdate(offset)
		reqConfig.Timeout = 60

		updates, err := c.bot.GetUpdates(reqConfig)
		if err != nil {
			select {
			case <-c.stopCtx.Done():
				return
			default:
				slog.Debug("failed to get telegram updates", "error", err)
				c.alive.Store(false)
				time.Sleep(3 * time.Second)
				continue
			}
		}
		c.alive.Store(true)

		for _, update := range updates {
			if update.UpdateID < offset {
				continue
			}
			offset = update.UpdateID + 1
			c.handleUpdate(update)
		}
	}
}

func (c *Client) handleUpdate(update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		c.handleMessage(update.Message)
	case update.EditedMessage != nil:
		c.emit("edited_message", update.EditedMessage)
	case update.MessageReaction != nil:
		c.emit("message_reaction", update.MessageReaction)
	}
}

func (c *Client) handleMessage(msg *tgbotapi.Message) {
	if msg.MediaGroupID != "" {
		c.bufferMediaGroup(msg)
		return
	}
	c.emit("message", msg)
}

// bufferMediaGroup accumulates every message belonging to one Telegram
// album and flushes a single synthetic event once a short debounce
// window elapses without a new arrival, exactly as TelegramChannel does
// for UnifiedMessage.
func (c *Client) bufferMediaGroup(msg *tgbotapi.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	groupID := msg.MediaGroupID
	buf, ok := c.mediaGroups[groupID]
	if !ok {
		caption := msg.Text
		if caption == "" {
			caption = msg.Caption
		}
		buf = &mediaGroupBuffer{first: msg, caption: caption}
		c.mediaGroups[groupID] = buf
		buf.timer = time.AfterFunc(time.Second, func() {
			c.flushMediaGroup(groupID)
		})
		return
	}

	buf.extra = append(buf.extra, msg)
	if caption := msg.Caption; caption != "" && buf.caption == "" {
		buf.caption = caption
	}
	buf.timer.Reset(time.Second)
}

func (c *Client) flushMediaGroup(groupID string) {
	c.mu.Lock()
	buf, ok := c.mediaGroups[groupID]
	if ok {
		delete(c.mediaGroups, groupID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	c.emit("media_group", &mediaGroupEvent{Caption: buf.caption, First: buf.first, Extra: buf.extra})
}

// mediaGroupEvent is the synthetic payload delivered for a flushed album.
type mediaGroupEvent struct {
	Caption string
	First   *tgbotapi.Message
	Extra   []*tgbotapi.Message
}

func (c *Client) emit(eventType string, payload any) {
	select {
	case c.events <- platform.RawEvent{Type: eventType, Payload: payload}:
	case <-c.stopCtx.Done():
	}
}

// chatIDOf parses a conversation id back into Telegram's native chat id.
func chatIDOf(conversationID string) (int64, error) {
	return strconv.ParseInt(conversationID, 10, 64)
}

// messageIDOf parses a message id back into Telegram's native message id.
func messageIDOf(messageID string) (int, error) {
	return strconv.Atoi(messageID)
}
