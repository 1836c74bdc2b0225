package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"omnigate/internal/lifecycle"
)

type event interface {
	generation() uint64
}

type epoch uint64

func (e epoch) generation() uint64 { return uint64(e) }

type (
	readyEvent struct {
		epoch
		self tgbotapi.User
	}
	closedEvent struct {
		epoch
		reason    string
		loggedOut bool
	}
	updateEvent struct {
		epoch
		update update
	}
)

// update extends the library's Update with message_reaction.
type update struct {
	tgbotapi.Update
	MessageReaction *reactionUpdate `json:"message_reaction,omitempty"`
}

const pollTimeout = 30 // seconds

var allowedUpdates = []string{"message", "edited_message", "channel_post", "edited_channel_post", "message_reaction"}

// ctxClient binds every Bot API request to the session context so Close
// interrupts a pending long poll.
type ctxClient struct {
	ctx    context.Context
	client *http.Client
}

func (c ctxClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

// session is the long-polling loop behind one machine.
type session struct {
	instanceID string
	token      string
	endpoint   string // Bot API endpoint format; tgbotapi.APIEndpoint when empty
	push       func(event) bool
	logger     *slog.Logger

	gen atomic.Uint64

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
}

func (s *session) current(e event) bool {
	return e.generation() == s.gen.Load()
}

// API returns the live bot or nil.
func (s *session) API() *tgbotapi.BotAPI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bot
}

func (s *session) Open(ctx context.Context) error {
	if s.token == "" {
		return fmt.Errorf("telegram bot token is empty: %w", lifecycle.ErrLoggedOut)
	}
	s.Close()

	g := epoch(s.gen.Add(1))
	pctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(pctx, g)
	return nil
}

// run authenticates with getMe and then long-polls getUpdates until the
// context ends or the API fails.
func (s *session) run(ctx context.Context, g epoch) {
	endpoint := s.endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := ctxClient{ctx: ctx, client: &http.Client{Timeout: (pollTimeout + 15) * time.Second}}
	bot, err := tgbotapi.NewBotAPIWithClient(s.token, endpoint, client)
	if err != nil {
		if ctx.Err() == nil {
			s.push(closedEvent{epoch: g, reason: "get bot identity: " + err.Error(), loggedOut: unauthorized(err)})
		}
		return
	}
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.bot = bot
	s.mu.Unlock()
	s.push(readyEvent{epoch: g, self: bot.Self})

	allowed, _ := json.Marshal(allowedUpdates)
	offset := 0
	for ctx.Err() == nil {
		params := tgbotapi.Params{}
		params.AddNonZero("offset", offset)
		params.AddNonZero("timeout", pollTimeout)
		params["allowed_updates"] = string(allowed)

		resp, err := bot.MakeRequest("getUpdates", params)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.push(closedEvent{epoch: g, reason: "poll updates: " + err.Error(), loggedOut: unauthorized(err)})
			return
		}
		var updates []update
		if err := json.Unmarshal(resp.Result, &updates); err != nil {
			s.push(closedEvent{epoch: g, reason: "decode updates: " + err.Error()})
			return
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if !s.push(updateEvent{epoch: g, update: u}) {
				s.logger.Warn("telegram update dropped", "update", u.UpdateID)
			}
		}
	}
}

func (s *session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.bot, s.cancel = nil, nil
	s.mu.Unlock()
	s.gen.Add(1)
	if cancel != nil {
		cancel()
	}
}

// ClearAuth is a no-op: bot tokens live in the instance config.
func (s *session) ClearAuth(context.Context) error { return nil }
