package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

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
		self *discordgo.User
	}
	closedEvent struct {
		epoch
		reason    string
		loggedOut bool
	}
	createEvent struct {
		epoch
		msg *discordgo.Message
	}
	updateEvent struct {
		epoch
		msg *discordgo.Message
	}
	deleteEvent struct {
		epoch
		msg    *discordgo.Message
		before *discordgo.Message
	}
	reactionEvent struct {
		epoch
		reaction *discordgo.MessageReaction
		removed  bool
	}
	typingEvent struct {
		epoch
		typing *discordgo.TypingStart
	}
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsDirectMessageReactions |
	discordgo.IntentsGuildMessageTyping |
	discordgo.IntentsDirectMessageTyping

// session is the discordgo gateway connection behind one machine. Bot
// tokens need no pairing; a rejected token ends in a terminal logout.
type session struct {
	instanceID string
	token      string
	push       func(event) bool
	logger     *slog.Logger

	gen atomic.Uint64

	mu sync.Mutex
	dg *discordgo.Session
}

func (s *session) current(e event) bool {
	return e.generation() == s.gen.Load()
}

// API returns the live session or nil.
func (s *session) API() *discordgo.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dg
}

func (s *session) Open(context.Context) error {
	if s.token == "" {
		return fmt.Errorf("discord bot token is empty: %w", lifecycle.ErrLoggedOut)
	}
	s.Close()

	dg, err := discordgo.New("Bot " + s.token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = intents
	dg.ShouldReconnectOnError = false
	dg.StateEnabled = true
	dg.LogLevel = discordgo.LogWarning

	g := epoch(s.gen.Add(1))
	s.register(dg, g)

	s.mu.Lock()
	s.dg = dg
	s.mu.Unlock()

	go s.dial(g, dg)
	return nil
}

func (s *session) dial(g epoch, dg *discordgo.Session) {
	if err := dg.Open(); err != nil {
		s.push(closedEvent{epoch: g, reason: "open gateway: " + err.Error(), loggedOut: authRejected(err)})
	}
}

// register wires discordgo handlers; they run on discordgo's goroutines
// and only enqueue.
func (s *session) register(dg *discordgo.Session, g epoch) {
	push := func(e event, kind string) {
		if !s.push(e) {
			s.logger.Warn("discord event dropped", "type", kind)
		}
	}
	dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		push(readyEvent{epoch: g, self: r.User}, "ready")
	})
	dg.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		push(closedEvent{epoch: g, reason: "gateway connection lost"}, "disconnect")
	})
	dg.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		push(createEvent{epoch: g, msg: m.Message}, "message_create")
	})
	dg.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		push(updateEvent{epoch: g, msg: m.Message}, "message_update")
	})
	dg.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) {
		push(deleteEvent{epoch: g, msg: m.Message, before: m.BeforeDelete}, "message_delete")
	})
	dg.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		push(reactionEvent{epoch: g, reaction: r.MessageReaction}, "reaction_add")
	})
	dg.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
		push(reactionEvent{epoch: g, reaction: r.MessageReaction, removed: true}, "reaction_remove")
	})
	dg.AddHandler(func(_ *discordgo.Session, t *discordgo.TypingStart) {
		push(typingEvent{epoch: g, typing: t}, "typing_start")
	})
}

func (s *session) Close() {
	s.mu.Lock()
	dg := s.dg
	s.dg = nil
	s.mu.Unlock()
	s.gen.Add(1)
	if dg == nil {
		return
	}
	if err := dg.Close(); err != nil && !errors.Is(err, discordgo.ErrWSNotFound) {
		s.logger.Debug("close discord gateway", "err", err)
	}
}

// ClearAuth is a no-op: bot tokens live in the instance config.
func (s *session) ClearAuth(context.Context) error { return nil }
