package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"omnigate/internal/domain"
)

// event is the transport union pushed into the instance inbox. Every
// variant carries the session generation that produced it; the handler
// drops events from replaced clients.
type event interface {
	generation() uint64
}

type epoch uint64

func (e epoch) generation() uint64 { return uint64(e) }

type (
	challengeEvent struct {
		epoch
		kind domain.ChallengeKind
		code string
		ttl  time.Duration
	}
	pairedEvent struct {
		epoch
		jid types.JID
	}
	connectedEvent struct{ epoch }
	closedEvent    struct {
		epoch
		reason    string
		loggedOut bool
	}
	messageEvent struct {
		epoch
		msg *events.Message
	}
	receiptEvent struct {
		epoch
		receipt *events.Receipt
	}
	presenceEvent struct {
		epoch
		presence *events.ChatPresence
	}
	historyEvent struct {
		epoch
		data *waHistorySync.HistorySync
	}
)

const (
	phoneCodeTTL      = 50 * time.Second
	pairClientDisplay = "Chrome (Linux)"
)

// session is the whatsmeow transport behind one lifecycle machine. Every
// Open builds a fresh client; Close retires it.
type session struct {
	instanceID string
	phone      string
	devices    *DeviceStore
	auth       domain.AuthStore
	push       func(event) bool
	logger     *slog.Logger

	gen atomic.Uint64

	mu     sync.Mutex
	client *whatsmeow.Client
	cancel context.CancelFunc
}

// current reports whether e was produced by the live client.
func (s *session) current(e event) bool {
	return e.generation() == s.gen.Load()
}

// Client returns the live client or nil.
func (s *session) Client() *whatsmeow.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *session) Open(ctx context.Context) error {
	dev, err := s.devices.device(ctx, s.auth, s.instanceID)
	if err != nil {
		return err
	}
	s.Close()

	client := whatsmeow.NewClient(dev, newWALogger(s.logger, "client"))
	client.EnableAutoReconnect = false
	g := epoch(s.gen.Add(1))
	client.AddEventHandler(func(evt any) { s.dispatch(g, evt) })

	dctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.client, s.cancel = client, cancel
	s.mu.Unlock()

	go s.dial(dctx, g, client)
	return nil
}

// dial connects the client and, for unpaired devices, feeds pairing
// challenges from the QR channel.
func (s *session) dial(ctx context.Context, g epoch, client *whatsmeow.Client) {
	var qr <-chan whatsmeow.QRChannelItem
	if client.Store.ID == nil {
		ch, err := client.GetQRChannel(ctx)
		if err != nil {
			s.push(closedEvent{epoch: g, reason: "open pairing channel: " + err.Error()})
			return
		}
		qr = ch
	}
	if err := client.Connect(); err != nil {
		s.push(closedEvent{epoch: g, reason: "connect: " + err.Error()})
		return
	}
	if qr == nil {
		return
	}

	requested := false
	for item := range qr {
		switch item.Event {
		case "code":
			if s.phone == "" {
				s.push(challengeEvent{epoch: g, kind: domain.ChallengeQR, code: item.Code, ttl: item.Timeout})
				continue
			}
			// The first QR code means the socket is ready for a
			// phone-code request; later QR rotations are ignored.
			if requested {
				continue
			}
			requested = true
			code, err := client.PairPhone(ctx, s.phone, true, whatsmeow.PairClientChrome, pairClientDisplay)
			if err != nil {
				s.push(closedEvent{epoch: g, reason: "request pairing code: " + err.Error()})
				return
			}
			s.push(challengeEvent{epoch: g, kind: domain.ChallengePhoneCode, code: code, ttl: phoneCodeTTL})
		case "success":
			// PairSuccess arrives through the event handler.
		case "timeout":
			s.push(closedEvent{epoch: g, reason: "pairing window closed"})
		default:
			reason := item.Event
			if item.Error != nil {
				reason = fmt.Sprintf("%s: %v", item.Event, item.Error)
			}
			s.push(closedEvent{epoch: g, reason: "pairing failed: " + reason})
		}
	}
}

// RefreshChallenge requests a new phone code after one expired. QR codes
// rotate inside whatsmeow, so QR sessions return an empty code.
func (s *session) RefreshChallenge(ctx context.Context) (domain.ChallengeKind, string, time.Duration, error) {
	if s.phone == "" {
		return domain.ChallengeQR, "", 0, nil
	}
	client := s.Client()
	if client == nil {
		return "", "", 0, domain.NotConnected(s.instanceID)
	}
	code, err := client.PairPhone(ctx, s.phone, true, whatsmeow.PairClientChrome, pairClientDisplay)
	if err != nil {
		return "", "", 0, mapError(err)
	}
	return domain.ChallengePhoneCode, code, phoneCodeTTL, nil
}

func (s *session) Close() {
	s.mu.Lock()
	client, cancel := s.client, s.cancel
	s.client, s.cancel = nil, nil
	s.mu.Unlock()
	s.gen.Add(1)
	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Disconnect()
	}
}

// ClearAuth deletes the device keys and every auth entry of the instance.
func (s *session) ClearAuth(ctx context.Context) error {
	if err := s.devices.forget(ctx, s.auth, s.instanceID); err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if s.auth == nil {
		return nil
	}
	return domain.ClearAuth(ctx, s.auth, s.instanceID)
}

// dispatch runs on whatsmeow's goroutines and must not block on the
// machine; it only translates and enqueues.
func (s *session) dispatch(g epoch, raw any) {
	var e event
	switch evt := raw.(type) {
	case *events.Message:
		e = messageEvent{epoch: g, msg: evt}
	case *events.Receipt:
		e = receiptEvent{epoch: g, receipt: evt}
	case *events.ChatPresence:
		e = presenceEvent{epoch: g, presence: evt}
	case *events.HistorySync:
		e = historyEvent{epoch: g, data: evt.Data}
	case *events.PairSuccess:
		e = pairedEvent{epoch: g, jid: evt.ID}
	case *events.Connected:
		e = connectedEvent{epoch: g}
	case *events.Disconnected:
		e = closedEvent{epoch: g, reason: "connection lost"}
	case *events.LoggedOut:
		e = closedEvent{epoch: g, reason: evt.Reason.String(), loggedOut: true}
	case *events.StreamReplaced:
		e = closedEvent{epoch: g, reason: "session replaced by another client"}
	case *events.ConnectFailure:
		e = closedEvent{epoch: g, reason: fmt.Sprintf("connect failure: %s %s", evt.Reason, evt.Message), loggedOut: evt.Reason.IsLoggedOut()}
	case *events.TemporaryBan:
		e = closedEvent{epoch: g, reason: "temporary ban: " + evt.String()}
	case *events.ClientOutdated:
		e = closedEvent{epoch: g, reason: "client outdated"}
	default:
		return
	}
	if !s.push(e) {
		s.logger.Warn("whatsapp event dropped", "type", fmt.Sprintf("%T", raw))
	}
}
