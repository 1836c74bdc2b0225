package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"omnigate/internal/domain"
)

var (
	// ErrLoggedOut marks a session error caused by revoked or invalid
	// credentials. The machine goes terminal and clears auth.
	ErrLoggedOut = errors.New("logged out by platform")
	ErrClosed    = errors.New("instance closed")
	// ErrTerminal is returned by a non-forced Connect after the instance
	// gave up. Logout or a forced Connect starts over.
	ErrTerminal = errors.New("instance is terminally disconnected")
)

// Session is the transport the machine drives. Open starts a connection
// attempt and must not wait for the machine's own callbacks; outcomes are
// reported back through OnChallenge, OnPaired, OnConnected and OnClosed.
// Close must be idempotent.
type Session interface {
	Open(ctx context.Context) error
	Close()
	ClearAuth(ctx context.Context) error
}

// ChallengeRefresher is implemented by sessions that must request a new
// pairing challenge after one expires. An empty code means the transport
// rotates challenges by itself.
type ChallengeRefresher interface {
	RefreshChallenge(ctx context.Context) (kind domain.ChallengeKind, code string, ttl time.Duration, err error)
}

// Config configures a Machine.
type Config struct {
	InstanceID  string
	Platform    domain.Platform
	Policy      Policy
	Session     Session
	Scheduler   Scheduler
	OnStatus    func(domain.ConnectionStatus)
	OnChallenge func(domain.Challenge)
	Logger      *slog.Logger
	Now         func() time.Time
}

type reconnectState struct {
	attempts          int
	unauthRetries     int
	challengeAttempts int
	cycles            int
	lastAttempt       time.Time
	everAuthenticated bool
}

// Machine is the single writer of one instance's ConnectionState. Every
// transition takes mu; status and challenge callbacks run after mu is
// released, in transition order. Callbacks may read Status but must not
// call transition methods synchronously.
type Machine struct {
	id          string
	platform    domain.Platform
	policy      Policy
	session     Session
	sched       Scheduler
	onStatus    func(domain.ConnectionStatus)
	onChallenge func(domain.Challenge)
	logger      *slog.Logger
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	emitMu           sync.Mutex
	state            domain.ConnectionState
	terminal         bool
	rs               reconnectState
	seq              uint64
	challengePending bool
	retryTimer       Timer
	watchdog         Timer
	expiry           Timer
	pending          []any
	closed           bool

	snapshot atomic.Pointer[domain.ConnectionStatus]
}

// New creates a machine in the Idle state.
func New(cfg Config) *Machine {
	if cfg.Scheduler == nil {
		cfg.Scheduler = RealScheduler{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		id:          cfg.InstanceID,
		platform:    cfg.Platform,
		policy:      cfg.Policy.withDefaults(),
		session:     cfg.Session,
		sched:       cfg.Scheduler,
		onStatus:    cfg.OnStatus,
		onChallenge: cfg.OnChallenge,
		logger:      cfg.Logger.With("instance", cfg.InstanceID, "platform", string(cfg.Platform)),
		now:         cfg.Now,
		ctx:         ctx,
		cancel:      cancel,
		state:       domain.StateIdle,
	}
	m.snapshot.Store(&domain.ConnectionStatus{
		InstanceID: m.id,
		Platform:   m.platform,
		State:      domain.StateIdle,
		Timestamp:  m.now(),
	})
	return m
}

// Status returns the latest emitted status without taking the state lock.
func (m *Machine) Status() domain.ConnectionStatus {
	return *m.snapshot.Load()
}

// Connected reports whether sends are currently possible.
func (m *Machine) Connected() bool {
	return m.Status().State == domain.StateConnected
}

// Connect starts a connection from Idle or Disconnected. Calling it while a
// connection is already in progress is a no-op. force clears stored auth
// first so a fresh pairing starts; it is required to leave a terminal
// disconnect.
func (m *Machine) Connect(ctx context.Context, force bool) error {
	m.mu.Lock()
	defer m.unlock()
	if m.closed {
		return ErrClosed
	}
	if m.state != domain.StateIdle && m.state != domain.StateDisconnected {
		return nil
	}
	if m.terminal && !force {
		return ErrTerminal
	}
	m.stopTimersLocked()
	if force {
		m.session.Close()
		if err := m.session.ClearAuth(ctx); err != nil {
			return fmt.Errorf("clear auth: %w", err)
		}
	}
	m.rs = reconnectState{}
	m.openLocked("connect requested")
	return nil
}

// Disconnect stops the instance, keeping auth for a later Connect. No timer
// fires and no transport callback is honoured after it returns.
func (m *Machine) Disconnect() {
	m.mu.Lock()
	defer m.unlock()
	m.stopTimersLocked()
	m.session.Close()
	if m.state == domain.StateIdle || (m.state == domain.StateDisconnected && m.terminal) {
		return
	}
	m.rs = reconnectState{}
	m.setLocked(domain.ConnectionStatus{State: domain.StateDisconnected, Reason: "disconnected by request"})
}

// Logout clears stored auth, releases the transport and returns to Idle.
func (m *Machine) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.unlock()
	m.stopTimersLocked()
	err := m.session.ClearAuth(ctx)
	m.session.Close()
	m.rs = reconnectState{}
	m.setLocked(domain.ConnectionStatus{State: domain.StateIdle, Reason: "logged out"})
	if err != nil {
		return fmt.Errorf("clear auth: %w", err)
	}
	return nil
}

// Close disconnects and permanently retires the machine.
func (m *Machine) Close() {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
}

// OnChallenge registers a new pairing challenge shown to the user. A
// challenge that replaces a still-pending one counts that one as expired.
func (m *Machine) OnChallenge(kind domain.ChallengeKind, code string, ttl time.Duration) {
	m.guard("challenge", func() {
		if m.state == domain.StateAwaitingAuth && m.challengePending {
			m.challengeExpiredLocked()
			if m.state != domain.StateAwaitingAuth {
				// The pairing flow restarted or gave up; the code belongs
				// to the old transport.
				return
			}
		}
		if m.state != domain.StateConnecting && m.state != domain.StateAwaitingAuth {
			m.logger.Debug("ignoring pairing challenge", "state", m.state)
			return
		}
		m.issueChallengeLocked(kind, code, ttl)
	})
}

// OnPaired reports that the user consumed a challenge.
func (m *Machine) OnPaired() {
	m.guard("paired", func() {
		if m.state != domain.StateAwaitingAuth && m.state != domain.StateConnecting {
			return
		}
		stop(m.expiry)
		m.challengePending = false
		// One free reconnect for the post-pairing restart handshake.
		m.rs.unauthRetries = 0
		m.setLocked(domain.ConnectionStatus{State: domain.StateAuthenticating, Reason: "pairing accepted"})
		m.armWatchdogLocked()
	})
}

// OnConnected reports an authenticated, usable session.
func (m *Machine) OnConnected() {
	m.guard("connected", func() {
		switch m.state {
		case domain.StateConnecting, domain.StateAwaitingAuth, domain.StateAuthenticating:
		case domain.StateConnected:
			m.rs = reconnectState{everAuthenticated: true}
			return
		default:
			return
		}
		m.stopTimersLocked()
		m.rs = reconnectState{everAuthenticated: true}
		m.setLocked(domain.ConnectionStatus{State: domain.StateConnected})
	})
}

// OnClosed reports an unexpected transport closure. loggedOut means the
// platform revoked the credentials.
func (m *Machine) OnClosed(reason string, loggedOut bool) {
	m.guard("closed", func() {
		switch m.state {
		case domain.StateIdle, domain.StateDisconnected, domain.StateReconnecting:
			return
		}
		m.failLocked(reason, loggedOut)
	})
}

// guard runs fn under the state lock, containing panics so timer and
// transport callbacks never crash the process.
func (m *Machine) guard(name string, fn func()) {
	m.mu.Lock()
	defer m.unlock()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("lifecycle callback panic", "callback", name, "panic", r)
		}
	}()
	if m.closed {
		return
	}
	fn()
}

func (m *Machine) openLocked(reason string) {
	m.rs.lastAttempt = m.now()
	m.setLocked(domain.ConnectionStatus{State: domain.StateConnecting, Reason: reason})
	m.armWatchdogLocked()
	if err := m.session.Open(m.ctx); err != nil {
		m.logger.Warn("connect attempt failed", "err", err)
		m.failLocked(err.Error(), errors.Is(err, ErrLoggedOut))
	}
}

func (m *Machine) failLocked(reason string, loggedOut bool) {
	m.stopTimersLocked()
	m.session.Close()

	if loggedOut {
		if err := m.session.ClearAuth(m.ctx); err != nil {
			m.logger.Error("clear auth after logout failed", "err", err)
		}
		m.rs = reconnectState{}
		m.setLocked(domain.ConnectionStatus{
			State: domain.StateDisconnected, Terminal: true, Reason: "logged out: " + reason,
		})
		return
	}

	if !m.rs.everAuthenticated {
		if m.rs.unauthRetries < m.policy.UnauthenticatedRetries {
			m.rs.unauthRetries++
			m.scheduleRetryLocked(m.policy.BaseDelay, m.rs.unauthRetries, m.policy.UnauthenticatedRetries, reason)
			return
		}
		m.setLocked(domain.ConnectionStatus{
			State: domain.StateDisconnected, Terminal: true,
			Reason: "connection failed before authentication: " + reason,
		})
		return
	}

	if m.rs.attempts >= m.policy.MaxRetries {
		m.setLocked(domain.ConnectionStatus{
			State: domain.StateDisconnected, Terminal: true,
			Reason: fmt.Sprintf("max reconnection attempts (%d) exceeded: %s", m.policy.MaxRetries, reason),
		})
		return
	}
	delay := m.policy.Backoff(m.rs.attempts)
	m.rs.attempts++
	m.scheduleRetryLocked(delay, m.rs.attempts, m.policy.MaxRetries, reason)
}

func (m *Machine) scheduleRetryLocked(delay time.Duration, attempt, maxAttempts int, reason string) {
	m.setLocked(domain.ConnectionStatus{
		State:       domain.StateReconnecting,
		Reason:      reason,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		RetryIn:     delay,
	})
	seq := m.seq
	m.logger.Info("reconnect scheduled", "attempt", attempt, "max", maxAttempts, "delay", delay, "reason", reason)
	m.retryTimer = m.sched.AfterFunc(delay, func() {
		m.guard("reconnect", func() {
			if m.seq != seq || m.state != domain.StateReconnecting {
				return
			}
			m.openLocked("reconnect attempt")
		})
	})
}

func (m *Machine) armWatchdogLocked() {
	stop(m.watchdog)
	m.watchdog = nil
	if m.policy.ConnectTimeout <= 0 {
		return
	}
	seq := m.seq
	m.watchdog = m.sched.AfterFunc(m.policy.ConnectTimeout, func() {
		m.guard("watchdog", func() {
			if m.seq != seq {
				return
			}
			m.failLocked("connection timed out", false)
		})
	})
}

func (m *Machine) issueChallengeLocked(kind domain.ChallengeKind, code string, ttl time.Duration) {
	stop(m.watchdog)
	m.watchdog = nil
	if m.state != domain.StateAwaitingAuth {
		m.setLocked(domain.ConnectionStatus{State: domain.StateAwaitingAuth, Reason: "pairing required"})
	} else {
		m.seq++
	}
	m.challengePending = true
	m.pending = append(m.pending, domain.Challenge{
		InstanceID: m.id,
		Kind:       kind,
		Code:       code,
		ExpiresAt:  m.now().Add(ttl),
		Attempt:    m.rs.challengeAttempts + 1,
		Cycle:      m.rs.cycles + 1,
	})

	stop(m.expiry)
	seq := m.seq
	m.expiry = m.sched.AfterFunc(ttl, func() {
		m.guard("challenge expiry", func() {
			if m.seq != seq || m.state != domain.StateAwaitingAuth || !m.challengePending {
				return
			}
			m.challengeExpiredLocked()
		})
	})
}

// challengeExpiredLocked counts one unused challenge. After
// MaxChallengeAttempts the pairing flow restarts with cleared auth; after
// MaxChallengeCycles restarts the instance gives up.
func (m *Machine) challengeExpiredLocked() {
	m.challengePending = false
	stop(m.expiry)
	m.expiry = nil
	m.rs.challengeAttempts++
	n, maxCycles := m.policy.MaxChallengeAttempts, m.policy.MaxChallengeCycles

	if m.rs.challengeAttempts < n {
		m.logger.Info("pairing challenge expired", "attempt", m.rs.challengeAttempts, "max", n, "cycle", m.rs.cycles+1)
		if r, ok := m.session.(ChallengeRefresher); ok {
			kind, code, ttl, err := r.RefreshChallenge(m.ctx)
			if err != nil {
				m.failLocked("refresh pairing challenge: "+err.Error(), false)
				return
			}
			if code != "" {
				m.issueChallengeLocked(kind, code, ttl)
			}
		}
		return
	}

	m.rs.challengeAttempts = 0
	m.rs.cycles++
	m.session.Close()
	if err := m.session.ClearAuth(m.ctx); err != nil {
		m.logger.Error("clear auth between pairing cycles failed", "err", err)
	}
	if m.rs.cycles >= maxCycles {
		m.stopTimersLocked()
		m.setLocked(domain.ConnectionStatus{
			State: domain.StateDisconnected, Terminal: true,
			Reason: fmt.Sprintf("pairing not completed after %d cycles of %d challenges", maxCycles, n),
		})
		return
	}
	m.openLocked(fmt.Sprintf("restarting pairing (cycle %d/%d)", m.rs.cycles+1, maxCycles))
}

func (m *Machine) stopTimersLocked() {
	stop(m.retryTimer)
	stop(m.watchdog)
	stop(m.expiry)
	m.retryTimer, m.watchdog, m.expiry = nil, nil, nil
	m.challengePending = false
}

func (m *Machine) setLocked(st domain.ConnectionStatus) {
	m.seq++
	m.state, m.terminal = st.State, st.Terminal
	st.InstanceID = m.id
	st.Platform = m.platform
	st.Timestamp = m.now()
	m.snapshot.Store(&st)
	m.pending = append(m.pending, st)
	if st.Terminal {
		m.logger.Warn("instance stopped", "reason", st.Reason)
	}
}

// unlock releases mu and then delivers queued callbacks in order.
func (m *Machine) unlock() {
	out := m.pending
	m.pending = nil
	if len(out) == 0 {
		m.mu.Unlock()
		return
	}
	m.emitMu.Lock()
	m.mu.Unlock()
	defer m.emitMu.Unlock()
	for _, e := range out {
		switch v := e.(type) {
		case domain.ConnectionStatus:
			if m.onStatus != nil {
				m.onStatus(v)
			}
		case domain.Challenge:
			if m.onChallenge != nil {
				m.onChallenge(v)
			}
		}
	}
}
