package domain

import "time"

// ConnectionState is the lifecycle state of one instance.
type ConnectionState string

const (
	StateIdle           ConnectionState = "idle"
	StateConnecting     ConnectionState = "connecting"
	StateAwaitingAuth   ConnectionState = "awaiting-auth"
	StateAuthenticating ConnectionState = "authenticating"
	StateConnected      ConnectionState = "connected"
	StateReconnecting   ConnectionState = "reconnecting"
	StateDisconnected   ConnectionState = "disconnected"
)

// ConnectionStatus is emitted on every lifecycle transition.
type ConnectionStatus struct {
	InstanceID  string          `json:"instanceId"`
	Platform    Platform        `json:"platform"`
	State       ConnectionState `json:"state"`
	Terminal    bool            `json:"terminal,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Attempt     int             `json:"attempt,omitempty"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
	RetryIn     time.Duration   `json:"retryIn,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Topic returns the bus topic for this status.
func (s ConnectionStatus) Topic() string {
	switch s.State {
	case StateConnecting, StateAuthenticating:
		return TopicInstanceConnecting
	case StateAwaitingAuth:
		return TopicInstanceAwaitingAuth
	case StateConnected:
		return TopicInstanceConnected
	case StateReconnecting:
		return TopicInstanceReconnecting
	}
	return TopicInstanceDisconnected
}

// ChallengeKind distinguishes pairing challenge formats.
type ChallengeKind string

const (
	ChallengeQR        ChallengeKind = "qr"
	ChallengePhoneCode ChallengeKind = "phone_code"
)

// Challenge is a short-lived pairing token shown to a human.
type Challenge struct {
	InstanceID string        `json:"instanceId"`
	Kind       ChallengeKind `json:"kind"`
	Code       string        `json:"code"`
	ExpiresAt  time.Time     `json:"expiresAt"`
	Attempt    int           `json:"attempt"`
	Cycle      int           `json:"cycle"`
}
