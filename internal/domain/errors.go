package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Kind classifies channel errors independently of the platform.
type Kind string

const (
	KindNotConnected      Kind = "not_connected"
	KindAuthFailed        Kind = "auth_failed"
	KindInvalidCredential Kind = "invalid_credential"
	KindRateLimited       Kind = "rate_limited"
	KindSendFailed        Kind = "send_failed"
	KindNotFound          Kind = "not_found"
	KindUnsupported       Kind = "unsupported"
	KindUnknown           Kind = "unknown"
)

// Reason refines KindSendFailed.
type Reason string

const (
	ReasonUnsupportedContent Reason = "unsupported-content-type"
	ReasonMissingField       Reason = "missing-required-field"
	ReasonRemoteRejected     Reason = "remote-rejected"
)

// ErrKeyNotFound is returned by AuthStore.Get for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// ChannelError is the error every adapter maps platform failures into.
type ChannelError struct {
	Kind       Kind
	Reason     Reason
	Message    string
	Code       string // platform-native error code, if any
	Status     int    // HTTP-equivalent status, if any
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *ChannelError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// ErrorCode is the stable code reported in SendResult.ErrorCode.
func (e *ChannelError) ErrorCode() string {
	if e.Reason != "" {
		return string(e.Reason)
	}
	if e.Code != "" {
		return string(e.Kind) + ":" + e.Code
	}
	return string(e.Kind)
}

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var ce *ChannelError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var ce *ChannelError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

func NotConnected(instanceID string) *ChannelError {
	return &ChannelError{Kind: KindNotConnected, Message: "instance " + instanceID + " is not connected"}
}

func UnsupportedContent(p Platform, t ContentType) *ChannelError {
	return &ChannelError{
		Kind:    KindSendFailed,
		Reason:  ReasonUnsupportedContent,
		Message: fmt.Sprintf("%s does not support content type %q", p, t),
	}
}

func MissingField(t ContentType, field string) *ChannelError {
	return &ChannelError{
		Kind:    KindSendFailed,
		Reason:  ReasonMissingField,
		Message: fmt.Sprintf("%s message requires %s", t, field),
	}
}

func Unsupported(p Platform, op string) *ChannelError {
	return &ChannelError{Kind: KindUnsupported, Message: fmt.Sprintf("%s does not support %s", p, op)}
}

// FromStatus maps an HTTP-equivalent status into the taxonomy. Platform
// specific codes should be checked by the caller first.
func FromStatus(status int, code, msg string, err error) *ChannelError {
	ce := &ChannelError{Status: status, Code: code, Message: msg, Err: err}
	switch {
	case status == http.StatusTooManyRequests:
		ce.Kind, ce.Retryable = KindRateLimited, true
	case status == http.StatusUnauthorized:
		ce.Kind = KindAuthFailed
	case status == http.StatusForbidden:
		ce.Kind = KindAuthFailed
	case status == http.StatusNotFound:
		ce.Kind = KindNotFound
	case status >= 500:
		ce.Kind, ce.Reason, ce.Retryable = KindSendFailed, ReasonRemoteRejected, true
	case status >= 400:
		ce.Kind, ce.Reason = KindSendFailed, ReasonRemoteRejected
	default:
		ce.Kind = KindUnknown
		if ce.Code == "" && status != 0 {
			ce.Code = strconv.Itoa(status)
		}
	}
	return ce
}

// Failed converts err into a failed SendResult.
func Failed(err error) SendResult {
	res := SendResult{Success: false, Error: err.Error(), Timestamp: time.Now()}
	var ce *ChannelError
	if errors.As(err, &ce) {
		res.ErrorCode = ce.ErrorCode()
		res.Retryable = ce.Retryable
	} else {
		res.ErrorCode = string(KindUnknown)
	}
	return res
}
