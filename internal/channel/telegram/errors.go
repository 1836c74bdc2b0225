package telegram

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"omnigate/internal/domain"
)

// apiError extracts the Bot API error from err.
func apiError(err error) (*tgbotapi.Error, bool) {
	var te *tgbotapi.Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

func hasCode(err error, code int, fragment string) bool {
	te, ok := apiError(err)
	return ok && te.Code == code && strings.Contains(strings.ToLower(te.Message), fragment)
}

// markupRejected reports an HTML parse failure.
func markupRejected(err error) bool {
	return hasCode(err, http.StatusBadRequest, "can't parse entities")
}

// notModified reports an edit whose text equals the current one.
func notModified(err error) bool {
	return hasCode(err, http.StatusBadRequest, "message is not modified")
}

// unauthorized reports a revoked or invalid bot token.
func unauthorized(err error) bool {
	te, ok := apiError(err)
	return ok && te.Code == http.StatusUnauthorized
}

// mapError translates Bot API failures into the channel error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var ce *domain.ChannelError
	if errors.As(err, &ce) {
		return err
	}
	te, ok := apiError(err)
	if !ok {
		return &domain.ChannelError{Kind: domain.KindSendFailed, Reason: domain.ReasonRemoteRejected, Message: err.Error(), Retryable: true, Err: err}
	}

	code := strconv.Itoa(te.Code)
	switch {
	case te.Code == http.StatusUnauthorized:
		return &domain.ChannelError{Kind: domain.KindInvalidCredential, Code: code, Status: te.Code, Message: te.Message, Err: err}
	case te.Code == http.StatusTooManyRequests:
		return &domain.ChannelError{
			Kind: domain.KindRateLimited, Code: code, Status: te.Code, Message: te.Message, Retryable: true,
			RetryAfter: time.Duration(te.RetryAfter) * time.Second, Err: err,
		}
	case te.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(te.Message), "not found"):
		return &domain.ChannelError{Kind: domain.KindNotFound, Code: code, Status: te.Code, Message: te.Message, Err: err}
	}
	return domain.FromStatus(te.Code, code, te.Message, err)
}
