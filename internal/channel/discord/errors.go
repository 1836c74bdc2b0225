package discord

import (
	"errors"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"

	"omnigate/internal/domain"
)

// Discord JSON error codes with a fixed meaning in the taxonomy.
const (
	codeUnknownChannel     = 10003
	codeUnknownGuild       = 10004
	codeUnknownMessage     = 10008
	codeUnauthorized       = 40001
	codeVerificationNeeded = 40002
	codeMissingAccess      = 50001
	codeMissingPermissions = 50013
	codeInvalidToken       = 50014
	codeInvalidWebhook     = 50027

	closeAuthenticationFailed = 4004
)

// mapError translates discordgo failures into the channel error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var ce *domain.ChannelError
	if errors.As(err, &ce) {
		return err
	}

	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		out := &domain.ChannelError{Kind: domain.KindRateLimited, Retryable: true, Message: "discord rate limit", Status: 429, Err: err}
		if rl.RateLimit != nil && rl.TooManyRequests != nil {
			out.RetryAfter = rl.RetryAfter
		}
		return out
	}

	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		status := 0
		if rest.Response != nil {
			status = rest.Response.StatusCode
		}
		code, msg := 0, err.Error()
		if rest.Message != nil {
			code, msg = rest.Message.Code, rest.Message.Message
		}
		codeStr := ""
		if code != 0 {
			codeStr = strconv.Itoa(code)
		}
		switch code {
		case codeMissingAccess, codeMissingPermissions:
			return &domain.ChannelError{Kind: domain.KindAuthFailed, Code: codeStr, Status: status, Message: msg, Err: err}
		case codeInvalidToken, codeUnauthorized, codeVerificationNeeded, codeInvalidWebhook:
			return &domain.ChannelError{Kind: domain.KindInvalidCredential, Code: codeStr, Status: status, Message: msg, Err: err}
		case codeUnknownChannel, codeUnknownGuild, codeUnknownMessage:
			return &domain.ChannelError{Kind: domain.KindNotFound, Code: codeStr, Status: status, Message: msg, Err: err}
		}
		return domain.FromStatus(status, codeStr, msg, err)
	}

	if errors.Is(err, discordgo.ErrWSNotFound) || errors.Is(err, discordgo.ErrWSAlreadyOpen) {
		return &domain.ChannelError{Kind: domain.KindNotConnected, Message: err.Error(), Retryable: true, Err: err}
	}
	return &domain.ChannelError{Kind: domain.KindSendFailed, Reason: domain.ReasonRemoteRejected, Message: err.Error(), Err: err}
}

// authRejected reports whether a gateway error means the token is invalid.
func authRejected(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == closeAuthenticationFailed
}
