package whatsapp

import (
	"errors"
	"strconv"

	"go.mau.fi/whatsmeow"

	"omnigate/internal/domain"
)

// mapError translates whatsmeow failures into the channel error taxonomy.
// Errors that are already ChannelErrors pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var ce *domain.ChannelError
	if errors.As(err, &ce) {
		return err
	}

	switch {
	case errors.Is(err, whatsmeow.ErrNotConnected):
		return &domain.ChannelError{Kind: domain.KindNotConnected, Message: "whatsapp socket is not connected", Retryable: true, Err: err}
	case errors.Is(err, whatsmeow.ErrNotLoggedIn):
		return &domain.ChannelError{Kind: domain.KindAuthFailed, Message: "whatsapp session is not logged in", Err: err}
	}

	var iq *whatsmeow.IQError
	if errors.As(err, &iq) {
		return domain.FromStatus(iq.Code, strconv.Itoa(iq.Code), iq.Text, err)
	}
	return &domain.ChannelError{Kind: domain.KindSendFailed, Reason: domain.ReasonRemoteRejected, Message: err.Error(), Err: err}
}
