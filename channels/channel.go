package channels

import (
	"context"
	"errors"

	"cadence/models"
)

// ErrNoRecipient is returned when the lead lacks the address a channel needs.
var ErrNoRecipient = errors.New("lead has no address for this channel")

// Request is one outbound action for one lead.
type Request struct {
	TenantID uint
	StepType models.StepType
	Lead     *models.Lead

	Message  string // rendered body, note or comment
	Subject  string
	PostURL  string
	Reaction string
}

// Response is the channel's verdict. A Response with Success=false and a nil
// error is a rejection by the remote side.
type Response struct {
	Success          bool   `json:"success"`
	AlreadyConnected bool   `json:"already_connected"`
	MessageID        string `json:"message_id"`
	Error            string `json:"error,omitempty"`
}

// Channel sends a step's action to the outside world.
type Channel interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Registry binds step types to channels.
type Registry map[models.StepType]Channel

func (r Registry) For(t models.StepType) (Channel, bool) {
	ch, ok := r[t]
	return ch, ok && ch != nil
}

// NewRegistry binds the LinkedIn types to li and email to mail. Nil
// arguments leave those types unbound.
func NewRegistry(li *LinkedInClient, mail *EmailSender) Registry {
	r := Registry{}
	if li != nil {
		r[models.StepTypeLinkedInMessage] = li
		r[models.StepTypeLinkedInConnect] = li
		r[models.StepTypeLinkedInReaction] = li
		r[models.StepTypeLinkedInComment] = li
	}
	if mail != nil {
		r[models.StepTypeEmail] = mail
	}
	return r
}
