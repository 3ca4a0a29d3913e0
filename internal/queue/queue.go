// Package queue carries JobMessages between the claim path and the workers.
package queue

import (
	"context"
	"errors"

	"github.com/joshu-sajeev/resumeflow/internal/dto"
)

// ErrUnavailable means a message could not be handed to the broker.
var ErrUnavailable = errors.New("queue unavailable")

// Handler processes one delivery. A nil return acknowledges the message; an
// error puts it back on the queue for redelivery.
type Handler func(ctx context.Context, msg dto.JobMessage) error

// Consumer delivers messages to h until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}
