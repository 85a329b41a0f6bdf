package ports

import "context"

// EventPublisher publica eventos del engine hacia sistemas externos.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
