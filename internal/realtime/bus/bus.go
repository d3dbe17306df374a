package bus

import (
	"context"

	"github.com/yungbote/podscribe-backend/internal/realtime"
)

// Bus carries realtime messages between processes. StartForwarder delivers
// every message published by any process, including this one, to onMsg.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}
