package core

import "context"

// Notifier is an interface to receive entity change notifications.
//
// The payload is the JSON representation of the affected record.
type Notifier interface {
	Notify(ctx context.Context, entity string, action Action, id string, payload []byte) error
}
