// Package gateway defines the contract every chat frontend implements.
package gateway

import "context"

// Gateway is a chat frontend. Start blocks until the context is canceled
// or the transport fails; Stop releases resources.
type Gateway interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
