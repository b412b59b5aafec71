package core

import "context"

// SessionBridge persists the final authentication response as a durable session artifact
// (for example a sealed cookie) before VerifyCode reports success. It is the only writer of
// session state.
type SessionBridge interface {
	Persist(ctx context.Context, resp AuthenticationResponse) error
}

// SessionBridgeFunc adapts a function to SessionBridge.
type SessionBridgeFunc func(ctx context.Context, resp AuthenticationResponse) error

func (f SessionBridgeFunc) Persist(ctx context.Context, resp AuthenticationResponse) error {
	return f(ctx, resp)
}
