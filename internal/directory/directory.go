package directory

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("directory: user not found")

// Directory resolves identities to user records. The signaling handshake
// rejects connections whose token does not resolve to a known user.
type Directory interface {
	Lookup(ctx context.Context, userID string) (User, error)
}
