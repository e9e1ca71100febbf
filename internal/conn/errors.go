package conn

import "errors"

// ErrNotConnected is returned by Send when no channel is open.
var ErrNotConnected = errors.New("conn: not connected")
