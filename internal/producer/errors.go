package producer

import "errors"

// ErrUnsupportedCommand is returned by Call for any producer (including the
// empty producer) that doesn't recognize the given command name.
var ErrUnsupportedCommand = errors.New("producer: unsupported command")
