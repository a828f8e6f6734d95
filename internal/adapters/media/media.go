// Package media provides the local capture stream and the webrtc.API the
// peer connections are built from. Camera/mic capture needs platform
// drivers (V4L2/malgo), so the real provider is Linux-only; elsewhere calls
// run receive-only.
package media

import "errors"

// ErrCaptureUnsupported is returned by Acquire on platforms without local
// capture drivers.
var ErrCaptureUnsupported = errors.New("local media capture is not supported on this platform")
