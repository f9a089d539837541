package metrics

// noopFTPMetrics implements FTPMetrics with no-op methods.
type noopFTPMetrics struct{}

// NewNoopFTPMetrics returns a no-op FTPMetrics implementation.
//
// Used when metrics collection is disabled, so callers never have to
// nil-check before recording.
func NewNoopFTPMetrics() FTPMetrics {
	return noopFTPMetrics{}
}

func (noopFTPMetrics) RecordCommand(verb string, code int)                   {}
func (noopFTPMetrics) RecordBytesTransferred(direction string, bytes int64)  {}
func (noopFTPMetrics) SetActiveSessions(count int)                           {}
func (noopFTPMetrics) RecordSessionAccepted()                                {}
func (noopFTPMetrics) RecordSessionClosed()                                  {}
