package ports

// StatusSink receives worker status transitions and incremental text for live
// display. Calls are fire-and-forget; implementations must not block the
// request path and the core assumes no backpressure contract.
type StatusSink interface {
	OnStatus(worker string, status WorkerStatus)
	OnChunk(worker string, text string)
}

// NopStatusSink discards everything.
type NopStatusSink struct{}

func (NopStatusSink) OnStatus(string, WorkerStatus) {}
func (NopStatusSink) OnChunk(string, string)        {}

// MultiStatusSink fans out to several sinks.
type MultiStatusSink []StatusSink

func (m MultiStatusSink) OnStatus(worker string, status WorkerStatus) {
	for _, s := range m {
		s.OnStatus(worker, status)
	}
}

func (m MultiStatusSink) OnChunk(worker string, text string) {
	for _, s := range m {
		s.OnChunk(worker, text)
	}
}

// SinkOrNop returns s, or a NopStatusSink when s is nil.
func SinkOrNop(s StatusSink) StatusSink {
	if s == nil {
		return NopStatusSink{}
	}
	return s
}
