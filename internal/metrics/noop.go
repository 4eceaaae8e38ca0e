package metrics

// NoopCollector is a no-op implementation of Collector, the default when
// metrics are not enabled.
type NoopCollector struct{}

func (NoopCollector) SessionConnecting(account string)        {}
func (NoopCollector) SessionDisconnected(account string)      {}
func (NoopCollector) ReconnectAttempted(account string)       {}
func (NoopCollector) IdleRestarted(account string)             {}
func (NoopCollector) UnseenCount(account string, count int)   {}
func (NoopCollector) PublishWritten()                          {}
