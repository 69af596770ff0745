// Package routing maps capture route kinds onto broker topics.
package routing

// Kind is the category of a captured payload, taken from the capture URL.
type Kind string

const (
	KindIncident           Kind = "incident"
	KindLogs               Kind = "logs"
	KindMetrics            Kind = "metrics"
	KindTracing            Kind = "tracing"
	KindBrowserPerformance Kind = "browser-performance"
)

// table is built once and never written after init.
var table = map[Kind]string{
	KindIncident:           "incident-event",
	KindLogs:               "logs-event",
	KindMetrics:            "metrics-event",
	KindTracing:            "tracing-event",
	KindBrowserPerformance: "browser-perfs-event",
}

var kinds = []Kind{KindIncident, KindLogs, KindMetrics, KindTracing, KindBrowserPerformance}

// Topic returns the broker topic for a route kind.
func Topic(k Kind) (string, bool) {
	t, ok := table[k]
	return t, ok
}

// Kinds lists every route kind in a stable order. The returned slice is a copy.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}
