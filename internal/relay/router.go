package relay

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// NewRouter builds the watermill router the dispatcher runs on. Closing it waits up to
// closeTimeout for in-flight handlers before returning.
func NewRouter(closeTimeout time.Duration, reg prometheus.Registerer, logger watermill.LoggerAdapter) (*message.Router, error) {
	r, err := message.NewRouter(message.RouterConfig{CloseTimeout: closeTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	r.AddMiddleware(
		middleware.CorrelationID,
		middleware.Recoverer,
	)

	if reg != nil {
		mb := metrics.NewPrometheusMetricsBuilder(reg, "tracerelay", "relay")
		mb.AddPrometheusRouterMetrics(r)
	}
	return r, nil
}
