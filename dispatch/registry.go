package dispatch

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openethereum/rpcharness/node"
)

var sessionsOpenMetric = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "rpcharness",
	Subsystem: "subscriptions",
	Name:      "sessions_open",
	Help:      "Number of subscription sessions currently open",
})

// Registry holds the sessions opened by a subscription batch until they are
// closed. It is owned by the dispatching goroutine and not safe for
// concurrent use.
type Registry struct {
	sessions []node.Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add takes ownership of s.
func (r *Registry) Add(s node.Session) {
	r.sessions = append(r.sessions, s)
	sessionsOpenMetric.Inc()
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

// CloseAll closes every recorded session once and forgets it. All sessions
// are closed even if some fail; the failures are returned together.
func (r *Registry) CloseAll() error {
	var result *multierror.Error
	for _, s := range r.sessions {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing session %s: %w", s.ID(), err))
		}
		sessionsOpenMetric.Dec()
	}
	r.sessions = nil
	return result.ErrorOrNil()
}
