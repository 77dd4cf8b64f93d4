package metrics

import "github.com/prometheus/client_golang/prometheus"

// NoopRegisterer accepts every collector without exposing any of them. It is
// used when monitoring is disabled but the observers should stay wired.
var NoopRegisterer prometheus.Registerer = noopRegisterer{}

type noopRegisterer struct{}

func (noopRegisterer) Register(prometheus.Collector) error {
	return nil
}

func (noopRegisterer) MustRegister(...prometheus.Collector) {
}

func (noopRegisterer) Unregister(prometheus.Collector) bool {
	return true
}
