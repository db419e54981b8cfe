// Package instrument exports issuer counters to Prometheus.
package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	evaluatedElements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "privacypass_evaluated_elements_total",
			Help: "Number of blinded elements evaluated",
		},
	)
	issuedResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "privacypass_issued_responses_total",
			Help: "Number of token responses issued",
		},
	)
	truncatedRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "privacypass_truncated_requests_total",
			Help: "Number of token requests truncated to the per request cap",
		},
	)
	droppedElements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "privacypass_dropped_elements_total",
			Help: "Number of blinded elements dropped by truncation",
		},
	)
	rejectedRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "privacypass_rejected_requests_total",
			Help: "Number of token requests rejected for exceeding the per request cap",
		},
	)
	validations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privacypass_validations_total",
			Help: "Number of token validations by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(evaluatedElements)
	prometheus.MustRegister(issuedResponses)
	prometheus.MustRegister(truncatedRequests)
	prometheus.MustRegister(droppedElements)
	prometheus.MustRegister(rejectedRequests)
	prometheus.MustRegister(validations)
}

// Handler serves the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Issued counts a response carrying n evaluations.
func Issued(n int) {
	issuedResponses.Inc()
	evaluatedElements.Add(float64(n))
}

// Truncated counts a request that lost dropped elements to the cap.
func Truncated(dropped int) {
	truncatedRequests.Inc()
	droppedElements.Add(float64(dropped))
}

// Rejected counts a request refused by the strict policy.
func Rejected() {
	rejectedRequests.Inc()
}

// Validation counts a validation outcome, "valid", "invalid" or an error
// kind.
func Validation(outcome string) {
	validations.With(prometheus.Labels{"outcome": outcome}).Inc()
}
