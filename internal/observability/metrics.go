package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the bibliometrics service.
// Metrics are organized by subsystem: ingestion, attribution, identity
// resolution, and external providers. All counters and histograms are
// registered via promauto with the default Prometheus registry.
type Metrics struct {
	// PapersLoaded counts paper records loaded from ingestion sources.
	PapersLoaded prometheus.Counter

	// PapersAttributed counts papers successfully processed by the aggregator.
	PapersAttributed prometheus.Counter

	// PapersSkipped counts papers skipped as malformed (missing or mismatched
	// author lists).
	PapersSkipped prometheus.Counter

	// AttributionFailures counts papers whose attribution failed on a store
	// error and is safe to retry.
	AttributionFailures prometheus.Counter

	// AuthorsCreated counts author records created on first sighting.
	AuthorsCreated prometheus.Counter

	// AuthorsUpdated counts author record updates from attribution.
	AuthorsUpdated prometheus.Counter

	// AttributionsDeduplicated counts (author, paper) pairs skipped by the
	// processed-DOI idempotence guard.
	AttributionsDeduplicated prometheus.Counter

	// GenderMismatches counts attributions where two known genders disagreed
	// for the same author.
	GenderMismatches prometheus.Counter

	// GenderLookups counts gender provider calls, labeled by outcome
	// (male, female, unknown, failed).
	GenderLookups *prometheus.CounterVec

	// CountryLookups counts affiliation geocoding calls, labeled by outcome
	// (resolved, unresolved, failed).
	CountryLookups *prometheus.CounterVec

	// DuplicateCandidates counts author pairs flagged by the identity resolver.
	DuplicateCandidates prometheus.Counter

	// MergesCompleted counts author merges applied.
	MergesCompleted prometheus.Counter

	// MergesRejected counts merges rejected as inconsistent (self-merge,
	// tombstoned participant), labeled by reason.
	MergesRejected *prometheus.CounterVec

	// PhaseDuration observes pipeline phase duration in seconds, labeled by phase.
	PhaseDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		PapersLoaded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_loaded_total",
			Help:      "Total number of paper records loaded from ingestion sources",
		}),
		PapersAttributed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_attributed_total",
			Help:      "Total number of papers processed by the author aggregator",
		}),
		PapersSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_skipped_total",
			Help:      "Total number of papers skipped as malformed",
		}),
		AttributionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attribution_failures_total",
			Help:      "Total number of papers whose attribution failed on a store error",
		}),
		AuthorsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authors_created_total",
			Help:      "Total number of author records created",
		}),
		AuthorsUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authors_updated_total",
			Help:      "Total number of author record updates from attribution",
		}),
		AttributionsDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attributions_deduplicated_total",
			Help:      "Total number of author-paper pairs skipped by the idempotence guard",
		}),
		GenderMismatches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gender_mismatches_total",
			Help:      "Total number of attributions with conflicting known genders",
		}),
		GenderLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gender_lookups_total",
			Help:      "Total number of gender provider calls by outcome",
		}, []string{"outcome"}),
		CountryLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "country_lookups_total",
			Help:      "Total number of affiliation geocoding calls by outcome",
		}, []string{"outcome"}),
		DuplicateCandidates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_candidates_total",
			Help:      "Total number of author pairs flagged as duplicate candidates",
		}),
		MergesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_completed_total",
			Help:      "Total number of author merges applied",
		}),
		MergesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_rejected_total",
			Help:      "Total number of author merges rejected by reason",
		}, []string{"reason"}),
		PhaseDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Pipeline phase duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"phase"}),
	}
}

// RecordGenderLookup records a gender provider call outcome.
func (m *Metrics) RecordGenderLookup(outcome string) {
	m.GenderLookups.WithLabelValues(outcome).Inc()
}

// RecordCountryLookup records an affiliation geocoding outcome.
func (m *Metrics) RecordCountryLookup(outcome string) {
	m.CountryLookups.WithLabelValues(outcome).Inc()
}

// RecordMergeRejected records a rejected merge with its reason.
func (m *Metrics) RecordMergeRejected(reason string) {
	m.MergesRejected.WithLabelValues(reason).Inc()
}

// ObservePhase records the duration of a pipeline phase.
func (m *Metrics) ObservePhase(phase string, seconds float64) {
	m.PhaseDuration.WithLabelValues(phase).Observe(seconds)
}
