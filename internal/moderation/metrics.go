package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var importRows = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_import_rows_total",
	Help: "Bulk import feed rows, by outcome",
}, []string{"outcome"})

var importIdentities = promauto.NewCounter(prometheus.CounterOpts{
	Name: "modledger_import_identities_total",
	Help: "Identities written by bulk imports",
})

var purgedRecords = promauto.NewCounter(prometheus.CounterOpts{
	Name: "modledger_purge_records_modified_total",
	Help: "User records rewritten by community purges",
})

var offensesAdded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_offenses_added_total",
	Help: "Single offense additions, by write path",
}, []string{"path"})

var gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_age_gate_decisions_total",
	Help: "Age gate evaluations, by decision reason",
}, []string{"reason"})

var malformedDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modledger_malformed_documents_total",
	Help: "Stored documents skipped because they could not be decoded",
}, []string{"operation"})
