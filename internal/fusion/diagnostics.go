package fusion

import (
	"encoding/json"
	"sort"
)

// DiagnosticsProvider exposes whatever per-batch internal measurement
// diagnostics the trust-computation collaborator keeps. The snapshot is
// advisory and carries no state forward.
type DiagnosticsProvider interface {
	Diagnostics() map[string]interface{}
}

// DiagnosticsReporter logs collaborator diagnostics after each batch's
// computation. It is stateless and must never block or fail the pipeline:
// panics and serialisation failures are swallowed and logged.
type DiagnosticsReporter struct{}

// NewDiagnosticsReporter creates a reporter.
func NewDiagnosticsReporter() *DiagnosticsReporter {
	return &DiagnosticsReporter{}
}

// Report emits the provider's diagnostics for one batch on the diag
// stream. Any failure is contained here.
func (r *DiagnosticsReporter) Report(batchID string, provider DiagnosticsProvider) {
	if provider == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			opsf("[Diagnostics] Recovered from diagnostics panic for batch %s: %v", batchID, rec)
		}
	}()

	diag := provider.Diagnostics()
	if len(diag) == 0 {
		return
	}

	// Stable key order keeps log lines comparable across batches.
	keys := make([]string, 0, len(diag))
	for k := range diag {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		encoded, err := json.Marshal(diag[k])
		if err != nil {
			diagf("[Diagnostics] batch=%s %s=<unencodable: %v>", batchID, k, err)
			continue
		}
		diagf("[Diagnostics] batch=%s %s=%s", batchID, k, encoded)
	}
}
