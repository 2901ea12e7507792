package fusion

import (
	"testing"
)

type panickingProvider struct{}

func (panickingProvider) Diagnostics() map[string]interface{} {
	panic("diagnostics exploded")
}

func TestReportSwallowsPanics(t *testing.T) {
	t.Parallel()

	r := NewDiagnosticsReporter()

	// Must not propagate: diagnostic failures never fail the pipeline.
	r.Report("batch-1", panickingProvider{})
	r.Report("batch-2", nil)
	r.Report("batch-3", &fakeModel{})
}
