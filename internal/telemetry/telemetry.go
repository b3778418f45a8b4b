// Package telemetry provides the crash-report seam for the sync core.
//
// Nothing is transmitted anywhere by default: the package ships a no-op
// Reporter, and any real implementation must be injected explicitly by the
// host application. Reports carry mutation metadata (ids, operation kinds,
// retry counts), never payload field values.
package telemetry

// Reporter receives diagnostic events that warrant attention outside the
// normal log stream: dead-lettered mutations, storage failures, aborted
// drain passes.
type Reporter interface {
	// ReportError records a failure with non-PII context.
	ReportError(message string, err error, context map[string]interface{})

	// ReportEvent records a notable non-error event, such as a mutation
	// being discarded after a non-retryable client error.
	ReportEvent(name string, context map[string]interface{})
}

// NopReporter discards every report. It is the default when the host does
// not opt in to crash reporting.
type NopReporter struct{}

// ReportError discards the report.
func (NopReporter) ReportError(message string, err error, context map[string]interface{}) {}

// ReportEvent discards the report.
func (NopReporter) ReportEvent(name string, context map[string]interface{}) {}

// FuncReporter adapts plain functions into a Reporter. Useful for hosts
// that bridge reports into an existing crash pipeline without defining a
// new type.
type FuncReporter struct {
	OnError func(message string, err error, context map[string]interface{})
	OnEvent func(name string, context map[string]interface{})
}

// ReportError forwards to OnError when set.
func (f FuncReporter) ReportError(message string, err error, context map[string]interface{}) {
	if f.OnError != nil {
		f.OnError(message, err, context)
	}
}

// ReportEvent forwards to OnEvent when set.
func (f FuncReporter) ReportEvent(name string, context map[string]interface{}) {
	if f.OnEvent != nil {
		f.OnEvent(name, context)
	}
}
