package tracing

// Span attribute keys for the generation pipeline. The file exporter lifts
// these into typed fields of SpanRecord.
const (
	AttrTrigger      = "dispatch.trigger"
	AttrSeq          = "dispatch.seq"
	AttrGenerationID = "generation.id"
	AttrSectionCount = "generation.sections"
	AttrRowCount     = "generation.rows"
	AttrSubscribers  = "dispatch.subscribers"
)

// SpanDispatch is the span wrapping one generate-and-publish cycle.
const SpanDispatch = "dispatch.generate"
