// Package observability provides OpenTelemetry-based instrumentation for the
// catalogue service.
//
// All observability features are opt-in. When no provider is configured,
// no-op implementations are used.
package observability

import "go.opentelemetry.io/otel/attribute"

// Instrumentation identity constants
const (
	TracerName = "github.com/robert-malhotra/go-csw-catalog"
	MeterName  = "github.com/robert-malhotra/go-csw-catalog"
)

// Catalogue attribute keys.
const (
	AttrRequestID     = "csw.request_id"
	AttrOperation     = "csw.operation"
	AttrResultType    = "csw.result_type"
	AttrElementSet    = "csw.element_set"
	AttrTypeNames     = "csw.type_names"
	AttrStartPosition = "csw.start_position"
	AttrMaxRecords    = "csw.max_records"
	AttrMatched       = "csw.records.matched"
	AttrReturned      = "csw.records.returned"
	AttrNextRecord    = "csw.next_record"
	AttrQueryID       = "csw.adhoc.query_id"
	AttrSlotCount     = "csw.adhoc.slot_count"
	AttrErrorCode     = "csw.error.code"
)

// Structured log field names.
const (
	LogFieldTraceID = "trace_id"
	LogFieldSpanID  = "span_id"
)

// Operation names.
const (
	OpGetRecords    = "GetRecords"
	OpGetRecordByID = "GetRecordById"
	OpResolveAdhoc  = "ResolveAdhocQuery"
	OpHarvest       = "Harvest"
)

// OperationAttr returns the operation attribute.
func OperationAttr(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// RequestIDAttr returns the request identifier attribute.
func RequestIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrRequestID, id)
}

// QueryIDAttr returns the stored query identifier attribute.
func QueryIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrQueryID, id)
}

// ErrorCodeAttr returns the exception code attribute.
func ErrorCodeAttr(code string) attribute.KeyValue {
	return attribute.String(AttrErrorCode, code)
}
