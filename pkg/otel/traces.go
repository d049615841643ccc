package otel

const (
	Prefix                      = "bpmn-"
	AttributeProcessInstanceKey = Prefix + "instance-key"
	AttributeProcessId          = Prefix + "process-id"
	AttributeElementId          = Prefix + "element-id"
	AttributeElementName        = Prefix + "element-name"
	AttributeElementType        = Prefix + "element-type"
	AttributeSourceId           = Prefix + "source-id"

	SpanStatusToken = Prefix + "token-status"
)
