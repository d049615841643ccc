package bpmn

// generateKey returns a new key of the node the process was created with.
func (bp *BusinessProcess) generateKey() int64 {
	return bp.snowflake.Generate().Int64()
}
