package group

// SetBeforeBuffer installs a hook that runs after Ingest finds a message
// ahead of the local epoch and before it is buffered.
func SetBeforeBuffer(e *Engine, f func()) { e.beforeBuffer = f }
