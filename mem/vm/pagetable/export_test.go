package pagetable

// Publish exposes publish to the external test package.
func (e *Entry) Publish(v uint64) bool {
	return e.publish(v)
}
