package pebble

const (
	ErrInIteratorCreation = "failed to create iterator: %w"
	ErrTreeIDLookup       = "failed to look up tree %q: %w"
	ErrTreeIDAssignment   = "failed to assign id to tree %q: %w"
)
