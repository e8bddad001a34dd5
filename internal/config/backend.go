package config

// Overlay abstracts persisted settings storage. Values are whatever the
// backing format decodes to (strings and JSON numbers for the file overlay).
type Overlay interface {
	Get(key string) (val any, ok bool)
	Snapshot() map[string]any
	// Apply writes set and removes unset in a single persist.
	Apply(set map[string]any, unset []string) error
}
