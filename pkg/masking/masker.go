package masking

// Masker is a code-based masker: one that needs structural awareness a
// regex can't give, like parsing a YAML document to tell a Secret from a
// ConfigMap before deciding what to redact.
type Masker interface {
	// Name identifies the masker; it must match the key under which the
	// built-in configuration registers it.
	Name() string

	// AppliesTo is the cheap pre-filter (substring checks, no parsing)
	// that decides whether Mask is worth running on this data.
	AppliesTo(data string) bool

	// Mask returns the redacted data. Implementations must fail open:
	// on any parse or processing error, return the input unchanged.
	Mask(data string) string
}
