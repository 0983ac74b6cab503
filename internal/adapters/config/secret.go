package config

// Secret wraps a sensitive string so it never leaks through logging,
// formatting or serialization. Call Value() at the point of use.
type Secret string

const redacted = "[REDACTED]"

// Value returns the underlying secret.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool {
	return s != ""
}

func (s Secret) String() string {
	return redacted
}

// GoString hides the value from %#v formatting.
func (s Secret) GoString() string {
	return "config.Secret(" + redacted + ")"
}

// MarshalJSON hides the value from JSON encoding.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// MarshalText hides the value from text encoding.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
