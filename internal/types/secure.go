package types

// secretPlaceholder replaces secret values in logs and serialized output.
const secretPlaceholder = "***REDACTED***"

var secretPlaceholderJSON = []byte(`"***REDACTED***"`)

// SecretString is a string type that cannot accidentally reach logs or JSON
// output. String() and MarshalJSON() both return a redacted placeholder;
// callers that genuinely need the plaintext (Authorization headers, DSNs,
// SMTP credentials) must go through Unmask.
type SecretString string

// String satisfies fmt.Stringer with the redacted placeholder.
func (s SecretString) String() string {
	return secretPlaceholder
}

// MarshalJSON serializes to the redacted placeholder.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return secretPlaceholderJSON, nil
}

// Unmask returns the raw plaintext value.
func (s SecretString) Unmask() string {
	return string(s)
}
