package cryptostore

import (
	"encoding/json"
	"errors"
)

// State tells whether a decrypted Field holds a value.
type State int

const (
	Null State = iota
	Valid
	Corrupt
)

// Sentinels shown in place of values that could not be decrypted.
const (
	DecryptionErrorText = "[decryption error]"
	InvalidDataText     = "[invalid data]"
)

// Field is the typed result of Decrypt.
type Field struct {
	Value string
	State State
	Err   error
}

// Text builds a valid Field, mainly for tests and fixtures.
func Text(v string) Field {
	return Field{Value: v, State: Valid}
}

func (f Field) Valid() bool   { return f.State == Valid }
func (f Field) IsNull() bool  { return f.State == Null }
func (f Field) Corrupt() bool { return f.State == Corrupt }

// String renders the plaintext, an empty string for NULL, or a sentinel
// for corrupt values.
func (f Field) String() string {
	switch f.State {
	case Valid:
		return f.Value
	case Corrupt:
		if errors.Is(f.Err, ErrMalformed) {
			return InvalidDataText
		}
		return DecryptionErrorText
	}
	return ""
}

// Or returns the plaintext when valid and fallback otherwise.
func (f Field) Or(fallback string) string {
	if f.State == Valid && f.Value != "" {
		return f.Value
	}
	return fallback
}

func (f Field) MarshalJSON() ([]byte, error) {
	switch f.State {
	case Valid:
		return json.Marshal(f.Value)
	case Corrupt:
		reason := "decryption_error"
		if errors.Is(f.Err, ErrMalformed) {
			reason = "invalid_data"
		}
		return json.Marshal(map[string]string{"error": reason})
	}
	return []byte("null"), nil
}
