package kvstore

import "errors"

// ErrInvalidKey is returned, wrapped in a *KeyError, for keys that cannot be
// stored. The only invalid key is the empty string.
var ErrInvalidKey = errors.New("key is required")

// KeyError records the operation that was given an invalid key.
type KeyError struct {
	Op  string
	Key string
}

func (e *KeyError) Error() string {
	return e.Op + ": " + ErrInvalidKey.Error()
}

func (e *KeyError) Unwrap() error {
	return ErrInvalidKey
}

// ValidateKey returns a *KeyError for op when key is invalid.
func ValidateKey(op, key string) error {
	if key == "" {
		return &KeyError{Op: op, Key: key}
	}
	return nil
}
