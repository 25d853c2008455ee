package kvstore

import (
	"errors"
	"testing"
)

func TestValidateKey(t *testing.T) {
	if err := ValidateKey("get", "theme"); err != nil {
		t.Fatalf("Expected valid key, got %v", err)
	}

	err := ValidateKey("set", "")
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Expected ErrInvalidKey, got %v", err)
	}

	var keyErr *KeyError
	if !errors.As(err, &keyErr) || keyErr.Op != "set" {
		t.Fatalf("Expected *KeyError for op set, got %#v", err)
	}
	if err.Error() != "set: key is required" {
		t.Errorf("Unexpected message %q", err.Error())
	}
}
