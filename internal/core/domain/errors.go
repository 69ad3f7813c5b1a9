package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSourceNotFound  = errors.New("source not found")
	ErrCacheMiss       = errors.New("cache miss")
	ErrCorruptArtifact = errors.New("corrupt artifact")
	ErrEmbedding       = errors.New("embedding failure")
	ErrTemporary       = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
