//go:build !linux

package fs

import (
	"errors"
	"fmt"
)

func statfsType(p string) (string, error) {
	return "", fmt.Errorf("statfs %s: %w", p, errors.ErrUnsupported)
}
