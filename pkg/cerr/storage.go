package cerr

import (
	"errors"
	"fmt"

	"github.com/wirebird/wirebird/pkg/storage"
)

func WrapStorageReadError(target string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return New(NotFound, fmt.Sprintf("%s not found", target), err)
	}
	return New(Internal, "server error", fmt.Errorf("failed to read %s: %w", target, err))
}

func WrapStorageWriteError(target string, err error) error {
	return New(Internal, "server error", fmt.Errorf("failed to write %s: %w", target, err))
}

func WrapStorageDeleteError(target string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return New(NotFound, fmt.Sprintf("%s not found", target), err)
	}
	return New(Internal, "server error", fmt.Errorf("failed to delete %s: %w", target, err))
}
