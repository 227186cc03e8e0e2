package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	CPU  = "cpu"
	CUDA = "cuda"
	Auto = "auto"
)

var (
	ErrClosed          = errors.New("device closed")
	errCUDAUnavailable = errors.New("cuda backend is not available in this build")
)

// Device is a handle to the runtime that executes kernels.
//
// Identity returns the strings that describe the hardware and runtime the
// device runs on. They are hashed into the tuning cache checksum, so any
// change in them invalidates decisions persisted for the device.
//
// Submit enqueues fn on the device and waits for it to finish. It returns
// fn's error, or ctx.Err() if the caller gave up first; in that case fn may
// still run to completion.
type Device interface {
	ID() string
	Name() string
	Identity() []string
	Submit(ctx context.Context, fn func() error) error
	Close() error
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case CPU, CUDA, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, cpu, or cuda)", backend)
	}
}

// Open returns a device for the named backend. Auto picks the best
// available backend.
func Open(name string) (Device, error) {
	backend, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch backend {
	case CPU, Auto:
		return NewCPU(), nil
	case CUDA:
		return nil, errCUDAUnavailable
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}
