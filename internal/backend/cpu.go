package backend

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
)

type cpuJob struct {
	fn   func() error
	done chan error
}

// CPUDevice runs submitted work on a single queue goroutine, so kernels
// submitted to the same device never overlap and timings are not skewed by
// a concurrent benchmark.
type CPUDevice struct {
	jobs      chan cpuJob
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	identity []string
}

func NewCPU() *CPUDevice {
	d := &CPUDevice{
		jobs:     make(chan cpuJob),
		quit:     make(chan struct{}),
		identity: cpuIdentity(),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *CPUDevice) ID() string {
	return CPU
}

func (d *CPUDevice) Name() string {
	return fmt.Sprintf("cpu (%s/%s, %d threads)", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
}

func (d *CPUDevice) Identity() []string {
	return append([]string(nil), d.identity...)
}

func (d *CPUDevice) Submit(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case d.jobs <- cpuJob{fn: fn, done: done}:
	case <-d.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *CPUDevice) Close() error {
	d.closeOnce.Do(func() {
		close(d.quit)
	})
	d.wg.Wait()
	return nil
}

func (d *CPUDevice) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case job := <-d.jobs:
			job.done <- runJob(job.fn)
		}
	}
}

func runJob(fn func() error) (err error) {
	if exception := exceptions.Try(func() { err = fn() }); exception != nil {
		if e, ok := exception.(error); ok {
			return fmt.Errorf("cpu execution failed: %w", e)
		}
		return fmt.Errorf("cpu execution failed: %v", exception)
	}
	return err
}

func cpuIdentity() []string {
	parts := []string{
		"device=" + CPU,
		"goos=" + runtime.GOOS,
		"goarch=" + runtime.GOARCH,
		"cpus=" + strconv.Itoa(runtime.NumCPU()),
		"features=" + strings.Join(CPUFeatures(), ","),
	}
	return append(parts, hostIdentity()...)
}
