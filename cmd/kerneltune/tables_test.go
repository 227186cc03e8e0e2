package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/samcharles93/kerneltune/internal/autotune"
	"github.com/samcharles93/kerneltune/internal/tensor"
	"github.com/samcharles93/kerneltune/internal/tunestore"
)

func TestRenderDecision(t *testing.T) {
	t.Parallel()

	e := autotune.Entry{
		Family:    autotune.FamilyMatmul,
		Key:       autotune.MatmulKey{M: 4, K: 4, N: 4, DType: tensor.F32},
		Index:     1,
		Name:      "blocked",
		Durations: []time.Duration{0, 1500 * time.Microsecond, 0},
	}
	var buf bytes.Buffer
	renderDecision(&buf, e, []string{"naive", "blocked", "parallel"}, func(i int) bool { return i != 2 })
	out := buf.String()
	for _, want := range []string{"matmul", "naive", "failed", "blocked", "chosen", "1.500ms", "parallel", "ineligible"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSnapshotsState(t *testing.T) {
	t.Parallel()

	now := time.Now()
	snaps := []tunestore.Snapshot{
		{DeviceID: "cpu", Checksum: "aaaa", Size: 2048, ModTime: now.Add(-time.Hour)},
		{DeviceID: "cuda_0", Checksum: "bbbb", Size: 10, ModTime: now},
	}
	var buf bytes.Buffer
	renderSnapshots(&buf, snaps, map[string]string{"cpu": "cccc"}, now)
	out := buf.String()
	for _, want := range []string{"stale", "foreign", "2.0 kB", "1 hour ago"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := map[time.Duration]string{
		2 * time.Millisecond:   "2.000ms",
		1500 * time.Nanosecond: "1.50µs",
		500 * time.Nanosecond:  "500ns",
		0:                      "0s",
	}
	for d, want := range tests {
		if got := formatDuration(d); got != want {
			t.Fatalf("formatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
