// Prints the CPU features and identity that key the tuning cache on this
// host. Run with: go run scripts/cpu_features.go
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/goccy/go-json"

	"github.com/samcharles93/kerneltune/internal/autotune"
	"github.com/samcharles93/kerneltune/internal/backend"
)

type output struct {
	GoVersion string   `json:"go_version"`
	GoOS      string   `json:"go_os"`
	GoArch    string   `json:"go_arch"`
	CPUs      int      `json:"cpus"`
	Features  []string `json:"features"`
	Identity  []string `json:"identity"`
	Checksum  string   `json:"checksum"`
}

func main() {
	dev := backend.NewCPU()
	defer func() { _ = dev.Close() }()

	out := output{
		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
		CPUs:      runtime.NumCPU(),
		Features:  backend.CPUFeatures(),
		Identity:  dev.Identity(),
		Checksum:  autotune.Checksum(dev.Identity()),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}
