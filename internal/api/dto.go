package api

import (
	"time"

	"github.com/samcharles93/kerneltune/internal/autotune"
)

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`

	// Failures lists candidate errors when no candidate was viable.
	Failures []CandidateFailure `json:"failures,omitempty"`
}

type CandidateFailure struct {
	Index     int    `json:"index"`
	Candidate string `json:"candidate"`
	Error     string `json:"error"`
}

type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type Device struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Checksum   string   `json:"checksum"`
	Identity   []string `json:"identity"`
	MemoryOnly bool     `json:"memory_only"`
	Decisions  int      `json:"decisions"`
}

type DeviceList struct {
	Object string   `json:"object"`
	Data   []Device `json:"data"`
}

type Timing struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	MedianNS int64  `json:"median_ns"`
}

type Decision struct {
	Device      string    `json:"device"`
	Family      string    `json:"family"`
	Fingerprint string    `json:"fingerprint"`
	Key         any       `json:"key"`
	Index       int       `json:"index"`
	Candidate   string    `json:"candidate"`
	Timings     []Timing  `json:"timings"`
	TunedAt     time.Time `json:"tuned_at"`
}

type DecisionList struct {
	Object string     `json:"object"`
	Data   []Decision `json:"data"`
}

// TuneResponse reports the decision for one key. Status is the state the
// key was in before the request.
type TuneResponse struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Decision Decision `json:"decision"`
}

// ConvTranspose2dRequest is a conv_transpose2d key plus the device to tune
// on. Zero stride, dilation, groups and batch size default to 1.
type ConvTranspose2dRequest struct {
	Device string `json:"device,omitempty"`
	autotune.ConvTranspose2dKey
}

type MatmulRequest struct {
	Device string `json:"device,omitempty"`
	autotune.MatmulKey
}

func decisionFrom(deviceID string, e autotune.Entry, names []string) Decision {
	d := Decision{
		Device:      deviceID,
		Family:      e.Family.String(),
		Fingerprint: e.Key.String(),
		Key:         e.Key,
		Index:       e.Index,
		Candidate:   e.Name,
		Timings:     make([]Timing, 0, len(e.Durations)),
		TunedAt:     e.TunedAt,
	}
	for i, dur := range e.Durations {
		t := Timing{Index: i, MedianNS: dur.Nanoseconds()}
		if i < len(names) {
			t.Name = names[i]
		}
		d.Timings = append(d.Timings, t)
	}
	return d
}
