package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/kerneltune/internal/autotune"
	"github.com/samcharles93/kerneltune/internal/backend"
	"github.com/samcharles93/kerneltune/internal/kernels"
	"github.com/samcharles93/kerneltune/internal/version"
)

type Server struct {
	registry *kernels.Registry
	devices  []backend.Device
}

// NewServer serves registry on devices. The first device is the default
// for requests that do not name one.
func NewServer(registry *kernels.Registry, devices ...backend.Device) *Server {
	return &Server{registry: registry, devices: devices}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)

	e.GET("/v1/devices", s.handleListDevices)
	e.GET("/v1/decisions", s.handleListDecisions)

	e.POST("/v1/tune/conv-transpose2d", s.handleTuneConvTranspose2d)
	e.POST("/v1/tune/matmul", s.handleTuneMatmul)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, Health{Status: "ok", Version: version.String()})
}

func (s *Server) handleListDevices(c *echo.Context) error {
	out := DeviceList{Object: "list", Data: make([]Device, 0, len(s.devices))}
	for _, dev := range s.devices {
		d := Device{
			ID:         dev.ID(),
			Name:       dev.Name(),
			Checksum:   autotune.Checksum(dev.Identity()),
			Identity:   dev.Identity(),
			MemoryOnly: s.registry.State.MemoryOnly(dev.ID()),
		}
		if cache, ok := s.registry.State.Cache(dev.ID()); ok {
			d.Decisions = cache.Len()
		}
		out.Data = append(out.Data, d)
	}
	return c.JSON(http.StatusOK, out)
}

// handleListDecisions lists decisions made or loaded by this process,
// optionally filtered by ?device= and ?family=.
func (s *Server) handleListDecisions(c *echo.Context) error {
	deviceFilter := strings.TrimSpace(c.QueryParam("device"))
	var family autotune.Family
	if raw := strings.TrimSpace(c.QueryParam("family")); raw != "" {
		f, err := autotune.ParseFamily(raw)
		if err != nil {
			return writeBadRequest(c, err.Error(), "family")
		}
		family = f
	}

	out := DecisionList{Object: "list", Data: []Decision{}}
	for _, id := range s.registry.State.Devices() {
		if deviceFilter != "" && id != deviceFilter {
			continue
		}
		cache, ok := s.registry.State.Cache(id)
		if !ok {
			continue
		}
		for _, e := range cache.Entries() {
			if family.Valid() && e.Family != family {
				continue
			}
			out.Data = append(out.Data, decisionFrom(id, e, s.registry.Candidates(e.Family)))
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleTuneConvTranspose2d(c *echo.Context) error {
	req, err := decodeJSON[ConvTranspose2dRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error(), "")
	}
	key := req.ConvTranspose2dKey
	defaultOne(&key.Stride[0], &key.Stride[1], &key.Dilation[0], &key.Dilation[1], &key.Groups, &key.BatchSize)
	return s.tune(c, req.Device, key)
}

func (s *Server) handleTuneMatmul(c *echo.Context) error {
	req, err := decodeJSON[MatmulRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error(), "")
	}
	return s.tune(c, req.Device, req.MatmulKey)
}

func (s *Server) tune(c *echo.Context, deviceID string, key autotune.Key) error {
	dev, err := s.device(deviceID)
	if err != nil {
		return writeNotFound(c, err.Error(), "device")
	}
	if err := key.Validate(); err != nil {
		return writeBadRequest(c, err.Error(), "")
	}

	before := s.registry.Status(dev, key)
	e, err := s.registry.Tune(c.Request().Context(), dev, key)
	if err != nil {
		return writeTuneError(c, err)
	}
	status := "tuned"
	if before == autotune.StatusCached {
		status = "cached"
	}
	return c.JSON(http.StatusOK, TuneResponse{
		ID:       newTuneID(),
		Status:   status,
		Decision: decisionFrom(dev.ID(), e, s.registry.Candidates(e.Family)),
	})
}

func (s *Server) device(id string) (backend.Device, error) {
	id = strings.TrimSpace(id)
	if len(s.devices) == 0 {
		return nil, fmt.Errorf("%w: no devices configured", ErrUnknownDevice)
	}
	if id == "" {
		return s.devices[0], nil
	}
	for _, dev := range s.devices {
		if dev.ID() == id {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, id)
}

func writeTuneError(c *echo.Context, err error) error {
	var nv *autotune.NoViableCandidateError
	switch {
	case errors.As(err, &nv):
		failures := make([]CandidateFailure, 0, len(nv.Failures))
		for _, f := range nv.Failures {
			failures = append(failures, CandidateFailure{Index: f.Index, Candidate: f.Candidate, Error: f.Err.Error()})
		}
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"error": ResponseError{
				Message:  err.Error(),
				Type:     "no_viable_candidate",
				Failures: failures,
			},
		})
	case errors.Is(err, autotune.ErrInvalidKey):
		return writeBadRequest(c, err.Error(), "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return writeError(c, http.StatusServiceUnavailable, "canceled", err.Error(), "", "")
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
}

func writeBadRequest(c *echo.Context, msg, param string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, param, "")
}

func writeNotFound(c *echo.Context, msg, param string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, param, "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, newInvalidRequest("request body is empty")
		}
		return out, newInvalidRequest(err.Error())
	}
	return out, nil
}

func defaultOne(fields ...*int) {
	for _, f := range fields {
		if *f == 0 {
			*f = 1
		}
	}
}

func newTuneID() string {
	return "tune_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
