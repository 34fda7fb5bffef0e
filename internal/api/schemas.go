package api

import (
	"fmt"
	"time"

	"github.com/heimdex/heimdex-matting/internal/engine"
	"github.com/heimdex/heimdex-matting/internal/orchestrator"
	"github.com/heimdex/heimdex-matting/internal/runs"
)

// MattingRequest is the POST /matting body.
type MattingRequest struct {
	InputSource       string   `json:"input_source"`
	InputResize       []int    `json:"input_resize,omitempty"`
	DownsampleRatio   *float64 `json:"downsample_ratio,omitempty"`
	OutputType        *string  `json:"output_type,omitempty"`
	OutputComposition *string  `json:"output_composition,omitempty"`
	OutputAlpha       *string  `json:"output_alpha,omitempty"`
	OutputForeground  *string  `json:"output_foreground,omitempty"`
	OutputVideoMbps   *int     `json:"output_video_mbps,omitempty"`
	SeqChunk          *int     `json:"seq_chunk,omitempty"`
	NumWorkers        *int     `json:"num_workers,omitempty"`
}

// Defaults for omitted MattingRequest fields.
const (
	DefaultOutputType = orchestrator.OutputTypeVideo
	DefaultSeqChunk   = 1
	DefaultNumWorkers = 0
)

// ToRequest applies defaults and converts the wire shape.
func (m MattingRequest) ToRequest() (orchestrator.Request, error) {
	req := orchestrator.Request{
		InputSource:       m.InputSource,
		DownsampleRatio:   m.DownsampleRatio,
		OutputType:        DefaultOutputType,
		OutputComposition: m.OutputComposition,
		OutputAlpha:       m.OutputAlpha,
		OutputForeground:  m.OutputForeground,
		OutputVideoMbps:   m.OutputVideoMbps,
		SeqChunk:          DefaultSeqChunk,
		NumWorkers:        DefaultNumWorkers,
	}
	if m.InputResize != nil {
		if len(m.InputResize) != 2 {
			return req, fmt.Errorf("input_resize must be [width, height]")
		}
		req.InputResize = &[2]int{m.InputResize[0], m.InputResize[1]}
	}
	if m.OutputType != nil {
		req.OutputType = *m.OutputType
	}
	if m.SeqChunk != nil {
		req.SeqChunk = *m.SeqChunk
	}
	if m.NumWorkers != nil {
		req.NumWorkers = *m.NumWorkers
	}
	return req, nil
}

type RootResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	Engine EngineStatusResponse `json:"engine"`
	Runs   map[string]int       `json:"runs"`
}

type EngineStatusResponse struct {
	Variant    string          `json:"variant"`
	Checkpoint string          `json:"checkpoint"`
	Device     string          `json:"device"`
	InFlight   int             `json:"in_flight"`
	Waiting    int             `json:"waiting"`
	Doctor     *DoctorResponse `json:"doctor,omitempty"`
}

type DoctorResponse struct {
	Ready             bool   `json:"ready"`
	PythonVersion     string `json:"python_version,omitempty"`
	TorchVersion      string `json:"torch_version,omitempty"`
	CUDAAvailable     bool   `json:"cuda_available"`
	CheckpointPresent bool   `json:"checkpoint_present"`
	LastProbeAt       string `json:"last_probe_at"`
}

type RunResponse struct {
	ID           string `json:"id"`
	InputSource  string `json:"input_source"`
	OutputType   string `json:"output_type"`
	State        string `json:"state"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ArtifactType string `json:"artifact_type,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
	CreatedAt    string `json:"created_at"`
	FinishedAt   string `json:"finished_at,omitempty"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func RunToResponse(r *runs.Run) RunResponse {
	resp := RunResponse{
		ID:           r.ID,
		InputSource:  r.InputSource,
		OutputType:   r.OutputType,
		State:        r.State,
		ErrorKind:    r.ErrorKind,
		ArtifactType: r.ArtifactType,
		DurationMS:   r.DurationMS,
		CreatedAt:    r.CreatedAt.Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		resp.FinishedAt = r.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func DoctorToResponse(c *engine.Capabilities) *DoctorResponse {
	return &DoctorResponse{
		Ready:             c.Ready,
		PythonVersion:     c.Python.Version,
		TorchVersion:      c.Torch.Version,
		CUDAAvailable:     c.CUDAAvailable,
		CheckpointPresent: c.CheckpointPresent,
		LastProbeAt:       c.ProbedAt.Format(time.RFC3339),
	}
}
