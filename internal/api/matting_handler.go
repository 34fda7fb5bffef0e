package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/heimdex/heimdex-matting/internal/orchestrator"
)

const maxRequestBytes = 1 << 20

func mattingHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body MattingRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		if err := dec.Decode(&body); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		req, err := body.ToRequest()
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "")
			return
		}

		res, err := cfg.Orchestrator.Run(r.Context(), req)
		if err != nil {
			var oe *orchestrator.Error
			if !errors.As(err, &oe) {
				oe = &orchestrator.Error{Kind: orchestrator.KindInternal, Err: err}
			}
			WriteError(w, oe.Status(), oe.PublicMessage(), "")
			return
		}
		defer func() {
			if err := res.Close(); err != nil {
				cfg.Logger.Warn("failed to release run scratch", "run_id", res.RunID, "error", err)
			}
		}()

		w.Header().Set("X-Run-ID", res.RunID)
		a := res.Artifact
		if err := cfg.Streamer.Stream(w, r, a.Path, a.ContentType, a.Filename); err != nil {
			cfg.Logger.Error("failed to stream artifact", "run_id", res.RunID, "error", err)
			WriteError(w, http.StatusInternalServerError, "processing failed", "")
		}
	}
}
