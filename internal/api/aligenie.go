package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/genie-bridge/internal/genie"
)

// handleAliGenie answers the skill endpoint. The platform only understands
// the protocol envelope, so every outcome is a 200 with a JSON body.
func (s *Server) handleAliGenie(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.logger.Warn("aligenie request too large", "limit", maxErr.Limit)
		}
		writeJSON(w, http.StatusOK, genie.MalformedResponse())
		return
	}

	req, err := genie.DecodeRequest(body)
	if err != nil {
		s.logger.Warn("malformed aligenie request",
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeJSON(w, http.StatusOK, genie.MalformedResponse())
		return
	}

	s.logger.Debug("aligenie request",
		"namespace", req.Header.Namespace,
		"name", req.Header.Name,
		"message_id", req.Header.MessageID,
		"device_id", req.Payload.DeviceID,
	)

	writeJSON(w, http.StatusOK, s.genie.Handle(r.Context(), req))
}
