package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/domain"
	"github.com/docpipe/docpipe/internal/usecase"
)

// ooxmlWordprocessingMIME is what mimetype.Detect reports for a .docx file:
// a zip archive whose content the detector recognizes by its internal
// word/document.xml part, not merely by file extension.
const ooxmlWordprocessingMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Gateway is the subset of usecase.GatewayService the upload handler needs,
// narrowed so handler tests can stub it without a real broker.
type Gateway interface {
	Submit(ctx domain.Context, filename string, content []byte) (domain.FinalEnvelope, error)
}

// Server aggregates HTTP handler dependencies.
type Server struct {
	Cfg         config.Config
	Gateway     Gateway
	BrokerCheck func(ctx context.Context) error
	DBCheck     func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, gw Gateway, brokerCheck, dbCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Gateway: gw, BrokerCheck: brokerCheck, DBCheck: dbCheck}
}

// UploadHandler accepts a single-file multipart upload, dispatches it
// through the gateway, and blocks for the aggregated result.
func (s *Server) UploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}

		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
					Code: "INVALID_ARGUMENT", Message: "payload too large",
					Details: map[string]int64{"max_mb": s.Cfg.MaxUploadMB},
				}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file field required", domain.ErrInvalidArgument), map[string]string{"field": "file"})
			return
		}
		defer func() { _ = file.Close() }()

		content, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: read upload: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if len(content) == 0 {
			writeError(w, r, fmt.Errorf("%w: empty file", domain.ErrInvalidArgument), nil)
			return
		}

		detected := mimetype.Detect(content)
		if !detected.Is(ooxmlWordprocessingMIME) {
			writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{
				Code: "INVALID_ARGUMENT", Message: "unsupported media type, expected a .docx document",
				Details: map[string]string{"mime": detected.String(), "filename": header.Filename},
			}})
			return
		}

		envelope, err := s.Gateway.Submit(r.Context(), header.Filename, content)
		if err != nil {
			if errors.Is(err, usecase.ErrGatewayTimeout) {
				writeJSON(w, http.StatusGatewayTimeout, errorEnvelope{Error: apiError{
					Code: "GATEWAY_TIMEOUT", Message: err.Error(),
				}})
				return
			}
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, envelope)
	}
}

// HealthzHandler reports process liveness unconditionally.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports whether the broker and database dependencies the
// process needs are currently reachable.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		run := func(name string, fn func(context.Context) error) {
			if fn == nil {
				return
			}
			if err := fn(ctx); err != nil {
				checks = append(checks, check{Name: name, OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: name, OK: true})
			}
		}
		run("broker", s.BrokerCheck)
		run("db", s.DBCheck)

		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"checks": checks})
	}
}
