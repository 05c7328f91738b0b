package valuation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"equity_valuation/pkg/core/narrative"
	"equity_valuation/pkg/core/report"
	"equity_valuation/pkg/core/utils"
	coreValuation "equity_valuation/pkg/core/valuation"
)

const maxRequestBytes = 1 << 16

// Evaluator is the part of valuation.Evaluator the handler needs.
type Evaluator interface {
	Evaluate(ctx context.Context, req coreValuation.Request) (*coreValuation.Report, error)
}

// ValuationRequest is the body of POST /valuation/report.
type ValuationRequest struct {
	Ticker  string                   `json:"ticker" validate:"required,max=16"`
	Peers   []string                 `json:"peers" validate:"max=25,dive,max=16"`
	DCF     *coreValuation.DCFParams `json:"dcf"`
	Format  string                   `json:"format" validate:"omitempty,oneof=json markdown md html"`
	Narrate bool                     `json:"narrate"`
	Details bool                     `json:"details"`
}

// Handler serves valuation reports.
type Handler struct {
	evaluator Evaluator
	narrator  *narrative.Narrator
	log       zerolog.Logger
}

// NewHandler creates a Handler. narrator may be nil, in which case narrate requests are served
// without commentary.
func NewHandler(evaluator Evaluator, narrator *narrative.Narrator, log zerolog.Logger) *Handler {
	return &Handler{
		evaluator: evaluator,
		narrator:  narrator,
		log:       log.With().Str("component", "valuation_handler").Logger(),
	}
}

// RegisterRoutes mounts the handler under /valuation.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/valuation", func(r chi.Router) {
		r.Post("/report", h.HandleValuationReport)
	})
}

// HandleValuationReport values one ticker. 404 when the subject has no data, 422 when it has no
// usable price, 400 on a malformed request; otherwise 200 with the report in the requested format.
func (h *Handler) HandleValuationReport(w http.ResponseWriter, r *http.Request) {
	var req ValuationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Ticker = strings.TrimSpace(req.Ticker)
	if err := utils.Validator().Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DCF != nil {
		if err := req.DCF.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	format := report.JSON
	if req.Format != "" {
		f, err := report.ParseFormat(req.Format)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = f
	}

	log := h.log.With().Str("ticker", req.Ticker).Logger()
	log.Info().Strs("peers", req.Peers).Msg("valuation requested")

	rep, err := h.evaluator.Evaluate(r.Context(), coreValuation.Request{Ticker: req.Ticker, Peers: req.Peers, DCF: req.DCF})
	if err != nil {
		status := statusFor(err)
		log.Warn().Err(err).Int("status", status).Msg("valuation failed")
		writeError(w, status, err.Error())
		return
	}

	opts := report.Options{Details: req.Details}
	if req.Narrate && h.narrator != nil {
		c, err := h.narrator.Describe(r.Context(), rep)
		if err != nil {
			log.Warn().Err(err).Msg("commentary unavailable")
		}
		opts.Commentary = c
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, rep, format, opts); err != nil {
		log.Error().Err(err).Msg("failed to render report")
		writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	switch format {
	case report.HTML:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	case report.Markdown:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	if _, err := buf.WriteTo(w); err != nil {
		log.Warn().Err(err).Msg("failed to write report")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coreValuation.ErrSubjectUnavailable):
		return http.StatusNotFound
	case errors.Is(err, coreValuation.ErrNoPrice):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
