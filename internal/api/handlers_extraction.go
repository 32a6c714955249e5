package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/logging"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/parser"
	"github.com/vehicle-valuation/internal/rules"
)

// defaultExtractionOrigin labels confirmed extractions without a source
const defaultExtractionOrigin = "Manual"

// MarketRecorder turns confirmed facts into market records and stores them
type MarketRecorder interface {
	ExtractionRecord(facts models.ExtractedFacts, bm parser.BrandModel, origin string, now time.Time) *models.MarketDataRecord
	UpsertIfNew(ctx context.Context, rec *models.MarketDataRecord) (models.UpsertResult, error)
}

// ExtractionRequest is the body of POST /api/extractions
type ExtractionRequest struct {
	Text      string `json:"text"`
	Condition string `json:"condition,omitempty"`
	Source    string `json:"source,omitempty"`
	Confirm   bool   `json:"confirm,omitempty"`
}

// ExtractionResponse carries the normalized facts and, for confirmed
// requests, the outcome of the market-store upsert.
type ExtractionResponse struct {
	Facts           models.ExtractedFacts `json:"facts"`
	Brand           string                `json:"brand"`
	Model           string                `json:"model"`
	BrandConfidence int                   `json:"brand_confidence"`
	ValidBrandModel bool                  `json:"valid_brand_model"`
	Inserted        *bool                 `json:"inserted,omitempty"`
	ID              string                `json:"id,omitempty"`
}

// ExtractionHandler serves the manual extraction endpoint
type ExtractionHandler struct {
	facts      *parser.FactParser
	normalizer *parser.Normalizer
	recorder   MarketRecorder
	now        func() time.Time
}

// NewExtractionHandler builds the handler. A nil recorder rejects confirmed
// requests as unavailable.
func NewExtractionHandler(facts *parser.FactParser, normalizer *parser.Normalizer, recorder MarketRecorder) *ExtractionHandler {
	return &ExtractionHandler{
		facts:      facts,
		normalizer: normalizer,
		recorder:   recorder,
		now:        time.Now,
	}
}

// Extract parses text, applies the business rules and optionally records
// the result. It is the transport-free core of POST /api/extractions.
func (h *ExtractionHandler) Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResponse, error) {
	now := h.now()
	facts := rules.Apply(h.facts.Parse(req.Text), req.Condition, now)
	bm := h.normalizer.Normalize(req.Text, "")

	resp := &ExtractionResponse{
		Facts:           facts,
		Brand:           bm.Brand,
		Model:           bm.Model,
		BrandConfidence: bm.Confidence,
		ValidBrandModel: parser.ValidBrandModel(bm.Brand, bm.Model),
	}
	if !req.Confirm {
		return resp, nil
	}
	if h.recorder == nil {
		return nil, apperrors.NewServiceUnavailableError("market store")
	}

	origin := strings.TrimSpace(req.Source)
	if origin == "" {
		origin = defaultExtractionOrigin
	}
	rec := h.recorder.ExtractionRecord(facts, bm, origin, now)
	if rec == nil {
		return nil, apperrors.NewInvalidParameterError("text", "needs a recognizable brand and model, a price and a year to be recorded")
	}
	result, err := h.recorder.UpsertIfNew(ctx, rec)
	if err != nil {
		return nil, err
	}
	resp.Inserted = &result.Inserted
	resp.ID = result.ID

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"brand":    rec.Brand,
		"model":    rec.Model,
		"inserted": result.Inserted,
		"id":       result.ID,
	}).Info("Manual extraction recorded")
	return resp, nil
}

// handleExtract handles POST /api/extractions
func (h *ExtractionHandler) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req ExtractionRequest
	if bodyErr := decodeValidated(r, schemaExtractionRequest, &req); bodyErr != nil {
		bodyErr.respond(w)
		return
	}

	resp, err := h.Extract(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
