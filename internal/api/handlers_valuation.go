package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/vehicle-valuation/internal/errors"
	"github.com/vehicle-valuation/internal/job"
	"github.com/vehicle-valuation/internal/models"
	"github.com/vehicle-valuation/internal/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ValuationRequest is the body of POST /api/valuations
type ValuationRequest struct {
	Brand      string `json:"brand"`
	Model      string `json:"model"`
	Year       int    `json:"year"`
	Mileage    *int   `json:"mileage,omitempty"`
	UserRef    string `json:"user_ref,omitempty"`
	VehicleRef string `json:"vehicle_ref,omitempty"`
}

// SubmitResponse acknowledges an accepted valuation
type SubmitResponse struct {
	JobID  string          `json:"job_id"`
	Estado types.JobStatus `json:"estado"`
}

// ValuationStatus is the pollable view of a job. The report is only
// attached once the job has completed.
type ValuationStatus struct {
	JobID                 string                  `json:"job_id"`
	Estado                types.JobStatus         `json:"estado"`
	Progreso              int                     `json:"progreso"`
	MensajeEstado         string                  `json:"mensaje_estado"`
	ErrorCodigo           *string                 `json:"error_codigo,omitempty"`
	ErrorMensaje          *string                 `json:"error_mensaje,omitempty"`
	ErrorDetalle          *string                 `json:"error_detalle,omitempty"`
	Informe               *models.ValuationReport `json:"informe,omitempty"`
	Creado                time.Time               `json:"creado"`
	Iniciado              *time.Time              `json:"iniciado,omitempty"`
	Finalizado            *time.Time              `json:"finalizado,omitempty"`
	TiempoMs              *int64                  `json:"tiempo_ms,omitempty"`
	UsoRecursos           int                     `json:"uso_recursos"`
	CancelacionSolicitada bool                    `json:"cancelacion_solicitada"`
}

// ValuationList wraps GET /api/valuations
type ValuationList struct {
	Valuations []ValuationStatus `json:"valuations"`
	Count      int               `json:"count"`
}

func statusView(j *models.ValuationJob) ValuationStatus {
	return ValuationStatus{
		JobID:                 j.ID,
		Estado:                j.Status,
		Progreso:              j.Progress,
		MensajeEstado:         j.StatusMessage,
		ErrorCodigo:           j.ErrorCode,
		ErrorMensaje:          j.ErrorMessage,
		ErrorDetalle:          j.ErrorDetail,
		Creado:                j.CreatedAt,
		Iniciado:              j.StartedAt,
		Finalizado:            j.FinishedAt,
		TiempoMs:              j.ElapsedMs,
		UsoRecursos:           j.ResourceUsage,
		CancelacionSolicitada: j.CancelRequested,
	}
}

// handleSubmitValuation handles POST /api/valuations
func (s *Server) handleSubmitValuation(w http.ResponseWriter, r *http.Request) {
	var req ValuationRequest
	if bodyErr := decodeValidated(r, schemaValuationRequest, &req); bodyErr != nil {
		bodyErr.respond(w)
		return
	}

	created, err := s.jobs.Submit(r.Context(), &job.SubmitInput{
		Target: models.TargetVehicle{
			Brand:   strings.TrimSpace(req.Brand),
			Model:   strings.TrimSpace(req.Model),
			Year:    req.Year,
			Mileage: req.Mileage,
		},
		UserRef:    req.UserRef,
		VehicleRef: req.VehicleRef,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/valuations/"+created.ID)
	respondJSON(w, http.StatusAccepted, SubmitResponse{JobID: created.ID, Estado: created.Status})
}

// handleValuationStatus handles GET /api/valuations/status?job_id=
func (s *Server) handleValuationStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("job_id"))
	if id == "" {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("job_id", "is required"))
		return
	}
	s.writeStatus(w, r, id)
}

// handleGetValuation handles GET /api/valuations/{id}
func (s *Server) handleGetValuation(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, mux.Vars(r)["id"])
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, id string) {
	j, err := s.jobs.GetStatus(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	view := statusView(j)
	if j.Status == types.JobCompleted && j.ReportID != nil {
		report, err := s.jobs.GetReport(r.Context(), *j.ReportID)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		view.Informe = report
	}
	respondJSON(w, http.StatusOK, view)
}

// handleCancelValuation handles POST /api/valuations/{id}/cancel
func (s *Server) handleCancelValuation(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, statusView(j))
}

// handleListValuations handles GET /api/valuations?status=&limit=
func (s *Server) handleListValuations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var status types.JobStatus
	if raw := query.Get("status"); raw != "" {
		parsed, err := types.ParseJobStatus(raw)
		if err != nil {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("status", err.Error()))
			return
		}
		status = parsed
	}

	limit := defaultListLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("limit", "must be between 1 and "+strconv.Itoa(maxListLimit)))
			return
		}
		limit = n
	}

	jobs, err := s.jobs.List(r.Context(), status, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	out := ValuationList{Valuations: make([]ValuationStatus, 0, len(jobs))}
	for _, j := range jobs {
		out.Valuations = append(out.Valuations, statusView(j))
	}
	out.Count = len(out.Valuations)
	respondJSON(w, http.StatusOK, out)
}
