package referral

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/referral/internal/platform/auth"
	"github.com/carelink/referral/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "care-coordinator", "provider", "specialist"))
	read.GET("/referrals", h.List)
	read.GET("/referrals/:id", h.Get)
	read.GET("/referrals/:id/history", h.History)
	read.GET("/referrals/:id/transitions", h.AllowedTransitions)

	write := api.Group("", auth.RequireRole("admin", "care-coordinator", "provider"))
	write.POST("/referrals", h.Create)
	write.POST("/referrals/:id/transition", h.Transition)
	write.POST("/referrals/:id/validate", h.Validate)
	write.POST("/referrals/:id/escalate", h.Escalate)
}

type createRequest struct {
	PatientID             uuid.UUID  `json:"patient_id"`
	ProviderID            uuid.UUID  `json:"provider_id"`
	SpecialistID          *uuid.UUID `json:"specialist_id,omitempty"`
	EncounterID           *uuid.UUID `json:"encounter_id,omitempty"`
	SpecialtyType         string     `json:"specialty_type"`
	Reason                string     `json:"reason"`
	ClinicalNotes         *string    `json:"clinical_notes,omitempty"`
	UrgencyLevel          string     `json:"urgency_level"`
	AppointmentType       string     `json:"appointment_type"`
	AuthorizationRequired bool       `json:"authorization_required"`
	AuthorizationNumber   *string    `json:"authorization_number,omitempty"`
	ICD10Codes            []string   `json:"icd10_codes,omitempty"`
	CPTCodes              []string   `json:"cpt_codes,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}

	r := &Referral{
		PatientID:             req.PatientID,
		ProviderID:            req.ProviderID,
		SpecialistID:          req.SpecialistID,
		EncounterID:           req.EncounterID,
		SpecialtyType:         req.SpecialtyType,
		Reason:                req.Reason,
		ClinicalNotes:         req.ClinicalNotes,
		UrgencyLevel:          UrgencyLevel(req.UrgencyLevel),
		AppointmentType:       req.AppointmentType,
		AuthorizationRequired: req.AuthorizationRequired,
		AuthorizationNumber:   req.AuthorizationNumber,
		ICD10Codes:            req.ICD10Codes,
		CPTCodes:              req.CPTCodes,
	}

	actor := auth.ActorFromContext(c.Request().Context())
	created, err := h.svc.CreateReferral(c.Request().Context(), r, actor)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	r, err := h.svc.GetReferral(c.Request().Context(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var filter ListFilter

	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid patient_id")
		}
		filter.PatientID = &pid
	}
	if v := c.QueryParam("provider_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid provider_id")
		}
		filter.ProviderID = &pid
	}
	if v := c.QueryParam("status"); v != "" {
		status := Status(v)
		if !status.Valid() {
			return badRequest(c, "invalid status")
		}
		filter.Status = &status
	}
	if v := c.QueryParam("urgency"); v != "" {
		urgency := UrgencyLevel(v)
		if !urgency.Valid() {
			return badRequest(c, "invalid urgency")
		}
		filter.Urgency = &urgency
	}

	refs, total, err := h.svc.ListReferrals(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(refs, total, pg.Limit, pg.Offset))
}

func (h *Handler) History(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	history, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) AllowedTransitions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	next, err := h.svc.AllowedTransitions(c.Request().Context(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"allowed": next})
}

type transitionRequest struct {
	TargetStatus  string     `json:"target_status"`
	Notes         string     `json:"notes"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	FollowUpNotes string     `json:"follow_up_notes,omitempty"`
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	target := Status(req.TargetStatus)
	if !target.Valid() {
		return badRequest(c, "target_status is not a valid lifecycle state")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	opts := TransitionOptions{ScheduledAt: req.ScheduledAt, FollowUpNotes: req.FollowUpNotes}
	r, err := h.svc.Transition(c.Request().Context(), id, target, req.Notes, actor, opts)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Validate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	var req struct {
		Action string `json:"action"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	result, err := h.svc.ValidateForAction(c.Request().Context(), id, req.Action)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Escalate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.Reason == "" {
		return badRequest(c, "reason is required")
	}

	actor := auth.ActorFromContext(c.Request().Context())
	esc, err := h.svc.Escalate(c.Request().Context(), id, req.Reason, actor)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, esc)
}

// errorResponse is the wire shape for every workflow failure.
type errorResponse struct {
	Success    bool              `json:"success"`
	ErrorKind  ErrorKind         `json:"errorKind"`
	Detail     string            `json:"detail"`
	Validation *ValidationResult `json:"validation,omitempty"`
}

// writeError maps workflow errors onto the error envelope. Persistence
// failures hide the underlying storage detail.
func (h *Handler) writeError(c echo.Context, err error) error {
	kind, ok := KindOf(err)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{
			ErrorKind: KindPersistence,
			Detail:    "internal error",
		})
	}

	resp := errorResponse{ErrorKind: kind, Detail: err.Error()}
	status := http.StatusInternalServerError
	switch kind {
	case KindValidation:
		status = http.StatusUnprocessableEntity
		var ve *ValidationError
		if errors.As(err, &ve) {
			resp.Validation = ve.Result
		}
	case KindGuardFailure, KindInvalidTransition:
		status = http.StatusConflict
	case KindNotFound:
		status = http.StatusNotFound
	case KindPersistence:
		resp.Detail = "storage operation failed"
	}
	return c.JSON(status, resp)
}

func badRequest(c echo.Context, detail string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{
		ErrorKind: KindValidation,
		Detail:    detail,
	})
}
