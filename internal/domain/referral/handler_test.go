package referral

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newEchoContext(method, target string, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestHandlerCreate_Success(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	body, _ := json.Marshal(map[string]interface{}{
		"patient_id":       f.patientID,
		"provider_id":      f.providerID,
		"specialty_type":   "cardiology",
		"reason":           "chest pain",
		"urgency_level":    "routine",
		"appointment_type": "consultation",
	})
	c, rec := newEchoContext(http.MethodPost, "/referrals", string(body))
	if err := h.Create(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created Referral
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != StatusDraft {
		t.Errorf("expected draft, got %s", created.Status)
	}
}

func TestHandlerCreate_ValidationEnvelope(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	body, _ := json.Marshal(map[string]interface{}{
		"patient_id":       f.patientID,
		"provider_id":      f.providerID,
		"specialty_type":   "cardiology",
		"urgency_level":    "routine",
		"appointment_type": "consultation",
		// reason missing
	})
	c, rec := newEchoContext(http.MethodPost, "/referrals", string(body))
	if err := h.Create(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeError(t, rec)
	if resp.Success {
		t.Error("error envelope must carry success=false")
	}
	if resp.ErrorKind != KindValidation {
		t.Errorf("expected validation kind, got %s", resp.ErrorKind)
	}
	if resp.Validation == nil || len(resp.Validation.Errors) == 0 {
		t.Error("expected the validation result embedded in the envelope")
	}
}

func TestHandlerTransition_ConflictEnvelopes(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	created, err := f.svc.CreateReferral(context.Background(), f.draft(), "dr-jones")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// draft -> scheduled is not in the table.
	c, rec := newEchoContext(http.MethodPost, "/referrals/"+created.ID.String()+"/transition",
		`{"target_status":"scheduled"}`)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.Transition(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.ErrorKind != KindInvalidTransition {
		t.Errorf("expected invalid_transition, got %s", resp.ErrorKind)
	}
}

func TestHandlerTransition_GuardConflict(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	r := f.draft()
	r.AuthorizationRequired = true
	r.AuthorizationStatus = strPtr("pending")
	notes := strings.Repeat("documented medical necessity for cardiac evaluation ", 2)
	r.ClinicalNotes = &notes
	created, err := f.svc.CreateReferral(context.Background(), r, "dr-jones")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	c, rec := newEchoContext(http.MethodPost, "/referrals/"+created.ID.String()+"/transition",
		`{"target_status":"pending"}`)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.Transition(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeError(t, rec)
	if resp.ErrorKind != KindGuardFailure {
		t.Errorf("expected guard_failure, got %s", resp.ErrorKind)
	}
	if !strings.Contains(resp.Detail, "guard_complete") {
		t.Errorf("expected the guard name in the detail, got %q", resp.Detail)
	}
}

func TestHandlerTransition_UnknownTarget(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	c, rec := newEchoContext(http.MethodPost, "/referrals/"+uuid.NewString()+"/transition",
		`{"target_status":"archived"}`)
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	if err := h.Transition(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerGet_NotFound(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	c, rec := newEchoContext(http.MethodGet, "/referrals/"+uuid.NewString(), "")
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	if err := h.Get(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.ErrorKind != KindNotFound {
		t.Errorf("expected not_found, got %s", resp.ErrorKind)
	}
}

func TestHandlerTransition_PersistenceDetailSanitized(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	created, err := f.svc.CreateReferral(context.Background(), f.draft(), "dr-jones")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.repo.failUpdate = errors.New("pq: connection refused host=10.0.0.3")

	c, rec := newEchoContext(http.MethodPost, "/referrals/"+created.ID.String()+"/transition",
		`{"target_status":"pending"}`)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.Transition(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeError(t, rec)
	if resp.ErrorKind != KindPersistence {
		t.Errorf("expected persistence_error, got %s", resp.ErrorKind)
	}
	if resp.Detail != "storage operation failed" {
		t.Errorf("storage detail must not leak, got %q", resp.Detail)
	}
}

func TestHandlerAllowedTransitions(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	created, err := f.svc.CreateReferral(context.Background(), f.draft(), "dr-jones")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	c, rec := newEchoContext(http.MethodGet, "/referrals/"+created.ID.String()+"/transitions", "")
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.AllowedTransitions(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Allowed []Status `json:"allowed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Allowed) != 2 || resp.Allowed[0] != StatusPending || resp.Allowed[1] != StatusCancelled {
		t.Errorf("expected [pending cancelled], got %v", resp.Allowed)
	}
}

func TestHandlerEscalate(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	created, err := f.svc.CreateReferral(context.Background(), f.draft(), "dr-jones")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	c, rec := newEchoContext(http.MethodPost, "/referrals/"+created.ID.String()+"/escalate",
		`{"reason":"no specialist response"}`)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.Escalate(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Missing reason is rejected before the service runs.
	c, rec = newEchoContext(http.MethodPost, "/referrals/"+created.ID.String()+"/escalate", `{}`)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.Escalate(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
