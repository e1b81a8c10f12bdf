// Package letters renders referral correspondence from registered templates.
// Rendering substitutes {{key}} placeholders from a data map; keys absent
// from the data are left as-is.
package letters

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Letter is a rendered document ready for dispatch.
type Letter struct {
	TemplateID  string    `json:"template_id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Renderer is the document engine port used by the generate-letter action.
type Renderer interface {
	Render(templateID string, data map[string]string) (*Letter, error)
}

// Template is a reusable letter template.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateRenderer holds registered templates and renders letters from them.
type TemplateRenderer struct {
	mu        sync.RWMutex
	templates map[string]*Template
	now       func() time.Time
}

// NewTemplateRenderer creates a renderer with the built-in referral
// templates pre-registered.
func NewTemplateRenderer() *TemplateRenderer {
	r := &TemplateRenderer{
		templates: make(map[string]*Template),
		now:       func() time.Time { return time.Now().UTC() },
	}
	r.registerBuiltIn()
	return r
}

func (r *TemplateRenderer) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "referral-letter",
			Subject: "Referral {{referral_number}}: {{specialty}}",
			Body: "Dear colleague,\n\nPlease find attached a {{urgency}} referral ({{referral_number}}) " +
				"for specialty {{specialty}}.\n\nReason for referral: {{reason}}\n\n" +
				"Referring provider: {{provider}}\n",
		},
		{
			ID:      "appointment-confirmation",
			Subject: "Appointment scheduled for referral {{referral_number}}",
			Body: "Your referral {{referral_number}} has been scheduled for {{scheduled_at}}. " +
				"Please arrive 15 minutes early and bring your insurance card.",
		},
		{
			ID:      "escalation-alert",
			Subject: "SLA breach on referral {{referral_number}}",
			Body: "Referral {{referral_number}} ({{urgency}}) has exceeded its processing window. " +
				"Reason: {{reason}}",
		},
		{
			ID:      "cancellation-notice",
			Subject: "Referral {{referral_number}} cancelled",
			Body:    "Referral {{referral_number}} has been cancelled. Reason: {{reason}}",
		},
		{
			ID:      "expiration-notice",
			Subject: "Referral {{referral_number}} expired",
			Body: "Referral {{referral_number}} expired after 30 days without scheduling. " +
				"Contact your provider to resend or explore alternatives.",
		},
		{
			ID:      "outcome-report-request",
			Subject: "Outcome report requested for referral {{referral_number}}",
			Body: "Referral {{referral_number}} has been completed. Please submit the outcome " +
				"report for specialty {{specialty}}.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		r.templates[t.ID] = &t
	}
}

// Register adds or replaces a template.
func (r *TemplateRenderer) Register(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement.
func (r *TemplateRenderer) Render(templateID string, data map[string]string) (*Letter, error) {
	r.mu.RLock()
	t, ok := r.templates[templateID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("template %q not found", templateID)
	}

	subject := t.Subject
	body := t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}

	return &Letter{
		TemplateID:  templateID,
		Subject:     subject,
		Body:        body,
		GeneratedAt: r.now(),
	}, nil
}
