// Package notification delivers work order notifications to people. Delivery
// is best effort: callers log failures and never roll anything back.
package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/workorder-service/internal/domain"
)

// Template identifies the message to render for a recipient.
type Template string

const (
	TemplateAssigned   Template = "work_order.assigned"
	TemplateReassigned Template = "work_order.reassigned"
	TemplateUnassigned Template = "work_order.unassigned"
	TemplateStarted    Template = "work_order.started"
	TemplateProgress   Template = "work_order.progress"
	TemplateCompleted  Template = "work_order.completed"
	TemplateCancelled  Template = "work_order.cancelled"
	TemplateClosed     Template = "work_order.closed"
)

// Recipient is a resolved addressee.
type Recipient struct {
	Type        domain.RecipientType `json:"type"`
	ID          string               `json:"id"`
	DisplayName string               `json:"display_name"`
	Contact     *string              `json:"contact,omitempty"`
}

// Payload carries template variables.
type Payload map[string]any

// Dispatcher sends one notification.
type Dispatcher interface {
	Notify(ctx context.Context, to Recipient, template Template, payload Payload) error
}

// Message is the transport-neutral form sent by the webhook and Kafka dispatchers.
type Message struct {
	Template  Template  `json:"template"`
	Recipient Recipient `json:"recipient"`
	Payload   Payload   `json:"payload"`
	SentAt    time.Time `json:"sent_at"`
}

// LogDispatcher only logs; it is the default for development.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.Named("notification")}
}

func (d *LogDispatcher) Notify(_ context.Context, to Recipient, template Template, payload Payload) error {
	d.logger.Info("notification",
		zap.String("template", string(template)),
		zap.String("recipient_type", string(to.Type)),
		zap.String("recipient_id", to.ID),
		zap.String("recipient_name", to.DisplayName),
		zap.Any("payload", payload))
	return nil
}

// Recorder captures notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Notify(_ context.Context, to Recipient, template Template, payload Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, Message{Template: template, Recipient: to, Payload: payload})
	return nil
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}

// For returns the templates recorded for one recipient id, in send order.
func (r *Recorder) For(recipientID string) []Template {
	var out []Template
	for _, m := range r.Sent() {
		if m.Recipient.ID == recipientID {
			out = append(out, m.Template)
		}
	}
	return out
}

var (
	_ Dispatcher = (*LogDispatcher)(nil)
	_ Dispatcher = (*Recorder)(nil)
)
