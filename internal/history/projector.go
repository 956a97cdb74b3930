package history

import (
	"context"
	"fmt"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/repository"
	"github.com/orderrush/saga-orchestrator/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TimelineError is the customer-facing view of a step failure
type TimelineError struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	SuggestedAction string `json:"suggested_action"`
}

// TimelineEntry is one customer-facing line of the order's history
type TimelineEntry struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Outcome     string         `json:"outcome,omitempty"` // SUCCESS, FAILED, COMPENSATED, SKIPPED
	Timestamp   time.Time      `json:"timestamp"`
	StepName    string         `json:"step_name,omitempty"`
	Error       *TimelineError `json:"error,omitempty"`
}

// AttemptSummary summarises one retry attempt on the timeline
type AttemptSummary struct {
	AttemptNumber   int      `json:"attempt_number"`
	Outcome         string   `json:"outcome"`
	StepsCompleted  int      `json:"steps_completed"`
	ResumedFromStep string   `json:"resumed_from_step,omitempty"`
	SkippedSteps    []string `json:"skipped_steps,omitempty"`
	InitiatedAt     time.Time `json:"initiated_at"`
}

// Timeline is the full projected history of an order
type Timeline struct {
	OrderID  string           `json:"order_id"`
	Entries  []TimelineEntry  `json:"entries"`
	Attempts []AttemptSummary `json:"attempts,omitempty"`
}

// Projector computes timelines from persisted events and step rows. It holds
// no state of its own: the same rows always produce the same timeline.
type Projector struct {
	store repository.Store
}

// NewProjector creates a history projector
func NewProjector(store repository.Store) *Projector {
	return &Projector{store: store}
}

// Timeline projects the order's full history in chronological order
func (p *Projector) Timeline(ctx context.Context, orderID string) (*Timeline, error) {
	ctx, span := telemetry.StartSpan(ctx, "history.timeline")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	events, err := p.store.ListEvents(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	timeline := &Timeline{OrderID: orderID, Entries: make([]TimelineEntry, 0, len(events))}
	for _, event := range events {
		if entry, ok := projectEvent(event); ok {
			timeline.Entries = append(timeline.Entries, entry)
		}
	}

	attempts, err := p.store.ListRetryAttempts(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list retry attempts: %w", err)
	}
	for _, attempt := range attempts {
		timeline.Attempts = append(timeline.Attempts, p.summarise(ctx, attempt))
	}

	span.SetAttributes(attribute.Int("entries", len(timeline.Entries)))
	span.SetStatus(codes.Ok, "")
	return timeline, nil
}

func (p *Projector) summarise(ctx context.Context, attempt *domain.RetryAttempt) AttemptSummary {
	summary := AttemptSummary{
		AttemptNumber:   attempt.AttemptNumber,
		Outcome:         string(attempt.Outcome),
		ResumedFromStep: attempt.ResumedFromStep,
		SkippedSteps:    attempt.SkippedSteps,
		InitiatedAt:     attempt.InitiatedAt,
	}
	if attempt.RetryExecutionID == "" {
		return summary
	}
	rows, err := p.store.ListStepResults(ctx, attempt.RetryExecutionID)
	if err != nil {
		// The summary degrades rather than failing the whole timeline
		return summary
	}
	for _, row := range rows {
		if row.Status == domain.StepStatusCompleted {
			summary.StepsCompleted++
		}
	}
	return summary
}

// projectEvent maps one persisted event to a customer-facing entry. Events
// with no customer meaning are omitted.
func projectEvent(event *domain.OrderEvent) (TimelineEntry, bool) {
	entry := TimelineEntry{
		Timestamp: event.Timestamp,
		StepName:  event.StepName,
	}

	switch event.EventType {
	case domain.EventSagaStarted:
		entry.Title = "Order processing started"
		entry.Description = "We started processing your order."
		entry.Outcome = "SUCCESS"
	case domain.EventStepCompleted:
		entry.Title = stepTitle(event.StepName)
		entry.Description = stepCompletedDescription(event.StepName)
		entry.Outcome = "SUCCESS"
	case domain.EventStepFailed:
		entry.Title = stepTitle(event.StepName)
		entry.Description = stepFailedDescription(event.StepName)
		entry.Outcome = "FAILED"
		entry.Error = timelineError(event)
	case domain.EventStepSkipped:
		entry.Title = stepTitle(event.StepName)
		entry.Description = "This step was still valid from a previous attempt and did not need to run again."
		entry.Outcome = "SKIPPED"
	case domain.EventCompensationStarted:
		entry.Title = "Reversing completed steps"
		entry.Description = "Something went wrong, so we are undoing the steps that had already completed."
		entry.Outcome = "SUCCESS"
	case domain.EventStepCompensated:
		entry.Title = stepTitle(event.StepName)
		entry.Description = stepCompensatedDescription(event.StepName)
		entry.Outcome = "COMPENSATED"
	case domain.EventStepCompensationFailed:
		entry.Title = stepTitle(event.StepName)
		entry.Description = "We could not automatically undo this step. Our team has been notified."
		entry.Outcome = "FAILED"
		entry.Error = timelineError(event)
	case domain.EventCompensationCompleted:
		if event.Outcome == "SUCCESS" {
			entry.Title = "Order reversed"
			entry.Description = "All completed steps were undone. You have not been charged."
			entry.Outcome = "COMPENSATED"
		} else {
			entry.Title = "Order reversal incomplete"
			entry.Description = "Some steps could not be undone automatically. Our team has been notified."
			entry.Outcome = "FAILED"
		}
	case domain.EventSagaCompleted:
		entry.Title = "Order confirmed"
		entry.Description = "Your order is confirmed and on its way."
		entry.Outcome = "SUCCESS"
	case domain.EventSagaFailed:
		entry.Title = "Order failed"
		entry.Description = "We could not process your order."
		entry.Outcome = "FAILED"
		entry.Error = timelineError(event)
	case domain.EventRetryInitiated:
		entry.Title = "Retry started"
		entry.Description = "We are retrying your order with the updated details."
		entry.Outcome = "SUCCESS"
	default:
		return TimelineEntry{}, false
	}

	return entry, true
}

func timelineError(event *domain.OrderEvent) *TimelineError {
	if event.ErrorCode == "" && event.ErrorMessage == "" {
		return nil
	}
	return &TimelineError{
		Code:            event.ErrorCode,
		Message:         event.ErrorMessage,
		SuggestedAction: domain.SuggestedActionFor(event.ErrorCode),
	}
}

func stepTitle(stepName string) string {
	switch stepName {
	case "Inventory Reservation":
		return "Item reservation"
	case "Payment Authorization":
		return "Payment"
	case "Shipping Arrangement":
		return "Shipping"
	}
	return stepName
}

func stepCompletedDescription(stepName string) string {
	switch stepName {
	case "Inventory Reservation":
		return "Your items were reserved."
	case "Payment Authorization":
		return "Your payment was authorized."
	case "Shipping Arrangement":
		return "Your shipment was arranged."
	}
	return "Completed successfully."
}

func stepFailedDescription(stepName string) string {
	switch stepName {
	case "Inventory Reservation":
		return "We could not reserve your items."
	case "Payment Authorization":
		return "We could not authorize your payment."
	case "Shipping Arrangement":
		return "We could not arrange shipping for your order."
	}
	return "This step failed."
}

func stepCompensatedDescription(stepName string) string {
	switch stepName {
	case "Inventory Reservation":
		return "Your item reservation was released."
	case "Payment Authorization":
		return "Your payment authorization was voided. You have not been charged."
	case "Shipping Arrangement":
		return "Your shipment was cancelled."
	}
	return "This step was undone."
}
