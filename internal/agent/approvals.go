package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/events"
	"github.com/iksnae/chief-of-staff/internal/metrics"
	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/iksnae/chief-of-staff/internal/tools"
	"go.uber.org/zap"
)

// Decision is the human verdict on an approval.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// AcknowledgedOutput is recorded when an approved action has no tool to run.
const AcknowledgedOutput = "Approved. No tool to execute for this action type."

// Resolution is the outcome of resolving one approval.
type Resolution struct {
	ApprovalID string               `json:"approval_id"`
	Status     store.ApprovalStatus `json:"status"`
	Edited     bool                 `json:"edited"`
	Output     string               `json:"output,omitempty"`
	// Error is set when the approved tool ran and failed.
	Error string `json:"error,omitempty"`
}

// ApprovalService resolves queued approvals. Each approval executes at most
// once no matter how many callers race to resolve it.
type ApprovalService struct {
	store      *store.Store
	dispatcher *tools.Dispatcher
	events     events.Publisher
	now        func() time.Time
	loc        func() *time.Location
}

// NewApprovalService creates the service. pub and now may be nil.
func NewApprovalService(s *store.Store, d *tools.Dispatcher, pub events.Publisher, now func() time.Time, loc func() *time.Location) *ApprovalService {
	if pub == nil {
		pub = events.Discard
	}
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = func() *time.Location { return time.UTC }
	}
	return &ApprovalService{store: s, dispatcher: d, events: pub, now: now, loc: loc}
}

// Pending lists pending approvals, oldest first.
func (a *ApprovalService) Pending(ctx context.Context) ([]store.Approval, error) {
	return a.store.PendingApprovals(ctx)
}

// Resolve applies decision to approval id. On approve, edited (when non-empty)
// replaces the stored payload and must validate against the tool's input
// contract before the approval is claimed. A validation failure leaves the
// approval pending. Resolving a non-pending approval returns
// store.ErrAlreadyResolved and executes nothing.
func (a *ApprovalService) Resolve(ctx context.Context, id string, decision Decision, edited json.RawMessage) (*Resolution, error) {
	approval, err := a.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if approval.Status != store.ApprovalPending {
		return nil, fmt.Errorf("approval %s: %w", id, store.ErrAlreadyResolved)
	}

	switch decision {
	case Approve:
		return a.approve(ctx, approval, edited)
	case Reject:
		return a.reject(ctx, approval)
	default:
		return nil, fmt.Errorf("unknown decision %q", decision)
	}
}

func (a *ApprovalService) approve(ctx context.Context, approval *store.Approval, edited json.RawMessage) (*Resolution, error) {
	wasEdited := len(edited) > 0
	payload := approval.Payload
	if wasEdited {
		payload = edited
	}
	if !isJSONObject(payload) {
		return nil, &internal.ValidationError{Tool: approval.ActionType, Reason: "approval data must be a JSON object"}
	}
	// A review request may name a free-form action type with no tool behind
	// it; approving one records the decision only. Queued tool calls must
	// resolve to a tool or stay pending.
	runnable := true
	if err := a.dispatcher.Validate(ctx, approval.ActionType, payload); err != nil {
		var unknown *internal.UnknownToolError
		if !approval.ReviewOnly || !errors.As(err, &unknown) {
			return nil, err
		}
		runnable = false
	}

	resolvedAt := a.now()
	if err := a.store.ResolveApproval(ctx, approval.ID, store.ApprovalApproved, payload, resolvedAt); err != nil {
		return nil, err
	}

	// The claim above is the only way in; from here the tool runs exactly once.
	res := &Resolution{ApprovalID: approval.ID, Status: store.ApprovalApproved, Edited: wasEdited}
	start := a.now()
	output, execErr := AcknowledgedOutput, error(nil)
	if runnable {
		output, execErr = a.dispatcher.Execute(ctx, approval.ActionType, payload, approval.SessionID)
	}

	action := store.Action{
		SessionID: approval.SessionID,
		ToolName:  approval.ActionType,
		Input:     payload,
		Output:    output,
		Status:    store.ActionApproved,
	}
	if execErr != nil {
		res.Error = execErr.Error()
		action.Status = store.ActionError
		action.Output = "Error: " + execErr.Error()
		metrics.RecordToolCall(approval.ActionType, "error", a.now().Sub(start))
		internal.Logger().Warn("approved action failed",
			zap.String("approval_id", approval.ID), zap.String("tool", approval.ActionType), zap.Error(execErr))
	} else {
		res.Output = output
		metrics.RecordToolCall(approval.ActionType, "executed", a.now().Sub(start))
	}

	ctx = context.WithoutCancel(ctx)
	if _, err := a.store.LogAction(ctx, action); err != nil {
		internal.Logger().Error("failed to log approved action", zap.String("approval_id", approval.ID), zap.Error(err))
	}

	outcome := store.OutcomeApproved
	if wasEdited {
		outcome = store.OutcomeEditedThenApproved
	}
	a.recordFeedback(ctx, approval, outcome, wasEdited, resolvedAt)
	a.publish(approval, res)
	return res, nil
}

func (a *ApprovalService) reject(ctx context.Context, approval *store.Approval) (*Resolution, error) {
	resolvedAt := a.now()
	if err := a.store.ResolveApproval(ctx, approval.ID, store.ApprovalRejected, nil, resolvedAt); err != nil {
		return nil, err
	}
	if _, err := a.store.LogAction(ctx, store.Action{
		SessionID: approval.SessionID,
		ToolName:  approval.ActionType,
		Input:     approval.Payload,
		Status:    store.ActionRejected,
	}); err != nil {
		internal.Logger().Error("failed to log rejected action", zap.String("approval_id", approval.ID), zap.Error(err))
	}

	res := &Resolution{ApprovalID: approval.ID, Status: store.ApprovalRejected}
	a.recordFeedback(ctx, approval, store.OutcomeRejected, false, resolvedAt)
	a.publish(approval, res)
	return res, nil
}

func (a *ApprovalService) recordFeedback(ctx context.Context, approval *store.Approval, outcome store.FeedbackOutcome, edited bool, at time.Time) {
	metrics.RecordApproval(approval.ActionType, string(outcome))
	internal.BestEffort(ctx, "approval feedback", func(ctx context.Context) error {
		return a.store.RecordFeedback(ctx, store.Feedback{
			ActionType:     approval.ActionType,
			Outcome:        outcome,
			WasEdited:      edited,
			TimeToDecision: at.Sub(approval.CreatedAt),
			HourOfDay:      at.In(a.loc()).Hour(),
		})
	})
}

func (a *ApprovalService) publish(approval *store.Approval, res *Resolution) {
	data := map[string]any{
		"approval_id": approval.ID,
		"tool":        approval.ActionType,
		"status":      string(res.Status),
		"edited":      res.Edited,
	}
	if res.Error != "" {
		data["error"] = res.Error
	}
	a.events.Publish(events.Event{Type: events.ApprovalResolved, SessionID: approval.SessionID, Time: a.now(), Data: data})
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}

// IsAlreadyResolved reports whether err means the approval was no longer pending.
func IsAlreadyResolved(err error) bool {
	return errors.Is(err, store.ErrAlreadyResolved)
}
