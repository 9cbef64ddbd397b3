package domain

import (
	"strings"

	"github.com/smallbiznis/payflow/internal/config"
)

type Status string

const (
	StatusCreated    Status = "created"
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
	StatusCancelled  Status = "cancelled"
)

type Action string

const (
	ActionCapture Action = "capture"
	ActionRefund  Action = "refund"
	ActionCancel  Action = "cancel"
)

var statusRank = map[Status]int{
	StatusCreated:    0,
	StatusPending:    1,
	StatusAuthorized: 2,
	StatusCompleted:  3,
	StatusFailed:     3,
	StatusCancelled:  3,
	StatusRefunded:   4,
}

var forwardEdges = map[Status][]Status{
	StatusCreated:    {StatusPending, StatusAuthorized, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPending:    {StatusAuthorized, StatusCompleted, StatusFailed, StatusCancelled},
	StatusAuthorized: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusRefunded},
}

var actionSources = map[Action][]Status{
	ActionCapture: {StatusCreated, StatusPending, StatusAuthorized},
	ActionCancel:  {StatusCreated, StatusPending, StatusAuthorized},
	ActionRefund:  {StatusCompleted},
}

// expected status when an adapter acknowledges an action without reporting one.
var actionOutcome = map[Action]Status{
	ActionCapture: StatusCompleted,
	ActionCancel:  StatusCancelled,
	ActionRefund:  StatusRefunded,
}

// IsKnown reports whether s is one of the canonical statuses.
func (s Status) IsKnown() bool {
	_, ok := statusRank[s]
	return ok
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Advances reports whether from -> to is a strict forward move. An unknown
// current status may advance to any canonical status; an unknown target never
// advances.
func Advances(from, to Status) bool {
	if !to.IsKnown() || from == to {
		return false
	}
	if !from.IsKnown() {
		return true
	}
	for _, next := range forwardEdges[from] {
		if next == to {
			return statusRank[to] > statusRank[from]
		}
	}
	return false
}

// Regresses reports whether from -> to would move a record backwards or
// sideways between two canonical statuses.
func Regresses(from, to Status) bool {
	if !from.IsKnown() || !to.IsKnown() || from == to {
		return false
	}
	return !Advances(from, to)
}

func ParseAction(raw string) (Action, bool) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := actionSources[action]; !ok {
		return "", false
	}
	return action, true
}

// AllowedFrom reports whether action may be requested for a record in status.
func (a Action) AllowedFrom(status Status) bool {
	for _, src := range actionSources[a] {
		if src == status {
			return true
		}
	}
	return false
}

func (a Action) Outcome() Status {
	return actionOutcome[a]
}

var canonicalAliases = map[string]Status{
	"created":                 StatusCreated,
	"pending":                 StatusPending,
	"processing":              StatusPending,
	"requires_payment_method": StatusPending,
	"requires_confirmation":   StatusPending,
	"requires_action":         StatusPending,
	"authorized":              StatusAuthorized,
	"requires_capture":        StatusAuthorized,
	"completed":               StatusCompleted,
	"succeeded":               StatusCompleted,
	"success":                 StatusCompleted,
	"captured":                StatusCompleted,
	"paid":                    StatusCompleted,
	"failed":                  StatusFailed,
	"payment_failed":          StatusFailed,
	"declined":                StatusFailed,
	"cancelled":               StatusCancelled,
	"canceled":                StatusCancelled,
	"voided":                  StatusCancelled,
	"refunded":                StatusRefunded,
}

// event suffixes that are not status words on their own.
var eventAliases = map[string]Status{
	"amount_capturable_updated": StatusAuthorized,
}

// Normalizer maps processor status strings onto canonical statuses. Operator
// aliases from the status alias holder are consulted before the built-in table.
type Normalizer struct {
	aliases *config.StatusAliasHolder
}

func NewNormalizer(aliases *config.StatusAliasHolder) *Normalizer {
	return &Normalizer{aliases: aliases}
}

// Normalize maps raw onto a canonical status, case-insensitively. Unknown
// values pass through unchanged.
func (n *Normalizer) Normalize(raw string) Status {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return Status(raw)
	}
	if n != nil {
		if target, ok := n.aliases.Get()[key]; ok {
			if status, ok := canonicalAliases[target]; ok {
				return status
			}
		}
	}
	if status, ok := canonicalAliases[key]; ok {
		return status
	}
	return Status(raw)
}

// EventStatus maps a webhook event onto the status it reports. The last dotted
// segment of the event type is normalized; generic "*.updated" events fall back
// to the object status. ok is false for event types that carry no status.
func (n *Normalizer) EventStatus(eventType, objectStatus string) (Status, bool) {
	eventType = strings.ToLower(strings.TrimSpace(eventType))
	if eventType == "" {
		return "", false
	}
	suffix := eventType
	if idx := strings.LastIndex(eventType, "."); idx >= 0 {
		suffix = eventType[idx+1:]
	}
	if status, ok := eventAliases[suffix]; ok {
		return status, true
	}
	if suffix == "updated" {
		status := n.Normalize(objectStatus)
		return status, status.IsKnown()
	}
	status := n.Normalize(suffix)
	return status, status.IsKnown()
}
