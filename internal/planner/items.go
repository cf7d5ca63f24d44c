package planner

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority ranks intentions. Unknown values sort after Low.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// DefaultPriority is assigned to intentions created without one.
const DefaultPriority = PriorityMedium

// Rank orders priorities High, Medium, Low, then anything else.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// DefaultGoalTarget is the target value of a goal created without one.
const DefaultGoalTarget = 100

// NewItemID issues a provisional client-side identifier.
func NewItemID() string {
	return uuid.NewString()
}

// Intention is a daily intention.
type Intention struct {
	ID            string    `json:"id"`
	Title         string    `json:"title" validate:"notblank"`
	IntentionType string    `json:"intentionType"`
	Priority      Priority  `json:"priority"`
	Date          time.Time `json:"date"`
	CreatedAt     time.Time `json:"createdate"`
	IsDone        bool      `json:"isDone"`
}

func (i Intention) ItemID() string      { return i.ID }
func (i Intention) OccursOn() time.Time { return i.Date }
func (i Intention) IsCompleted() bool   { return i.IsDone }

// WithCompletion returns a copy with the done flag set.
func (i Intention) WithCompletion(completed bool) Intention {
	i.IsDone = completed
	return i
}

// Exercise is a logged workout.
type Exercise struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ExerciseType string    `json:"exerciseType" validate:"notblank"`
	Duration     int       `json:"duration" validate:"gt=0"`
	Date         time.Time `json:"date"`
	CreatedAt    time.Time `json:"createdate"`
	IsDone       bool      `json:"isDone"`
}

func (e Exercise) ItemID() string      { return e.ID }
func (e Exercise) OccursOn() time.Time { return e.Date }
func (e Exercise) IsCompleted() bool   { return e.IsDone }

// WithCompletion returns a copy with the done flag set.
func (e Exercise) WithCompletion(completed bool) Exercise {
	e.IsDone = completed
	return e
}

// Sleep is a logged night of sleep.
type Sleep struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Hours     string    `json:"hours" validate:"notblank"`
	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"createdate"`
	IsDone    bool      `json:"isDone"`
}

func (s Sleep) ItemID() string { return s.ID }

// OccursOn falls back to the creation instant for entries logged without a date.
func (s Sleep) OccursOn() time.Time {
	if s.Date.IsZero() {
		return s.CreatedAt
	}
	return s.Date
}

func (s Sleep) IsCompleted() bool { return s.IsDone }

// WithCompletion returns a copy with the done flag set.
func (s Sleep) WithCompletion(completed bool) Sleep {
	s.IsDone = completed
	return s
}

// GoalKeyAction is a measurable step toward a goal.
type GoalKeyAction struct {
	ID           string `json:"id"`
	Description  string `json:"description" validate:"notblank"`
	ActionType   string `json:"actionType"`
	CurrentValue int    `json:"currentValue" validate:"gte=0"`
	TargetValue  int    `json:"targetValue" validate:"gte=0"`
	IsCompleted  bool   `json:"isCompleted"`
}

// Goal is a yearly goal bucketed by its start date.
type Goal struct {
	ID           string          `json:"id"`
	Title        string          `json:"title" validate:"notblank"`
	GoalType     string          `json:"goalType,omitempty"`
	StartDate    time.Time       `json:"startDate"`
	EndDate      time.Time       `json:"endDate"`
	Progress     int             `json:"progress"`
	CurrentValue int             `json:"currentValue" validate:"gte=0"`
	TargetValue  int             `json:"targetValue" validate:"min=1,max=100"`
	KeyActions   []GoalKeyAction `json:"keyActions" validate:"dive"`
	Completed    bool            `json:"isCompleted"`
}

func (g Goal) ItemID() string      { return g.ID }
func (g Goal) OccursOn() time.Time { return g.StartDate }
func (g Goal) IsCompleted() bool   { return g.Completed }

// WithCompletion returns a copy with the completion flag set.
func (g Goal) WithCompletion(completed bool) Goal {
	g.Completed = completed
	g.KeyActions = append([]GoalKeyAction(nil), g.KeyActions...)
	return g
}

// ProgressPercent is currentValue as a percentage of targetValue.
func ProgressPercent(currentValue, targetValue int) int {
	if targetValue <= 0 {
		return 0
	}
	return currentValue * 100 / targetValue
}

// Normalize fills defaults and identifiers and recomputes progress.
func (g Goal) Normalize() Goal {
	if g.TargetValue == 0 {
		g.TargetValue = DefaultGoalTarget
	}
	actions := make([]GoalKeyAction, 0, len(g.KeyActions))
	for _, action := range g.KeyActions {
		if strings.TrimSpace(action.ID) == "" {
			action.ID = NewItemID()
		}
		actions = append(actions, action)
	}
	g.KeyActions = actions
	g.Progress = ProgressPercent(g.CurrentValue, g.TargetValue)
	return g
}
