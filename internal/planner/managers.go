package planner

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/collections"
	"github.com/MarcoPoloResearchLab/intentions/internal/entitlement"
	"github.com/MarcoPoloResearchLab/intentions/internal/validation"
	"go.uber.org/zap"
)

// Config carries the session-scoped collaborators shared by every manager.
type Config struct {
	Tier     entitlement.TierSource
	Location *time.Location
	Clock    func() time.Time
	Logger   *zap.Logger
}

func (c Config) logger(feature string) *zap.Logger {
	if c.Logger == nil {
		return nil
	}
	return c.Logger.With(zap.String("feature", feature))
}

// NewIntentionManager gates intentions per day and keeps done ones in their own list.
func NewIntentionManager(store collections.Store[Intention], cfg Config) (*collections.Manager[Intention], error) {
	return collections.NewManager[Intention](store, collections.Options[Intention]{
		Bucket:      collections.BucketDay,
		Quota:       entitlement.QuotaDailyIntentions,
		Tier:        cfg.Tier,
		Partitioned: true,
		Less: func(left, right Intention) bool {
			return left.Priority.Rank() < right.Priority.Rank()
		},
		Validate: ValidateIntention,
		Location: cfg.Location,
		Clock:    cfg.Clock,
		Logger:   cfg.logger("intention"),
	})
}

// NewExerciseManager moves completed exercise to the end of the list as soon as it is toggled.
// Only premium accounts may log exercise.
func NewExerciseManager(store collections.Store[Exercise], cfg Config) (*collections.Manager[Exercise], error) {
	return collections.NewManager[Exercise](store, collections.Options[Exercise]{
		Bucket:        collections.BucketDay,
		Quota:         entitlement.QuotaDailyExercise,
		Tier:          cfg.Tier,
		CompletedLast: true,
		Optimistic:    true,
		Validate:      ValidateExercise,
		Location:      cfg.Location,
		Clock:         cfg.Clock,
		Logger:        cfg.logger("exercise"),
	})
}

// NewSleepManager lists sleep entries of the active day. Only premium accounts may log sleep.
func NewSleepManager(store collections.Store[Sleep], cfg Config) (*collections.Manager[Sleep], error) {
	return collections.NewManager[Sleep](store, collections.Options[Sleep]{
		Bucket:   collections.BucketDay,
		Quota:    entitlement.QuotaDailySleep,
		Tier:     cfg.Tier,
		Validate: ValidateSleep,
		Location: cfg.Location,
		Clock:    cfg.Clock,
		Logger:   cfg.logger("sleep"),
	})
}

// NewGoalManager shows the current year's goals and counts quota in the year of each new goal's start date.
func NewGoalManager(store collections.Store[Goal], cfg Config) (*collections.Manager[Goal], error) {
	return collections.NewManager[Goal](store, collections.Options[Goal]{
		Bucket: collections.BucketYear,
		Quota:  entitlement.QuotaYearlyGoals,
		Tier:   cfg.Tier,
		QuotaAnchor: func(goal Goal) time.Time {
			return goal.StartDate
		},
		Validate: ValidateGoal,
		Location: cfg.Location,
		Clock:    cfg.Clock,
		Logger:   cfg.logger("goals"),
	})
}

// ValidateIntention requires a non-blank title and a date.
func ValidateIntention(intention Intention) error {
	if err := validation.Struct(intention); err != nil {
		return err
	}
	if intention.Date.IsZero() {
		return validation.NewError("date", "date is required")
	}
	return nil
}

// ValidateExercise requires a type and a positive duration.
func ValidateExercise(exercise Exercise) error {
	if err := validation.Struct(exercise); err != nil {
		return err
	}
	if exercise.Date.IsZero() {
		return validation.NewError("date", "date is required")
	}
	return nil
}

// ValidateSleep requires the hours slept.
func ValidateSleep(sleep Sleep) error {
	if err := validation.Struct(sleep); err != nil {
		return err
	}
	if sleep.OccursOn().IsZero() {
		return validation.NewError("date", "date is required")
	}
	return nil
}

// ValidateGoal requires a title, a start date and a description on every key action.
func ValidateGoal(goal Goal) error {
	if err := validation.Struct(goal); err != nil {
		return err
	}
	if goal.StartDate.IsZero() {
		return validation.NewError("startDate", "startDate is required")
	}
	if !goal.EndDate.IsZero() && goal.EndDate.Before(goal.StartDate) {
		return validation.NewError("endDate", "endDate must not be before startDate")
	}
	return nil
}

// PrepareIntention assigns an identifier, creation instant and default priority to a new intention.
func PrepareIntention(intention Intention, now time.Time) Intention {
	if strings.TrimSpace(intention.ID) == "" {
		intention.ID = NewItemID()
	}
	if intention.CreatedAt.IsZero() {
		intention.CreatedAt = now
	}
	if strings.TrimSpace(string(intention.Priority)) == "" {
		intention.Priority = DefaultPriority
	}
	return intention
}

// PrepareExercise assigns an identifier and creation instant to a new exercise entry.
func PrepareExercise(exercise Exercise, now time.Time) Exercise {
	if strings.TrimSpace(exercise.ID) == "" {
		exercise.ID = NewItemID()
	}
	if exercise.CreatedAt.IsZero() {
		exercise.CreatedAt = now
	}
	if strings.TrimSpace(exercise.Title) == "" {
		exercise.Title = exercise.ExerciseType
	}
	return exercise
}

// PrepareSleep assigns an identifier and creation instant to a new sleep entry.
func PrepareSleep(sleep Sleep, now time.Time) Sleep {
	if strings.TrimSpace(sleep.ID) == "" {
		sleep.ID = NewItemID()
	}
	if sleep.CreatedAt.IsZero() {
		sleep.CreatedAt = now
	}
	if sleep.Date.IsZero() {
		sleep.Date = sleep.CreatedAt
	}
	return sleep
}

// PrepareGoal assigns an identifier and normalizes a new goal.
func PrepareGoal(goal Goal) Goal {
	if strings.TrimSpace(goal.ID) == "" {
		goal.ID = NewItemID()
	}
	return goal.Normalize()
}
