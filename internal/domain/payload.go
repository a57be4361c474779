package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is one typed entity payload. Every mutation entering the
// operation queue must decode into one of these variants.
type Payload interface {
	Entity() EntityType
	Validate() error
}

// WorkoutSet is a single logged set within a workout.
type WorkoutSet struct {
	ExerciseID string  `json:"exercise_id"`
	SetNumber  int     `json:"set_number"`
	Weight     float64 `json:"weight"`
	Reps       int     `json:"reps"`
	Completed  bool    `json:"completed"`
}

// Workout is a logged training session.
type Workout struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Name        string       `json:"name"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Sets        []WorkoutSet `json:"sets"`
	Notes       string       `json:"notes,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (w Workout) Entity() EntityType { return EntityWorkout }

func (w Workout) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("%w: workout id is required", ErrInvalidPayload)
	}
	if w.UserID == "" {
		return fmt.Errorf("%w: workout user_id is required", ErrInvalidPayload)
	}
	for i, s := range w.Sets {
		if s.ExerciseID == "" {
			return fmt.Errorf("%w: set %d has no exercise_id", ErrInvalidPayload, i)
		}
		if s.SetNumber <= 0 {
			return fmt.Errorf("%w: set %d has invalid set_number %d", ErrInvalidPayload, i, s.SetNumber)
		}
	}
	return nil
}

// FoodLog is one logged food entry.
type FoodLog struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	FoodName string    `json:"food_name"`
	Calories float64   `json:"calories"`
	Protein  float64   `json:"protein,omitempty"`
	Carbs    float64   `json:"carbs,omitempty"`
	Fat      float64   `json:"fat,omitempty"`
	LoggedAt time.Time `json:"logged_at"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (f FoodLog) Entity() EntityType { return EntityFoodLog }

func (f FoodLog) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("%w: food log id is required", ErrInvalidPayload)
	}
	if f.UserID == "" {
		return fmt.Errorf("%w: food log user_id is required", ErrInvalidPayload)
	}
	if f.FoodName == "" {
		return fmt.Errorf("%w: food log food_name is required", ErrInvalidPayload)
	}
	if f.Calories < 0 {
		return fmt.Errorf("%w: food log calories must not be negative", ErrInvalidPayload)
	}
	return nil
}

// WaterLog is one logged water intake entry.
type WaterLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	AmountML  int       `json:"amount_ml"`
	LoggedAt  time.Time `json:"logged_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (w WaterLog) Entity() EntityType { return EntityWaterLog }

func (w WaterLog) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("%w: water log id is required", ErrInvalidPayload)
	}
	if w.UserID == "" {
		return fmt.Errorf("%w: water log user_id is required", ErrInvalidPayload)
	}
	if w.AmountML <= 0 {
		return fmt.Errorf("%w: water log amount_ml must be positive", ErrInvalidPayload)
	}
	return nil
}

// Recipe is a user-authored recipe with free-text instructions.
type Recipe struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Ingredients  []string  `json:"ingredients,omitempty"`
	Instructions string    `json:"instructions,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r Recipe) Entity() EntityType { return EntityRecipe }

func (r Recipe) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: recipe id is required", ErrInvalidPayload)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: recipe user_id is required", ErrInvalidPayload)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: recipe name is required", ErrInvalidPayload)
	}
	return nil
}

// Exercise is a library exercise definition. Server-maintained; clients
// only ever pull these.
type Exercise struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	MuscleGroup string    `json:"muscle_group,omitempty"`
	Equipment   string    `json:"equipment,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (e Exercise) Entity() EntityType { return EntityExercise }

func (e Exercise) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: exercise id is required", ErrInvalidPayload)
	}
	if e.Name == "" {
		return fmt.Errorf("%w: exercise name is required", ErrInvalidPayload)
	}
	return nil
}

// Template is a reusable workout template.
type Template struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	ExerciseIDs []string  `json:"exercise_ids,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (t Template) Entity() EntityType { return EntityTemplate }

func (t Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: template id is required", ErrInvalidPayload)
	}
	if t.UserID == "" {
		return fmt.Errorf("%w: template user_id is required", ErrInvalidPayload)
	}
	if t.Name == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalidPayload)
	}
	return nil
}

// Goal is a user fitness goal. Goals are computed and adjusted server
// side, so the server copy is authoritative.
type Goal struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      string     `json:"kind"`
	Target    float64    `json:"target"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (g Goal) Entity() EntityType { return EntityGoal }

func (g Goal) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("%w: goal id is required", ErrInvalidPayload)
	}
	if g.UserID == "" {
		return fmt.Errorf("%w: goal user_id is required", ErrInvalidPayload)
	}
	if g.Kind == "" {
		return fmt.Errorf("%w: goal kind is required", ErrInvalidPayload)
	}
	return nil
}

// DecodePayload decodes raw JSON into the typed payload for entity and
// validates it.
func DecodePayload(entity EntityType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch entity {
	case EntityWorkout:
		p = &Workout{}
	case EntityFoodLog:
		p = &FoodLog{}
	case EntityWaterLog:
		p = &WaterLog{}
	case EntityRecipe:
		p = &Recipe{}
	case EntityExercise:
		p = &Exercise{}
	case EntityTemplate:
		p = &Template{}
	case EntityGoal:
		p = &Goal{}
	default:
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidPayload, entity)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// MergeWorkoutSets merges two versions of a workout's sets, keyed by
// (exercise_id, set_number). For a set present on both sides the merged
// set takes the maximum weight and reps and is completed if either side
// completed it, so progress logged on either device is never lost.
func MergeWorkoutSets(local, remote []WorkoutSet) []WorkoutSet {
	type setKey struct {
		exerciseID string
		setNumber  int
	}

	merged := make([]WorkoutSet, 0, len(local)+len(remote))
	index := make(map[setKey]int)

	for _, s := range local {
		index[setKey{s.ExerciseID, s.SetNumber}] = len(merged)
		merged = append(merged, s)
	}

	for _, r := range remote {
		k := setKey{r.ExerciseID, r.SetNumber}
		i, ok := index[k]
		if !ok {
			index[k] = len(merged)
			merged = append(merged, r)
			continue
		}
		l := merged[i]
		if r.Weight > l.Weight {
			l.Weight = r.Weight
		}
		if r.Reps > l.Reps {
			l.Reps = r.Reps
		}
		l.Completed = l.Completed || r.Completed
		merged[i] = l
	}

	return merged
}
