package domain

// EntityType identifies one syncable record type. The set is closed:
// every payload, cache policy, and sync checkpoint is keyed by one of
// these values.
type EntityType string

const (
	EntityWorkout  EntityType = "workout"
	EntityFoodLog  EntityType = "food_log"
	EntityWaterLog EntityType = "water_log"
	EntityRecipe   EntityType = "recipe"
	EntityExercise EntityType = "exercise"
	EntityTemplate EntityType = "template"
	EntityGoal     EntityType = "goal"
)

// AllEntityTypes returns every known entity type in a stable order.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityWorkout,
		EntityFoodLog,
		EntityWaterLog,
		EntityRecipe,
		EntityExercise,
		EntityTemplate,
		EntityGoal,
	}
}

// Valid reports whether e is a known entity type.
func (e EntityType) Valid() bool {
	_, ok := syncConfigs[e]
	return ok
}

// ConflictStrategy selects how divergent local/remote edits of the same
// record are reconciled.
type ConflictStrategy string

const (
	StrategyLocalWins  ConflictStrategy = "local_wins"
	StrategyRemoteWins ConflictStrategy = "remote_wins"
	StrategyMerge      ConflictStrategy = "merge"
	StrategyManual     ConflictStrategy = "manual"
)

// EntitySyncConfig is the static per-entity sync policy.
type EntitySyncConfig struct {
	Table           string
	PrimaryKey      string
	TimestampField  string
	SoftDelete      bool
	Strategy        ConflictStrategy
	MergeableFields []string
}

var syncConfigs = map[EntityType]EntitySyncConfig{
	EntityWorkout: {
		Table:           "workouts",
		PrimaryKey:      "id",
		TimestampField:  "updated_at",
		SoftDelete:      true,
		Strategy:        StrategyMerge,
		MergeableFields: []string{"sets"},
	},
	EntityFoodLog: {
		Table:          "food_logs",
		PrimaryKey:     "id",
		TimestampField: "updated_at",
		SoftDelete:     true,
		Strategy:       StrategyLocalWins,
	},
	EntityWaterLog: {
		Table:          "water_logs",
		PrimaryKey:     "id",
		TimestampField: "updated_at",
		SoftDelete:     false,
		Strategy:       StrategyLocalWins,
	},
	EntityRecipe: {
		Table:           "recipes",
		PrimaryKey:      "id",
		TimestampField:  "updated_at",
		SoftDelete:      true,
		Strategy:        StrategyManual,
		MergeableFields: []string{"ingredients"},
	},
	EntityExercise: {
		Table:          "exercises",
		PrimaryKey:     "id",
		TimestampField: "updated_at",
		SoftDelete:     false,
		Strategy:       StrategyRemoteWins,
	},
	EntityTemplate: {
		Table:          "workout_templates",
		PrimaryKey:     "id",
		TimestampField: "updated_at",
		SoftDelete:     true,
		Strategy:       StrategyManual,
	},
	EntityGoal: {
		Table:          "goals",
		PrimaryKey:     "id",
		TimestampField: "updated_at",
		SoftDelete:     false,
		Strategy:       StrategyRemoteWins,
	},
}

// SyncConfigFor returns the sync policy for an entity type.
func SyncConfigFor(e EntityType) (EntitySyncConfig, bool) {
	cfg, ok := syncConfigs[e]
	return cfg, ok
}
