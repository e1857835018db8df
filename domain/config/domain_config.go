package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// DomainConfig holds all tunable pipeline policy: thresholds, weights,
// windows and plan assumptions.
type DomainConfig struct {
	// Extraction and clustering
	ReferenceThreshold  float64 `yaml:"reference_threshold" validate:"gt=0,lte=1,gtefield=AssignmentThreshold"`
	AssignmentThreshold float64 `yaml:"assignment_threshold" validate:"gt=0,lte=1"`
	LabelRefreshEvery   int     `yaml:"label_refresh_every" validate:"min=1"`
	LabelTermCount      int     `yaml:"label_term_count" validate:"min=1,max=8"`
	MaxContentLength    int     `yaml:"max_content_length" validate:"min=1"`

	// Strength
	ReactionWeight         float64 `yaml:"reaction_weight" validate:"gt=0"`
	ReplyWeight            float64 `yaml:"reply_weight" validate:"gt=0"`
	MentionWeight          float64 `yaml:"mention_weight" validate:"gt=0"`
	SupporterWeight        float64 `yaml:"supporter_weight" validate:"gt=0"`
	ReasoningPresenceBonus float64 `yaml:"reasoning_presence_bonus" validate:"gt=0"`
	ReasoningFragmentBonus float64 `yaml:"reasoning_fragment_bonus" validate:"gt=0"`
	ReasoningMaxFragments  int     `yaml:"reasoning_max_fragments" validate:"min=1"`
	MinFragmentWords       int     `yaml:"min_fragment_words" validate:"min=1"`
	EngagementWeight       float64 `yaml:"engagement_weight" validate:"gt=0"`
	ReasoningWeight        float64 `yaml:"reasoning_weight" validate:"gt=0"`

	// Consensus, expressed as whole percentages
	StrongThresholdPercent int           `yaml:"strong_threshold_percent" validate:"min=1,max=100,gtfield=WeakThresholdPercent"`
	WeakThresholdPercent   int           `yaml:"weak_threshold_percent" validate:"min=1,max=100"`
	ActivityWindow         time.Duration `yaml:"activity_window" validate:"gt=0"`
	ConsensusCooldown      time.Duration `yaml:"consensus_cooldown" validate:"gte=0"`

	// Ingestion
	LatenessWindow  time.Duration `yaml:"lateness_window" validate:"gte=0"`
	SessionMailbox  int           `yaml:"session_mailbox" validate:"min=1"`
	MaxParticipants int           `yaml:"max_participants" validate:"min=1"`

	// Plan timeline, durations in days
	SmallEffortDays   float64 `yaml:"small_effort_days" validate:"gt=0"`
	MediumEffortDays  float64 `yaml:"medium_effort_days" validate:"gtfield=SmallEffortDays"`
	LargeEffortDays   float64 `yaml:"large_effort_days" validate:"gtfield=MediumEffortDays"`
	TeamSize          int     `yaml:"team_size" validate:"min=1"`
	ParallelismFactor float64 `yaml:"parallelism_factor" validate:"gt=0,lte=1"`
	BufferRatio       float64 `yaml:"buffer_ratio" validate:"gte=0,lte=1"`

	// Plan generation
	PlanTimeout        time.Duration `yaml:"plan_timeout" validate:"gt=0"`
	PlanStageRetries   int           `yaml:"plan_stage_retries" validate:"min=0,max=10"`
	MinContextMessages int           `yaml:"min_context_messages" validate:"min=1"`
	MaxFeaturesPerPlan int           `yaml:"max_features_per_plan" validate:"min=1"`

	// Storage
	StorageRetries     int           `yaml:"storage_retries" validate:"min=1"`
	StorageBaseBackoff time.Duration `yaml:"storage_base_backoff" validate:"gt=0"`
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		ReferenceThreshold:  0.85,
		AssignmentThreshold: 0.75,
		LabelRefreshEvery:   3,
		LabelTermCount:      3,
		MaxContentLength:    8000,

		ReactionWeight:         1.0,
		ReplyWeight:            1.5,
		MentionWeight:          1.25,
		SupporterWeight:        2.0,
		ReasoningPresenceBonus: 1.0,
		ReasoningFragmentBonus: 0.5,
		ReasoningMaxFragments:  4,
		MinFragmentWords:       3,
		EngagementWeight:       1.0,
		ReasoningWeight:        0.8,

		StrongThresholdPercent: 80,
		WeakThresholdPercent:   50,
		ActivityWindow:         30 * time.Minute,
		ConsensusCooldown:      2 * time.Minute,

		LatenessWindow:  2 * time.Second,
		SessionMailbox:  256,
		MaxParticipants: 200,

		SmallEffortDays:   2,
		MediumEffortDays:  5.5,
		LargeEffortDays:   11.5,
		TeamSize:          3,
		ParallelismFactor: 0.7,
		BufferRatio:       0.2,

		PlanTimeout:        45 * time.Second,
		PlanStageRetries:   2,
		MinContextMessages: 2,
		MaxFeaturesPerPlan: 6,

		StorageRetries:     3,
		StorageBaseBackoff: 100 * time.Millisecond,
	}
}

// ProductionDomainConfig returns production-specific configuration
func ProductionDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	// Longer plan budget for hosted models
	config.PlanTimeout = 90 * time.Second
	config.StorageRetries = 5
	config.SessionMailbox = 1024

	return config
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	// Faster feedback while iterating locally
	config.ConsensusCooldown = 10 * time.Second
	config.LatenessWindow = 500 * time.Millisecond
	config.PlanTimeout = 20 * time.Second

	return config
}

// LoadDomainConfig loads domain configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

var policyValidator = validator.New()

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	if err := policyValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid domain config: %w", err)
	}
	return nil
}

// Clone returns a copy that can be modified without affecting readers of c.
func (c *DomainConfig) Clone() *DomainConfig {
	clone := *c
	return &clone
}

// EffortDays maps an effort level name to its midpoint duration in days.
func (c *DomainConfig) EffortDays(effort string) float64 {
	switch effort {
	case "small":
		return c.SmallEffortDays
	case "medium":
		return c.MediumEffortDays
	case "large":
		return c.LargeEffortDays
	default:
		return c.MediumEffortDays
	}
}
