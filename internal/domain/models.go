package domain

import (
	"time"

	"github.com/google/uuid"
)

// Core Enums and Types

// HAIType identifies the surveillance definition a candidate is evaluated
// against.
type HAIType string

const (
	CLABSI HAIType = "CLABSI" // central line-associated bloodstream infection
	CAUTI  HAIType = "CAUTI"  // catheter-associated urinary tract infection
	VAE    HAIType = "VAE"    // ventilator-associated event
	SSI    HAIType = "SSI"    // surgical site infection
	CDI    HAIType = "CDI"    // Clostridioides difficile infection
)

// String returns the string representation of the HAI type
func (t HAIType) String() string {
	return string(t)
}

// Valid reports whether the HAI type is one of the supported definitions
func (t HAIType) Valid() bool {
	switch t {
	case CLABSI, CAUTI, VAE, SSI, CDI:
		return true
	}
	return false
}

// AllHAITypes lists the supported surveillance definitions in evaluation order
var AllHAITypes = []HAIType{CLABSI, CAUTI, VAE, SSI, CDI}

// Decision represents the outcome of criteria evaluation for a candidate
type Decision string

const (
	HAIConfirmed Decision = "HAI_CONFIRMED"
	NotHAI       Decision = "NOT_HAI"
	NeedsReview  Decision = "NEEDS_REVIEW"
)

// String returns the string representation of the decision
func (d Decision) String() string {
	return string(d)
}

// CriterionStatus is the evaluation result of a single surveillance criterion.
// Unknown is distinct from not met: a criterion whose required inputs are
// absent is unknown, and unknown never confirms or rules out an HAI.
type CriterionStatus string

const (
	CriterionMet     CriterionStatus = "met"
	CriterionNotMet  CriterionStatus = "not_met"
	CriterionUnknown CriterionStatus = "unknown"
)

// ExtractionStage identifies which model pass produced an extraction result
type ExtractionStage string

const (
	StageTriage ExtractionStage = "triage"
	StageFull   ExtractionStage = "full"
)

// ExtractionState tracks a candidate's progress through the two-stage
// extraction pipeline
type ExtractionState string

const (
	ExtractionNotStarted     ExtractionState = "NOT_STARTED"
	ExtractionTriaged        ExtractionState = "TRIAGED"
	ExtractionFastPathDone   ExtractionState = "FAST_PATH_DONE"
	ExtractionEscalated      ExtractionState = "ESCALATED"
	ExtractionFullyExtracted ExtractionState = "FULLY_EXTRACTED"
)

// ReviewState tracks a candidate through the human review workflow
type ReviewState string

const (
	StateCreated    ReviewState = "CREATED"
	StateExtracting ReviewState = "EXTRACTING"
	StateClassified ReviewState = "CLASSIFIED"
	StateConfirmed  ReviewState = "CONFIRMED"
	StateOverridden ReviewState = "OVERRIDDEN"
	StateResolved   ReviewState = "RESOLVED"
)

// String returns the string representation of the review state
func (s ReviewState) String() string {
	return string(s)
}

// Terminal reports whether the state ends the workflow
func (s ReviewState) Terminal() bool {
	return s == StateResolved
}

// Core Data Models

// TriggerEvidence records one structured-data condition that fired for a
// candidate. Overlapping re-triggers are absorbed into the existing
// candidate's evidence list rather than spawning duplicates.
type TriggerEvidence struct {
	Description string    `json:"description"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Candidate is one evaluation instance of a possible HAI event. It is the
// aggregation root: every downstream record references it by ID. A candidate
// is immutable once created; its clinical context is a frozen snapshot of the
// structured data that fired the trigger.
type Candidate struct {
	ID          uuid.UUID         `json:"id"`
	Type        HAIType           `json:"hai_type"`
	PatientID   string            `json:"patient_id"`
	EncounterID string            `json:"encounter_id"`
	Triggers    []TriggerEvidence `json:"triggers"`
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	Context     ClinicalContext   `json:"context"`

	// PartialData flags candidates created from incomplete structured data.
	// They still flow through the pipeline so incomplete feeds never cause
	// silent false negatives.
	PartialData   bool     `json:"partial_data,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`

	Retired   bool      `json:"retired"`
	CreatedAt time.Time `json:"created_at"`
}

// Overlaps reports whether the candidate's evaluation window intersects
// [start, end]
func (c *Candidate) Overlaps(start, end time.Time) bool {
	return !start.After(c.WindowEnd) && !end.Before(c.WindowStart)
}

// DeviceKind identifies the device class associated with a candidate
type DeviceKind string

const (
	DeviceCentralLine     DeviceKind = "central_line"
	DeviceUrinaryCatheter DeviceKind = "urinary_catheter"
	DeviceVentilator      DeviceKind = "ventilator"
	DeviceNone            DeviceKind = ""
)

// ClinicalContext is the frozen structured-data snapshot captured at
// detection time. The rules engine evaluates against this snapshot, never
// against live adapter data, so re-runs are reproducible.
type ClinicalContext struct {
	DeviceKind DeviceKind       `json:"device_kind,omitempty"`
	DeviceDays int              `json:"device_days,omitempty"`
	Cultures   []CultureResult  `json:"cultures,omitempty"`
	Procedure  *ProcedureRecord `json:"procedure,omitempty"`
	VentCourse *VentCourse      `json:"vent_course,omitempty"`
	CDITest    *CDITestResult   `json:"cdi_test,omitempty"`
}

// CultureResult is one microbiology result inside the evaluation window
type CultureResult struct {
	Specimen    string    `json:"specimen"`
	Organism    string    `json:"organism,omitempty"`
	ColonyCount int64     `json:"colony_count,omitempty"`
	Positive    bool      `json:"positive"`
	CollectedAt time.Time `json:"collected_at"`
}

// ProcedureRecord describes the operative procedure anchoring an SSI window
type ProcedureRecord struct {
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	WoundClass  string    `json:"wound_class,omitempty"`
	PerformedAt time.Time `json:"performed_at"`
}

// VentCourse summarizes the ventilator-parameter course that fired a VAE
// trigger
type VentCourse struct {
	VentDays      int     `json:"vent_days"`
	BaselineDays  int     `json:"baseline_days"`
	PEEPRise      float64 `json:"peep_rise"`
	FiO2Rise      float64 `json:"fio2_rise"`
	SustainedDays int     `json:"sustained_days"`
}

// CDITestResult captures the qualifying C. difficile test and its history
type CDITestResult struct {
	Method          string     `json:"method"`
	ResultAt        time.Time  `json:"result_at"`
	PriorPositiveAt *time.Time `json:"prior_positive_at,omitempty"`
	HistoryComplete bool       `json:"history_complete"`
}

// ExtractionResult is the output of one fact-extraction stage for one
// candidate. At most one result exists per stage per candidate, and results
// are never edited after creation.
type ExtractionResult struct {
	ID          uuid.UUID       `json:"id"`
	CandidateID uuid.UUID       `json:"candidate_id"`
	Stage       ExtractionStage `json:"stage"`
	Facts       FactSet         `json:"facts"`
	Confidence  float64         `json:"confidence"`
	Model       string          `json:"model"`

	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Latency          time.Duration `json:"latency"`

	// EscalationTriggers lists the policy triggers that fired on this result.
	// Populated for triage results only.
	EscalationTriggers []string `json:"escalation_triggers,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// CriterionResult is one evaluated surveillance criterion with the inputs
// that produced it. The full list forms the audit trace of a classification.
type CriterionResult struct {
	Code        string            `json:"code"`
	Description string            `json:"description"`
	Status      CriterionStatus   `json:"status"`
	Required    bool              `json:"required"`
	Exclusion   bool              `json:"exclusion"`
	Inputs      map[string]string `json:"inputs,omitempty"`
}

// Classification is the deterministic output of the rules engine for a
// candidate. It is a pure function of the candidate's frozen context and the
// authoritative fact set; re-running the engine over the same stored inputs
// reproduces the trace verbatim.
type Classification struct {
	ID          uuid.UUID         `json:"id"`
	CandidateID uuid.UUID         `json:"candidate_id"`
	Decision    Decision          `json:"decision"`
	Criteria    []CriterionResult `json:"criteria"`

	// Confidence is carried over from the extraction stage that supplied the
	// facts; the engine never estimates confidence independently.
	Confidence float64         `json:"confidence"`
	Source     ExtractionStage `json:"source"`

	RuleSetVersion string     `json:"rule_set_version"`
	Supersedes     *uuid.UUID `json:"supersedes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ReviewDecision is a human confirmation or override of a classification.
// Decisions are append-only; a re-review adds to the chain rather than
// replacing earlier entries.
type ReviewDecision struct {
	ID          uuid.UUID `json:"id"`
	CandidateID uuid.UUID `json:"candidate_id"`
	Reviewer    string    `json:"reviewer"`
	Decision    Decision  `json:"decision"`

	// Agreement records whether the reviewer's decision matches the
	// automated classification. Disagreements require an override reason.
	Agreement      bool   `json:"agreement"`
	OverrideReason string `json:"override_reason,omitempty"`
	Note           string `json:"note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AuditEntry is one immutable record of a workflow transition
type AuditEntry struct {
	ID          uuid.UUID   `json:"id"`
	CandidateID uuid.UUID   `json:"candidate_id"`
	Actor       string      `json:"actor"`
	FromState   ReviewState `json:"from_state"`
	ToState     ReviewState `json:"to_state"`
	Reason      string      `json:"reason,omitempty"`
	At          time.Time   `json:"at"`
}

// Workflow is the mutable review-workflow head for a candidate. Version
// supports optimistic concurrency: transitions carry the version the caller
// read, and stores reject stale writes with ErrConflict.
type Workflow struct {
	CandidateID uuid.UUID   `json:"candidate_id"`
	State       ReviewState `json:"state"`
	Version     int64       `json:"version"`

	// Extraction is the extraction sub-state, advanced by the pipeline while
	// the workflow sits in EXTRACTING.
	Extraction ExtractionState `json:"extraction_state,omitempty"`

	// Undetermined marks candidates that reached CLASSIFIED without an
	// automated decision (extraction failure, cancellation). They still
	// appear in the review queue with the reason attached.
	Undetermined       bool   `json:"undetermined,omitempty"`
	UndeterminedReason string `json:"undetermined_reason,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// TrainingExample is the append-only record written once per candidate after
// it reaches a terminal review state
type TrainingExample struct {
	ID          int64     `json:"id,omitempty"`
	CandidateID uuid.UUID `json:"candidate_id"`
	Type        HAIType   `json:"hai_type"`

	Notes          []NoteRecord      `json:"notes"`
	Triage         *ExtractionResult `json:"triage,omitempty"`
	Full           *ExtractionResult `json:"full,omitempty"`
	Classification *Classification   `json:"classification,omitempty"`
	Review         ReviewDecision    `json:"review"`

	CreatedAt time.Time `json:"created_at"`
}
