package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	StatusQueued     SessionStatus = "queued"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// IsTerminal reports whether no further mutation will happen to a session.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type StageName string

const (
	StageExtraction          StageName = "extraction"
	StageTranscription       StageName = "transcription"
	StageSpeakerID           StageName = "speaker-id"
	StageJudgmentExtraction  StageName = "judgment-extraction"
	StageProbabilityAnalysis StageName = "probability-analysis"
	StagePDFGeneration       StageName = "pdf-generation"
	StageCalendarIntegration StageName = "calendar-integration"
)

// StageOrder is the fixed execution order of the pipeline.
var StageOrder = []StageName{
	StageExtraction,
	StageTranscription,
	StageSpeakerID,
	StageJudgmentExtraction,
	StageProbabilityAnalysis,
	StagePDFGeneration,
	StageCalendarIntegration,
}

type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

type Stage struct {
	Name      StageName   `json:"name"`
	Status    StageStatus `json:"status"`
	Progress  int         `json:"progress"`
	StartTime *time.Time  `json:"startTime,omitempty"`
	EndTime   *time.Time  `json:"endTime,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type ProcessingSession struct {
	ID                  string        `json:"sessionId"`
	CaseID              string        `json:"caseId"`
	Status              SessionStatus `json:"status"`
	Progress            int           `json:"progress"`
	Stages              []Stage       `json:"stages"`
	EstimatedCompletion *time.Time    `json:"estimatedCompletion,omitempty"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
	Error               string        `json:"error,omitempty"`
}

// Stage returns the stage record with the given name, or nil.
func (s *ProcessingSession) Stage(name StageName) *Stage {
	for i := range s.Stages {
		if s.Stages[i].Name == name {
			return &s.Stages[i]
		}
	}
	return nil
}

// Clone returns a deep copy so readers never share memory with writers.
func (s *ProcessingSession) Clone() *ProcessingSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Stages = make([]Stage, len(s.Stages))
	for i, st := range s.Stages {
		st.StartTime = cloneTime(st.StartTime)
		st.EndTime = cloneTime(st.EndTime)
		out.Stages[i] = st
	}
	out.EstimatedCompletion = cloneTime(s.EstimatedCompletion)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type Role string

const (
	RoleJudge           Role = "judge"
	RoleMediator        Role = "mediator"
	RoleLawyerPlaintiff Role = "lawyer_plaintiff"
	RoleLawyerDefendant Role = "lawyer_defendant"
	RolePlaintiff       Role = "plaintiff"
	RoleDefendant       Role = "defendant"
	RoleWitness         Role = "witness"
	RoleClerk           Role = "clerk"
	RoleUnknown         Role = "unknown"
)

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// UnknownParticipant is assigned to segments that cannot be mapped.
var UnknownParticipant = Participant{ID: "unknown", Name: "Unknown Speaker", Role: RoleUnknown}

type ProcessRequest struct {
	MediaURL     string        `json:"mediaUrl"`
	CaseID       string        `json:"caseId"`
	HearingDate  time.Time     `json:"hearingDate"`
	Participants []Participant `json:"participants"`
	Language     string        `json:"language,omitempty"`
}

// hearingDateLayouts are the ISO 8601 forms accepted for a hearing date.
var hearingDateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// UnmarshalJSON decodes the request with a lenient hearingDate: any
// accepted ISO 8601 form is parsed, anything else leaves the zero time.
func (r *ProcessRequest) UnmarshalJSON(data []byte) error {
	type plain ProcessRequest
	aux := struct {
		*plain
		HearingDate json.RawMessage `json:"hearingDate"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.HearingDate = ParseHearingDate(aux.HearingDate)
	return nil
}

// ParseHearingDate parses a JSON hearing date value, returning the zero
// time when it is absent, null or in an unrecognised format.
func ParseHearingDate(raw json.RawMessage) time.Time {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return time.Time{}
	}
	s = strings.TrimSpace(s)
	for _, layout := range hearingDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Segment struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	SpeakerID   string  `json:"speakerId"`
	SpeakerRole Role    `json:"speakerRole"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	IsJudgment  bool    `json:"isJudgment,omitempty"`
	IsOrder     bool    `json:"isOrder,omitempty"`
	Words       []Word  `json:"words,omitempty"`
}

type Transcript struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"sessionId"`
	Segments           []Segment `json:"segments"`
	FullText           string    `json:"fullText"`
	Confidence         float64   `json:"confidence"`
	Language           string    `json:"language"`
	ProcessingDuration float64   `json:"processingDuration"`
	CreatedAt          time.Time `json:"createdAt"`
}

type JudgmentPoint struct {
	Sequence   int     `json:"sequence"`
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Timestamp  float64 `json:"timestamp"`
	Confidence float64 `json:"confidence"`
}

type FinalDecision struct {
	Outcome    string  `json:"outcome"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

type Order struct {
	Type            string     `json:"type"`
	Description     string     `json:"description"`
	Amount          *float64   `json:"amount,omitempty"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
	AffectedParties []string   `json:"affectedParties"`
}

type Judgment struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"sessionId"`
	Points          []JudgmentPoint `json:"points"`
	FinalDecision   *FinalDecision  `json:"finalDecision,omitempty"`
	Orders          []Order         `json:"orders"`
	NextHearingDate *time.Time      `json:"nextHearingDate,omitempty"`
}

type WinProbability struct {
	Plaintiff float64 `json:"plaintiff"`
	Defendant float64 `json:"defendant"`
}

type ProbabilitySnapshot struct {
	Timestamp float64 `json:"timestamp"`
	Plaintiff float64 `json:"plaintiff"`
	Defendant float64 `json:"defendant"`
	Event     string  `json:"event"`
}

type Impact string

const (
	ImpactPositive Impact = "positive"
	ImpactNegative Impact = "negative"
	ImpactNeutral  Impact = "neutral"
)

type KeyFactor struct {
	Description string   `json:"description"`
	Impact      Impact   `json:"impact"`
	Strength    float64  `json:"strength"`
	Party       string   `json:"party"`
	Evidence    []string `json:"evidence"`
}

type ProbabilityAnalysis struct {
	ID           string                `json:"id"`
	SessionID    string                `json:"sessionId"`
	Overall      WinProbability        `json:"overall"`
	Timeline     []ProbabilitySnapshot `json:"timeline"`
	KeyFactors   []KeyFactor           `json:"keyFactors"`
	Confidence   float64               `json:"confidence"`
	ModelVersion string                `json:"modelVersion"`
}

// ResultBundle is the durable record written once a session completes.
type ResultBundle struct {
	SessionID       string               `json:"sessionId"`
	CaseID          string               `json:"caseId"`
	HearingDate     time.Time            `json:"hearingDate"`
	Participants    []Participant        `json:"participants"`
	Transcript      *Transcript          `json:"transcript"`
	Judgment        *Judgment            `json:"judgment"`
	Analysis        *ProbabilityAnalysis `json:"analysis"`
	PDFRef          string               `json:"pdfRef,omitempty"`
	CalendarEventID string               `json:"calendarEventId,omitempty"`
	CompletedAt     time.Time            `json:"completedAt"`
}

// NewProcessingSession allocates a queued session with every stage pending.
func NewProcessingSession(caseID string) *ProcessingSession {
	now := time.Now().UTC()
	stages := make([]Stage, len(StageOrder))
	for i, name := range StageOrder {
		stages[i] = Stage{Name: name, Status: StagePending}
	}
	return &ProcessingSession{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		Status:    StatusQueued,
		Progress:  0,
		Stages:    stages,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func NewID() string {
	return uuid.New().String()
}
