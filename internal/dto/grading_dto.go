package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-exam-grader/internal/grading"
	"github.com/noah-isme/gema-exam-grader/internal/models"
	"github.com/noah-isme/gema-exam-grader/internal/rubric"
	"github.com/noah-isme/gema-exam-grader/internal/segment"
)

// SegmentRequest carries raw document text for a segmentation preview.
type SegmentRequest struct {
	Text string `json:"text" validate:"required"`
}

// SegmentResponse lists the pairs found in a document.
type SegmentResponse struct {
	Count int            `json:"count"`
	Pairs []segment.Pair `json:"pairs"`
}

// CriterionPointsRequest allocates raw points to one rubric criterion.
type CriterionPointsRequest struct {
	Name   string  `json:"name" validate:"required,max=128"`
	Points float64 `json:"points" validate:"gte=0"`
}

// CreateSessionRequest represents the payload for creating a grading session.
type CreateSessionRequest struct {
	Title    string                   `json:"title" validate:"required,max=255"`
	Criteria []CriterionPointsRequest `json:"criteria" validate:"required,min=1,dive"`
}

// Points converts the criteria into rubric point allocations.
func (r CreateSessionRequest) Points() []rubric.Points {
	points := make([]rubric.Points, 0, len(r.Criteria))
	for _, c := range r.Criteria {
		points = append(points, rubric.Points{Name: c.Name, Points: c.Points})
	}
	return points
}

// GradeTextRequest submits one student's document as plain text.
type GradeTextRequest struct {
	StudentID string `json:"student_id" validate:"required,max=128"`
	Text      string `json:"text" validate:"required"`
}

// CriterionResponse describes a rubric criterion.
type CriterionResponse struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
	Weight float64 `json:"weight"`
}

// SessionResponse represents a grading session to API consumers.
type SessionResponse struct {
	ID        uint                `json:"id"`
	Title     string              `json:"title"`
	MaxScore  float64             `json:"max_score"`
	Criteria  []CriterionResponse `json:"criteria"`
	CreatedAt time.Time           `json:"created_at"`
}

// NewSessionResponse builds a response DTO from a model.
func NewSessionResponse(session models.GradingSession) SessionResponse {
	criteria := make([]CriterionResponse, 0, len(session.Criteria))
	for _, c := range session.Criteria {
		criteria = append(criteria, CriterionResponse{Name: c.Name, Points: c.Points, Weight: c.Weight})
	}
	return SessionResponse{
		ID:        session.ID,
		Title:     session.Title,
		MaxScore:  session.MaxScore,
		Criteria:  criteria,
		CreatedAt: session.CreatedAt,
	}
}

// EvaluationResponse describes one graded question/answer pair.
type EvaluationResponse struct {
	QuestionIndex   int                `json:"question_index"`
	Question        string             `json:"question"`
	Answer          string             `json:"answer"`
	Score           float64            `json:"score"`
	MaxScore        float64            `json:"max_score"`
	Feedback        string             `json:"feedback"`
	Concepts        []string           `json:"concepts"`
	CriterionScores map[string]float64 `json:"criterion_scores"`
	AllocationMode  string             `json:"allocation_mode"`
	Faults          []string           `json:"faults,omitempty"`
	Flagged         bool               `json:"flagged"`
	FlagReason      string             `json:"flag_reason,omitempty"`
}

// StudentResultResponse represents a student's graded document.
type StudentResultResponse struct {
	SessionID    uint                 `json:"session_id"`
	StudentID    string               `json:"student_id"`
	Status       string               `json:"status"`
	Error        string               `json:"error,omitempty"`
	TotalScore   float64              `json:"total_score"`
	MaxTotal     float64              `json:"max_total"`
	Percentage   float64              `json:"percentage"`
	PairCount    int                  `json:"pair_count"`
	FlaggedCount int                  `json:"flagged_count"`
	SourceURL    string               `json:"source_url,omitempty"`
	Results      []EvaluationResponse `json:"results,omitempty"`
}

// NewStudentResultResponse converts a StudentResult model into a DTO.
func NewStudentResultResponse(result models.StudentResult, includeEvaluations bool) StudentResultResponse {
	response := StudentResultResponse{
		SessionID:    result.SessionID,
		StudentID:    result.StudentID,
		Status:       result.Status,
		Error:        result.Error,
		TotalScore:   result.TotalScore,
		MaxTotal:     result.MaxTotal,
		Percentage:   result.Percentage,
		PairCount:    result.PairCount,
		FlaggedCount: result.FlaggedCount,
		SourceURL:    result.SourceURL,
	}

	if includeEvaluations {
		response.Results = make([]EvaluationResponse, 0, len(result.Evaluations))
		for _, record := range result.Evaluations {
			response.Results = append(response.Results, NewEvaluationResponse(record))
		}
	}

	return response
}

// NewEvaluationResponse converts a stored evaluation into a DTO.
func NewEvaluationResponse(record models.EvaluationRecord) EvaluationResponse {
	concepts := []string{}
	if len(record.Concepts) > 0 {
		_ = json.Unmarshal(record.Concepts, &concepts)
	}
	var faults []string
	if len(record.Faults) > 0 {
		_ = json.Unmarshal(record.Faults, &faults)
	}

	criterionScores := make(map[string]float64, len(record.CriterionScores))
	for name, value := range record.CriterionScores {
		if score, ok := rubric.Coerce(value); ok {
			criterionScores[name] = score
		}
	}

	return EvaluationResponse{
		QuestionIndex:   record.QuestionIndex,
		Question:        record.Question,
		Answer:          record.Answer,
		Score:           record.Score,
		MaxScore:        record.MaxScore,
		Feedback:        record.Feedback,
		Concepts:        concepts,
		CriterionScores: criterionScores,
		AllocationMode:  record.AllocationMode,
		Faults:          faults,
		Flagged:         record.Flagged,
		FlagReason:      record.FlagReason,
	}
}

// NewEvaluationRecords converts graded pairs into storable records.
func NewEvaluationRecords(results []grading.EvaluationResult) []models.EvaluationRecord {
	records := make([]models.EvaluationRecord, 0, len(results))
	for _, result := range results {
		concepts, _ := json.Marshal(nonNilStrings(result.Concepts))
		faults, _ := json.Marshal(nonNilStrings(result.Allocation.Faults))

		criterionScores := make(map[string]interface{}, len(result.CriterionScores))
		for name, score := range result.CriterionScores {
			criterionScores[name] = score
		}

		records = append(records, models.EvaluationRecord{
			QuestionIndex:   result.Index,
			Question:        result.Question,
			Answer:          result.Answer,
			Score:           result.Score,
			MaxScore:        result.MaxScore,
			Feedback:        result.Feedback,
			Concepts:        concepts,
			CriterionScores: criterionScores,
			AllocationMode:  string(result.Allocation.Mode),
			Faults:          faults,
			Flagged:         result.Flagged,
			FlagReason:      result.FlagReason,
		})
	}
	return records
}

// ArchiveFailure reports a document of an archive that could not be graded.
type ArchiveFailure struct {
	StudentID string `json:"student_id"`
	Error     string `json:"error"`
}

// ArchiveResponse summarises a batch grading run.
type ArchiveResponse struct {
	SessionID uint                    `json:"session_id"`
	Graded    int                     `json:"graded"`
	Failed    int                     `json:"failed"`
	Students  []StudentResultResponse `json:"students"`
	Failures  []ArchiveFailure        `json:"failures"`
}

// LeaderboardResponse lists ranked students of a session.
type LeaderboardResponse struct {
	SessionID     uint                       `json:"session_id"`
	MinPercentage float64                    `json:"min_percentage"`
	Entries       []grading.LeaderboardEntry `json:"entries"`
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// Progress event types.
const (
	ProgressEventSubscribed = "grading.subscribed"
	ProgressEventStarted    = "grading.started"
	ProgressEventStudent    = "grading.student"
	ProgressEventCompleted  = "grading.completed"
)

// ProgressEvent is streamed to clients watching a session while documents are graded.
type ProgressEvent struct {
	Type       string    `json:"type"`
	SessionID  uint      `json:"session_id"`
	StudentID  string    `json:"student_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Done       int       `json:"done"`
	Total      int       `json:"total"`
	TotalScore float64   `json:"total_score,omitempty"`
	Percentage float64   `json:"percentage,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
