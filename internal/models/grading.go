package models

import (
	"sort"
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/gema-exam-grader/internal/rubric"
)

// StudentResult statuses.
const (
	StudentResultStatusGraded = "graded"
	StudentResultStatusFailed = "failed"
)

// GradingSession groups the submissions of one exam graded against one rubric.
type GradingSession struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	Title     string            `gorm:"size:255;not null" json:"title"`
	MaxScore  float64           `gorm:"not null" json:"max_score"`
	CreatedBy uint              `gorm:"index" json:"created_by"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Criteria  []RubricCriterion `gorm:"foreignKey:SessionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"criteria"`
}

// Rubric returns the session's criteria as a grading rubric, in configured order.
func (s GradingSession) Rubric() rubric.Rubric {
	criteria := append([]RubricCriterion(nil), s.Criteria...)
	sort.SliceStable(criteria, func(i, j int) bool {
		return criteria[i].Position < criteria[j].Position
	})

	r := make(rubric.Rubric, 0, len(criteria))
	for _, c := range criteria {
		r = append(r, rubric.Criterion{Name: c.Name, Weight: c.Weight})
	}
	return r
}

// RubricCriterion is one criterion of a session rubric with its raw points.
type RubricCriterion struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	SessionID uint    `gorm:"index;not null" json:"session_id"`
	Name      string  `gorm:"size:128;not null" json:"name"`
	Points    float64 `gorm:"not null" json:"points"`
	Weight    float64 `gorm:"not null" json:"weight"`
	Position  int     `gorm:"not null;default:0" json:"position"`
}

// TableName overrides the default "rubric_criterions".
func (RubricCriterion) TableName() string {
	return "rubric_criteria"
}

// StudentResult is the graded document of one student within a session.
type StudentResult struct {
	ID           uint               `gorm:"primaryKey" json:"id"`
	SessionID    uint               `gorm:"not null;uniqueIndex:idx_session_student" json:"session_id"`
	StudentID    string             `gorm:"size:128;not null;uniqueIndex:idx_session_student" json:"student_id"`
	TotalScore   float64            `gorm:"not null;default:0" json:"total_score"`
	MaxTotal     float64            `gorm:"not null;default:0" json:"max_total"`
	Percentage   float64            `gorm:"not null;default:0" json:"percentage"`
	PairCount    int                `gorm:"not null;default:0" json:"pair_count"`
	FlaggedCount int                `gorm:"not null;default:0" json:"flagged_count"`
	Status       string             `gorm:"size:32;not null" json:"status"`
	Error        string             `gorm:"type:text" json:"error,omitempty"`
	SourceURL    string             `gorm:"size:512" json:"source_url,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Evaluations  []EvaluationRecord `gorm:"foreignKey:StudentResultID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"evaluations"`
}

// EvaluationRecord persists the graded outcome of one question/answer pair.
type EvaluationRecord struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	StudentResultID uint              `gorm:"index;not null" json:"student_result_id"`
	QuestionIndex   int               `gorm:"not null" json:"question_index"`
	Question        string            `gorm:"type:text" json:"question"`
	Answer          string            `gorm:"type:text" json:"answer"`
	Score           float64           `gorm:"not null" json:"score"`
	MaxScore        float64           `gorm:"not null" json:"max_score"`
	Feedback        string            `gorm:"type:text" json:"feedback"`
	Concepts        datatypes.JSON    `json:"concepts"`
	CriterionScores datatypes.JSONMap `json:"criterion_scores"`
	AllocationMode  string            `gorm:"size:32" json:"allocation_mode"`
	Faults          datatypes.JSON    `json:"faults"`
	Flagged         bool              `gorm:"not null;default:false" json:"flagged"`
	FlagReason      string            `gorm:"type:text" json:"flag_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}
