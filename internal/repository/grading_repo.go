package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-grader/internal/models"
)

// GradingRepository exposes persistence helpers for grading sessions and results.
type GradingRepository interface {
	CreateSession(ctx context.Context, session *models.GradingSession) error
	GetSession(ctx context.Context, id uint) (models.GradingSession, error)
	DeleteSession(ctx context.Context, id uint) error
	SaveStudentResult(ctx context.Context, result *models.StudentResult) error
	GetStudentResult(ctx context.Context, sessionID uint, studentID string) (models.StudentResult, error)
	ListStudentResults(ctx context.Context, sessionID uint, withEvaluations bool) ([]models.StudentResult, error)
}

// NewGradingRepository constructs a grading repository.
func NewGradingRepository(db *gorm.DB) GradingRepository {
	return &gradingRepository{db: db}
}

type gradingRepository struct {
	db *gorm.DB
}

func (r *gradingRepository) CreateSession(ctx context.Context, session *models.GradingSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *gradingRepository) GetSession(ctx context.Context, id uint) (models.GradingSession, error) {
	var session models.GradingSession
	err := r.db.WithContext(ctx).
		Preload("Criteria", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&session, id).Error
	if err != nil {
		return models.GradingSession{}, err
	}
	return session, nil
}

func (r *gradingRepository) DeleteSession(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		resultIDs := tx.Model(&models.StudentResult{}).Select("id").Where("session_id = ?", id)
		if err := tx.Where("student_result_id IN (?)", resultIDs).Delete(&models.EvaluationRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.StudentResult{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.RubricCriterion{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.GradingSession{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// SaveStudentResult stores a result, replacing any earlier result of the same
// student in the same session.
func (r *gradingRepository) SaveStudentResult(ctx context.Context, result *models.StudentResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.StudentResult
		err := tx.Where("session_id = ? AND student_id = ?", result.SessionID, result.StudentID).First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Where("student_result_id = ?", existing.ID).Delete(&models.EvaluationRecord{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		return tx.Create(result).Error
	})
}

func (r *gradingRepository) GetStudentResult(ctx context.Context, sessionID uint, studentID string) (models.StudentResult, error) {
	var result models.StudentResult
	err := r.db.WithContext(ctx).
		Preload("Evaluations", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_index ASC")
		}).
		Where("session_id = ? AND student_id = ?", sessionID, studentID).
		First(&result).Error
	if err != nil {
		return models.StudentResult{}, err
	}
	return result, nil
}

func (r *gradingRepository) ListStudentResults(ctx context.Context, sessionID uint, withEvaluations bool) ([]models.StudentResult, error) {
	query := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("student_id ASC")
	if withEvaluations {
		query = query.Preload("Evaluations", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_index ASC")
		})
	}

	var results []models.StudentResult
	if err := query.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
