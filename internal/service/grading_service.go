package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-grader/internal/dto"
	"github.com/noah-isme/gema-exam-grader/internal/grading"
	"github.com/noah-isme/gema-exam-grader/internal/models"
	"github.com/noah-isme/gema-exam-grader/internal/observability"
	"github.com/noah-isme/gema-exam-grader/internal/repository"
	"github.com/noah-isme/gema-exam-grader/internal/rubric"
	"github.com/noah-isme/gema-exam-grader/internal/segment"
)

var (
	// ErrSessionNotFound indicates the grading session does not exist.
	ErrSessionNotFound = errors.New("grading session not found")
	// ErrStudentResultNotFound indicates no result exists for the student in the session.
	ErrStudentResultNotFound = errors.New("student result not found")
	// ErrUnsupportedDocument indicates the upload is not a plain text document.
	ErrUnsupportedDocument = errors.New("unsupported document type")
	// ErrEmptyDocument indicates the document holds no text.
	ErrEmptyDocument = errors.New("document is empty")
	// ErrDocumentTooLarge indicates the upload exceeded the configured limit.
	ErrDocumentTooLarge = errors.New("document exceeds maximum allowed size")
	// ErrInvalidArchive indicates the upload is not a readable zip or holds no documents.
	ErrInvalidArchive = errors.New("invalid submission archive")
	// ErrStudentIDRequired indicates a file upload without a student id.
	ErrStudentIDRequired = errors.New("student id is required")
)

// archiveExpansionFactor bounds the total uncompressed size of an archive
// relative to the upload limit.
const archiveExpansionFactor = 20

// DocumentStorage keeps a copy of uploaded exam documents.
type DocumentStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// GradingService manages grading sessions and grades student documents.
type GradingService interface {
	Segment(ctx context.Context, req dto.SegmentRequest) (dto.SegmentResponse, error)
	CreateSession(ctx context.Context, req dto.CreateSessionRequest, createdBy uint) (dto.SessionResponse, error)
	GetSession(ctx context.Context, id uint) (dto.SessionResponse, error)
	DeleteSession(ctx context.Context, id uint) error
	GradeText(ctx context.Context, sessionID uint, req dto.GradeTextRequest) (dto.StudentResultResponse, error)
	GradeFile(ctx context.Context, sessionID uint, studentID string, file *multipart.FileHeader) (dto.StudentResultResponse, error)
	GradeArchive(ctx context.Context, sessionID uint, file *multipart.FileHeader) (dto.ArchiveResponse, error)
	GetStudentResult(ctx context.Context, sessionID uint, studentID string) (dto.StudentResultResponse, error)
	Leaderboard(ctx context.Context, sessionID uint, minPercentage float64) (dto.LeaderboardResponse, error)
	Analytics(ctx context.Context, sessionID uint) (grading.ClassAnalytics, error)
}

// GradingServiceConfig tunes the grading service.
type GradingServiceConfig struct {
	Workers        int
	MaxUploadBytes int64
	CacheTTL       time.Duration
}

type gradingService struct {
	repo      repository.GradingRepository
	evaluator grading.DocumentEvaluator
	progress  ProgressService
	storage   DocumentStorage
	cache     *redis.Client
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	cfg       GradingServiceConfig
}

// NewGradingService constructs the grading service. storage, cache and
// progress are optional.
func NewGradingService(
	repo repository.GradingRepository,
	evaluator grading.DocumentEvaluator,
	progress ProgressService,
	storage DocumentStorage,
	cache *redis.Client,
	validate *validator.Validate,
	logger zerolog.Logger,
	cfg GradingServiceConfig,
) GradingService {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 * 1024 * 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if validate == nil {
		validate = validator.New()
	}

	return &gradingService{
		repo:      repo,
		evaluator: evaluator,
		progress:  progress,
		storage:   storage,
		cache:     cache,
		validator: validate,
		logger:    logger.With().Str("component", "grading_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-exam-grader/internal/service/grading"),
		cfg:       cfg,
	}
}

func (s *gradingService) Segment(ctx context.Context, req dto.SegmentRequest) (dto.SegmentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SegmentResponse{}, err
	}

	_, span := s.tracer.Start(ctx, "grading.segment")
	defer span.End()

	pairs := segment.Segment(segment.SplitLines(req.Text))
	if pairs == nil {
		pairs = []segment.Pair{}
	}
	span.SetAttributes(attribute.Int("grading.pairs", len(pairs)))

	return dto.SegmentResponse{Count: len(pairs), Pairs: pairs}, nil
}

func (s *gradingService) CreateSession(ctx context.Context, req dto.CreateSessionRequest, createdBy uint) (dto.SessionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SessionResponse{}, err
	}

	r, total, err := rubric.FromPoints(req.Points())
	if err != nil {
		return dto.SessionResponse{}, err
	}

	points := make(map[string]float64, len(req.Criteria))
	for _, c := range req.Criteria {
		points[strings.TrimSpace(c.Name)] = c.Points
	}

	session := models.GradingSession{
		Title:     strings.TrimSpace(req.Title),
		MaxScore:  total,
		CreatedBy: createdBy,
		Criteria:  make([]models.RubricCriterion, 0, len(r)),
	}
	for idx, criterion := range r {
		session.Criteria = append(session.Criteria, models.RubricCriterion{
			Name:     criterion.Name,
			Points:   points[criterion.Name],
			Weight:   criterion.Weight,
			Position: idx,
		})
	}

	if err := s.repo.CreateSession(ctx, &session); err != nil {
		return dto.SessionResponse{}, err
	}

	s.logger.Info().Uint("session_id", session.ID).Float64("max_score", total).Int("criteria", len(r)).Msg("grading session created")
	return dto.NewSessionResponse(session), nil
}

func (s *gradingService) GetSession(ctx context.Context, id uint) (dto.SessionResponse, error) {
	session, err := s.loadSession(ctx, id)
	if err != nil {
		return dto.SessionResponse{}, err
	}
	return dto.NewSessionResponse(session), nil
}

func (s *gradingService) DeleteSession(ctx context.Context, id uint) error {
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	s.invalidateLeaderboard(ctx, id)
	return nil
}

func (s *gradingService) GradeText(ctx context.Context, sessionID uint, req dto.GradeTextRequest) (dto.StudentResultResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.StudentResultResponse{}, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return dto.StudentResultResponse{}, ErrEmptyDocument
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return dto.StudentResultResponse{}, err
	}

	doc := grading.LinesDocument(strings.TrimSpace(req.StudentID), segment.SplitLines(req.Text))
	return s.gradeSingle(ctx, session, doc, "")
}

func (s *gradingService) GradeFile(ctx context.Context, sessionID uint, studentID string, file *multipart.FileHeader) (dto.StudentResultResponse, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return dto.StudentResultResponse{}, ErrStudentIDRequired
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return dto.StudentResultResponse{}, err
	}

	payload, err := s.readUpload(file)
	if err != nil {
		return dto.StudentResultResponse{}, err
	}

	lines, err := DecodeDocument(payload)
	if err != nil {
		return dto.StudentResultResponse{}, err
	}

	sourceURL := s.archiveDocument(ctx, sessionID, studentID, file.Filename, payload)
	return s.gradeSingle(ctx, session, grading.LinesDocument(studentID, lines), sourceURL)
}

func (s *gradingService) GradeArchive(ctx context.Context, sessionID uint, file *multipart.FileHeader) (dto.ArchiveResponse, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return dto.ArchiveResponse{}, err
	}

	payload, err := s.readUpload(file)
	if err != nil {
		return dto.ArchiveResponse{}, err
	}

	docs, rejected, err := s.archiveDocuments(payload)
	if err != nil {
		return dto.ArchiveResponse{}, err
	}

	sourceURL := s.archiveDocument(ctx, sessionID, "archive", file.Filename, payload)
	results, failures, err := s.gradeDocuments(ctx, session, docs, sourceURL)
	if err != nil {
		return dto.ArchiveResponse{}, err
	}

	response := dto.ArchiveResponse{
		SessionID: sessionID,
		Students:  make([]dto.StudentResultResponse, 0, len(results)),
		Failures:  append(rejected, failures...),
	}
	for _, result := range results {
		response.Students = append(response.Students, dto.NewStudentResultResponse(result, false))
		if result.Status == models.StudentResultStatusGraded {
			response.Graded++
		}
	}
	response.Failed = len(response.Failures)

	return response, nil
}

func (s *gradingService) GetStudentResult(ctx context.Context, sessionID uint, studentID string) (dto.StudentResultResponse, error) {
	result, err := s.repo.GetStudentResult(ctx, sessionID, strings.TrimSpace(studentID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.StudentResultResponse{}, ErrStudentResultNotFound
		}
		return dto.StudentResultResponse{}, err
	}
	return dto.NewStudentResultResponse(result, true), nil
}

func (s *gradingService) Leaderboard(ctx context.Context, sessionID uint, minPercentage float64) (dto.LeaderboardResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.leaderboard", trace.WithAttributes(
		attribute.Int("grading.session_id", int(sessionID)),
	))
	defer span.End()

	summaries, err := s.cachedSummaries(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summaries_failed")
		return dto.LeaderboardResponse{}, err
	}

	entries := grading.Leaderboard(summaries, minPercentage)
	return dto.LeaderboardResponse{
		SessionID:     sessionID,
		MinPercentage: minPercentage,
		Entries:       entries,
	}, nil
}

func (s *gradingService) Analytics(ctx context.Context, sessionID uint) (grading.ClassAnalytics, error) {
	ctx, span := s.tracer.Start(ctx, "grading.analytics")
	defer span.End()

	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return grading.ClassAnalytics{}, err
	}

	results, err := s.repo.ListStudentResults(ctx, sessionID, true)
	if err != nil {
		span.RecordError(err)
		return grading.ClassAnalytics{}, err
	}

	summaries := make([]grading.StudentSummary, 0, len(results))
	docs := make([]grading.DocumentResult, 0, len(results))
	for _, result := range results {
		if result.Status != models.StudentResultStatusGraded {
			continue
		}
		summaries = append(summaries, summaryFromResult(result))
		docs = append(docs, documentFromResult(result))
	}

	return grading.Analyze(summaries, docs), nil
}

func (s *gradingService) loadSession(ctx context.Context, id uint) (models.GradingSession, error) {
	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingSession{}, ErrSessionNotFound
		}
		return models.GradingSession{}, err
	}
	return session, nil
}

func (s *gradingService) gradeSingle(ctx context.Context, session models.GradingSession, doc grading.Document, sourceURL string) (dto.StudentResultResponse, error) {
	results, failures, err := s.gradeDocuments(ctx, session, []grading.Document{doc}, sourceURL)
	if err != nil {
		return dto.StudentResultResponse{}, err
	}
	if len(failures) > 0 {
		return dto.StudentResultResponse{}, errors.New(failures[0].Error)
	}
	return dto.NewStudentResultResponse(results[0], true), nil
}

// gradeDocuments runs a class over docs, storing each result as soon as its
// document is finished so progress subscribers can fetch it immediately.
func (s *gradingService) gradeDocuments(ctx context.Context, session models.GradingSession, docs []grading.Document, sourceURL string) ([]models.StudentResult, []dto.ArchiveFailure, error) {
	ctx, span := s.tracer.Start(ctx, "grading.grade_documents", trace.WithAttributes(
		attribute.Int("grading.session_id", int(session.ID)),
		attribute.Int("grading.documents", len(docs)),
	))
	defer span.End()

	start := time.Now()
	s.publish(ctx, dto.ProgressEvent{Type: dto.ProgressEventStarted, SessionID: session.ID, Total: len(docs)})

	results := make([]models.StudentResult, 0, len(docs))
	var (
		failures []dto.ArchiveFailure
		storeErr error
	)

	progress := func(update grading.ProgressUpdate) {
		result := buildStudentResult(session, update.Outcome, sourceURL)
		if err := s.repo.SaveStudentResult(ctx, &result); err != nil {
			s.logger.Error().Err(err).Uint("session_id", session.ID).Str("student_id", result.StudentID).Msg("failed to store student result")
			if storeErr == nil {
				storeErr = err
			}
			result.Status = models.StudentResultStatusFailed
			result.Error = err.Error()
		}

		results = append(results, result)
		if result.Status != models.StudentResultStatusGraded {
			failures = append(failures, dto.ArchiveFailure{StudentID: result.StudentID, Error: result.Error})
		}

		s.publish(ctx, dto.ProgressEvent{
			Type:       dto.ProgressEventStudent,
			SessionID:  session.ID,
			StudentID:  result.StudentID,
			Status:     result.Status,
			Done:       update.Done,
			Total:      update.Total,
			TotalScore: result.TotalScore,
			Percentage: result.Percentage,
			Error:      result.Error,
		})
	}

	grading.RunClass(ctx, s.evaluator, docs, session.Rubric(), session.MaxScore, grading.ClassConfig{
		Workers:  s.cfg.Workers,
		Progress: progress,
	})

	s.invalidateLeaderboard(ctx, session.ID)
	s.publish(ctx, dto.ProgressEvent{Type: dto.ProgressEventCompleted, SessionID: session.ID, Done: len(results), Total: len(docs)})

	s.logger.Info().
		Uint("session_id", session.ID).
		Int("documents", len(docs)).
		Int("failed", len(failures)).
		Dur("duration", time.Since(start)).
		Msg("grading run finished")

	if storeErr != nil && len(failures) == len(docs) {
		span.RecordError(storeErr)
		span.SetStatus(codes.Error, "store_failed")
		return nil, nil, storeErr
	}

	sortResultsByStudent(results)
	return results, failures, nil
}

func (s *gradingService) publish(ctx context.Context, event dto.ProgressEvent) {
	if s.progress == nil {
		return
	}
	s.progress.Publish(ctx, event)
}

func (s *gradingService) readUpload(file *multipart.FileHeader) ([]byte, error) {
	if file == nil {
		return nil, errors.New("file is required")
	}
	if file.Size > s.cfg.MaxUploadBytes {
		return nil, ErrDocumentTooLarge
	}

	handle, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	return readLimited(handle, s.cfg.MaxUploadBytes)
}

func (s *gradingService) archiveDocuments(payload []byte) ([]grading.Document, []dto.ArchiveFailure, error) {
	if !hasMIME(mimetype.Detect(payload), "application/zip") {
		return nil, nil, fmt.Errorf("%w: not a zip file", ErrInvalidArchive)
	}

	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	var total uint64
	for _, entry := range reader.File {
		total += entry.UncompressedSize64
		if total > uint64(s.cfg.MaxUploadBytes*archiveExpansionFactor) {
			return nil, nil, ErrDocumentTooLarge
		}
	}

	var (
		docs     []grading.Document
		rejected []dto.ArchiveFailure
		seen     = make(map[string]struct{})
	)
	for _, entry := range reader.File {
		name := path.Base(entry.Name)
		if entry.FileInfo().IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(entry.Name, "__MACOSX/") {
			continue
		}

		studentID := strings.TrimSpace(strings.TrimSuffix(name, path.Ext(name)))
		if studentID == "" {
			continue
		}
		if _, dup := seen[studentID]; dup {
			rejected = append(rejected, dto.ArchiveFailure{StudentID: studentID, Error: "duplicate document for student"})
			continue
		}
		seen[studentID] = struct{}{}

		docs = append(docs, grading.Document{
			StudentID: studentID,
			Load: func(context.Context) ([]string, error) {
				return s.loadArchiveEntry(entry)
			},
		})
	}

	if len(docs) == 0 {
		return nil, nil, fmt.Errorf("%w: no documents found", ErrInvalidArchive)
	}
	return docs, rejected, nil
}

func (s *gradingService) loadArchiveEntry(entry *zip.File) ([]string, error) {
	if entry.UncompressedSize64 > uint64(s.cfg.MaxUploadBytes) {
		return nil, ErrDocumentTooLarge
	}

	handle, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	payload, err := readLimited(handle, s.cfg.MaxUploadBytes)
	if err != nil {
		return nil, err
	}
	return DecodeDocument(payload)
}

// archiveDocument stores the original upload. A storage failure never blocks grading.
func (s *gradingService) archiveDocument(ctx context.Context, sessionID uint, label, filename string, payload []byte) string {
	if s.storage == nil {
		return ""
	}

	name := fmt.Sprintf("session-%d-%s%s", sessionID, label, strings.ToLower(filepath.Ext(filename)))
	url, err := s.storage.Upload(ctx, name, bytes.NewReader(payload))
	if err != nil {
		s.logger.Warn().Err(err).Uint("session_id", sessionID).Str("file", filename).Msg("failed to archive exam document")
		return ""
	}
	return url
}

func (s *gradingService) cachedSummaries(ctx context.Context, sessionID uint) ([]grading.StudentSummary, error) {
	key := leaderboardCacheKey(sessionID)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key).Result()
		if err == nil {
			var summaries []grading.StudentSummary
			if unmarshalErr := json.Unmarshal([]byte(cached), &summaries); unmarshalErr == nil {
				observability.LeaderboardCache().WithLabelValues("hit").Inc()
				return summaries, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read leaderboard cache")
		}
		observability.LeaderboardCache().WithLabelValues("miss").Inc()
	}

	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}

	results, err := s.repo.ListStudentResults(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}

	summaries := make([]grading.StudentSummary, 0, len(results))
	for _, result := range results {
		if result.Status == models.StudentResultStatusGraded {
			summaries = append(summaries, summaryFromResult(result))
		}
	}

	if s.cache != nil {
		if payload, err := json.Marshal(summaries); err == nil {
			if err := s.cache.Set(ctx, key, payload, s.cfg.CacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store leaderboard cache")
			}
		}
	}

	return summaries, nil
}

func (s *gradingService) invalidateLeaderboard(ctx context.Context, sessionID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, leaderboardCacheKey(sessionID)).Err(); err != nil {
		s.logger.Warn().Err(err).Uint("session_id", sessionID).Msg("failed to invalidate leaderboard cache")
	}
}

func leaderboardCacheKey(sessionID uint) string {
	return fmt.Sprintf("grading:leaderboard:%d", sessionID)
}

func buildStudentResult(session models.GradingSession, outcome grading.StudentOutcome, sourceURL string) models.StudentResult {
	result := models.StudentResult{
		SessionID: session.ID,
		StudentID: outcome.StudentID,
		SourceURL: sourceURL,
	}
	if outcome.Err != nil {
		result.Status = models.StudentResultStatusFailed
		result.Error = outcome.Err.Error()
		return result
	}

	result.Status = models.StudentResultStatusGraded
	result.TotalScore = outcome.Summary.TotalScore
	result.MaxTotal = outcome.Summary.MaxTotal
	result.Percentage = outcome.Summary.Percentage
	result.PairCount = outcome.Summary.PairCount
	result.FlaggedCount = outcome.Summary.FlaggedCount
	result.Evaluations = dto.NewEvaluationRecords(outcome.Result.Results)
	return result
}

func summaryFromResult(result models.StudentResult) grading.StudentSummary {
	return grading.StudentSummary{
		StudentID:    result.StudentID,
		TotalScore:   result.TotalScore,
		MaxTotal:     result.MaxTotal,
		Percentage:   result.Percentage,
		PairCount:    result.PairCount,
		FlaggedCount: result.FlaggedCount,
	}
}

func documentFromResult(result models.StudentResult) grading.DocumentResult {
	doc := grading.DocumentResult{
		TotalScore: result.TotalScore,
		MaxTotal:   result.MaxTotal,
		Results:    make([]grading.EvaluationResult, 0, len(result.Evaluations)),
	}
	for _, record := range result.Evaluations {
		evaluation := dto.NewEvaluationResponse(record)
		doc.Results = append(doc.Results, grading.EvaluationResult{
			Index:           evaluation.QuestionIndex,
			Question:        evaluation.Question,
			Answer:          evaluation.Answer,
			Score:           evaluation.Score,
			MaxScore:        evaluation.MaxScore,
			Feedback:        evaluation.Feedback,
			Concepts:        evaluation.Concepts,
			CriterionScores: evaluation.CriterionScores,
			Flagged:         evaluation.Flagged,
			FlagReason:      evaluation.FlagReason,
		})
	}
	return doc
}

func sortResultsByStudent(results []models.StudentResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].StudentID < results[j].StudentID
	})
}

// DecodeDocument accepts any text document and splits it into lines.
func DecodeDocument(payload []byte) ([]string, error) {
	payload = bytes.TrimPrefix(payload, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, ErrEmptyDocument
	}

	if !hasMIME(mimetype.Detect(payload), "text/plain") {
		return nil, ErrUnsupportedDocument
	}
	return segment.SplitLines(string(payload)), nil
}

// hasMIME reports whether mime is expected or one of its descendants.
func hasMIME(mime *mimetype.MIME, expected string) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is(expected) {
			return true
		}
	}
	return false
}

func readLimited(reader io.Reader, limit int64) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(reader, limit+1)); err != nil {
		return nil, err
	}
	if int64(buf.Len()) > limit {
		return nil, ErrDocumentTooLarge
	}
	return buf.Bytes(), nil
}
