package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hearing-processor/pkg/artifacts"
	"hearing-processor/pkg/config"
	"hearing-processor/pkg/logger"
	"hearing-processor/pkg/media"
	"hearing-processor/pkg/metrics"
	"hearing-processor/pkg/models"
	"hearing-processor/pkg/speakers"
	"hearing-processor/pkg/storage"
)

var (
	ErrMissingMedia    = errors.New("mediaUrl is required")
	ErrNotStarted      = errors.New("pipeline is not running")
	ErrSessionFinished = errors.New("session already finished")

	errCancelled = errors.New("processing cancelled")
	errShutdown  = errors.New("pipeline shutting down")
)

// Audio is processed at roughly half real time plus a fixed overhead for the
// text-generation and artifact stages.
const (
	realtimeFactor = 0.5
	fixedOverhead  = 30 * time.Second
)

type Extractor interface {
	Extract(ctx context.Context, source, workDir string) (*media.AudioAsset, error)
}

type Splitter interface {
	Split(asset *media.AudioAsset, outDir string) ([]media.Chunk, error)
}

type Transcriber interface {
	Run(ctx context.Context, sessionID string, chunks []media.Chunk, language string) (*models.Transcript, error)
}

type JudgmentExtractor interface {
	Extract(ctx context.Context, sessionID string, hearingDate time.Time, transcript *models.Transcript) (*models.Judgment, error)
}

type ProbabilityAnalyzer interface {
	Analyze(ctx context.Context, sessionID string, transcript *models.Transcript) (*models.ProbabilityAnalysis, error)
}

type Renderer interface {
	Render(ctx context.Context, doc artifacts.JudgmentDocument) (string, error)
	Discard(ref string) error
}

// Deps are the collaborators a Manager drives.
type Deps struct {
	Sessions    storage.SessionStore
	Results     storage.ResultStore
	Extractor   Extractor
	Chunker     Splitter
	Transcriber Transcriber
	Speakers    speakers.Assigner
	Judgments   JudgmentExtractor
	Probability ProbabilityAnalyzer
	PDF         Renderer
	Calendar    artifacts.Scheduler
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
}

// job is one queued session together with its cancellation handle.
type job struct {
	sessionID string
	request   models.ProcessRequest
	ctx       context.Context
	cancel    context.CancelCauseFunc
}

type Manager struct {
	config config.PipelineConfig
	deps   Deps
	log    *logger.Logger

	pool *WorkerPool

	mu      sync.Mutex
	tasks   map[string]*job
	running bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(cfg config.PipelineConfig, deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if deps.Speakers == nil {
		deps.Speakers = speakers.NewRoundRobin()
	}
	return &Manager{
		config: cfg,
		deps:   deps,
		log:    deps.Logger,
		tasks:  make(map[string]*job),
	}
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("pipeline already started")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.pool = NewWorkerPool(m.config.Workers, m.config.QueueSize, m.runSession)
	m.pool.Start(m.ctx)
	m.running = true

	m.log.WithFields(logrus.Fields{
		"workers":    m.config.Workers,
		"queue_size": m.config.QueueSize,
	}).Info("pipeline started")
	return nil
}

// Stop cancels in-flight sessions and fails the ones still queued.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.log.Info("pipeline stopping")
	m.cancel()
	for _, j := range m.pool.Stop() {
		m.failSession(j.sessionID, "", errShutdown)
		m.deps.Metrics.RecordSessionAbandoned()
		m.forget(j.sessionID)
	}
	m.log.Info("pipeline stopped")
}

// Submit registers a queued session and hands it to the worker pool. It
// never waits for processing.
func (m *Manager) Submit(req models.ProcessRequest) (*models.ProcessingSession, error) {
	if strings.TrimSpace(req.MediaURL) == "" {
		return nil, ErrMissingMedia
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil, ErrNotStarted
	}

	session := models.NewProcessingSession(req.CaseID)
	if err := m.deps.Sessions.Create(session); err != nil {
		return nil, fmt.Errorf("failed to register session: %w", err)
	}

	ctx, cancel := context.WithCancelCause(m.ctx)
	j := &job{sessionID: session.ID, request: req, ctx: ctx, cancel: cancel}
	m.tasks[session.ID] = j
	if err := m.pool.TrySubmit(j); err != nil {
		delete(m.tasks, session.ID)
		cancel(err)
		m.deps.Sessions.Delete(session.ID)
		m.log.WithSession(session.ID).Warn("pipeline queue is full, session rejected")
		return nil, err
	}
	m.deps.Metrics.RecordSessionSubmitted()

	m.log.WithSession(session.ID).WithField("case_id", req.CaseID).Info("session queued")
	return session, nil
}

// Status returns a snapshot of the session.
func (m *Manager) Status(sessionID string) (*models.ProcessingSession, error) {
	return m.deps.Sessions.Get(sessionID)
}

// Sessions lists the newest sessions first.
func (m *Manager) Sessions(limit int) []*models.ProcessingSession {
	return m.deps.Sessions.List(limit)
}

// Result returns the persisted bundle of a completed session.
func (m *Manager) Result(sessionID string) (*models.ResultBundle, error) {
	return m.deps.Results.GetBundle(sessionID)
}

// Cancel requests cooperative cancellation. The session fails at the next
// stage boundary, or earlier if a provider call observes the context.
func (m *Manager) Cancel(sessionID string) error {
	session, err := m.deps.Sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if session.Status.IsTerminal() {
		return ErrSessionFinished
	}

	m.mu.Lock()
	j, ok := m.tasks[sessionID]
	if ok {
		j.cancel(errCancelled)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionFinished
	}
	m.log.WithSession(sessionID).Info("cancellation requested")
	return nil
}

// seal detaches a job from Cancel once every stage has run. It reports false
// when a cancellation got in first.
func (m *Manager) seal(j *job) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ctx.Err() != nil {
		return false
	}
	delete(m.tasks, j.sessionID)
	return true
}

func (m *Manager) forget(sessionID string) {
	m.mu.Lock()
	j, ok := m.tasks[sessionID]
	delete(m.tasks, sessionID)
	m.mu.Unlock()
	if ok {
		j.cancel(nil)
	}
}

// hearingRun carries the intermediate results between stages.
type hearingRun struct {
	sessionID string
	request   models.ProcessRequest
	workDir   string

	asset      *media.AudioAsset
	chunks     []media.Chunk
	transcript *models.Transcript
	judgment   *models.Judgment
	analysis   *models.ProbabilityAnalysis
	pdfRef     string
	eventID    string
}

func (m *Manager) runSession(_ context.Context, j *job) {
	defer m.forget(j.sessionID)
	defer j.cancel(nil)
	ctx := j.ctx
	log := m.log.WithSession(j.sessionID)
	started := time.Now()

	if err := ctx.Err(); err != nil {
		m.failSession(j.sessionID, "", cancelCause(ctx))
		m.deps.Metrics.RecordSessionAbandoned()
		return
	}

	if _, err := m.deps.Sessions.Update(j.sessionID, func(s *models.ProcessingSession) error {
		if !isValidSessionTransition(s.Status, models.StatusProcessing) {
			return fmt.Errorf("invalid transition: %s -> %s", s.Status, models.StatusProcessing)
		}
		now := time.Now().UTC()
		eta := now.Add(m.config.EstimatedDuration)
		s.Status = models.StatusProcessing
		s.EstimatedCompletion = &eta
		s.UpdatedAt = now
		return nil
	}); err != nil {
		log.WithError(err).Error("failed to start session")
		return
	}
	m.deps.Metrics.RecordSessionStarted()
	log.Info("session processing")

	run := &hearingRun{
		sessionID: j.sessionID,
		request:   j.request,
		workDir:   filepath.Join(m.config.WorkDir, "hearing-"+j.sessionID),
	}
	if err := os.MkdirAll(run.workDir, 0o755); err != nil {
		m.failSession(j.sessionID, models.StageExtraction, fmt.Errorf("failed to create work dir: %w", err))
		m.deps.Metrics.RecordSessionFinished(false, time.Since(started).Seconds())
		return
	}
	defer os.RemoveAll(run.workDir)

	for _, step := range m.steps() {
		if ctx.Err() != nil {
			m.discardArtifacts(run)
			m.failSession(j.sessionID, "", cancelCause(ctx))
			m.deps.Metrics.RecordSessionFinished(false, time.Since(started).Seconds())
			return
		}
		if err := m.runStage(ctx, run, step); err != nil {
			m.deps.Metrics.RecordSessionFinished(false, time.Since(started).Seconds())
			return
		}
	}

	if !m.seal(j) {
		m.discardArtifacts(run)
		m.failSession(j.sessionID, "", cancelCause(ctx))
		m.deps.Metrics.RecordSessionFinished(false, time.Since(started).Seconds())
		return
	}
	if err := m.complete(run); err != nil {
		log.WithError(err).Error("failed to persist results")
		m.discardArtifacts(run)
		m.failSession(j.sessionID, "", fmt.Errorf("failed to persist results: %w", err))
		m.deps.Metrics.RecordSessionFinished(false, time.Since(started).Seconds())
		return
	}
	m.deps.Metrics.RecordSessionFinished(true, time.Since(started).Seconds())
	log.WithField("duration", time.Since(started).String()).Info("session completed")
}

// errSkipped is returned by a step that had nothing to do.
var errSkipped = errors.New("stage skipped")

type step struct {
	name models.StageName
	run  func(ctx context.Context, r *hearingRun) error
}

func (m *Manager) runStage(ctx context.Context, run *hearingRun, st step) error {
	log := m.log.WithSession(run.sessionID).WithField("stage", st.name)

	if err := m.setStage(run.sessionID, st.name, models.StageInProgress, ""); err != nil {
		log.WithError(err).Error("failed to mark stage in progress")
		return err
	}

	begin := time.Now()
	err := st.run(ctx, run)
	if errors.Is(err, errSkipped) {
		m.deps.Metrics.RecordStage(string(st.name), time.Since(begin).Seconds(), nil)
		log.Info("stage skipped")
		return m.setStage(run.sessionID, st.name, models.StageSkipped, "")
	}
	m.deps.Metrics.RecordStage(string(st.name), time.Since(begin).Seconds(), err)

	if err != nil {
		if ctx.Err() != nil {
			err = cancelCause(ctx)
		}
		if m.config.BestEffortArtifacts && artifactStage(st.name) && ctx.Err() == nil {
			log.WithError(err).Warn("artifact stage failed, continuing")
			return m.setStage(run.sessionID, st.name, models.StageFailed, err.Error())
		}
		log.WithError(err).Error("stage failed")
		m.discardArtifacts(run)
		m.failSession(run.sessionID, st.name, err)
		return err
	}

	log.WithField("duration", time.Since(begin).String()).Info("stage completed")
	return m.setStage(run.sessionID, st.name, models.StageCompleted, "")
}

// setStage moves one stage to status. Terminal stage states advance the
// session progress to the stage checkpoint.
func (m *Manager) setStage(sessionID string, name models.StageName, status models.StageStatus, errText string) error {
	_, err := m.deps.Sessions.Update(sessionID, func(s *models.ProcessingSession) error {
		stage := s.Stage(name)
		if stage == nil {
			return fmt.Errorf("unknown stage %s", name)
		}
		if !isValidStageTransition(stage.Status, status) {
			return fmt.Errorf("invalid stage transition %s: %s -> %s", name, stage.Status, status)
		}

		now := time.Now().UTC()
		stage.Status = status
		switch status {
		case models.StageInProgress:
			stage.StartTime = &now
		case models.StageCompleted:
			stage.Progress = 100
			stage.EndTime = &now
		case models.StageFailed, models.StageSkipped:
			stage.EndTime = &now
			stage.Error = errText
		}
		if status != models.StageInProgress {
			if cp := checkpoint(name); cp > s.Progress {
				s.Progress = cp
			}
		}
		s.UpdatedAt = now
		return nil
	})
	return err
}

// failSession marks the session failed with progress reset. When stage is
// set, that stage carries the error.
func (m *Manager) failSession(sessionID string, stage models.StageName, cause error) {
	_, err := m.deps.Sessions.Update(sessionID, func(s *models.ProcessingSession) error {
		if s.Status.IsTerminal() {
			return ErrSessionFinished
		}
		now := time.Now().UTC()
		if st := s.Stage(stage); st != nil && st.Status == models.StageInProgress {
			st.Status = models.StageFailed
			st.EndTime = &now
			st.Error = cause.Error()
		}
		s.Status = models.StatusFailed
		s.Progress = 0
		s.Error = cause.Error()
		s.EstimatedCompletion = nil
		s.UpdatedAt = now
		return nil
	})
	if err != nil && !errors.Is(err, ErrSessionFinished) {
		m.log.WithSession(sessionID).WithError(err).Error("failed to mark session failed")
	}
}

// complete persists the bundle and only then reports the session completed,
// so artifact reads never see a completed session without results.
func (m *Manager) complete(run *hearingRun) error {
	session, err := m.deps.Sessions.Get(run.sessionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	bundle := &models.ResultBundle{
		SessionID:       run.sessionID,
		CaseID:          session.CaseID,
		HearingDate:     run.request.HearingDate,
		Participants:    run.request.Participants,
		Transcript:      run.transcript,
		Judgment:        run.judgment,
		Analysis:        run.analysis,
		PDFRef:          run.pdfRef,
		CalendarEventID: run.eventID,
		CompletedAt:     now,
	}
	if err := m.deps.Results.SaveBundle(bundle); err != nil {
		return err
	}

	_, err = m.deps.Sessions.Update(run.sessionID, func(s *models.ProcessingSession) error {
		if !isValidSessionTransition(s.Status, models.StatusCompleted) {
			return fmt.Errorf("invalid transition: %s -> %s", s.Status, models.StatusCompleted)
		}
		s.Status = models.StatusCompleted
		s.Progress = completedProgress
		s.EstimatedCompletion = &now
		s.UpdatedAt = now
		return nil
	})
	return err
}

// discardArtifacts removes documents already written for a run that will not
// complete. It runs before the session is reported failed.
func (m *Manager) discardArtifacts(run *hearingRun) {
	if run.pdfRef == "" {
		return
	}
	if err := m.deps.PDF.Discard(run.pdfRef); err != nil {
		m.log.WithSession(run.sessionID).WithError(err).Warn("failed to discard judgment document")
		return
	}
	run.pdfRef = ""
}

// refineEstimate replaces the configured estimate once the audio length is known.
func (m *Manager) refineEstimate(sessionID string, audioSeconds float64) {
	m.deps.Sessions.Update(sessionID, func(s *models.ProcessingSession) error {
		eta := time.Now().UTC().Add(time.Duration(audioSeconds*realtimeFactor*float64(time.Second)) + fixedOverhead)
		s.EstimatedCompletion = &eta
		return nil
	})
}

func cancelCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, errCancelled) {
		return errCancelled
	}
	return errShutdown
}
