package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hearing-processor/pkg/analysis"
	"hearing-processor/pkg/artifacts"
	"hearing-processor/pkg/config"
	"hearing-processor/pkg/logger"
	"hearing-processor/pkg/media"
	"hearing-processor/pkg/models"
	"hearing-processor/pkg/speakers"
	"hearing-processor/pkg/storage"
	"hearing-processor/pkg/transcription"
)

// fakeExtractor writes a placeholder asset. When gate is set it waits for
// the gate or the context before doing so.
type fakeExtractor struct {
	gate chan struct{}
	err  error
}

func (f *fakeExtractor) Extract(ctx context.Context, source, workDir string) (*media.AudioAsset, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	path := filepath.Join(workDir, "normalized-16k-mono.wav")
	if err := os.WriteFile(path, []byte("pcm"), 0o644); err != nil {
		return nil, err
	}
	return &media.AudioAsset{Path: path, SizeBytes: 3, DurationSeconds: 60, SampleRate: 16000}, nil
}

// stubSTT returns n fixed segments for every chunk.
type stubSTT struct{ n int }

func (s stubSTT) Name() string { return "stub-stt" }

func (s stubSTT) Transcribe(ctx context.Context, req transcription.ChunkRequest) (*transcription.Result, error) {
	res := &transcription.Result{Language: "en", Segments: []transcription.Segment{}}
	for i := 0; i < s.n; i++ {
		res.Segments = append(res.Segments, transcription.Segment{
			Start: float64(i * 10), End: float64(i*10 + 10), Text: "statement",
		})
	}
	return res, nil
}

// failingGenerator fails every text-generation call.
type failingGenerator struct{}

func (failingGenerator) Name() string { return "failing" }

func (failingGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("gateway exploded")
}

type failingRenderer struct{}

func (failingRenderer) Render(ctx context.Context, doc artifacts.JudgmentDocument) (string, error) {
	return "", &models.ArtifactGenerationError{Stage: models.StagePDFGeneration, Err: errors.New("disk full")}
}

func (failingRenderer) Discard(ref string) error { return nil }

// failingScheduler rejects every calendar event.
type failingScheduler struct{}

func (failingScheduler) Schedule(ctx context.Context, event artifacts.Event) (string, error) {
	return "", &models.ArtifactGenerationError{Stage: models.StageCalendarIntegration, Err: errors.New("calendar offline")}
}

type testEnv struct {
	manager  *Manager
	results  storage.ResultStore
	workDir  string
	calendar *artifacts.SQLiteCalendar
	blobs    *artifacts.BlobStore
}

type envOption func(*config.PipelineConfig, *Deps)

func withGenerator(gen analysis.Generator) envOption {
	return func(_ *config.PipelineConfig, d *Deps) {
		d.Judgments = analysis.NewJudgmentExtractor(gen, nil, d.Logger)
		d.Probability = analysis.NewProbabilityAnalyzer(gen, nil, d.Logger)
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	results, err := storage.NewDiskStore("")
	if err != nil {
		t.Fatalf("result store: %v", err)
	}
	blobs, err := artifacts.NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cal, err := artifacts.OpenSQLiteCalendar(":memory:")
	if err != nil {
		t.Fatal(err)
	}

	log := logger.Discard()
	gen := analysis.NewMockGenerator("2024-02-15")
	cfg := config.PipelineConfig{
		Workers:           2,
		QueueSize:         10,
		EstimatedDuration: time.Minute,
		WorkDir:           t.TempDir(),
	}
	deps := Deps{
		Sessions:    storage.NewMemoryStore(),
		Results:     results,
		Extractor:   &fakeExtractor{},
		Chunker:     media.NewChunker(20<<20, 300),
		Transcriber: transcription.NewTranscriber(stubSTT{n: 5}, nil),
		Speakers:    speakers.NewRoundRobin(),
		Judgments:   analysis.NewJudgmentExtractor(gen, nil, log),
		Probability: analysis.NewProbabilityAnalyzer(gen, nil, log),
		PDF:         artifacts.NewPDFRenderer(blobs),
		Calendar:    cal,
		Logger:      log,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	m := NewManager(cfg, deps)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		m.Stop()
		results.Close()
		cal.Close()
	})
	return &testEnv{manager: m, results: results, workDir: cfg.WorkDir, calendar: cal, blobs: blobs}
}

func sampleRequest() models.ProcessRequest {
	return models.ProcessRequest{
		MediaURL:    "sample.mp4",
		CaseID:      "CASE_1",
		HearingDate: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Participants: []models.Participant{
			{ID: "j1", Name: "Judge A", Role: models.RoleJudge},
			{ID: "p1", Name: "Atty B", Role: models.RoleLawyerPlaintiff},
		},
	}
}

func waitFor(t *testing.T, m *Manager, id string, done func(*models.ProcessingSession) bool) *models.ProcessingSession {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		s, err := m.Status(id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if done(s) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	s, _ := m.Status(id)
	t.Fatalf("timed out waiting for session %s: %+v", id, s)
	return nil
}

func waitTerminal(t *testing.T, m *Manager, id string) *models.ProcessingSession {
	t.Helper()
	return waitFor(t, m, id, func(s *models.ProcessingSession) bool { return s.Status.IsTerminal() })
}

func TestStageTableMatchesStageOrder(t *testing.T) {
	if len(stageTable) != len(models.StageOrder) {
		t.Fatalf("table has %d stages, want %d", len(stageTable), len(models.StageOrder))
	}
	prev := 0
	for i, s := range stageTable {
		if s.stage != models.StageOrder[i] {
			t.Errorf("stage %d = %s, want %s", i, s.stage, models.StageOrder[i])
		}
		if s.checkpoint <= prev || s.checkpoint >= completedProgress {
			t.Errorf("checkpoint for %s = %d is not strictly increasing below 100", s.stage, s.checkpoint)
		}
		prev = s.checkpoint
	}
}

func TestStageTransitions(t *testing.T) {
	tests := []struct {
		from, to models.StageStatus
		want     bool
	}{
		{models.StagePending, models.StageInProgress, true},
		{models.StagePending, models.StageCompleted, false},
		{models.StageInProgress, models.StageCompleted, true},
		{models.StageInProgress, models.StageSkipped, true},
		{models.StageCompleted, models.StageInProgress, false},
		{models.StageFailed, models.StageCompleted, false},
	}
	for _, tt := range tests {
		if got := isValidStageTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSubmitRejectsMissingMedia(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.manager.Submit(models.ProcessRequest{CaseID: "c"}); !errors.Is(err, ErrMissingMedia) {
		t.Fatalf("err = %v, want ErrMissingMedia", err)
	}
	if n := len(env.manager.Sessions(0)); n != 0 {
		t.Errorf("sessions = %d, want none registered", n)
	}
}

// TestStatusImmediatelyAfterSubmit verifies a queued session exposes seven pending stages.
func TestStatusImmediatelyAfterSubmit(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, func(c *config.PipelineConfig, d *Deps) {
		c.Workers = 1
		d.Extractor = &fakeExtractor{gate: gate}
	})
	defer close(gate)

	// occupy the only worker so the next session stays queued
	first, err := env.manager.Submit(sampleRequest())
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, env.manager, first.ID, func(s *models.ProcessingSession) bool { return s.Status == models.StatusProcessing })

	second, err := env.manager.Submit(sampleRequest())
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []*models.ProcessingSession{second, mustStatus(t, env.manager, second.ID)} {
		if s.Status != models.StatusQueued || s.Progress != 0 {
			t.Errorf("session = %s/%d, want queued/0", s.Status, s.Progress)
		}
		if len(s.Stages) != 7 {
			t.Fatalf("stages = %d, want 7", len(s.Stages))
		}
		for _, st := range s.Stages {
			if st.Status != models.StagePending {
				t.Errorf("stage %s = %s, want pending", st.Name, st.Status)
			}
		}
	}
}

func mustStatus(t *testing.T, m *Manager, id string) *models.ProcessingSession {
	t.Helper()
	s, err := m.Status(id)
	if err != nil {
		t.Fatalf("Status(%s): %v", id, err)
	}
	return s
}

// TestCompletedSessionScenario runs the full hearing with two participants.
func TestCompletedSessionScenario(t *testing.T) {
	env := newTestEnv(t)
	session, err := env.manager.Submit(sampleRequest())
	if err != nil {
		t.Fatal(err)
	}

	final := waitTerminal(t, env.manager, session.ID)
	if final.Status != models.StatusCompleted || final.Progress != 100 {
		t.Fatalf("final = %s/%d (%s), want completed/100", final.Status, final.Progress, final.Error)
	}

	bundle, err := env.manager.Result(session.ID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if bundle.Transcript == nil || len(bundle.Transcript.Segments) != 5 {
		t.Fatalf("transcript = %+v", bundle.Transcript)
	}
	for _, seg := range bundle.Transcript.Segments {
		if seg.SpeakerID != "j1" && seg.SpeakerID != "p1" {
			t.Errorf("segment speaker = %q, want j1 or p1", seg.SpeakerID)
		}
	}
	if bundle.PDFRef != artifacts.PDFKey(session.ID) {
		t.Errorf("pdf ref = %q", bundle.PDFRef)
	}
	if bundle.CalendarEventID == "" {
		t.Error("expected a calendar event for the next hearing date")
	}
	events, err := env.calendar.EventsForCase(context.Background(), "CASE_1")
	if err != nil || len(events) != 1 {
		t.Errorf("calendar events = %v, %v", events, err)
	}
	if bundle.Judgment == nil || len(bundle.Judgment.Points) == 0 {
		t.Errorf("judgment = %+v", bundle.Judgment)
	}
	if !bundle.Transcript.Segments[4].IsJudgment {
		t.Error("segment containing a judgment point should be flagged")
	}
}

// TestStageTimestampsAreOrdered verifies adjacent stages never overlap.
func TestStageTimestampsAreOrdered(t *testing.T) {
	env := newTestEnv(t)
	session, _ := env.manager.Submit(sampleRequest())
	final := waitTerminal(t, env.manager, session.ID)

	for i, st := range final.Stages {
		if st.StartTime == nil || st.EndTime == nil {
			t.Fatalf("stage %s missing times", st.Name)
		}
		if st.EndTime.Before(*st.StartTime) {
			t.Errorf("stage %s ends before it starts", st.Name)
		}
		if i > 0 && st.StartTime.Before(*final.Stages[i-1].EndTime) {
			t.Errorf("stage %s started before %s ended", st.Name, final.Stages[i-1].Name)
		}
	}
}

func TestStatusSnapshotsAreIdentical(t *testing.T) {
	env := newTestEnv(t)
	session, _ := env.manager.Submit(sampleRequest())
	waitTerminal(t, env.manager, session.ID)

	a, _ := json.Marshal(mustStatus(t, env.manager, session.ID))
	b, _ := json.Marshal(mustStatus(t, env.manager, session.ID))
	if string(a) != string(b) {
		t.Errorf("snapshots differ:\n%s\n%s", a, b)
	}
}

func TestZeroSegmentsStillCompletes(t *testing.T) {
	env := newTestEnv(t, func(_ *config.PipelineConfig, d *Deps) {
		d.Transcriber = transcription.NewTranscriber(stubSTT{n: 0}, nil)
	})
	session, _ := env.manager.Submit(sampleRequest())
	final := waitTerminal(t, env.manager, session.ID)

	if final.Status != models.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", final.Status, final.Error)
	}
	bundle, err := env.manager.Result(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if bundle.Transcript.Segments == nil || len(bundle.Transcript.Segments) != 0 {
		t.Errorf("segments = %#v, want empty list", bundle.Transcript.Segments)
	}
	if st := final.Stage(models.StageCalendarIntegration); st.Status != models.StageSkipped {
		t.Errorf("calendar stage = %s, want skipped", st.Status)
	}
}

// TestGenerationFailureLeavesNoArtifacts verifies a failed provider call fails the session.
func TestGenerationFailureLeavesNoArtifacts(t *testing.T) {
	env := newTestEnv(t, withGenerator(failingGenerator{}))
	session, _ := env.manager.Submit(sampleRequest())
	final := waitTerminal(t, env.manager, session.ID)

	if final.Status != models.StatusFailed || final.Progress != 0 {
		t.Fatalf("final = %s/%d, want failed/0", final.Status, final.Progress)
	}
	judgment := final.Stage(models.StageJudgmentExtraction)
	if judgment.Status != models.StageFailed || !strings.Contains(judgment.Error, "gateway exploded") {
		t.Errorf("judgment stage = %+v", judgment)
	}
	for _, name := range []models.StageName{models.StageProbabilityAnalysis, models.StagePDFGeneration, models.StageCalendarIntegration} {
		if st := final.Stage(name); st.Status != models.StagePending {
			t.Errorf("stage %s = %s, want untouched", name, st.Status)
		}
	}
	if _, err := env.manager.Result(session.ID); !errors.Is(err, storage.ErrResultNotFound) {
		t.Errorf("Result err = %v, want ErrResultNotFound", err)
	}
}

func TestMediaDecodeErrorFailsExtraction(t *testing.T) {
	env := newTestEnv(t, func(_ *config.PipelineConfig, d *Deps) {
		d.Extractor = &fakeExtractor{err: &models.MediaDecodeError{Source: "sample.mp4", Message: "invalid data found"}}
	})
	session, _ := env.manager.Submit(sampleRequest())
	final := waitTerminal(t, env.manager, session.ID)

	if final.Status != models.StatusFailed {
		t.Fatalf("status = %s", final.Status)
	}
	if st := final.Stage(models.StageExtraction); st.Status != models.StageFailed || st.Error == "" {
		t.Errorf("extraction stage = %+v", st)
	}
	if final.Error == "" {
		t.Error("session error should carry the cause")
	}
}

func TestArtifactFailureIsFatalByDefault(t *testing.T) {
	env := newTestEnv(t, func(_ *config.PipelineConfig, d *Deps) {
		d.PDF = failingRenderer{}
	})
	session, _ := env.manager.Submit(sampleRequest())
	final := waitTerminal(t, env.manager, session.ID)

	if final.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if _, err := env.manager.Result(session.ID); !errors.Is(err, storage.ErrResultNotFound) {
		t.Errorf("Result err = %v", err)
	}
}

// TestFailedSessionDiscardsDocument verifies a PDF rendered before a later
// failure does not outlive the session.
func TestFailedSessionDiscardsDocument(t *testing.T) {
	env := newTestEnv(t, func(_ *config.PipelineConfig, d *Deps) {
		d.Calendar = failingScheduler{}
	})
	session, _ := env.manager.Submit(sampleRequest())
	final := waitTerminal(t, env.manager, session.ID)

	if final.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if st := final.Stage(models.StagePDFGeneration); st.Status != models.StageCompleted {
		t.Fatalf("pdf stage = %s, want completed before the calendar failure", st.Status)
	}
	if _, err := env.blobs.Get(artifacts.PDFKey(session.ID)); !errors.Is(err, artifacts.ErrBlobNotFound) {
		t.Errorf("document err = %v, want ErrBlobNotFound", err)
	}
}

func TestCompletedSessionKeepsDocument(t *testing.T) {
	env := newTestEnv(t)
	session, _ := env.manager.Submit(sampleRequest())
	waitTerminal(t, env.manager, session.ID)

	data, err := env.blobs.Get(artifacts.PDFKey(session.ID))
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if !strings.HasPrefix(string(data), "%PDF-") {
		t.Errorf("document does not look like a PDF")
	}
}

func TestBestEffortArtifactsStillComplete(t *testing.T) {
	env := newTestEnv(t, func(c *config.PipelineConfig, d *Deps) {
		c.BestEffortArtifacts = true
		d.PDF = failingRenderer{}
	})
	session, _ := env.manager.Submit(sampleRequest())
	final := waitTerminal(t, env.manager, session.ID)

	if final.Status != models.StatusCompleted || final.Progress != 100 {
		t.Fatalf("final = %s/%d, want completed/100", final.Status, final.Progress)
	}
	if st := final.Stage(models.StagePDFGeneration); st.Status != models.StageFailed || !strings.Contains(st.Error, "disk full") {
		t.Errorf("pdf stage = %+v", st)
	}
	bundle, err := env.manager.Result(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if bundle.PDFRef != "" {
		t.Errorf("pdf ref = %q, want empty", bundle.PDFRef)
	}
}

func TestCancelStopsAtCheckpoint(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, func(_ *config.PipelineConfig, d *Deps) {
		d.Extractor = &fakeExtractor{gate: gate}
	})
	defer close(gate)

	session, _ := env.manager.Submit(sampleRequest())
	waitFor(t, env.manager, session.ID, func(s *models.ProcessingSession) bool {
		return s.Stage(models.StageExtraction).Status == models.StageInProgress
	})

	if err := env.manager.Cancel(session.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	final := waitTerminal(t, env.manager, session.ID)
	if final.Status != models.StatusFailed || final.Error != "processing cancelled" {
		t.Fatalf("final = %s (%q)", final.Status, final.Error)
	}
	if st := final.Stage(models.StageTranscription); st.Status != models.StagePending {
		t.Errorf("transcription = %s, want pending", st.Status)
	}

	if err := env.manager.Cancel(session.ID); !errors.Is(err, ErrSessionFinished) {
		t.Errorf("second cancel = %v, want ErrSessionFinished", err)
	}
	if err := env.manager.Cancel("missing"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("cancel missing = %v", err)
	}
}

// gatedResults blocks SaveBundle until release is closed.
type gatedResults struct {
	storage.ResultStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedResults) SaveBundle(bundle *models.ResultBundle) error {
	close(g.entered)
	<-g.release
	return g.ResultStore.SaveBundle(bundle)
}

// TestCancelWhilePersistingIsRejected verifies a session whose stages all ran
// can no longer be cancelled and still completes.
func TestCancelWhilePersistingIsRejected(t *testing.T) {
	gate := &gatedResults{entered: make(chan struct{}), release: make(chan struct{})}
	env := newTestEnv(t, func(_ *config.PipelineConfig, d *Deps) {
		gate.ResultStore = d.Results
		d.Results = gate
	})

	session, _ := env.manager.Submit(sampleRequest())
	select {
	case <-gate.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("results were never persisted")
	}

	err := env.manager.Cancel(session.ID)
	close(gate.release)
	if !errors.Is(err, ErrSessionFinished) {
		t.Errorf("Cancel = %v, want ErrSessionFinished", err)
	}

	final := waitTerminal(t, env.manager, session.ID)
	if final.Status != models.StatusCompleted || final.Error != "" {
		t.Fatalf("final = %s (%q), want completed", final.Status, final.Error)
	}
}

func TestQueueFullRejectsSession(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, func(c *config.PipelineConfig, d *Deps) {
		c.Workers = 1
		c.QueueSize = 1
		d.Extractor = &fakeExtractor{gate: gate}
	})
	defer close(gate)

	first, _ := env.manager.Submit(sampleRequest())
	waitFor(t, env.manager, first.ID, func(s *models.ProcessingSession) bool { return s.Status == models.StatusProcessing })
	if _, err := env.manager.Submit(sampleRequest()); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	_, err := env.manager.Submit(sampleRequest())
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if n := len(env.manager.Sessions(0)); n != 2 {
		t.Errorf("sessions = %d, want rejected session removed", n)
	}
}

func TestStopFailsQueuedSessions(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, func(c *config.PipelineConfig, d *Deps) {
		c.Workers = 1
		d.Extractor = &fakeExtractor{gate: gate}
	})
	defer close(gate)

	first, _ := env.manager.Submit(sampleRequest())
	waitFor(t, env.manager, first.ID, func(s *models.ProcessingSession) bool { return s.Status == models.StatusProcessing })
	queued, _ := env.manager.Submit(sampleRequest())

	env.manager.Stop()

	for _, id := range []string{first.ID, queued.ID} {
		s := mustStatus(t, env.manager, id)
		if s.Status != models.StatusFailed || s.Error != "pipeline shutting down" {
			t.Errorf("session %s = %s (%q)", id, s.Status, s.Error)
		}
	}
	if _, err := env.manager.Submit(sampleRequest()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("submit after stop = %v", err)
	}
}

func TestWorkDirIsRemoved(t *testing.T) {
	env := newTestEnv(t)
	session, _ := env.manager.Submit(sampleRequest())
	waitTerminal(t, env.manager, session.ID)

	// the deferred cleanup runs after the final status update
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := os.ReadDir(env.workDir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("session work dir was not removed")
}
