package storage

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"hearing-processor/pkg/models"
)

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	session := models.NewProcessingSession("CASE_1")
	if err := store.Create(session); err != nil {
		t.Fatal(err)
	}

	got, _ := store.Get(session.ID)
	got.Status = models.StatusFailed
	got.Stages[0].Status = models.StageFailed

	again, _ := store.Get(session.ID)
	if again.Status != models.StatusQueued || again.Stages[0].Status != models.StagePending {
		t.Fatalf("store was mutated through a snapshot: %+v", again)
	}
}

func TestMemoryStoreSnapshotsAreStable(t *testing.T) {
	store := NewMemoryStore()
	session := models.NewProcessingSession("CASE_1")
	store.Create(session)

	a, _ := store.Get(session.ID)
	b, _ := store.Get(session.ID)
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Errorf("snapshots differ:\n%s\n%s", ja, jb)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := NewMemoryStore()
	session := models.NewProcessingSession("CASE_1")
	store.Create(session)

	updated, err := store.Update(session.ID, func(s *models.ProcessingSession) error {
		s.Status = models.StatusProcessing
		s.Progress = 10
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Progress != 10 {
		t.Errorf("returned progress = %d", updated.Progress)
	}

	rejected := errors.New("rejected")
	_, err = store.Update(session.ID, func(s *models.ProcessingSession) error {
		s.Progress = 99
		return rejected
	})
	if !errors.Is(err, rejected) {
		t.Fatalf("err = %v, want rejected", err)
	}
	got, _ := store.Get(session.ID)
	if got.Progress != 10 {
		t.Errorf("progress = %d, failed update must not apply", got.Progress)
	}

	if _, err := store.Update("missing", func(*models.ProcessingSession) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestMemoryStoreCreateDuplicate(t *testing.T) {
	store := NewMemoryStore()
	session := models.NewProcessingSession("CASE_1")
	store.Create(session)
	if err := store.Create(session); !errors.Is(err, ErrSessionExists) {
		t.Errorf("err = %v, want ErrSessionExists", err)
	}
}

func TestMemoryStoreListAndDelete(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		s := models.NewProcessingSession("CASE")
		s.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		store.Create(s)
		ids = append(ids, s.ID)
	}

	list := store.List(2)
	if len(list) != 2 || list[0].ID != ids[2] || list[1].ID != ids[1] {
		t.Fatalf("list order wrong: %v", list)
	}
	if all := store.List(0); len(all) != 3 {
		t.Errorf("List(0) = %d sessions, want 3", len(all))
	}

	if err := store.Delete(ids[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ids[0]); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("get after delete = %v", err)
	}
	if err := store.Delete(ids[0]); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second delete = %v", err)
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	session := models.NewProcessingSession("CASE_1")
	store.Create(session)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Update(session.ID, func(s *models.ProcessingSession) error {
				s.Progress++
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			store.Get(session.ID)
		}()
	}
	wg.Wait()

	got, _ := store.Get(session.ID)
	if got.Progress != 50 {
		t.Errorf("progress = %d, want 50", got.Progress)
	}
}

func TestDiskStoreBundles(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	defer store.Close()

	bundle := &models.ResultBundle{
		SessionID:  "s1",
		CaseID:     "CASE_1",
		Transcript: &models.Transcript{ID: "t1", Segments: []models.Segment{{Start: 1, End: 2, SpeakerID: "j1", Text: "hello"}}},
		PDFRef:     "pdf/s1.pdf",
	}
	if err := store.SaveBundle(bundle); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}

	got, err := store.GetBundle("s1")
	if err != nil {
		t.Fatalf("GetBundle: %v", err)
	}
	if got.CaseID != "CASE_1" || got.Transcript.Segments[0].SpeakerID != "j1" || got.PDFRef != "pdf/s1.pdf" {
		t.Errorf("bundle = %+v", got)
	}

	if _, err := store.GetBundle("missing"); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("err = %v, want ErrResultNotFound", err)
	}
}

func TestDiskStoreInMemory(t *testing.T) {
	store, err := NewDiskStore("")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if err := store.SaveBundle(&models.ResultBundle{SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetBundle("s1"); err != nil {
		t.Errorf("GetBundle: %v", err)
	}
}
