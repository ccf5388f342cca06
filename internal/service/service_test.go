package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/audiolibrelab/fluentdrill/internal/assessment"
	"github.com/audiolibrelab/fluentdrill/internal/audio/audiotest"
	"github.com/audiolibrelab/fluentdrill/internal/config"
	"github.com/audiolibrelab/fluentdrill/internal/errors"
	"github.com/audiolibrelab/fluentdrill/internal/exercise"
	"github.com/audiolibrelab/fluentdrill/internal/practice"
)

type stubAssessor struct {
	reference string
	err       error
}

func (a *stubAssessor) Submit(ctx context.Context, audio []byte, referenceText, languageCode string) (*assessment.Result, error) {
	a.reference = referenceText
	if a.err != nil {
		return nil, a.err
	}
	return &assessment.Result{Overall: assessment.OverallScores{Accuracy: 70, Pronunciation: 72}}, nil
}

// gatedAssessor holds every scoring call until release is closed.
type gatedAssessor struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newGatedAssessor() *gatedAssessor {
	return &gatedAssessor{started: make(chan struct{}, 4), release: make(chan struct{})}
}

func (a *gatedAssessor) Submit(ctx context.Context, audio []byte, referenceText, languageCode string) (*assessment.Result, error) {
	a.calls.Add(1)
	a.started <- struct{}{}
	<-a.release
	return &assessment.Result{Overall: assessment.OverallScores{Accuracy: 64, Pronunciation: 60}}, nil
}

func writeSetFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "set.yaml")
	content := `topic: greetings
difficulty: beginner
language: Japanese (Japan)
exercises:
  - native: こんにちは
    romanized: konnichiwa
    translation: hello
  - native: さようなら
    romanized: sayounara
    translation: goodbye
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write set file: %v", err)
	}
	return path
}

func newTestService(t *testing.T, assessor practice.Assessor) Service {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}

	svc := New(cfg, Options{
		Generator: exercise.NewFileGenerator(writeSetFile(t)),
		Assessor:  assessor,
		Devices: practice.Devices{
			Input:        &audiotest.Microphone{Chunks: [][]byte{[]byte("take")}},
			Output:       &audiotest.Speaker{Duration: 2},
			CaptureTick:  5 * time.Millisecond,
			PollInterval: 2 * time.Millisecond,
		},
	})
	t.Cleanup(svc.Close)
	return svc
}

func TestService_GenerateAndView(t *testing.T) {
	svc := newTestService(t, &stubAssessor{})

	set, err := svc.GenerateExercises(context.Background(), exercise.Request{Topic: "saludos"})
	if err != nil {
		t.Fatalf("Expected generation to succeed, got %v", err)
	}
	if set.Len() != 2 || set.Topic != "saludos" {
		t.Errorf("Unexpected set: %+v", set)
	}

	view, err := svc.View()
	if err != nil {
		t.Fatalf("Expected view, got %v", err)
	}
	if view.Index != 0 || view.Total != 2 || view.Reference != "konnichiwa" || !view.Romanized {
		t.Errorf("Unexpected view: %+v", view)
	}

	svc.SetRomanized(false)
	view, _ = svc.View()
	if view.Reference != "こんにちは" {
		t.Errorf("Expected native reference after toggle, got %q", view.Reference)
	}
}

func TestService_CommandErrorsAreReturnedOnly(t *testing.T) {
	svc := newTestService(t, &stubAssessor{})
	ctx := context.Background()
	svc.GenerateExercises(ctx, exercise.Request{})

	if err := svc.Previous(); !errors.HasCode(err, errors.ErrOutOfRange) {
		t.Fatalf("Expected out of range, got %v", err)
	}
	if err := svc.EndCapture(); !errors.HasCode(err, errors.ErrInvalidState) {
		t.Fatalf("Expected invalid state, got %v", err)
	}
	if _, err := svc.Submit(ctx); !errors.HasCode(err, errors.ErrInvalidState) {
		t.Fatalf("Expected invalid state, got %v", err)
	}

	view, _ := svc.View()
	if view.Notice != nil {
		t.Errorf("Expected returned errors not to be repeated as a notice, got %+v", view.Notice)
	}
}

func TestService_NoticeIsOneShot(t *testing.T) {
	svc := newTestService(t, &stubAssessor{err: fmt.Errorf("service down")})
	ctx := context.Background()
	svc.GenerateExercises(ctx, exercise.Request{})
	svc.BeginCapture(ctx)
	svc.EndCapture()

	if _, err := svc.SubmitAsync(); err != nil {
		t.Fatalf("Expected async submit to start, got %v", err)
	}

	var notice *Notice
	deadline := time.Now().Add(2 * time.Second)
	for notice == nil && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
		view, err := svc.View()
		if err != nil {
			t.Fatalf("Expected view, got %v", err)
		}
		notice = view.Notice
	}
	if notice == nil || notice.Code != errors.ErrAssessmentService {
		t.Fatalf("Expected assessment notice, got %+v", notice)
	}

	view, _ := svc.View()
	if view.Notice != nil {
		t.Errorf("Expected notice consumed, got %+v", view.Notice)
	}
}

func TestService_SubmitUsesDisplayedForm(t *testing.T) {
	assessor := &stubAssessor{}
	svc := newTestService(t, assessor)
	ctx := context.Background()
	svc.GenerateExercises(ctx, exercise.Request{})

	svc.SetRomanized(false)
	svc.BeginCapture(ctx)
	svc.EndCapture()

	result, err := svc.Submit(ctx)
	if err != nil {
		t.Fatalf("Expected submit to succeed, got %v", err)
	}
	if result.Overall.Accuracy != 70 || assessor.reference != "こんにちは" {
		t.Errorf("Unexpected submission: result=%+v reference=%q", result, assessor.reference)
	}
}

func TestService_SubmitAsync(t *testing.T) {
	svc := newTestService(t, &stubAssessor{err: fmt.Errorf("service down")})
	ctx := context.Background()
	svc.GenerateExercises(ctx, exercise.Request{})

	if _, err := svc.SubmitAsync(); !errors.HasCode(err, errors.ErrInvalidState) {
		t.Errorf("Expected invalid state before recording, got %v", err)
	}
	if notice := svc.GetLastError(); notice != nil {
		t.Errorf("Expected rejected submit not to leave a notice, got %+v", notice)
	}

	svc.BeginCapture(ctx)
	svc.EndCapture()

	index, err := svc.SubmitAsync()
	if err != nil || index != 0 {
		t.Fatalf("Expected async submit to start on index 0, got %d (%v)", index, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var notice *Notice
	for notice == nil && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
		if svc.Sessions()[0].State == practice.StateRecorded {
			notice = svc.GetLastError()
		}
	}
	if notice == nil || notice.Code != errors.ErrAssessmentService {
		t.Errorf("Expected assessment notice after failed background submit, got %+v", notice)
	}
	if svc.Sessions()[0].AudioBytes == 0 {
		t.Error("Expected take kept after failed submission")
	}
}

func TestService_SubmitAsyncTwiceScoresOnce(t *testing.T) {
	assessor := newGatedAssessor()
	svc := newTestService(t, assessor)
	ctx := context.Background()
	svc.GenerateExercises(ctx, exercise.Request{})
	svc.BeginCapture(ctx)
	svc.EndCapture()

	if _, err := svc.SubmitAsync(); err != nil {
		t.Fatalf("Expected first submit accepted, got %v", err)
	}
	if _, err := svc.SubmitAsync(); !errors.HasCode(err, errors.ErrInvalidState) {
		t.Errorf("Expected second submit rejected while the first runs, got %v", err)
	}
	if state := svc.Sessions()[0].State; state != practice.StateSubmitting {
		t.Errorf("Expected submitting right after the accepted submit, got %s", state)
	}

	<-assessor.started
	close(assessor.release)
	waitForState(t, svc, 0, practice.StateCompleted)

	if n := assessor.calls.Load(); n != 1 {
		t.Errorf("Expected exactly one scoring call, got %d", n)
	}
	if notice := svc.GetLastError(); notice != nil {
		t.Errorf("Expected no notice after a rejected duplicate submit, got %+v", notice)
	}
}

func TestService_LateResultAfterReplaceLeavesNoNotice(t *testing.T) {
	assessor := newGatedAssessor()
	svc := newTestService(t, assessor)
	ctx := context.Background()
	svc.GenerateExercises(ctx, exercise.Request{})
	svc.BeginCapture(ctx)
	svc.EndCapture()

	if _, err := svc.SubmitAsync(); err != nil {
		t.Fatalf("Expected submit accepted, got %v", err)
	}
	<-assessor.started

	if _, err := svc.GenerateExercises(ctx, exercise.Request{Topic: "comida"}); err != nil {
		t.Fatalf("Expected replacement set, got %v", err)
	}
	close(assessor.release)
	svc.(*FluentDrillService).pending.Wait()

	view, err := svc.View()
	if err != nil {
		t.Fatalf("Expected view of the new set, got %v", err)
	}
	if view.Notice != nil {
		t.Errorf("Expected no notice from the replaced set, got %+v", view.Notice)
	}
	if view.Topic != "comida" || view.Session.State != practice.StateIdle || view.Session.Assessment != nil {
		t.Errorf("Expected new set untouched, got %+v", view)
	}
}

func waitForState(t *testing.T, svc Service, index int, state practice.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Sessions()[index].State == state {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for exercise %d to be %s", index, state)
}

func TestNewGenerator(t *testing.T) {
	if _, err := NewGenerator(config.GenerationConfig{Provider: "openai"}); !errors.HasCode(err, errors.ErrValidation) {
		t.Errorf("Expected validation error without api key, got %v", err)
	}
	if _, err := NewGenerator(config.GenerationConfig{Provider: "llama"}); !errors.HasCode(err, errors.ErrValidation) {
		t.Errorf("Expected validation error for unknown provider, got %v", err)
	}
	gen, err := NewGenerator(config.GenerationConfig{Provider: "file", ExercisesFile: "x.yaml"})
	if err != nil {
		t.Fatalf("Expected file generator, got %v", err)
	}
	if _, ok := gen.(*exercise.FileGenerator); !ok {
		t.Errorf("Expected *exercise.FileGenerator, got %T", gen)
	}
}
