package assessment

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/fluentdrill/internal/errors"
)

const fullResponse = `{
  "overall": {"accuracy": 85, "completeness": 90, "fluency": 80, "pronunciation": 88, "prosody": 75},
  "words": [
    {"word": "hello", "word_accuracy": 92, "phoneme_scores": [{"phoneme": "h", "score": 95}], "feedback": {"word_tip": "stress second syllable", "phonemes": []}},
    {"word": "world", "word_accuracy": 60, "phoneme_scores": [], "feedback": {"error": "Feedback unavailable"}},
    {"word": "again", "word_accuracy": 97, "feedback": null}
  ]
}`

func newScoringServer(t *testing.T, status int, body string, inspect func(r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
}

func TestSubmit_Success(t *testing.T) {
	audio := []byte("webm-bytes")

	server := newScoringServer(t, http.StatusOK, fullResponse, func(r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Expected multipart body, got %v", err)
			return
		}
		if r.FormValue("reference_text") != "hello world again" {
			t.Errorf("Unexpected reference_text: %q", r.FormValue("reference_text"))
		}
		if r.FormValue("language") != "en-US" {
			t.Errorf("Unexpected language: %q", r.FormValue("language"))
		}
		file, header, err := r.FormFile("audio_file")
		if err != nil {
			t.Errorf("Expected audio_file part, got %v", err)
			return
		}
		defer file.Close()
		if header.Header.Get("Content-Type") != "audio/webm" {
			t.Errorf("Expected audio/webm, got %q", header.Header.Get("Content-Type"))
		}
		if !strings.HasPrefix(header.Filename, "recording-") || !strings.HasSuffix(header.Filename, ".webm") {
			t.Errorf("Unexpected filename %q", header.Filename)
		}
		got, _ := io.ReadAll(file)
		if !bytes.Equal(got, audio) {
			t.Errorf("Audio payload mismatch: %q", got)
		}
	})
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	result, err := client.Submit(context.Background(), audio, "hello world again", "en-US")
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}

	if result.Overall.Accuracy != 85 || result.Overall.Prosody != 75 {
		t.Errorf("Unexpected overall scores: %+v", result.Overall)
	}
	if len(result.Words) != 3 {
		t.Fatalf("Expected 3 words, got %d", len(result.Words))
	}
	if result.Words[0].Feedback == nil || result.Words[0].Feedback.WordTip != "stress second syllable" {
		t.Errorf("Expected structured feedback on first word, got %+v", result.Words[0].Feedback)
	}
	if len(result.Words[0].PhonemeScores) != 1 {
		t.Errorf("Expected phoneme scores to be kept, got %+v", result.Words[0].PhonemeScores)
	}
	if result.Words[1].Feedback != nil {
		t.Errorf("Expected error-indicator feedback to be dropped, got %+v", result.Words[1].Feedback)
	}
	if result.Words[2].Feedback != nil {
		t.Errorf("Expected null feedback to stay nil, got %+v", result.Words[2].Feedback)
	}
}

func TestSubmit_EmptyWordList(t *testing.T) {
	body := `{"overall": {"accuracy": 0, "completeness": 0, "fluency": 0, "pronunciation": 0, "prosody": 0}, "words": []}`
	server := newScoringServer(t, http.StatusOK, body, nil)
	defer server.Close()

	result, err := NewClient(server.URL, time.Second).Submit(context.Background(), []byte("x"), "hi", "en-US")
	if err != nil {
		t.Fatalf("Expected zero scores and empty words to be accepted, got %v", err)
	}
	if len(result.Words) != 0 {
		t.Errorf("Expected no words, got %d", len(result.Words))
	}
}

func TestSubmit_Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"detail":"boom"}`},
		{"malformed json", http.StatusOK, `{"overall":`},
		{"missing overall field", http.StatusOK, `{"overall": {"accuracy": 1, "completeness": 1, "fluency": 1, "pronunciation": 1}, "words": []}`},
		{"missing words", http.StatusOK, `{"overall": {"accuracy": 1, "completeness": 1, "fluency": 1, "pronunciation": 1, "prosody": 1}}`},
		{"score out of range", http.StatusOK, `{"overall": {"accuracy": 101, "completeness": 1, "fluency": 1, "pronunciation": 1, "prosody": 1}, "words": []}`},
		{"word without accuracy", http.StatusOK, `{"overall": {"accuracy": 1, "completeness": 1, "fluency": 1, "pronunciation": 1, "prosody": 1}, "words": [{"word": "hi"}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newScoringServer(t, tc.status, tc.body, nil)
			defer server.Close()

			result, err := NewClient(server.URL, time.Second).Submit(context.Background(), []byte("x"), "hi", "en-US")
			if result != nil {
				t.Errorf("Expected no result, got %+v", result)
			}
			if !errors.HasCode(err, errors.ErrAssessmentService) {
				t.Errorf("Expected %s, got %v", errors.ErrAssessmentService, err)
			}
		})
	}
}

func TestSubmit_TransportFailure(t *testing.T) {
	server := newScoringServer(t, http.StatusOK, fullResponse, nil)
	url := server.URL
	server.Close()

	_, err := NewClient(url, time.Second).Submit(context.Background(), []byte("x"), "hi", "en-US")
	if !errors.HasCode(err, errors.ErrAssessmentService) {
		t.Errorf("Expected %s for closed server, got %v", errors.ErrAssessmentService, err)
	}
}

func TestResultClone(t *testing.T) {
	original := &Result{Words: []WordAssessment{{Word: "a", Feedback: &WordFeedback{WordTip: "x", Phonemes: []PhonemeTip{{Phoneme: "a", Tip: "t"}}}}}}
	clone := original.Clone()
	clone.Words[0].Feedback.Phonemes[0].Tip = "changed"

	if original.Words[0].Feedback.Phonemes[0].Tip != "t" {
		t.Error("Expected clone not to share feedback slices")
	}
}
