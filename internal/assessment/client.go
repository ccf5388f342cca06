package assessment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/fluentdrill/internal/errors"
	"github.com/audiolibrelab/fluentdrill/internal/validate"
)

const (
	audioMIMEType   = "audio/webm"
	maxResponseSize = 4 << 20
)

// Client posts recordings to the pronunciation scoring service. It keeps no
// state between calls and never retries.
type Client struct {
	endpoint  string
	client    *http.Client
	validator *validate.Validator
}

// NewClient creates a client for the given assessment endpoint URL.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
		validator: validate.NewValidator(),
	}
}

// Submit sends one recording with its reference text and locale and returns
// the validated assessment. Every failure is an ASSESSMENT_SERVICE_ERROR.
func (c *Client) Submit(ctx context.Context, audio []byte, referenceText, languageCode string) (*Result, error) {
	if len(audio) == 0 {
		return nil, errors.AssessmentService("empty audio buffer", nil)
	}

	body, contentType, err := buildMultipart(audio, referenceText, languageCode)
	if err != nil {
		return nil, errors.AssessmentService("failed to build request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, errors.AssessmentService("failed to create request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	slog.Debug("Submitting recording for assessment", "endpoint", c.endpoint, "bytes", len(audio), "language", languageCode)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.AssessmentService("failed to send request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.AssessmentService("failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.AssessmentService(fmt.Sprintf("scoring service returned %d", resp.StatusCode), nil).
			WithDetails(map[string]interface{}{"status": resp.StatusCode, "body": truncate(string(raw), 512)})
	}

	result, err := c.decode(raw)
	if err != nil {
		return nil, err
	}

	slog.Debug("Assessment received", "words", len(result.Words), "pronunciation", result.Overall.Pronunciation, "duration", time.Since(started))
	return result, nil
}

func (c *Client) decode(raw []byte) (*Result, error) {
	var wire wireResult
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errors.AssessmentService("malformed response body", err)
	}

	if err := c.validator.Struct(wire); err != nil {
		appErr := errors.AssessmentService("response failed validation", err)
		if fe, ok := err.(*validate.FieldsError); ok {
			appErr = appErr.WithDetails(map[string]interface{}{"fields": fe.Fields})
		}
		return nil, appErr
	}

	return wire.toResult(), nil
}

func buildMultipart(audio []byte, referenceText, languageCode string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	if err := w.WriteField("reference_text", referenceText); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("language", languageCode); err != nil {
		return nil, "", err
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio_file"; filename="recording-%s.webm"`, uuid.NewString()))
	header.Set("Content-Type", audioMIMEType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
