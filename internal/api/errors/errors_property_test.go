package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// For any API error, the body carries success=false, code, message and the
// request id, and the status code follows the error code.
func TestPropertyStructuredErrorResponseFormat(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	genErrorCode := gen.OneConstOf(
		CodeValidationError,
		CodeNotFound,
		CodeNotConfigured,
		CodeUnavailable,
		CodeInternalError,
	)

	genNonEmptyString := gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0
	})

	genRequestID := gen.RegexMatch("[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}")

	properties.Property("error response contains required fields", prop.ForAll(
		func(code, message, requestID string) bool {
			err := New(code, message).WithRequestID(requestID)

			rr := httptest.NewRecorder()
			WriteError(rr, err)

			if rr.Code != err.HTTPStatusCode() {
				t.Logf("status %d, want %d", rr.Code, err.HTTPStatusCode())
				return false
			}

			var response map[string]any
			if jsonErr := json.NewDecoder(rr.Body).Decode(&response); jsonErr != nil {
				t.Logf("Failed to decode response: %v", jsonErr)
				return false
			}

			if response["success"] != false {
				t.Log("success field missing or not false")
				return false
			}
			if response["code"] != code {
				t.Logf("code %v, want %s", response["code"], code)
				return false
			}
			if response["message"] != message {
				t.Logf("message %v, want %s", response["message"], message)
				return false
			}
			if response["request_id"] != requestID {
				t.Logf("request_id %v, want %s", response["request_id"], requestID)
				return false
			}
			return true
		},
		genErrorCode,
		genNonEmptyString,
		genRequestID,
	))

	properties.TestingRun(t)
}

func TestNotConfiguredError(t *testing.T) {
	err := NewNotConfiguredError("gpu-9")

	if err.HTTPStatusCode() != http.StatusNotFound {
		t.Errorf("status = %d, want 404", err.HTTPStatusCode())
	}
	if !strings.Contains(err.Message, "gpu-9") {
		t.Errorf("message %q does not name the worker", err.Message)
	}
	if err.Details["worker_id"] != "gpu-9" {
		t.Errorf("details = %v", err.Details)
	}
}

func TestWithRequestIDDoesNotMutate(t *testing.T) {
	base := NewInternalError("boom")
	withID := base.WithRequestID("req-1")

	if base.RequestID != "" {
		t.Errorf("original mutated: %q", base.RequestID)
	}
	if withID.RequestID != "req-1" || withID.Code != CodeInternalError {
		t.Errorf("copy = %+v", withID)
	}
}

// For any correlation id and message, the log entry carries every field and
// a non-empty stack trace.
func TestPropertyErrorLogCompleteness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("log entry is complete", prop.ForAll(
		func(correlationID, message string) bool {
			entry := NewErrorLogEntry(correlationID, CodeInternalError, message)
			if entry.CorrelationID != correlationID || entry.Message != message {
				return false
			}
			if entry.StackTrace == "" {
				return false
			}
			attrs := entry.ToSlogAttrs()
			return len(attrs) == 8
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
