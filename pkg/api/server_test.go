package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillcast/pkg/analytics"
	"github.com/jingkaihe/skillcast/pkg/capture"
	"github.com/jingkaihe/skillcast/pkg/predictor"
	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

type stubEngine struct {
	predictResult *predictor.Result
	predictErr    error
	captured      []capture.Observation
	captureErr    error
	trainReport   learning.TrainReport
	trainErr      error
	report        *analytics.Report
}

func (s *stubEngine) Predict(_ context.Context, _ learning.TaskContext) (*predictor.Result, error) {
	return s.predictResult, s.predictErr
}

func (s *stubEngine) Capture(_ context.Context, obs capture.Observation) (learning.Pattern, *learning.TrainReport, error) {
	if s.captureErr != nil {
		return learning.Pattern{}, nil, s.captureErr
	}
	s.captured = append(s.captured, obs)
	return learning.Pattern{ID: "pattern-1", Confidence: 0.42}, nil, nil
}

func (s *stubEngine) Train(_ context.Context) (learning.TrainReport, error) {
	return s.trainReport, s.trainErr
}

func (s *stubEngine) Analytics(_ context.Context) (*analytics.Report, error) {
	return s.report, nil
}

func (s *stubEngine) Fingerprint() learning.ProjectFingerprint {
	return learning.ProjectFingerprint{Hash: "deadbeef"}
}

func testServer(t *testing.T, eng LearningEngine) *Server {
	t.Helper()
	s, err := NewServer(eng, &ServerConfig{Host: "localhost", Port: 8321})
	require.NoError(t, err)
	return s
}

func TestServerConfigValidate(t *testing.T) {
	assert.Error(t, (&ServerConfig{Host: "", Port: 8080}).Validate())
	assert.Error(t, (&ServerConfig{Host: "localhost", Port: 0}).Validate())
	assert.Error(t, (&ServerConfig{Host: "localhost", Port: 70000}).Validate())
	assert.NoError(t, (&ServerConfig{Host: "localhost", Port: 8080}).Validate())
}

func TestHandlePredict(t *testing.T) {
	eng := &stubEngine{
		predictResult: &predictor.Result{
			Predictions: []learning.Prediction{
				{Skill: "code-analysis", Probability: 0.9, Confidence: 0.6, Rationale: "trained model"},
			},
		},
	}
	s := testServer(t, eng)

	body, _ := json.Marshal(learning.TaskContext{Type: learning.TaskRefactor})
	req := httptest.NewRequest("POST", "/api/predict", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		InsufficientData bool                  `json:"insufficientData"`
		Predictions      []learning.Prediction `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.InsufficientData)
	require.Len(t, resp.Predictions, 1)
	assert.Equal(t, "code-analysis", resp.Predictions[0].Skill)
}

func TestHandlePredictInsufficientData(t *testing.T) {
	s := testServer(t, &stubEngine{predictErr: learning.ErrInsufficientData})

	body, _ := json.Marshal(learning.TaskContext{Type: learning.TaskDebug})
	req := httptest.NewRequest("POST", "/api/predict", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "insufficient data is a result, not an error")
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["insufficientData"])
}

func TestHandlePredictBadBody(t *testing.T) {
	s := testServer(t, &stubEngine{})

	req := httptest.NewRequest("POST", "/api/predict", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCapture(t *testing.T) {
	eng := &stubEngine{}
	s := testServer(t, eng)

	obs := capture.Observation{
		Context: learning.TaskContext{Type: learning.TaskRefactor},
		Skills:  []string{"code-analysis"},
		Outcome: learning.Outcome{Success: true, Quality: 88},
	}
	body, _ := json.Marshal(obs)
	req := httptest.NewRequest("POST", "/api/capture", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, eng.captured, 1)
	assert.Equal(t, []string{"code-analysis"}, eng.captured[0].Skills)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pattern-1", resp["patternId"])
}

func TestHandleCaptureInvalidObservationIsBadRequest(t *testing.T) {
	s := testServer(t, &stubEngine{
		captureErr: errors.Wrap(learning.ErrInvalidObservation, "no skills or agents named"),
	})

	body, _ := json.Marshal(capture.Observation{Context: learning.TaskContext{Type: learning.TaskRefactor}})
	req := httptest.NewRequest("POST", "/api/capture", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCaptureStorageFailureIsServerError(t *testing.T) {
	s := testServer(t, &stubEngine{captureErr: errors.New("database is locked")})

	obs := capture.Observation{
		Context: learning.TaskContext{Type: learning.TaskRefactor},
		Skills:  []string{"code-analysis"},
		Outcome: learning.Outcome{Success: true, Quality: 88},
	}
	body, _ := json.Marshal(obs)
	req := httptest.NewRequest("POST", "/api/capture", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code,
		"a persisted-side failure is not the caller's fault")
}

func TestHandleTrain(t *testing.T) {
	s := testServer(t, &stubEngine{
		trainReport: learning.TrainReport{Retrained: []string{"code-analysis"}},
	})

	req := httptest.NewRequest("POST", "/api/train", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var report learning.TrainReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, []string{"code-analysis"}, report.Retrained)
}

func TestHandleTrainPartialFailureStillOK(t *testing.T) {
	s := testServer(t, &stubEngine{
		trainReport: learning.TrainReport{
			Retrained: []string{"code-analysis"},
			Failures:  map[string]string{"flaky-skill": "timeout"},
		},
		trainErr: assert.AnError,
	})

	req := httptest.NewRequest("POST", "/api/train", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "per-skill failures ride along in the report")
	var report learning.TrainReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Contains(t, report.Failures, "flaky-skill")
}

func TestHandleAnalytics(t *testing.T) {
	s := testServer(t, &stubEngine{report: &analytics.Report{TotalPatterns: 12}})

	req := httptest.NewRequest("GET", "/api/analytics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var report analytics.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 12, report.TotalPatterns)
}

func TestHandleFingerprint(t *testing.T) {
	s := testServer(t, &stubEngine{})

	req := httptest.NewRequest("GET", "/api/fingerprint", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var fp learning.ProjectFingerprint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fp))
	assert.Equal(t, "deadbeef", fp.Hash)
}

func TestMethodNotAllowed(t *testing.T) {
	s := testServer(t, &stubEngine{})

	req := httptest.NewRequest("GET", "/api/predict", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
