package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/SORREL/internal/config"
	"github.com/copyleftdev/SORREL/internal/logging"
)

// testServer wires a server with a throwaway checkpoint directory and a
// silent logger.
func testServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	cfg := &config.Config{Environment: "test"}
	cfg.Optimization.MaxEvals = 100
	cfg.Optimization.BatchSize = 4
	cfg.Optimization.CheckpointDir = t.TempDir()

	srv := NewServer(cfg, logging.New(logging.ErrorLevel, io.Discard))
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

// doJSON performs a request and decodes the JSON response body.
func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec.Code, decoded
}

func createRun(t *testing.T, h http.Handler, overrides map[string]interface{}) string {
	t.Helper()
	body := map[string]interface{}{
		"dim":          1,
		"lower_bounds": []float64{0},
		"upper_bounds": []float64{1},
		"max_evals":    3,
		"asynchronous": true,
		"seed":         7,
	}
	for k, v := range overrides {
		body[k] = v
	}
	code, resp := doJSON(t, h, http.MethodPost, "/api/v1/runs", body)
	require.Equal(t, http.StatusCreated, code, "create run: %v", resp)
	id, ok := resp["run_id"].(string)
	require.True(t, ok)
	return id
}

func TestCreateRunValidation(t *testing.T) {
	_, h := testServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{
			name: "inverted bounds",
			body: map[string]interface{}{
				"dim": 1, "lower_bounds": []float64{1}, "upper_bounds": []float64{0},
				"max_evals": 5,
			},
		},
		{
			name: "missing bounds",
			body: map[string]interface{}{"dim": 2, "max_evals": 5},
		},
		{
			name: "unknown variant",
			body: map[string]interface{}{
				"dim": 1, "lower_bounds": []float64{0}, "upper_bounds": []float64{1},
				"max_evals": 5, "variant": "simplex",
			},
		},
		{
			name: "unknown sampler",
			body: map[string]interface{}{
				"dim": 1, "lower_bounds": []float64{0}, "upper_bounds": []float64{1},
				"max_evals": 5, "sampler": "sobol",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := doJSON(t, h, http.MethodPost, "/api/v1/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestRunLifecycle(t *testing.T) {
	_, h := testServer(t)
	id := createRun(t, h, nil)
	base := "/api/v1/runs/" + id

	completed := 0
	done := false
	for steps := 0; steps < 100 && !done; steps++ {
		code, action := doJSON(t, h, http.MethodGet, base+"/action", nil)
		require.Equal(t, http.StatusOK, code)

		switch action["action"] {
		case "eval":
			ev := int(action["event_id"].(float64))
			point := action["point"].([]interface{})
			require.Len(t, point, 1)
			x := point[0].(float64)
			assert.GreaterOrEqual(t, x, 0.0)
			assert.LessOrEqual(t, x, 1.0)

			code, _ = doJSON(t, h, http.MethodPost,
				fmt.Sprintf("%s/proposals/%d/accept", base, ev), nil)
			require.Equal(t, http.StatusOK, code)

			code, resp := doJSON(t, h, http.MethodPost,
				fmt.Sprintf("%s/records/%d/complete", base, ev),
				map[string]interface{}{"value": x * x})
			require.Equal(t, http.StatusOK, code)
			completed = int(resp["num_eval"].(float64))
		case "terminate":
			ev := int(action["event_id"].(float64))
			code, resp := doJSON(t, h, http.MethodPost,
				fmt.Sprintf("%s/proposals/%d/accept", base, ev), nil)
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, true, resp["done"])
			done = true
		default:
			t.Fatalf("unexpected action %v", action["action"])
		}
	}
	require.True(t, done)
	assert.Equal(t, 3, completed)

	code, status := doJSON(t, h, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, status["done"])
	assert.Equal(t, float64(3), status["num_eval"])
	assert.NotNil(t, status["best"])

	code, evals := doJSON(t, h, http.MethodGet, base+"/evals", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, evals["evals"], 3)
}

func TestRejectAndConflict(t *testing.T) {
	_, h := testServer(t)
	id := createRun(t, h, nil)
	base := "/api/v1/runs/" + id

	_, action := doJSON(t, h, http.MethodGet, base+"/action", nil)
	ev := int(action["event_id"].(float64))

	code, _ := doJSON(t, h, http.MethodPost,
		fmt.Sprintf("%s/proposals/%d/reject", base, ev), nil)
	assert.Equal(t, http.StatusOK, code)

	// Second resolution of the same proposal conflicts
	code, resp := doJSON(t, h, http.MethodPost,
		fmt.Sprintf("%s/proposals/%d/reject", base, ev), nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.NotEmpty(t, resp["error"])
}

func TestCompleteRequiresFiniteValue(t *testing.T) {
	_, h := testServer(t)
	id := createRun(t, h, nil)
	base := "/api/v1/runs/" + id

	_, action := doJSON(t, h, http.MethodGet, base+"/action", nil)
	ev := int(action["event_id"].(float64))
	code, _ := doJSON(t, h, http.MethodPost,
		fmt.Sprintf("%s/proposals/%d/accept", base, ev), nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = doJSON(t, h, http.MethodPost,
		fmt.Sprintf("%s/records/%d/complete", base, ev),
		map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doJSON(t, h, http.MethodPost,
		fmt.Sprintf("%s/records/%d/complete", base, ev),
		map[string]interface{}{"value": "not-a-number"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUnknownRun(t *testing.T) {
	_, h := testServer(t)

	code, resp := doJSON(t, h, http.MethodGet, "/api/v1/runs/run_0", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, resp["error"])

	code, _ = doJSON(t, h, http.MethodGet, "/api/v1/runs/run_0/action", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeleteRun(t *testing.T) {
	_, h := testServer(t)
	id := createRun(t, h, nil)

	code, _ := doJSON(t, h, http.MethodDelete, "/api/v1/runs/"+id, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = doJSON(t, h, http.MethodDelete, "/api/v1/runs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCheckpointAndResume(t *testing.T) {
	_, h := testServer(t)
	id := createRun(t, h, map[string]interface{}{"checkpoint": true, "max_evals": 10})
	base := "/api/v1/runs/" + id

	// One full evaluation, then snapshot
	_, action := doJSON(t, h, http.MethodGet, base+"/action", nil)
	ev := int(action["event_id"].(float64))
	doJSON(t, h, http.MethodPost, fmt.Sprintf("%s/proposals/%d/accept", base, ev), nil)
	code, _ := doJSON(t, h, http.MethodPost,
		fmt.Sprintf("%s/records/%d/complete", base, ev),
		map[string]interface{}{"value": 0.5})
	require.Equal(t, http.StatusOK, code)

	code, _ = doJSON(t, h, http.MethodPost, base+"/checkpoint", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = doJSON(t, h, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusOK, code)

	resumed := createRun(t, h, map[string]interface{}{"resume_id": id, "max_evals": 10})
	assert.Equal(t, id, resumed)

	code, status := doJSON(t, h, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), status["num_eval"])
	assert.Equal(t, 0.5, status["best"].(map[string]interface{})["value"])
}

func TestSRBFVariantRun(t *testing.T) {
	_, h := testServer(t)
	id := createRun(t, h, map[string]interface{}{"variant": "srbf", "sampler": "dycors", "max_evals": 5})
	base := "/api/v1/runs/" + id

	_, action := doJSON(t, h, http.MethodGet, base+"/action", nil)
	assert.Equal(t, "eval", action["action"])
}
