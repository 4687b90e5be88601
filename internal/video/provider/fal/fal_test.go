package fal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visiarch/visiarch-api/internal/config"
	"github.com/visiarch/visiarch-api/internal/video/provider"
)

func testConfig(baseURL string) config.FalConfig {
	return config.FalConfig{
		APIKey:                "fal-key-test",
		BaseURL:               baseURL,
		TextToVideoModel:      "fal-ai/test-model/text-to-video",
		ImageToVideoModel:     "fal-ai/test-model/image-to-video",
		RequestTimeoutSeconds: 5,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(n int) *int { return &n }

func TestCreateTask_MissingRequiredFields(t *testing.T) {
	t.Parallel()

	client := New(testConfig("http://unreachable.invalid"), testLogger())

	_, err := client.CreateTask(context.Background(), provider.CreateTaskRequest{
		JobType: provider.JobTextToVideo,
	})
	assert.ErrorIs(t, err, provider.ErrMissingPrompt)

	_, err = client.CreateTask(context.Background(), provider.CreateTaskRequest{
		JobType: provider.JobImageToVideo,
	})
	assert.ErrorIs(t, err, provider.ErrMissingImage)
}

func TestCreateTask_SubmitsToQueue(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotBody submitRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(submitResponse{
			RequestID:     "req-1",
			QueuePosition: intPtr(4),
		})
	}))
	defer server.Close()

	client := New(testConfig(server.URL), testLogger())
	result, err := client.CreateTask(context.Background(), provider.CreateTaskRequest{
		JobType:         provider.JobTextToVideo,
		Prompt:          "timber frame house in morning fog",
		DurationSeconds: 7,       // coerced to 6
		AspectRatio:     "2:1",   // coerced to 16:9
		Resolution:      "4320p", // coerced to 720p
	})
	require.NoError(t, err)

	assert.Equal(t, "/fal-ai/test-model/text-to-video", gotPath)
	assert.Equal(t, "Key fal-key-test", gotAuth)

	assert.Equal(t, 6, gotBody.DurationSeconds)
	assert.Equal(t, "16:9", gotBody.AspectRatio)
	assert.Equal(t, "720p", gotBody.Resolution)
	assert.Empty(t, gotBody.ImageURL)

	// Fire-and-forget: the request id comes back immediately.
	assert.Equal(t, "req-1", result.TaskID)
	assert.Equal(t, provider.StatusProcessing, result.Status)
}

func TestCreateTask_UsesPriorityCredentialWhenConfigured(t *testing.T) {
	t.Parallel()

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(submitResponse{RequestID: "req-2"})
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.PriorityKey = "fal-priority-credential"

	client := New(cfg, testLogger())
	_, err := client.CreateTask(context.Background(), provider.CreateTaskRequest{
		JobType:  provider.JobImageToVideo,
		ImageURL: "https://assets.example.com/render-base.png",
	})
	require.NoError(t, err)

	assert.Equal(t, "Key fal-priority-credential", gotAuth)
}

func TestCreateTask_MissingRequestIDIsError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(submitResponse{})
	}))
	defer server.Close()

	client := New(testConfig(server.URL), testLogger())
	_, err := client.CreateTask(context.Background(), provider.CreateTaskRequest{
		JobType: provider.JobTextToVideo,
		Prompt:  "spiral staircase detail",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request id")
}

func TestCheckStatus_InQueueReportsPosition(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fal-ai/test-model/text-to-video/requests/req-1/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(statusResponse{
			Status:        "IN_QUEUE",
			QueuePosition: intPtr(2),
		})
	}))
	defer server.Close()

	client := New(testConfig(server.URL), testLogger())
	result, err := client.CheckStatus(context.Background(), "req-1", provider.JobTextToVideo)
	require.NoError(t, err)

	assert.Equal(t, provider.StatusProcessing, result.Status)
	assert.Contains(t, result.Message, "2")
}

func TestCheckStatus_InProgress(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(statusResponse{Status: "IN_PROGRESS"})
	}))
	defer server.Close()

	client := New(testConfig(server.URL), testLogger())
	result, err := client.CheckStatus(context.Background(), "req-1", provider.JobTextToVideo)
	require.NoError(t, err)

	assert.Equal(t, provider.StatusProcessing, result.Status)
	assert.Empty(t, result.Message)
}

func TestCheckStatus_CompletedFetchesResult(t *testing.T) {
	t.Parallel()

	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/fal-ai/test-model/image-to-video/requests/req-9/status":
			_ = json.NewEncoder(w).Encode(statusResponse{Status: "COMPLETED"})
		case "/fal-ai/test-model/image-to-video/requests/req-9":
			_ = json.NewEncoder(w).Encode(resultResponse{
				Video: &mediaFile{URL: "https://fal.media/files/render.mp4", ContentType: "video/mp4"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := New(testConfig(server.URL), testLogger())
	result, err := client.CheckStatus(context.Background(), "req-9", provider.JobImageToVideo)
	require.NoError(t, err)

	// The status read alone is not enough; the result fetch must follow.
	require.Len(t, paths, 2)
	assert.Equal(t, provider.StatusSucceeded, result.Status)
	require.Len(t, result.ResultURLs, 1)
	assert.Equal(t, "https://fal.media/files/render.mp4", result.ResultURLs[0])
}

func TestCheckStatus_CompletedWithoutURLIsError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fal-ai/test-model/text-to-video/requests/req-1/status" {
			_ = json.NewEncoder(w).Encode(statusResponse{Status: "COMPLETED"})
			return
		}
		_ = json.NewEncoder(w).Encode(resultResponse{})
	}))
	defer server.Close()

	client := New(testConfig(server.URL), testLogger())
	_, err := client.CheckStatus(context.Background(), "req-1", provider.JobTextToVideo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a result video URL")
}

func TestCheckStatus_Failed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(statusResponse{
			Status: "FAILED",
			Error:  "model rejected the input image",
		})
	}))
	defer server.Close()

	client := New(testConfig(server.URL), testLogger())
	result, err := client.CheckStatus(context.Background(), "req-1", provider.JobImageToVideo)
	require.NoError(t, err)

	assert.Equal(t, provider.StatusFailed, result.Status)
	assert.Equal(t, "model rejected the input image", result.Message)
}

func TestCheckStatus_UnknownStatusIsError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(statusResponse{Status: "SNOOZING"})
	}))
	defer server.Close()

	client := New(testConfig(server.URL), testLogger())
	_, err := client.CheckStatus(context.Background(), "req-1", provider.JobTextToVideo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SNOOZING")
}
