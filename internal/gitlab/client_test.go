package gitlab

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielolaszy/hookbot/internal/config"
)

// recorder captures the requests reaching the test server.
type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	Method string
	Path   string
	Token  string
	Body   []byte
}

func (r *recorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.requests...)
}

func setup(t *testing.T, handler http.HandlerFunc) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.requests = append(rec.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Token:  r.Header.Get("PRIVATE-TOKEN"),
			Body:   body,
		})
		rec.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := newClient(server.Client(), server.URL+"/", "test-token")
	require.NoError(t, err)
	return client, rec
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(config.GitLabConfig{URL: "https://gitlab.example.com"}, nil)
	assert.Error(t, err)

	client, err := NewClient(config.GitLabConfig{URL: "https://gitlab.example.com/", Token: "t"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.example.com", client.baseURL)
}

func TestRetryJob(t *testing.T) {
	client, rec := setup(t, respond(http.StatusCreated, `{"id": 43}`))

	err := client.RetryJob(context.Background(), "group/sub/project", 42)

	require.NoError(t, err)
	requests := rec.all()
	require.Len(t, requests, 1)
	assert.Equal(t, http.MethodPost, requests[0].Method)
	assert.Equal(t, "/api/v4/projects/group%2Fsub%2Fproject/jobs/42/retry", requests[0].Path)
	assert.Equal(t, "test-token", requests[0].Token)
}

func TestRetryJobAPIError(t *testing.T) {
	client, _ := setup(t, respond(http.StatusForbidden, `{"message": "403 Forbidden"}`))

	err := client.RetryJob(context.Background(), "group/project", 42)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Empty(t, client.semaphore)
}

func TestGetJobTrace(t *testing.T) {
	client, rec := setup(t, respond(http.StatusOK, "Running with gitlab-runner\nJob succeeded\n"))

	text, err := client.GetJobTrace(context.Background(), "group/project", 7)

	require.NoError(t, err)
	assert.Equal(t, "Running with gitlab-runner\nJob succeeded\n", text)
	assert.Equal(t, http.MethodGet, rec.all()[0].Method)
	assert.Equal(t, "/api/v4/projects/group%2Fproject/jobs/7/trace", rec.all()[0].Path)
}

func TestGetJobTraceEmpty(t *testing.T) {
	client, _ := setup(t, respond(http.StatusOK, ""))

	text, err := client.GetJobTrace(context.Background(), "group/project", 7)

	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestGetJobTraceHoldsSlotWhileReadingBody(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	client, _ := setup(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "Running with gitlab-runner\n")
		w.(http.Flusher).Flush()
		close(started)
		<-release
		_, _ = io.WriteString(w, "Job succeeded\n")
	})

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := client.GetJobTrace(context.Background(), "group/project", 7)
		done <- result{text, err}
	}()

	<-started
	// Let the client get past the response headers.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, client.semaphore, 1)

	close(release)
	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, "Running with gitlab-runner\nJob succeeded\n", got.text)
	assert.Empty(t, client.semaphore)
}

func TestRetryPipeline(t *testing.T) {
	client, rec := setup(t, respond(http.StatusCreated, `{"id": 99}`))

	require.NoError(t, client.RetryPipeline(context.Background(), "group/project", 99))
	assert.Equal(t, http.MethodPost, rec.all()[0].Method)
	assert.Equal(t, "/api/v4/projects/group%2Fproject/pipelines/99/retry", rec.all()[0].Path)
}

func TestCreatePipeline(t *testing.T) {
	client, rec := setup(t, respond(http.StatusCreated,
		`{"id": 5, "status": "created", "web_url": "https://gitlab.example.com/g/m/-/pipelines/5"}`))

	webURL, err := client.CreatePipeline(context.Background(), "g/m", "master", map[string]string{
		"SOURCE": "o/r#7",
		"JOBS":   "build test",
	})

	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.example.com/g/m/-/pipelines/5", webURL)

	requests := rec.all()
	require.Len(t, requests, 1)
	assert.Equal(t, http.MethodPost, requests[0].Method)
	assert.Equal(t, "/api/v4/projects/g%2Fm/pipeline", requests[0].Path)

	var sent struct {
		Ref       string `json:"ref"`
		Variables []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"variables"`
	}
	require.NoError(t, json.Unmarshal(requests[0].Body, &sent))
	assert.Equal(t, "master", sent.Ref)
	require.Len(t, sent.Variables, 2)
	assert.Equal(t, "JOBS", sent.Variables[0].Key)
	assert.Equal(t, "build test", sent.Variables[0].Value)
	assert.Equal(t, "SOURCE", sent.Variables[1].Key)
	assert.Equal(t, "o/r#7", sent.Variables[1].Value)
}

func TestArtifactExists(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		want    bool
		wantErr bool
	}{
		{name: "found", status: http.StatusOK, want: true},
		{name: "missing", status: http.StatusNotFound, want: false},
		{name: "forbidden", status: http.StatusForbidden, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, rec := setup(t, respond(tt.status, ""))

			exists, err := client.ArtifactExists(context.Background(), "group/project", 42, "doc/my page.html")

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, exists)
			assert.Equal(t, http.MethodHead, rec.all()[0].Method)
			assert.Equal(t, "/api/v4/projects/group%2Fproject/jobs/42/artifacts/doc/my%20page.html", rec.all()[0].Path)
		})
	}
}

func TestArtifactURL(t *testing.T) {
	client, err := newClient(nil, "https://gitlab.example.com/", "")
	require.NoError(t, err)

	assert.Equal(t, "https://gitlab.example.com/group/project/-/jobs/42/artifacts/raw/doc/index.html",
		client.ArtifactURL("group/project", 42, "/doc/index.html"))
}

func TestCanceledContextSkipsRequest(t *testing.T) {
	client, rec := setup(t, respond(http.StatusOK, ""))
	for i := 0; i < MaxConcurrentRequests; i++ {
		client.semaphore <- struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetJobTrace(ctx, "group/project", 1)

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.all())
}
