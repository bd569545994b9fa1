package gitlab_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/flakewatch/internal/domain"
	"github.com/waabox/flakewatch/internal/gitlab"
)

func TestListPipelines_FollowsLinkHeaderAcrossPages(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v4/projects/42/pipelines", r.URL.Path)
		switch r.URL.Query().Get("page") {
		case "", "1":
			// The first request carries the original query parameters.
			require.Equal(t, "2", r.URL.Query().Get("per_page"))
			require.NotEmpty(t, r.URL.Query().Get("updated_after"))
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v4/projects/42/pipelines?page=2&per_page=2>; rel="next"`, srv.URL))
			writeJSON(w, []map[string]interface{}{
				{"id": float64(101), "ref": "main", "status": "success"},
				{"id": float64(102), "ref": "main", "status": "failed"},
			})
		case "2":
			// Follow-up requests use the next-link URL verbatim.
			require.Empty(t, r.URL.Query().Get("updated_after"))
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v4/projects/42/pipelines?page=3&per_page=2>; rel="next"`, srv.URL))
			writeJSON(w, []map[string]interface{}{
				{"id": float64(103), "ref": "develop", "status": "success"},
			})
		case "3":
			// Terminal page: empty body, no next link.
			writeJSON(w, []map[string]interface{}{})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, gitlab.Options{PerPage: 2})
	pipelines, err := client.ListPipelines(context.Background(), "42", time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)

	require.Len(t, pipelines, 3, "all pages concatenated, no duplicates, no drops")
	assert.Equal(t, int64(101), pipelines[0].ID)
	assert.Equal(t, int64(102), pipelines[1].ID)
	assert.Equal(t, int64(103), pipelines[2].ID)
	assert.Equal(t, "develop", pipelines[2].Ref)
}

func TestListPipelines_EmptyPageWithNextLinkIsStillFollowed(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v4/projects/42/pipelines?page=2>; rel="next"`, srv.URL))
			writeJSON(w, []map[string]interface{}{})
		case "2":
			writeJSON(w, []map[string]interface{}{
				{"id": float64(104), "ref": "main", "status": "success"},
			})
		}
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, gitlab.Options{})
	pipelines, err := client.ListPipelines(context.Background(), "42", time.Now())
	require.NoError(t, err)
	require.Len(t, pipelines, 1)
	assert.Equal(t, int64(104), pipelines[0].ID)
}

func TestListPipelineJobs_RequestsRetriedAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v4/projects/42/pipelines/101/jobs", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("include_retried"))
		writeJSON(w, []map[string]interface{}{
			{"id": float64(301), "name": "unit-tests", "stage": "test", "status": "failed", "duration": 12.5},
			{"id": float64(302), "name": "unit-tests", "stage": "test", "status": "success", "duration": 11.0},
		})
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv, gitlab.Options{})
	jobs, err := client.ListPipelineJobs(context.Background(), "42", 101)
	require.NoError(t, err)

	require.Len(t, jobs, 2)
	assert.Equal(t, "unit-tests", jobs[0].Name)
	assert.Equal(t, domain.StatusFailed, jobs[0].Status)
	assert.Equal(t, domain.StatusSuccess, jobs[1].Status)
	assert.Equal(t, int64(101), jobs[0].PipelineID)
	assert.Equal(t, 12500*time.Millisecond, jobs[0].Duration)
}
