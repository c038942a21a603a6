package e2e

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/framepick/api/internal/model"
)

func createJob(t *testing.T, ta *testApp, name string) string {
	t.Helper()
	body := []byte("{}")
	if name != "" {
		body = []byte(fmt.Sprintf(`{"name":%q}`, name))
	}
	req, _ := http.NewRequest(http.MethodPost, "/jobs/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)

	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatal("expected 'jobId' in response")
	}
	if result["wsUrl"] != "/ws/upload" {
		t.Errorf("expected wsUrl '/ws/upload', got %v", result["wsUrl"])
	}
	return jobID
}

func TestCreateJob(t *testing.T) {
	ta := setupApp(t)
	jobID := createJob(t, ta, "city walk")

	req, _ := http.NewRequest(http.MethodGet, "/jobs/"+jobID, nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	job := parseJSON(t, resp)
	if job["status"] != string(model.JobStatusUploading) {
		t.Errorf("expected status uploading, got %v", job["status"])
	}
	if job["name"] != "city walk" {
		t.Errorf("expected name 'city walk', got %v", job["name"])
	}
}

func TestGetJob_NotFound(t *testing.T) {
	ta := setupApp(t)

	req, _ := http.NewRequest(http.MethodGet, "/jobs/"+uuid.New().String(), nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestGetJob_InvalidID(t *testing.T) {
	ta := setupApp(t)

	req, _ := http.NewRequest(http.MethodGet, "/jobs/not-a-uuid", nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestListJobs_Paged(t *testing.T) {
	ta := setupApp(t)
	for i := 0; i < 5; i++ {
		createJob(t, ta, fmt.Sprintf("job-%d", i))
	}

	req, _ := http.NewRequest(http.MethodGet, "/jobs/?limit=2&offset=0", nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["total"] != float64(5) {
		t.Errorf("expected total 5, got %v", result["total"])
	}
	jobs, _ := result["jobs"].([]interface{})
	if len(jobs) != 2 {
		t.Errorf("expected 2 jobs in page, got %d", len(jobs))
	}
}

func TestDeleteJob_TwiceYieldsNotFound(t *testing.T) {
	ta := setupApp(t)
	jobID := createJob(t, ta, "")

	req, _ := http.NewRequest(http.MethodDelete, "/jobs/"+jobID, nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)

	req, _ = http.NewRequest(http.MethodDelete, "/jobs/"+jobID, nil)
	resp, err = ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestDeleteJob_RemovesBlobs(t *testing.T) {
	ta := setupApp(t)
	jobID := createJob(t, ta, "")

	ctx := context.Background()
	id, _ := uuid.Parse(jobID)
	key := fmt.Sprintf("jobs/%s/original/A1.jpg", jobID)
	url, err := ta.blob.Upload(ctx, key, strings.NewReader("bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	now := time.Now()
	if err := ta.store.CreateMediaFiles(ctx, []*model.MediaFile{{
		ID: uuid.New(), JobID: id, Filename: "A1.jpg", OriginalPath: "A1.jpg",
		BlobKey: key, BlobURL: url, MediaType: model.MediaTypeImage,
		MimeType: "image/jpeg", RatingScore: 1000, CreatedAt: now, UpdatedAt: now,
	}}); err != nil {
		t.Fatalf("seed media: %v", err)
	}

	req, _ := http.NewRequest(http.MethodDelete, "/jobs/"+jobID, nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)

	if keys := ta.blob.Keys(); len(keys) != 0 {
		t.Errorf("expected no blobs after delete, found %v", keys)
	}
}

func TestPartialResults_EmptyJob(t *testing.T) {
	ta := setupApp(t)
	jobID := createJob(t, ta, "")

	req, _ := http.NewRequest(http.MethodGet, "/jobs/"+jobID+"/partial", nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["job"] == nil {
		t.Error("expected 'job' in partial results")
	}
}

func TestFinalResults_NotCompleted(t *testing.T) {
	ta := setupApp(t)
	jobID := createJob(t, ta, "")

	req, _ := http.NewRequest(http.MethodGet, "/jobs/"+jobID+"/results", nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestFinalResults_Completed(t *testing.T) {
	ta := setupApp(t)
	jobID := createJob(t, ta, "")
	id, _ := uuid.Parse(jobID)

	if err := ta.store.SetJobStatus(context.Background(), id, model.JobStatusCompleted); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "/jobs/"+jobID+"/results", nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
}
