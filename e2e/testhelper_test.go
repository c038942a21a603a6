package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/framepick/api/internal/client"
	"github.com/framepick/api/internal/handler"
	"github.com/framepick/api/internal/service"
	"github.com/framepick/api/internal/store"
	"github.com/framepick/api/pkg/response"
)

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	store *store.MemoryStore
	blob  *client.MemoryStorage
	jobs  *service.JobService
}

// setupApp builds a Fiber app with the same /jobs routes as main.go, backed by
// the in-memory store and blob storage so no external services are needed.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	st := store.NewMemoryStore()
	blob := client.NewMemoryStorage()

	// Lazy client; job CRUD never reaches the queue.
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: "localhost:6379", DB: 15})
	t.Cleanup(func() { asynqClient.Close() })

	sugar := zap.NewNop().Sugar()
	validate := validator.New()

	jobService := service.NewJobService(st, blob, asynqClient, sugar)
	queryService := service.NewQueryService(st)
	jobHandler := handler.NewJobHandler(jobService, queryService, validate)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return response.Error(c, code, response.CodeServiceError, err.Error(), nil)
		},
	})

	jobs := app.Group("/jobs")
	jobs.Get("/", jobHandler.List)
	jobs.Post("/", jobHandler.Create)
	jobs.Get("/:id", jobHandler.Get)
	jobs.Delete("/:id", jobHandler.Delete)
	jobs.Get("/:id/partial", jobHandler.Partial)
	jobs.Get("/:id/results", jobHandler.Results)

	return &testApp{app: app, store: st, blob: blob, jobs: jobService}
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", expected, resp.StatusCode, string(body))
	}
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON response: %v: %s", err, string(body))
	}
	return result
}
