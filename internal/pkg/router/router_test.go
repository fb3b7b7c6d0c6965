package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/financebee/internal/pkg/heartbeat"
	"github.com/ManuelReschke/financebee/internal/pkg/ingress"
	"github.com/ManuelReschke/financebee/internal/pkg/jobqueue"
)

const (
	testSecret = "whsec_router"
	testQueue  = "revenue"
)

type testEnv struct {
	app   *fiber.App
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	queue *jobqueue.Client
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	queue := jobqueue.NewClient(rdb)
	app := fiber.New()
	InstallRouter(app, Dependencies{
		Webhook:          ingress.NewHandler(queue, testQueue, testSecret),
		Queue:            queue,
		Redis:            rdb,
		QueueName:        testQueue,
		Workers:          []string{"finance-bee-01"},
		AdminUser:        "admin",
		AdminPassword:    "secret",
		WebhookRateLimit: rateLimit,
	})
	return &testEnv{app: app, mr: mr, rdb: rdb, queue: queue}
}

func (e *testEnv) postWebhook(t *testing.T, body []byte) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set(ingress.SignatureHeaderName, ingress.SignatureHeader(body, testSecret, time.Now()))
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 0)

	resp, err := env.app.Test(httptest.NewRequest("GET", "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	env.mr.Close()
	resp, err = env.app.Test(httptest.NewRequest("GET", "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebhookEnqueuesTask(t *testing.T) {
	env := newTestEnv(t, 0)
	body := []byte(`{"id":"evt_router_1","type":"customer.subscription.deleted"}`)

	assert.Equal(t, fiber.StatusOK, env.postWebhook(t, body))

	stats, err := env.queue.Stats(context.Background(), testQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)

	task, err := env.queue.Assign(context.Background(), testQueue, time.Second, "finance-bee-01")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, body, task.Payload)
}

func TestWebhookQueueDown(t *testing.T) {
	env := newTestEnv(t, 0)
	env.mr.Close()

	body := []byte(`{"id":"evt_router_2"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, env.postWebhook(t, body))
}

func TestWebhookRateLimit(t *testing.T) {
	env := newTestEnv(t, 1)
	body := []byte(`{"id":"evt_router_3"}`)

	assert.Equal(t, fiber.StatusOK, env.postWebhook(t, body))
	assert.Equal(t, fiber.StatusTooManyRequests, env.postWebhook(t, body))
}

func TestAdminQueueStatus(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	_, err := env.queue.Submit(ctx, testQueue, []byte(`{"id":"evt_router_4"}`))
	require.NoError(t, err)
	require.NoError(t, heartbeat.New(env.rdb, "finance-bee-01").Beat(ctx, map[string]int64{"tasks_committed": 7}))

	resp, err := env.app.Test(httptest.NewRequest("GET", "/admin/queue", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/admin/queue", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = env.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var out struct {
		Queue   string         `json:"queue"`
		Stats   jobqueue.Stats `json:"stats"`
		Workers []workerStatus `json:"workers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, testQueue, out.Queue)
	assert.Equal(t, int64(1), out.Stats.Pending)
	require.Len(t, out.Workers, 1)
	assert.True(t, out.Workers[0].Alive)
	assert.Equal(t, int64(7), out.Workers[0].Stats["tasks_committed"])
}
