// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/authd-dev/authd/internal/auth"
	authpg "github.com/authd-dev/authd/internal/auth/postgres"
	authredis "github.com/authd-dev/authd/internal/auth/redis"
	"github.com/authd-dev/authd/internal/events"
	"github.com/authd-dev/authd/internal/httpapi"
	"github.com/authd-dev/authd/internal/monitor"
	"github.com/authd-dev/authd/internal/observability"
	"github.com/authd-dev/authd/internal/store"
)

// memoryPublisher keeps published events in memory.
type memoryPublisher struct {
	mu       sync.Mutex
	messages []events.Message
}

func (p *memoryPublisher) Publish(_ context.Context, msg events.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *memoryPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		keys = append(keys, m.Key)
	}
	return keys
}

// testEnv holds the resources behind one running API.
type testEnv struct {
	ctx        context.Context
	cancel     context.CancelFunc
	container  testcontainers.Container
	pool       *pgxpool.Pool
	redis      *miniredis.Miniredis
	sessions   *authredis.SessionRegistry
	publisher  *memoryPublisher
	dispatcher *events.Dispatcher
	server     *httptest.Server
}

func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	env := &testEnv{ctx: ctx, cancel: cancel}

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("authd_test"),
		postgres.WithUsername("authd"),
		postgres.WithPassword("authd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.Open(ctx, connStr, store.PoolOptions{MaxConns: 8})
	if err != nil {
		env.cleanup()
		return nil, err
	}

	env.redis, err = miniredis.Run()
	if err != nil {
		env.cleanup()
		return nil, err
	}
	env.sessions, err = authredis.Dial(ctx, authredis.Options{Addr: env.redis.Addr()})
	if err != nil {
		env.cleanup()
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	mon, err := monitor.New(monitor.Options{ServiceName: "auth-service", Disabled: true})
	if err != nil {
		env.cleanup()
		return nil, err
	}

	env.publisher = &memoryPublisher{}
	env.dispatcher, err = events.NewDispatcher(env.publisher, events.DispatcherOptions{
		Reporter: mon,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		env.cleanup()
		return nil, err
	}

	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	issuer, err := auth.NewJWTIssuer(strings.Repeat("i", 32), auth.SessionTTL)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	svc, err := auth.NewService(auth.ServiceDeps{
		Credentials: authpg.NewCredentialRepository(env.pool),
		Hasher:      hasher,
		Tokens:      issuer,
		Sessions:    env.sessions,
		Events:      env.dispatcher,
		Reporter:    mon,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		env.cleanup()
		return nil, err
	}

	api, err := httpapi.New(httpapi.Options{
		Service:  svc,
		Monitor:  mon,
		Metrics:  metrics,
		Logger:   logger,
		Database: func(ctx context.Context) error { return store.Check(ctx, env.pool) },
		Redis:    env.sessions.Ping,
	})
	if err != nil {
		env.cleanup()
		return nil, err
	}
	env.server = httptest.NewServer(api.Handler())
	return env, nil
}

func (env *testEnv) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if env.server != nil {
		env.server.Close()
	}
	if env.dispatcher != nil {
		_ = env.dispatcher.Close(ctx)
	}
	if env.sessions != nil {
		_ = env.sessions.Close()
	}
	if env.redis != nil {
		env.redis.Close()
	}
	if env.pool != nil {
		env.pool.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(ctx)
	}
	env.cancel()
}

// call sends a JSON request and decodes the JSON response into a map.
func (env *testEnv) call(method, path, token string, body any) (int, map[string]any) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.server.URL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := env.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var out map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return resp.StatusCode, out
}

var registration = map[string]string{
	"firstName": "Ann",
	"lastName":  "Lee",
	"email":     "ann@example.com",
	"password":  "correct horse battery staple",
}

var _ = Describe("Auth flow", func() {
	var env *testEnv

	BeforeEach(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		env.cleanup()
	})

	It("registers, logs in, and logs out", func() {
		status, body := env.call(http.MethodPost, "/api/v1/auth/register", "", registration)
		Expect(status).To(Equal(http.StatusCreated))
		user := body["user"].(map[string]any)
		Expect(user["email"]).To(Equal("ann@example.com"))
		Expect(user).NotTo(HaveKey("password"))
		userID := user["id"].(string)

		Eventually(env.publisher.keys).Should(ConsistOf(userID))

		status, body = env.call(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email":    "ANN@example.com",
			"password": registration["password"],
		})
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["firstName"]).To(Equal("Ann"))
		token := body["token"].(string)
		Expect(token).NotTo(BeEmpty())

		Expect(env.redis.Keys()).To(ContainElement("auth:" + userID + ":" + token))

		status, body = env.call(http.MethodGet, "/api/v1/auth/me", token, nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["user"].(map[string]any)["id"]).To(Equal(userID))

		status, _ = env.call(http.MethodPost, "/api/v1/auth/logout", token, nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(env.redis.Keys()).To(BeEmpty())

		status, body = env.call(http.MethodGet, "/api/v1/auth/me", token, nil)
		Expect(status).To(Equal(http.StatusUnauthorized))
		Expect(body["status"]).To(Equal("error"))
	})

	It("rejects a second registration with the same email", func() {
		status, _ := env.call(http.MethodPost, "/api/v1/auth/register", "", registration)
		Expect(status).To(Equal(http.StatusCreated))

		dup := map[string]string{}
		for k, v := range registration {
			dup[k] = v
		}
		dup["email"] = "Ann@Example.com"
		status, body := env.call(http.MethodPost, "/api/v1/auth/register", "", dup)
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(body["message"]).To(ContainSubstring("already"))

		var users int
		Expect(env.pool.QueryRow(env.ctx, `SELECT count(*) FROM users`).Scan(&users)).To(Succeed())
		Expect(users).To(Equal(1))
	})

	It("answers wrong passwords and unknown emails identically", func() {
		status, _ := env.call(http.MethodPost, "/api/v1/auth/register", "", registration)
		Expect(status).To(Equal(http.StatusCreated))

		wrongStatus, wrongBody := env.call(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email": "ann@example.com", "password": "wrong",
		})
		unknownStatus, unknownBody := env.call(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email": "nobody@example.com", "password": "wrong",
		})
		Expect(wrongStatus).To(Equal(http.StatusUnauthorized))
		Expect(unknownStatus).To(Equal(wrongStatus))
		Expect(unknownBody).To(Equal(wrongBody))
	})

	It("reports healthy dependencies", func() {
		status, body := env.call(http.MethodGet, "/health", "", nil)
		Expect(status).To(Equal(http.StatusOK))
		checks := body["checks"].(map[string]any)
		Expect(checks["database"]).To(Equal("connected"))
		Expect(checks["redis"]).To(Equal("connected"))
	})
})
