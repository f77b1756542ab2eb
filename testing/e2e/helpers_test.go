package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/hybridplanner/internal/decomposer"
	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/endpoint"
	"github.com/example/hybridplanner/internal/learning"
	"github.com/example/hybridplanner/internal/observability"
	"github.com/example/hybridplanner/internal/service"
	"github.com/example/hybridplanner/internal/storage/sqlite"
	grpcTransport "github.com/example/hybridplanner/internal/transport/grpc"
	"github.com/example/hybridplanner/internal/web"
)

const domainsYAML = `
domains:
  - id: travel
    operators:
      - name: search_flight
        params: [destination]
        effects: [flights_found]
        cost: 1
        duration: 1m
      - name: book_flight
        preconditions: [flights_found]
        effects: [flight_booked]
        cost: 3
        duration: 2m
      - name: search_hotel
        effects: [hotels_found]
        cost: 1
        duration: 1m
      - name: book_hotel
        preconditions: [hotels_found]
        effects: [hotel_booked]
        cost: 2
        duration: 1m
      - name: get_weather
        params: [city]
        effects: [weather_known]
        cost: 1
        duration: 1s
    methods:
      - name: book_trip_standard
        task: book_trip
        params: [destination]
        subtasks:
          - name: search_flight
            params: {destination: "?destination"}
          - name: book_flight
          - name: search_hotel
          - name: book_hotel
        orderings: [[2, 3]]
  - id: payments
    operators:
      - name: pay_invoice
        preconditions: [card_valid]
        effects: [invoice_paid]
`

// TestEnv runs the whole planner: sqlite storage, the template generator,
// the feedback module, and both transports.
type TestEnv struct {
	Orchestrator *service.Orchestrator
	Learner      *learning.FeedbackModule
	Metrics      *observability.Metrics
	GRPC         *grpcTransport.Client
	HTTP         *httptest.Server
}

// NewTestEnv creates a new test environment with a temp database.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "planner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	catalog, err := domain.LoadDomains(strings.NewReader(domainsYAML))
	require.NoError(t, err)

	metrics := observability.NewMetrics()
	learner := learning.NewFeedbackModule(learning.Config{MinSupport: 1}, store, observability.DiscardLogger())
	adapter := decomposer.NewAdapter(decomposer.NewTemplateGenerator(), decomposer.Config{
		AttemptTimeout: 5 * time.Second,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	orch, err := service.NewOrchestrator(service.DefaultConfig(), service.Dependencies{
		Catalog:   catalog,
		Adapter:   adapter,
		Storage:   store,
		Suggester: learner,
		Recorder:  learner,
		Sink:      observability.NewMetricsSink(metrics),
		Metrics:   metrics,
		Logger:    observability.DiscardLogger(),
	})
	require.NoError(t, err)
	endpoints := endpoint.MakeEndpoints(orch)

	lis := bufconn.Listen(1 << 20)
	grpcServer := grpcTransport.NewServer(endpoints)
	go func() { _ = grpcServer.ServeListener(lis) }()
	t.Cleanup(grpcServer.GracefulStop)

	client, err := grpcTransport.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	httpServer := httptest.NewServer(web.NewServer("", endpoints, web.WithMetrics(metrics)).Handler())
	t.Cleanup(httpServer.Close)

	return &TestEnv{
		Orchestrator: orch,
		Learner:      learner,
		Metrics:      metrics,
		GRPC:         client,
		HTTP:         httpServer,
	}
}

// PostJSON sends body to path and decodes the response into out.
func (e *TestEnv) PostJSON(t *testing.T, path string, body, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.HTTP.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// GetJSON fetches path and decodes the response into out.
func (e *TestEnv) GetJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(e.HTTP.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// TaskByName returns the first task called name.
func TaskByName(t *testing.T, p *domain.Plan, name string) *domain.Task {
	t.Helper()
	for _, task := range p.Tasks {
		if task.Name == name {
			return task
		}
	}
	t.Fatalf("plan %s has no task %s", p.ID, name)
	return nil
}

func tripBody(intent string) endpoint.PlanBody {
	return endpoint.PlanBody{
		Intent:   intent,
		DomainID: "travel",
		Context:  map[string]string{"destination": "paris"},
	}
}
