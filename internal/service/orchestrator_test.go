package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/hybridplanner/internal/cache"
	"github.com/example/hybridplanner/internal/decomposer"
	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/learning"
	"github.com/example/hybridplanner/internal/observability"
	"github.com/example/hybridplanner/internal/validator"
)

var happyPath = []domain.PlanningState{
	domain.PlanningStateReceived,
	domain.PlanningStateGenerating,
	domain.PlanningStateValidating,
	domain.PlanningStateValid,
	domain.PlanningStateFinalizing,
	domain.PlanningStateDone,
}

func weatherRequest(city string) PlanRequest {
	return PlanRequest{Intent: "get weather for city " + city, DomainID: "travel"}
}

func TestPlan_SingleOperator(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, decomposer.NewTemplateGenerator())

	res, err := env.orch.Plan(ctx, weatherRequest("oslo"))
	require.NoError(t, err)

	p := res.Plan
	assert.Equal(t, cache.SourceComputed, res.Source)
	assert.Equal(t, happyPath, res.States)
	assert.True(t, p.Frozen())
	assert.Equal(t, int64(1), p.Version)
	assert.NotEmpty(t, p.ID)
	assert.NotEmpty(t, p.LineageID)
	require.Len(t, p.Tasks, 1)
	assert.Equal(t, "oslo", p.Tasks[0].Params["city"])
	assert.Equal(t, []domain.Fact{domain.NewFact("weather_known")}, p.Tasks[0].Effects)

	assert.Equal(t, 1, p.Metadata.Attempts)
	assert.Equal(t, 1.0, p.Metadata.Confidence)
	assert.Equal(t, time.Second, p.Metadata.EstimatedDuration)
	assert.Equal(t, []string{"t1"}, p.Metadata.Linearization)
	assert.Positive(t, p.Metadata.Complexity)
	version, ok := env.catalog.CurrentVersion("travel")
	require.True(t, ok)
	assert.Equal(t, version, p.DomainVersion)
	assert.Equal(t, string(domain.ComputeFingerprint("get weather for city oslo", nil, "travel", version)), p.Metadata.Fingerprint)

	stored, err := env.orch.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Tasks, stored.Tasks)
	assert.Equal(t, p.Metadata, stored.Metadata)

	assert.Len(t, env.sink.Phase(observability.PhaseFinalize), 1)
	plans := env.sink.Phase(observability.PhasePlan)
	require.Len(t, plans, 1)
	assert.Equal(t, "computed", plans[0].Outcome)
	assert.Equal(t, int64(0), env.metrics.InFlight().Get())
}

func TestPlan_RegeneratesWithViolationConstraint(t *testing.T) {
	ctx := context.Background()
	gen := &recordingGenerator{next: decomposer.NewTemplateGenerator()}
	env := newTestEnv(t, gen)

	res, err := env.orch.Plan(ctx, PlanRequest{
		Intent:   "book trip",
		Context:  map[string]string{"destination": "rome"},
		DomainID: "travel",
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.PlanningState{
		domain.PlanningStateReceived,
		domain.PlanningStateGenerating,
		domain.PlanningStateValidating,
		domain.PlanningStateInvalid,
		domain.PlanningStateGenerating,
		domain.PlanningStateValidating,
		domain.PlanningStateValid,
		domain.PlanningStateFinalizing,
		domain.PlanningStateDone,
	}, res.States)

	reqs := gen.Requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].Constraints)
	require.Len(t, reqs[1].Constraints, 1)
	c := reqs[1].Constraints[0]
	assert.Equal(t, decomposer.ConstraintOrder, c.Kind)
	assert.Equal(t, "book_flight", c.Task)
	assert.Equal(t, "search_flight", c.Before)
	assert.False(t, c.Soft)
	require.NotNil(t, c.Fact)
	assert.Equal(t, "flights_found", c.Fact.Name)

	p := res.Plan
	assert.Equal(t, 2, p.Metadata.Attempts)
	assert.InDelta(t, 0.85, p.Metadata.Confidence, 1e-9)
	assert.Contains(t, p.Dependencies, domain.NewDependency("t2", "t3"))
	// Flight and hotel chains run in parallel: 1m+2m against 1m+1m.
	assert.Equal(t, 3*time.Minute, p.Metadata.EstimatedDuration)

	invalid := env.sink.Phase(observability.PhaseValidate)
	require.Len(t, invalid, 2)
	assert.Equal(t, "invalid", invalid[0].Outcome)
	assert.Equal(t, "valid", invalid[1].Outcome)
	assert.Equal(t, int64(1), env.metrics.Violations().WithLabels(string(validator.ViolationUnsatisfiedPrecondition)).Get())
}

func TestPlan_LearnedConstraintAvoidsRegeneration(t *testing.T) {
	ctx := context.Background()
	gen := &recordingGenerator{next: decomposer.NewTemplateGenerator()}
	env := newTestEnv(t, gen)

	_, err := env.orch.Plan(ctx, PlanRequest{Intent: "book trip", Context: map[string]string{"destination": "rome"}, DomainID: "travel"})
	require.NoError(t, err)

	res, err := env.orch.Plan(ctx, PlanRequest{Intent: "Book a trip", Context: map[string]string{"destination": "paris"}, DomainID: "travel"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Plan.Metadata.Attempts)

	reqs := gen.Requests()
	require.Len(t, reqs, 3)
	require.Len(t, reqs[2].Constraints, 1)
	assert.True(t, reqs[2].Constraints[0].Soft)
	assert.Equal(t, "search_flight", reqs[2].Constraints[0].Before)
}

func TestPlan_TimeoutsThenSuccess(t *testing.T) {
	ctx := context.Background()
	gen := decomposer.NewScriptedGenerator(
		decomposer.Step{Err: context.DeadlineExceeded},
		decomposer.Step{Err: context.DeadlineExceeded},
		decomposer.Step{Plan: weatherPlan("oslo")},
	)
	env := newTestEnv(t, gen)

	res, err := env.orch.Plan(ctx, PlanRequest{Intent: "get weather for city oslo", DomainID: "travel", MaxAttempts: 3})
	require.NoError(t, err)

	assert.Equal(t, happyPath, res.States)
	assert.Equal(t, 3, res.Plan.Metadata.Attempts)
	assert.Less(t, res.Plan.Metadata.Confidence, 1.0)
	assert.InDelta(t, 0.85*0.85, res.Plan.Metadata.Confidence, 1e-9)

	gens := env.sink.Phase(observability.PhaseGenerate)
	require.Len(t, gens, 3)
	assert.Equal(t, "timeout", gens[0].Outcome)
	assert.Equal(t, "timeout", gens[1].Outcome)
	assert.Equal(t, "ok", gens[2].Outcome)
	assert.Len(t, env.clock.Sleeps(), 2)
}

func TestPlan_UnsolvableIntent(t *testing.T) {
	ctx := context.Background()

	selfDep := weatherPlan("oslo")
	selfDep.Dependencies = []domain.Dependency{{From: "t1", To: "t1"}}
	badRoot := weatherPlan("oslo")
	badRoot.RootID = "t9"
	unknownOp := weatherPlan("oslo")
	unknownOp.Tasks[0].Name = "teleport"

	gen := decomposer.NewScriptedGenerator(
		decomposer.Step{Plan: selfDep},
		decomposer.Step{Plan: badRoot},
		decomposer.Step{Plan: unknownOp},
	)
	env := newTestEnv(t, gen)

	res, err := env.orch.Plan(ctx, weatherRequest("oslo"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrUnsolvableIntent)

	var pe *PlanError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
	kinds := make(map[validator.ViolationKind]bool)
	for _, v := range pe.Violations {
		kinds[v.Kind] = true
	}
	assert.True(t, kinds[validator.ViolationCyclicDependency])
	assert.True(t, kinds[validator.ViolationDanglingReference])
	assert.True(t, kinds[validator.ViolationUnknownOperator])
	assert.Equal(t, 3, gen.Calls())

	plans := env.sink.Phase(observability.PhasePlan)
	require.Len(t, plans, 1)
	assert.Equal(t, string(KindUnsolvableIntent), plans[0].Outcome)

	// Failures are not cached.
	_, err = env.orch.Plan(ctx, weatherRequest("oslo"))
	assert.ErrorIs(t, err, ErrUnsolvableIntent)
	assert.Equal(t, 6, gen.Calls())

	stats := env.learner.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "get weather city", stats[0].Category)
	assert.Equal(t, 2, stats[0].Outcomes)
	assert.Zero(t, stats[0].Successes)
}

func TestPlan_GeneratorExhausted(t *testing.T) {
	ctx := context.Background()
	gen := decomposer.NewScriptedGenerator(decomposer.Step{Err: errors.New("model overloaded")})
	env := newTestEnv(t, gen)

	_, err := env.orch.Plan(ctx, weatherRequest("oslo"))
	assert.ErrorIs(t, err, ErrGeneratorExhausted)
	assert.ErrorIs(t, err, decomposer.ErrExhausted)
	assert.ErrorIs(t, err, decomposer.ErrProvider)

	var pe *PlanError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
	assert.Equal(t, 3, gen.Calls())
}

func TestPlan_AttemptsCoverFailuresAndRegenerations(t *testing.T) {
	ctx := context.Background()
	bad := weatherPlan("oslo")
	bad.Tasks[0].Name = "teleport"
	gen := decomposer.NewScriptedGenerator(
		decomposer.Step{Plan: bad},
		decomposer.Step{Err: context.DeadlineExceeded},
	)
	env := newTestEnv(t, gen)

	_, err := env.orch.Plan(ctx, weatherRequest("oslo"))
	assert.ErrorIs(t, err, ErrGeneratorExhausted)
	assert.ErrorIs(t, err, decomposer.ErrTimeout)

	var pe *PlanError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
	require.Len(t, pe.Violations, 1)
	assert.Equal(t, validator.ViolationUnknownOperator, pe.Violations[0].Kind)
	assert.Equal(t, 3, gen.Calls())
}

func TestPlan_CoalescesConcurrentRequests(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	gen := decomposer.NewScriptedGenerator(decomposer.Step{Plan: weatherPlan("oslo"), Wait: release})
	env := newTestEnv(t, gen)

	var wg sync.WaitGroup
	results := make([]*PlanResult, 2)
	errs := make([]error, 2)
	run := func(i int) {
		defer wg.Done()
		results[i], errs[i] = env.orch.Plan(ctx, weatherRequest("oslo"))
	}

	wg.Add(2)
	go run(0)
	require.Eventually(t, func() bool { return gen.Calls() == 1 }, time.Second, time.Millisecond)
	go run(1)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, gen.Calls())
	assert.Equal(t, results[0].Plan.ID, results[1].Plan.ID)
	assert.Equal(t, cache.SourceComputed, results[0].Source)
	assert.Contains(t, []cache.Source{cache.SourceCoalesced, cache.SourceHit}, results[1].Source)
	assert.Empty(t, results[1].States)

	res, err := env.orch.Plan(ctx, PlanRequest{Intent: "  GET weather for city   OSLO", DomainID: "travel"})
	require.NoError(t, err)
	assert.Equal(t, cache.SourceHit, res.Source)
	assert.Equal(t, results[0].Plan.ID, res.Plan.ID)
	assert.Equal(t, 1, gen.Calls())

	versions, err := env.orch.ListVersions(ctx, res.Plan.LineageID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestPlan_CoalescedRequestSurvivesStarterCancel(t *testing.T) {
	release := make(chan struct{})
	gen := decomposer.NewScriptedGenerator(decomposer.Step{Plan: weatherPlan("oslo"), Wait: release})
	env := newTestEnv(t, gen)

	starterCtx, cancelStarter := context.WithCancel(context.Background())
	starterErr := make(chan error, 1)
	go func() {
		_, err := env.orch.Plan(starterCtx, weatherRequest("oslo"))
		starterErr <- err
	}()
	require.Eventually(t, func() bool { return gen.Calls() == 1 }, time.Second, time.Millisecond)

	type outcome struct {
		res *PlanResult
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		res, err := env.orch.Plan(context.Background(), weatherRequest("oslo"))
		follower <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelStarter()
	assert.ErrorIs(t, <-starterErr, ErrCanceled)

	close(release)
	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, cache.SourceCoalesced, got.res.Source)
	assert.Equal(t, "get_weather", got.res.Plan.Tasks[0].Name)
	assert.Equal(t, 1, gen.Calls())

	versions, err := env.orch.ListVersions(context.Background(), got.res.Plan.LineageID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestPlan_DomainVersionChangeMissesCache(t *testing.T) {
	ctx := context.Background()
	gen := decomposer.NewScriptedGenerator(decomposer.Step{Plan: weatherPlan("oslo")})
	env := newTestEnv(t, gen)

	first, err := env.orch.Plan(ctx, weatherRequest("oslo"))
	require.NoError(t, err)

	d, err := env.catalog.Get("travel")
	require.NoError(t, err)
	require.NoError(t, d.RegisterOperator(domain.Operator{Name: "get_forecast", Params: []string{"city"}}))

	second, err := env.orch.Plan(ctx, weatherRequest("oslo"))
	require.NoError(t, err)
	assert.Equal(t, cache.SourceComputed, second.Source)
	assert.NotEqual(t, first.Plan.Metadata.Fingerprint, second.Plan.Metadata.Fingerprint)
	assert.Equal(t, d.Version(), second.Plan.DomainVersion)
	assert.Equal(t, 2, gen.Calls())
}

func TestPlan_InvalidRequests(t *testing.T) {
	ctx := context.Background()
	gen := decomposer.NewScriptedGenerator(decomposer.Step{Plan: weatherPlan("oslo")})
	env := newTestEnv(t, gen)

	tests := []struct {
		name string
		req  PlanRequest
		want error
	}{
		{"empty intent", PlanRequest{Intent: "  ", DomainID: "travel"}, ErrInvalidRequest},
		{"no domain", PlanRequest{Intent: "x"}, ErrInvalidRequest},
		{"unknown domain", PlanRequest{Intent: "x", DomainID: "cooking"}, ErrUnknownDomain},
		{"unknown domain version", PlanRequest{Intent: "x", DomainID: "travel", DomainVersion: 99}, ErrUnknownDomain},
		{"too many attempts", PlanRequest{Intent: "x", DomainID: "travel", MaxAttempts: 11}, ErrInvalidRequest},
		{"negative timeout", PlanRequest{Intent: "x", DomainID: "travel", Timeout: -time.Second}, ErrInvalidRequest},
		{"expected version without lineage", PlanRequest{Intent: "x", DomainID: "travel", ExpectedVersion: 2}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.orch.Plan(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, gen.Calls())
}

func TestPlan_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := decomposer.NewScriptedGenerator(decomposer.Step{Plan: weatherPlan("oslo")})
	env := newTestEnv(t, gen)

	_, err := env.orch.Plan(ctx, weatherRequest("oslo"))
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Zero(t, gen.Calls())
}

func TestPlan_RetriesTransientPersistence(t *testing.T) {
	ctx := context.Background()
	gen := decomposer.NewScriptedGenerator(decomposer.Step{Plan: weatherPlan("oslo")})
	env := newTestEnv(t, gen, wrapStorage(newFlakyStorage(2, errLocked)))

	res, err := env.orch.Plan(ctx, weatherRequest("oslo"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Plan.Version)
	assert.Equal(t, int64(2), env.metrics.PersistRetries().Get())
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}, env.clock.Sleeps())
}

func TestPlan_PersistenceUnavailable(t *testing.T) {
	ctx := context.Background()
	gen := decomposer.NewScriptedGenerator(decomposer.Step{Plan: weatherPlan("oslo")})
	cfg := DefaultConfig()
	cfg.PersistRetries = 2
	env := newTestEnv(t, gen, withConfig(cfg), wrapStorage(newFlakyStorage(100, errLocked)))

	_, err := env.orch.Plan(ctx, weatherRequest("oslo"))
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
	assert.Equal(t, int64(2), env.metrics.PersistRetries().Get())

	_, err = env.orch.Plan(ctx, weatherRequest("oslo"))
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
	assert.Equal(t, 2, gen.Calls())
}

func TestReplan_AppendsVersions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, decomposer.NewTemplateGenerator())

	first, err := env.orch.Plan(ctx, weatherRequest("oslo"))
	require.NoError(t, err)
	lineage := first.Plan.LineageID

	second, err := env.orch.Replan(ctx, lineage, ReplanRequest{Context: map[string]string{"city": "bergen"}})
	require.NoError(t, err)
	assert.Equal(t, lineage, second.Plan.LineageID)
	assert.Equal(t, int64(2), second.Plan.Version)
	assert.NotEqual(t, first.Plan.ID, second.Plan.ID)
	assert.Equal(t, first.Plan.Intent, second.Plan.Intent)
	assert.Equal(t, "bergen", second.Plan.Tasks[0].Params["city"])

	third, err := env.orch.Replan(ctx, lineage, ReplanRequest{ExpectedVersion: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), third.Plan.Version)

	versions, err := env.orch.ListVersions(ctx, lineage)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, int64(i+1), v.Version)
	}

	latest, err := env.orch.Latest(ctx, lineage)
	require.NoError(t, err)
	assert.Equal(t, third.Plan.ID, latest.ID)

	// The original plan is immutable.
	orig, err := env.orch.GetPlan(ctx, first.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "oslo", orig.Tasks[0].Params["city"])
}

func TestReplan_Conflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, decomposer.NewTemplateGenerator())

	first, err := env.orch.Plan(ctx, weatherRequest("oslo"))
	require.NoError(t, err)

	_, err = env.orch.Replan(ctx, first.Plan.LineageID, ReplanRequest{ExpectedVersion: 5})
	assert.ErrorIs(t, err, ErrPersistenceConflict)

	versions, err := env.orch.ListVersions(ctx, first.Plan.LineageID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestReplan_UnknownLineage(t *testing.T) {
	env := newTestEnv(t, decomposer.NewTemplateGenerator())
	_, err := env.orch.Replan(context.Background(), "nope", ReplanRequest{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.orch.Replan(context.Background(), "", ReplanRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPlanBatch(t *testing.T) {
	ctx := context.Background()
	gen := decomposer.NewScriptedGenerator(decomposer.Step{Plan: weatherPlan("oslo")})
	env := newTestEnv(t, gen)

	out := env.orch.PlanBatch(ctx, []PlanRequest{
		weatherRequest("oslo"),
		weatherRequest("oslo"),
		{Intent: "get weather", DomainID: "cooking"},
	})
	require.Len(t, out, 3)
	require.NoError(t, out[0].Err)
	require.NoError(t, out[1].Err)
	assert.Equal(t, out[0].Result.Plan.ID, out[1].Result.Plan.ID)
	assert.ErrorIs(t, out[2].Err, ErrUnknownDomain)
	assert.Equal(t, 1, gen.Calls())
}

func TestRecordExecution(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, decomposer.NewTemplateGenerator())

	res, err := env.orch.Plan(ctx, weatherRequest("oslo"))
	require.NoError(t, err)

	require.NoError(t, env.orch.RecordExecution(ctx, res.Plan.ID, learning.ExecutionReport{FailedTask: "get_weather", Detail: "api down"}))
	cs := env.learner.SuggestConstraints(ctx, "get weather city")
	require.Len(t, cs, 1)
	assert.Equal(t, decomposer.ConstraintAvoid, cs[0].Kind)
	assert.Equal(t, "get_weather", cs[0].Task)

	assert.ErrorIs(t, env.orch.RecordExecution(ctx, "missing", learning.ExecutionReport{}), domain.ErrNotFound)
}

func TestConstraintsFromViolations(t *testing.T) {
	fact := domain.NewFact("flights_found")
	got := ConstraintsFromViolations([]validator.Violation{
		{Kind: validator.ViolationUnsatisfiedPrecondition, TaskName: "book_flight", RelatedName: "search_flight", Fact: &fact},
		{Kind: validator.ViolationUnsatisfiedPrecondition, TaskName: "book_hotel", Fact: &fact},
		{Kind: validator.ViolationConflictingEffects, TaskName: "a", RelatedName: "b"},
		{Kind: validator.ViolationUnknownOperator, TaskName: "teleport"},
		{Kind: validator.ViolationEmptyDecomposition, TaskName: "book_trip"},
		{Kind: validator.ViolationMalformedPlan, Message: "plan has no tasks"},
	})
	require.Len(t, got, 6)
	assert.Equal(t, decomposer.ConstraintOrder, got[0].Kind)
	assert.Equal(t, "search_flight", got[0].Before)
	assert.Equal(t, decomposer.ConstraintEstablish, got[1].Kind)
	assert.Equal(t, decomposer.Constraint{Kind: decomposer.ConstraintOrder, Task: "b", Before: "a", Reason: got[2].Reason}, got[2])
	assert.Equal(t, decomposer.ConstraintAvoid, got[3].Kind)
	assert.Equal(t, decomposer.ConstraintDecompose, got[4].Kind)
	assert.Equal(t, decomposer.ConstraintNote, got[5].Kind)
	for _, c := range got {
		assert.False(t, c.Soft)
		assert.NotEmpty(t, c.Reason)
	}
}
