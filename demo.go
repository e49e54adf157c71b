package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"crewmonitor/logging"
	"crewmonitor/metrics"
	"crewmonitor/monitor"
)

// DemoConfig paces the simulated workload.
type DemoConfig struct {
	// StepDelay is the pause between progress updates.
	StepDelay time.Duration
	// Pause is the idle time between simulated crew runs.
	Pause time.Duration
	// Rounds limits the number of crew runs; zero runs until ctx is done.
	Rounds int
	// FailEvery makes every Nth agent task fail; zero never fails.
	FailEvery int
}

// DefaultDemoConfig returns the pacing used by CREWMONITOR_DEMO.
// This is a pure function with no side effects.
func DefaultDemoConfig() DemoConfig {
	return DemoConfig{
		StepDelay: 400 * time.Millisecond,
		Pause:     2 * time.Second,
		FailEvery: 5,
	}
}

var demoAgents = []struct{ id, role string }{
	{"researcher", "Senior Research Analyst"},
	{"writer", "Content Writer"},
	{"reviewer", "Quality Reviewer"},
}

var errDemoTask = errors.New("simulated agent failure")

// RunDemo drives simulated crew executions through the registry, the
// collector and the operation logger so every surface has data to show.
func RunDemo(ctx context.Context, a *App, cfg DemoConfig) error {
	taskCount := 0
	for round := 1; cfg.Rounds == 0 || round <= cfg.Rounds; round++ {
		crewID := fmt.Sprintf("demo_crew_%d", round)
		start := time.Now()
		trackingID := a.collector.TrackOperationStart("crew_execution")

		err := monitor.Track(ctx, a.registry, monitor.NewOperationID("crew_execution"), "crew_execution",
			func(ctx context.Context) error {
				for _, agent := range demoAgents {
					taskCount++
					fail := cfg.FailEvery > 0 && taskCount%cfg.FailEvery == 0
					if err := runDemoTask(ctx, a, agent.id, agent.role, fail, cfg.StepDelay); err != nil && !errors.Is(err, errDemoTask) {
						return err
					}
				}
				return runDemoLLMCall(ctx, a, cfg.StepDelay)
			},
			monitor.WithMetadata(monitor.MetadataFrom(map[string]any{
				"crew_id": crewID,
				"round":   round,
				"agents":  len(demoAgents),
			})),
		)

		elapsed := time.Since(start)
		a.collector.TrackOperationEnd("crew_execution", trackingID, float64(elapsed.Milliseconds()), err == nil, errorType(err))
		a.collector.TrackCrewExecution(metrics.CrewExecution{
			CrewID:      crewID,
			AgentsCount: len(demoAgents),
			TasksCount:  len(demoAgents),
			DurationMs:  float64(elapsed.Milliseconds()),
			Success:     err == nil,
		})
		a.opLog.LogCrewExecution(crewID, err == nil, elapsed)

		if err != nil {
			return err
		}
		if err := sleepCtx(ctx, cfg.Pause); err != nil {
			return err
		}
	}
	return nil
}

func runDemoTask(ctx context.Context, a *App, agentID, role string, fail bool, stepDelay time.Duration) error {
	start := time.Now()
	var tokens int64

	id := monitor.NewOperationID("agent_task")
	err := monitor.Track(ctx, a.registry, id, "agent_task",
		func(ctx context.Context) error {
			for step := 1; step <= 4; step++ {
				if err := sleepCtx(ctx, stepDelay); err != nil {
					return err
				}
				tokens += int64(80 + rand.IntN(120))
				a.registry.UpdateOperation(id,
					monitor.WithProgress(float64(step)*25),
					monitor.WithStep(fmt.Sprintf("%s: step %d of 4", role, step)),
					monitor.WithTokens(tokens),
				)
				if fail && step == 3 {
					return errDemoTask
				}
			}
			return nil
		},
		monitor.WithMetadata(monitor.Metadata{
			"agent_id": monitor.String(agentID),
			"role":     monitor.String(role),
		}),
	)

	elapsed := time.Since(start)
	a.collector.TrackAgentPerformance(metrics.AgentTask{
		AgentID:    agentID,
		Role:       role,
		TaskType:   "demo",
		DurationMs: float64(elapsed.Milliseconds()),
		Tokens:     tokens,
		Success:    err == nil,
	})
	a.opLog.LogAgentAction(agentID, "demo_task", err == nil, elapsed)
	return err
}

// runDemoLLMCall leaves completion of the operation to the operation
// logger, which reports the outcome to the registry.
func runDemoLLMCall(ctx context.Context, a *App, stepDelay time.Duration) error {
	id := monitor.NewOperationID("llm_chat")
	if _, err := a.registry.StartOperation(id, "llm_chat"); err != nil {
		return err
	}
	a.registry.UpdateOperation(id, monitor.WithStatus(monitor.StatusProcessing), monitor.WithStep("Awaiting model response"))

	start := time.Now()
	err := sleepCtx(ctx, stepDelay)
	tokens := int64(200 + rand.IntN(600))
	elapsed := time.Since(start)

	provider, model := a.cfg.LLM.Provider, a.cfg.LLM.ModelName
	a.opLog.LogLLMInteraction(logging.LLMInteraction{
		Provider:    provider,
		Model:       model,
		Operation:   "chat",
		TokensUsed:  tokens,
		Duration:    elapsed,
		Success:     err == nil,
		Err:         err,
		OperationID: id,
	})
	a.collector.TrackLLMUsage(metrics.LLMUsage{
		Provider:    provider,
		Model:       model,
		Operation:   "chat",
		Tokens:      tokens,
		DurationMs:  float64(elapsed.Milliseconds()),
		Success:     err == nil,
		ErrorType:   errorType(err),
		OperationID: id,
	})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
