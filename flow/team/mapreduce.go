package team

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// runMapReduce drives the map-reduce strategy: every agent works the same
// task concurrently (map) and posts its output to the reducer's mailbox;
// the reducer collects the posts and consolidates them (reduce). Always
// exactly two rounds.
func (t *Team) runMapReduce(ctx context.Context, task string) (Result, error) {
	reducer := t.synthesizerMember()
	t.Bus.Register(reducer.Name)

	errs := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, m := range t.cfg.Members {
		wg.Add(1)
		go func(m Member) {
			defer wg.Done()
			t.emit(EventAgentDelegated, map[string]any{"agent": m.Name, "phase": "map"})
			out, _, err := t.callAgent(ctx, m, task, nil, 1)
			if err == nil {
				err = t.Bus.Send(ctx, Message{From: m.Name, To: reducer.Name, Content: out})
			}
			if err != nil {
				mu.Lock()
				errs[m.Name] = err
				mu.Unlock()
			}
			t.emit(EventAgentCompleted, map[string]any{"agent": m.Name, "phase": "map"})
		}(m)
	}
	wg.Wait()

	for agent, err := range errs {
		return Result{}, fmt.Errorf("map phase agent %s: %w", agent, err)
	}

	outputs := make(map[string]string, len(t.cfg.Members))
	for range t.cfg.Members {
		msg, err := t.Bus.Receive(ctx, reducer.Name, 0)
		if err != nil {
			return Result{}, fmt.Errorf("collect map outputs: %w", err)
		}
		outputs[msg.From] = msg.Content
	}

	t.emit(EventSynthesisStart, map[string]any{"phase": "reduce"})
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nConsolidate these results into one answer:\n\n", task)
	for _, m := range t.cfg.Members {
		fmt.Fprintf(&b, "## %s\n%s\n\n", m.Name, outputs[m.Name])
	}
	reduced, _, err := t.callAgent(ctx, reducer, b.String(), nil, 1)
	if err != nil {
		return Result{}, fmt.Errorf("reduce phase: %w", err)
	}

	return Result{
		Output:       reduced,
		Rounds:       2,
		AgentOutputs: outputs,
	}, nil
}
