package team

import (
	"context"
	"fmt"
	"strings"
)

const defaultDebateRounds = 3

// runDebate drives the debate strategy: across MaxRounds, every agent
// broadcasts its position on the bus and, before speaking, reads the
// positions posted to its mailbox since its last turn. From the second
// round on, if every agent's position string-equals its previous-round
// position the debate has converged and stops early. A synthesizer
// (dedicated coordinator or the first agent) then summarises.
func (t *Team) runDebate(ctx context.Context, task string) (Result, error) {
	maxRounds := t.cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultDebateRounds
	}
	window := 2 * len(t.cfg.Members)

	type entry struct {
		agent string
		text  string
	}
	var transcript []entry
	positions := make(map[string]string)
	previous := make(map[string]string)
	outputs := make(map[string]string)

	converged := false
	rounds := 0
	for round := 1; round <= maxRounds; round++ {
		rounds = round
		for _, m := range t.cfg.Members {
			var b strings.Builder
			fmt.Fprintf(&b, "Debate topic: %s\n\n", task)
			recent := t.Bus.Drain(m.Name)
			if len(recent) > window {
				recent = recent[len(recent)-window:]
			}
			if len(recent) > 0 {
				b.WriteString("Recent debate:\n")
				for _, msg := range recent {
					fmt.Fprintf(&b, "%s: %s\n", msg.From, msg.Content)
				}
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "Round %d. State your current position.", round)

			out, _, err := t.callAgent(ctx, m, b.String(), nil, 1)
			if err != nil {
				return Result{}, err
			}
			if err := t.Bus.Send(ctx, Message{From: m.Name, Content: out}); err != nil {
				return Result{}, err
			}
			transcript = append(transcript, entry{agent: m.Name, text: out})
			positions[m.Name] = out
			outputs[m.Name] = out
		}

		if round >= 2 && round < maxRounds && samePositions(positions, previous) {
			converged = true
			t.emit(EventConvergenceDetected, map[string]any{"round": round})
			break
		}
		for k, v := range positions {
			previous[k] = v
		}
	}

	t.emit(EventSynthesisStart, map[string]any{"rounds": rounds})
	synthesizer := t.synthesizerMember()
	var b strings.Builder
	fmt.Fprintf(&b, "Summarise this debate on: %s\n\n", task)
	for _, e := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", e.agent, e.text)
	}
	summary, _, err := t.callAgent(ctx, synthesizer, b.String(), nil, 1)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Output:       summary,
		Rounds:       rounds,
		Converged:    converged,
		AgentOutputs: outputs,
	}, nil
}

// synthesizerMember is the dedicated coordinator when present, otherwise
// the first agent.
func (t *Team) synthesizerMember() Member {
	if t.cfg.Coordinator != nil {
		return *t.cfg.Coordinator
	}
	return t.cfg.Members[0]
}

func samePositions(current, previous map[string]string) bool {
	if len(previous) == 0 {
		return false
	}
	for agent, position := range current {
		if previous[agent] != position {
			return false
		}
	}
	return true
}
