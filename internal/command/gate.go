// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/orchd/orchd/internal/apperr"
	"github.com/orchd/orchd/internal/store"
)

const packetMaxChars = 32000

// Runner is the slice of the orchestration engine the gate executes
// through.
type Runner interface {
	// DispatchToWorkers delivers text to the resolved target sessions.
	DispatchToWorkers(ctx context.Context, orchestrationID string, req WorkerDispatch) (map[string]any, error)
	// WriteOrchestrator writes text into the orchestrator session.
	WriteOrchestrator(orchestrationID, text string) error
	// SyncNow runs a forced digest sync.
	SyncNow(ctx context.Context, orchestrationID string, deliverToOrchestrator bool) (map[string]any, error)
}

// WorkerDispatch is one materialized worker delivery.
type WorkerDispatch struct {
	Target           string
	Text             string
	Interrupt        bool
	ForceInterrupt   bool
	IncludeBootstrap bool
}

// Gate validates, policy-checks, and executes named commands, with
// idempotency-key replay backed by the store.
type Gate struct {
	store  *store.Store
	runner Runner
}

// NewGate creates a command gate.
func NewGate(st *store.Store, runner Runner) *Gate {
	return &Gate{store: st, runner: runner}
}

// Execute runs commandID with payload against orchestrationID. A
// non-empty idempotencyKey makes the call replay-safe: the first
// successful response is stored and later calls with the same key
// return it with replayed:true, surviving process restarts.
func (g *Gate) Execute(ctx context.Context, orchestrationID, commandID string, payload map[string]any, idempotencyKey string) (map[string]any, error) {
	spec, ok := Lookup(commandID)
	if !ok {
		return nil, apperr.New(apperr.CodeBadInput, "unknown command "+commandID)
	}
	if payload == nil {
		payload = map[string]any{}
	}

	if idempotencyKey != "" {
		stored, found, err := g.store.GetIdempotencyResult(scopedKey(orchestrationID, idempotencyKey))
		if err != nil {
			return nil, err
		}
		if found {
			var resp map[string]any
			if err := json.Unmarshal([]byte(stored), &resp); err != nil {
				return nil, fmt.Errorf("command: decode stored response: %w", err)
			}
			resp["replayed"] = true
			return resp, nil
		}
	}

	if vr := ValidatePayload(spec, payload); !vr.OK {
		return nil, apperr.New(apperr.CodeInvalidCommandPayload, commandID).
			WithDetail("errors", vr.Errors)
	}
	pr := EvaluatePolicy(spec, payload)
	if !pr.OK {
		return nil, apperr.New(apperr.CodePolicyBlocked, commandID).
			WithDetail("tier", string(pr.Tier)).
			WithDetail("unmet", pr.Unmet)
	}

	result, err := g.run(ctx, spec, orchestrationID, payload)
	if err != nil {
		return nil, err
	}

	resp := map[string]any{
		"ok":        true,
		"commandId": commandID,
		"mode":      string(spec.Mode),
		"policy":    map[string]any{"tier": string(spec.Tier)},
		"replayed":  false,
	}
	for k, v := range result {
		resp[k] = v
	}

	if idempotencyKey != "" {
		raw, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("command: encode response: %w", err)
		}
		if err := g.store.PutIdempotencyResult(scopedKey(orchestrationID, idempotencyKey), string(raw), time.Now()); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (g *Gate) run(ctx context.Context, spec *Spec, orchestrationID string, payload map[string]any) (map[string]any, error) {
	switch spec.Mode {
	case ModeWorkerDispatch, ModeWorkerSendTask:
		target, _ := payload["target"].(string)
		if target == "" {
			target = "all"
		}
		req := WorkerDispatch{
			Target:           target,
			Text:             BuildPacket(spec, payload),
			Interrupt:        boolField(payload, "interrupt"),
			ForceInterrupt:   boolField(payload, "forceInterrupt"),
			IncludeBootstrap: spec.Mode == ModeWorkerSendTask,
		}
		return g.runner.DispatchToWorkers(ctx, orchestrationID, req)

	case ModeOrchestratorInput:
		if err := g.runner.WriteOrchestrator(orchestrationID, BuildPacket(spec, payload)); err != nil {
			return nil, err
		}
		return map[string]any{"delivered": "orchestrator"}, nil

	case ModeSystemSync:
		deliver := true
		if v, ok := payload["deliverToOrchestrator"].(bool); ok {
			deliver = v
		}
		return g.runner.SyncNow(ctx, orchestrationID, deliver)

	case ModeSystemReview:
		if err := g.runner.WriteOrchestrator(orchestrationID, reviewPacket(spec, payload)); err != nil {
			return nil, err
		}
		return map[string]any{"delivered": "orchestrator"}, nil
	}
	return nil, apperr.New(apperr.CodeBadInput, "unknown mode "+string(spec.Mode))
}

// BuildPacket materializes the COMMAND prompt delivered to a session,
// templating the known fields in a fixed order. The packet is capped
// at 32k chars, trimming extra then notes first so the directive text
// itself always survives.
func BuildPacket(spec *Spec, payload map[string]any) string {
	text := firstNonEmpty(payload, "task", "text", "objective", "rawPrompt")

	var b strings.Builder
	fmt.Fprintf(&b, "COMMAND: %s\n", spec.ID)
	if text != "" {
		b.WriteString(text)
		b.WriteString("\n")
	}

	sections := []struct {
		label string
		key   string
	}{
		{"SCOPE", "scope"},
		{"VERIFY", "verify"},
		{"NOT YOUR JOB", "notYourJob"},
		{"DONE WHEN", "doneWhen"},
		{"PRIORITY", "priority"},
	}
	for _, sec := range sections {
		if v, _ := payload[sec.key].(string); strings.TrimSpace(v) != "" {
			fmt.Fprintf(&b, "\n%s:\n%s\n", sec.label, v)
		}
	}

	packet := b.String()
	budget := packetMaxChars - len(packet)

	// extra and notes get whatever budget remains, extra first on the
	// chopping block.
	notes, _ := payload["notes"].(string)
	extra, _ := payload["extra"].(string)
	if strings.TrimSpace(notes) != "" {
		seg := fmt.Sprintf("\nNOTES:\n%s\n", notes)
		if len(seg) > budget {
			seg = seg[:max(0, budget)]
		}
		packet += seg
		budget -= len(seg)
	}
	if strings.TrimSpace(extra) != "" && budget > 0 {
		seg := fmt.Sprintf("\nEXTRA:\n%s\n", extra)
		if len(seg) > budget {
			seg = seg[:budget]
		}
		packet += seg
	}

	if len(packet) > packetMaxChars {
		packet = packet[:packetMaxChars]
	}
	return packet
}

func reviewPacket(spec *Spec, payload map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PERIODIC REVIEW (%s)\n", spec.ID)
	b.WriteString("Review each worker's recent progress against its assigned scope.\n")
	if spec.ID == "review-hard" {
		b.WriteString("Be adversarial: verify claims against the actual diffs and re-dispatch anything unproven.\n")
	}
	if focus, _ := payload["focus"].(string); strings.TrimSpace(focus) != "" {
		fmt.Fprintf(&b, "\nFOCUS:\n%s\n", focus)
	}
	if notes, _ := payload["notes"].(string); strings.TrimSpace(notes) != "" {
		fmt.Fprintf(&b, "\nNOTES:\n%s\n", notes)
	}
	return b.String()
}

func firstNonEmpty(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, _ := payload[k].(string); strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// scopedKey namespaces an idempotency key to one orchestration. The
// hash keeps arbitrary caller keys inside a bounded primary key.
func scopedKey(orchestrationID, key string) string {
	sum := sha256.Sum256([]byte(orchestrationID + "\x00" + key))
	return orchestrationID + ":" + hex.EncodeToString(sum[:])[:32]
}
