// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator implements the discover-connections workflow:
// credential exchange, intent extraction, an accumulate-and-stabilize
// polling loop against the eventually consistent discovery index, and a
// bounded worker pool for per-candidate synthesis.
package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latticehq/privybridge/pkg/config"
	"github.com/latticehq/privybridge/pkg/logger"
	"github.com/latticehq/privybridge/pkg/upstream"
)

// PrivyClient is the slice of the upstream client the orchestrator uses.
type PrivyClient interface {
	ExchangeToken(ctx context.Context, oauthBearer string) (*upstream.ExchangedToken, error)
	ExtractIntents(ctx context.Context, upstreamBearer, text string) (*upstream.IntentExtraction, error)
	FilterCandidates(ctx context.Context, upstreamBearer string, req upstream.FilterRequest) (*upstream.FilterResult, error)
	Synthesize(ctx context.Context, upstreamBearer string, req upstream.SynthesisRequest) (*upstream.SynthesisResult, error)
}

// ConnectionUser is the public profile of a discovered connection.
type ConnectionUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Connection is one discovered connection with its synthesized introduction.
type Connection struct {
	User              ConnectionUser `json:"user"`
	MutualIntentCount int            `json:"mutualIntentCount"`
	Synthesis         string         `json:"synthesis"`
}

// DiscoverResult is the shaped output of DiscoverConnections.
type DiscoverResult struct {
	Connections []Connection      `json:"connections"`
	Intents     []upstream.Intent `json:"intents"`
}

// Orchestrator runs the discover-connections workflow.
type Orchestrator struct {
	client    PrivyClient
	polling   config.PollingConfig
	synthesis config.SynthesisConfig
	limits    config.LimitsConfig
}

// New creates an Orchestrator bound to the upstream client and the
// configured loop and pool parameters.
func New(client PrivyClient, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		client:    client,
		polling:   cfg.Polling,
		synthesis: cfg.Synthesis,
		limits:    cfg.Limits,
	}
}

// DiscoverConnections runs the full workflow for one tool call.
// upstream.ErrUpstreamTokenInvalid anywhere in the pipeline is fatal and
// propagates so the dispatcher can signal reauth.
func (o *Orchestrator) DiscoverConnections(ctx context.Context, oauthBearer, inputText string, maxConnections, characterLimit int) (*DiscoverResult, error) {
	if maxConnections <= 0 || maxConnections > o.limits.MaxConnections {
		maxConnections = o.limits.MaxConnections
	}

	exchanged, err := o.client.ExchangeToken(ctx, oauthBearer)
	if err != nil {
		return nil, err
	}
	bearer := exchanged.UpstreamAccessToken

	extraction, err := o.client.ExtractIntents(ctx, bearer, truncate(inputText, o.limits.InstructionCharLimit))
	if err != nil {
		return nil, err
	}
	if len(extraction.Intents) == 0 {
		logger.Infow("no intents extracted")
		return &DiscoverResult{Connections: []Connection{}, Intents: []upstream.Intent{}}, nil
	}

	intentIDs := make([]string, len(extraction.Intents))
	for i, intent := range extraction.Intents {
		intentIDs[i] = intent.ID
	}

	candidates, err := o.pollCandidates(ctx, bearer, intentIDs, maxConnections)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &DiscoverResult{Connections: []Connection{}, Intents: extraction.Intents}, nil
	}

	syntheses, err := o.synthesizeAll(ctx, bearer, candidates, intentIDs, characterLimit)
	if err != nil {
		return nil, err
	}

	connections := make([]Connection, len(candidates))
	for i, candidate := range candidates {
		connections[i] = Connection{
			User: ConnectionUser{
				ID:     candidate.User.ID,
				Name:   candidate.User.Name,
				Avatar: candidate.User.Avatar,
			},
			MutualIntentCount: len(candidate.IntentIDs),
			Synthesis:         syntheses[i],
		}
	}
	return &DiscoverResult{Connections: connections, Intents: extraction.Intents}, nil
}

// pollCandidates runs the accumulate-and-stabilize loop. Candidates are
// deduplicated by user ID in first-seen insertion order: later polls never
// overwrite user metadata. The loop stops on the max-connections cap, on
// stableThreshold consecutive polls with no new results, on the attempt cap,
// or when the wall-clock sleep budget is spent. Transient upstream errors do
// not count toward stability; an invalid upstream token is fatal.
func (o *Orchestrator) pollCandidates(ctx context.Context, bearer string, intentIDs []string, maxConnections int) ([]upstream.Candidate, error) {
	limit := maxConnections
	if limit > o.limits.PaginationLimit {
		limit = o.limits.PaginationLimit
	}

	var accumulated []upstream.Candidate
	seen := make(map[string]struct{})
	lastCount := 0
	stableRuns := 0
	var elapsedSleep time.Duration

	for attempt := 0; ; {
		result, err := o.client.FilterCandidates(ctx, bearer, upstream.FilterRequest{
			IntentIDs:         intentIDs,
			ExcludeDiscovered: true,
			Page:              1,
			Limit:             limit,
		})
		switch {
		case err == nil:
			for _, candidate := range result.Results {
				if len(accumulated) >= maxConnections {
					break
				}
				if _, dup := seen[candidate.User.ID]; dup {
					continue
				}
				seen[candidate.User.ID] = struct{}{}
				accumulated = append(accumulated, candidate)
			}
			if len(accumulated) >= maxConnections {
				return accumulated, nil
			}
			if len(accumulated) == lastCount && len(accumulated) > 0 {
				stableRuns++
			} else {
				stableRuns = 0
				lastCount = len(accumulated)
			}
			if stableRuns >= o.polling.StableThreshold {
				return accumulated, nil
			}
		case errors.Is(err, upstream.ErrUpstreamTokenInvalid):
			return nil, err
		default:
			// Transient failure: keep polling, do not count toward stability.
			logger.Warnw("candidate poll failed", "attempt", attempt, "error", err)
		}

		if attempt+1 >= o.polling.MaxAttempts {
			return accumulated, nil
		}

		sleep := o.polling.BaseDelay + time.Duration(attempt)*o.polling.DelayStep
		if remaining := o.polling.MaxTotalWait - elapsedSleep; sleep > remaining {
			sleep = remaining
		}
		if sleep <= 0 {
			return accumulated, nil
		}
		if err := sleepCtx(ctx, sleep); err != nil {
			return nil, err
		}
		elapsedSleep += sleep
		attempt++
	}
}

// synthesizeAll runs the bounded worker pool. Workers claim candidates via a
// shared atomic index; non-auth failures record an empty synthesis while an
// invalid upstream token cancels the remaining work and propagates.
func (o *Orchestrator) synthesizeAll(ctx context.Context, bearer string, candidates []upstream.Candidate, intentIDs []string, characterLimit int) ([]string, error) {
	effective := o.synthesis.DefaultConcurrency
	if effective > o.synthesis.MaxConcurrency {
		effective = o.synthesis.MaxConcurrency
	}
	if effective > len(candidates) {
		effective = len(candidates)
	}
	if effective < 1 {
		effective = 1
	}

	syntheses := make([]string, len(candidates))
	var next atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	for range effective {
		g.Go(func() error {
			first := true
			for {
				if !first {
					if err := sleepCtx(ctx, o.synthesis.Throttle); err != nil {
						return err
					}
				}
				first = false

				i := int(next.Add(1)) - 1
				if i >= len(candidates) {
					return nil
				}

				result, err := o.client.Synthesize(ctx, bearer, upstream.SynthesisRequest{
					TargetUserID:   candidates[i].User.ID,
					IntentIDs:      intentIDs,
					CharacterLimit: characterLimit,
				})
				switch {
				case err == nil:
					syntheses[i] = result.Synthesis
				case errors.Is(err, upstream.ErrUpstreamTokenInvalid):
					return err
				case errors.Is(err, context.Canceled):
					return err
				default:
					// Partial-failure tolerance: the connection is still
					// returned, with an empty synthesis.
					logger.Warnw("synthesis failed",
						"target_user_id", candidates[i].User.ID, "error", err)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return syntheses, nil
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
