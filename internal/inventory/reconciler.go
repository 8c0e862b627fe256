package inventory

import (
	"context"
	"reflect"
	"time"

	"goa.design/tools-provider/internal/sourcing"
	"goa.design/tools-provider/internal/telemetry"
	"goa.design/tools-provider/internal/tools"
)

// EventKind enumerates the tool lifecycle transitions a reconciliation run
// can produce, per §4.7 step 2's "emits an update event" language.
type EventKind string

const (
	EventToolCreated    EventKind = "TOOL_CREATED"
	EventToolUpdated    EventKind = "TOOL_UPDATED"
	EventToolRestored   EventKind = "TOOL_RESTORED"
	EventToolDeprecated EventKind = "TOOL_DEPRECATED"
)

// Event is a single lifecycle transition emitted by a Reconcile call.
type Event struct {
	Kind EventKind
	Key  string
	Tool tools.ToolAggregate
}

// Result is the uniform return shape of §4.7's closing paragraph.
type Result struct {
	ToolsDiscovered int
	ToolsCreated    int
	ToolsUpdated    int
	ToolsDeprecated int
	InventoryHash   string
	SourceVersion   string
	Warnings        []string
	DurationMs      int64
	Unchanged       bool
	Events          []Event
}

// Reconciler implements §4.7: diffing a source's freshly discovered tools
// against persisted ToolAggregate rows and updating the owning
// SourceAggregate's sync bookkeeping.
type Reconciler struct {
	Sources SourceRepository
	ToolsRepo ToolRepository
	Logger  telemetry.Logger
}

// New constructs a Reconciler from its repository collaborators.
func New(sources SourceRepository, toolsRepo ToolRepository, logger telemetry.Logger) *Reconciler {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Reconciler{Sources: sources, ToolsRepo: toolsRepo, Logger: logger}
}

// Reconcile runs the full §4.7 algorithm for one source's ingestion result.
// forceRefresh bypasses the inventory_hash short-circuit (step 1).
func (r *Reconciler) Reconcile(ctx context.Context, sourceID string, ingestion sourcing.IngestionResult, forceRefresh bool) (Result, error) {
	start := time.Now()

	src, ok, err := r.Sources.Get(ctx, sourceID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, errSourceNotFound(sourceID)
	}

	if !ingestion.Success {
		src.ConsecutiveFailures++
		src.LastSyncError = ingestion.Error
		if err := r.Sources.Update(ctx, *src); err != nil {
			return Result{}, err
		}
		return Result{Warnings: ingestion.Warnings, DurationMs: time.Since(start).Milliseconds()}, nil
	}

	// Step 1: short-circuit on unchanged inventory hash.
	if !forceRefresh && src.InventoryHash != "" && src.InventoryHash == ingestion.InventoryHash {
		return Result{
			ToolsDiscovered: len(ingestion.Tools),
			InventoryHash:   ingestion.InventoryHash,
			SourceVersion:   ingestion.SourceVersion,
			Warnings:        ingestion.Warnings,
			Unchanged:       true,
			DurationMs:      time.Since(start).Milliseconds(),
		}, nil
	}

	now := time.Now()
	discovered := make(map[string]bool, len(ingestion.Tools))
	var created, updated int
	var events []Event

	// Step 2: diff each discovered tool against its persisted aggregate.
	for _, def := range ingestion.Tools {
		key := tools.ID(sourceID, def.Name)
		discovered[key] = true

		existing, found, err := r.ToolsRepo.Get(ctx, key)
		if err != nil {
			return Result{}, err
		}

		switch {
		case !found:
			agg := tools.ToolAggregate{
				SourceID:     sourceID,
				Definition:   def,
				IsEnabled:    true,
				Status:       tools.ToolStatusActive,
				DiscoveredAt: now,
				LastSeenAt:   now,
				UpdatedAt:    now,
			}
			if err := r.ToolsRepo.Add(ctx, agg); err != nil {
				return Result{}, err
			}
			created++
			events = append(events, Event{Kind: EventToolCreated, Key: key, Tool: agg})

		case existing.Status == tools.ToolStatusDeprecated:
			agg := *existing
			agg.Definition = def
			agg.Status = tools.ToolStatusActive
			agg.LastSeenAt = now
			agg.UpdatedAt = now
			if err := r.ToolsRepo.Update(ctx, agg); err != nil {
				return Result{}, err
			}
			updated++
			events = append(events, Event{Kind: EventToolRestored, Key: key, Tool: agg})

		case !reflect.DeepEqual(existing.Definition, def):
			agg := *existing
			agg.Definition = def
			agg.LastSeenAt = now
			agg.UpdatedAt = now
			if err := r.ToolsRepo.Update(ctx, agg); err != nil {
				return Result{}, err
			}
			updated++
			events = append(events, Event{Kind: EventToolUpdated, Key: key, Tool: agg})

		default:
			agg := *existing
			agg.LastSeenAt = now
			if err := r.ToolsRepo.Update(ctx, agg); err != nil {
				return Result{}, err
			}
		}
	}

	// Step 3: anything persisted but not rediscovered this round is deprecated.
	existingTools, err := r.ToolsRepo.ListBySource(ctx, sourceID)
	if err != nil {
		return Result{}, err
	}
	var deprecated int
	for _, t := range existingTools {
		if discovered[t.Key()] || t.Status == tools.ToolStatusDeprecated || t.Status == tools.ToolStatusDeleted {
			continue
		}
		t.Status = tools.ToolStatusDeprecated
		t.UpdatedAt = now
		if err := r.ToolsRepo.Update(ctx, t); err != nil {
			return Result{}, err
		}
		deprecated++
		events = append(events, Event{Kind: EventToolDeprecated, Key: t.Key(), Tool: t})
	}

	// Step 4: update the owning SourceAggregate's sync bookkeeping.
	src.InventoryHash = ingestion.InventoryHash
	src.LastSyncAt = now
	src.LastSyncError = ""
	src.ConsecutiveFailures = 0
	if err := r.Sources.Update(ctx, *src); err != nil {
		return Result{}, err
	}

	return Result{
		ToolsDiscovered: len(ingestion.Tools),
		ToolsCreated:    created,
		ToolsUpdated:    updated,
		ToolsDeprecated: deprecated,
		InventoryHash:   ingestion.InventoryHash,
		SourceVersion:   ingestion.SourceVersion,
		Warnings:        ingestion.Warnings,
		DurationMs:      time.Since(start).Milliseconds(),
		Events:          events,
	}, nil
}

// DeprecateSource implements the decided Open Question (§9, recorded in
// SPEC_FULL.md): disabling or deleting a source cascades every one of its
// ToolAggregate rows to DEPRECATED in the same call, rather than leaving the
// cascade to a separate out-of-band job. Label recomputation is left to the
// external read-model projector.
func (r *Reconciler) DeprecateSource(ctx context.Context, sourceID string) (Result, error) {
	start := time.Now()

	src, ok, err := r.Sources.Get(ctx, sourceID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, errSourceNotFound(sourceID)
	}
	src.IsEnabled = false
	if err := r.Sources.Update(ctx, *src); err != nil {
		return Result{}, err
	}

	existingTools, err := r.ToolsRepo.ListBySource(ctx, sourceID)
	if err != nil {
		return Result{}, err
	}
	now := time.Now()
	var deprecated int
	var events []Event
	for _, t := range existingTools {
		if t.Status == tools.ToolStatusDeprecated || t.Status == tools.ToolStatusDeleted {
			continue
		}
		t.Status = tools.ToolStatusDeprecated
		t.UpdatedAt = now
		if err := r.ToolsRepo.Update(ctx, t); err != nil {
			return Result{}, err
		}
		deprecated++
		events = append(events, Event{Kind: EventToolDeprecated, Key: t.Key(), Tool: t})
	}

	return Result{ToolsDeprecated: deprecated, DurationMs: time.Since(start).Milliseconds(), Events: events}, nil
}

type sourceNotFoundError struct{ sourceID string }

func (e sourceNotFoundError) Error() string { return "source not found: " + e.sourceID }

func errSourceNotFound(sourceID string) error { return sourceNotFoundError{sourceID: sourceID} }
