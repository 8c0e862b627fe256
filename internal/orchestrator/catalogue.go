package orchestrator

import (
	"context"

	model "goa.design/tools-provider/internal/llmmodel"
	"goa.design/tools-provider/internal/inventory"
	"goa.design/tools-provider/internal/tools"
)

// Catalogue resolves the tool descriptors an agent's conversation may use,
// filtered by its whitelist/blacklist (§4.12 init step 4).
type Catalogue struct {
	Sources inventory.SourceRepository
	Tools   inventory.ToolRepository
}

// NewCatalogue constructs a Catalogue over the inventory repositories.
func NewCatalogue(sources inventory.SourceRepository, toolsRepo inventory.ToolRepository) *Catalogue {
	return &Catalogue{Sources: sources, Tools: toolsRepo}
}

// ForAgent returns every active, enabled tool across all enabled sources,
// restricted to whitelist (if non-empty) and excluding blacklist.
func (c *Catalogue) ForAgent(ctx context.Context, whitelist, blacklist []string) ([]tools.ToolAggregate, error) {
	allow := toSet(whitelist)
	deny := toSet(blacklist)

	sources, err := c.Sources.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []tools.ToolAggregate
	for _, src := range sources {
		if !src.IsEnabled {
			continue
		}
		agg, err := c.Tools.ListBySource(ctx, src.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range agg {
			if t.Status != tools.ToolStatusActive || !t.IsEnabled {
				continue
			}
			if len(allow) > 0 {
				if _, ok := allow[t.Definition.Name]; !ok {
					continue
				}
			}
			if _, ok := deny[t.Definition.Name]; ok {
				continue
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// SourcesByID returns every source aggregate keyed by id, for building
// ToolBinding auth metadata.
func (c *Catalogue) SourcesByID(ctx context.Context) (map[string]tools.SourceAggregate, error) {
	sources, err := c.Sources.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]tools.SourceAggregate, len(sources))
	for _, s := range sources {
		out[s.ID] = s
	}
	return out, nil
}

func toSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// ToLLMDefinitions converts resolved tool aggregates into the provider-facing
// descriptors the LLM client consumes.
func ToLLMDefinitions(aggs []tools.ToolAggregate) []*model.ToolDefinition {
	out := make([]*model.ToolDefinition, 0, len(aggs))
	for _, a := range aggs {
		out = append(out, &model.ToolDefinition{
			Name:        a.Definition.Name,
			Description: a.Definition.Description,
			InputSchema: a.Definition.InputSchema,
		})
	}
	return out
}

// ToBindings builds the name -> ToolBinding map driveRun needs to invoke
// tools through the Tool Executor. sources supplies each source's auth_mode
// and default_audience (§3 SourceAggregate), keyed by source id.
func ToBindings(aggs []tools.ToolAggregate, sources map[string]tools.SourceAggregate) map[string]ToolBinding {
	out := make(map[string]ToolBinding, len(aggs))
	for _, a := range aggs {
		src := sources[a.SourceID]
		out[a.Definition.Name] = ToolBinding{
			Definition:      a.Definition,
			SourceID:        a.SourceID,
			AuthMode:        src.AuthMode,
			DefaultAudience: src.DefaultAudience,
		}
	}
	return out
}
