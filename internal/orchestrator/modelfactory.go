package orchestrator

// StaticModelFactory resolves model ids against a fixed allow-list, the
// simplest ModelFactory that still rejects flow.modelChange requests for
// models the deployment was not configured to serve (§4.12).
type StaticModelFactory struct {
	allowed map[string]string
}

// NewStaticModelFactory builds a StaticModelFactory from the given model
// ids; each resolves to itself.
func NewStaticModelFactory(modelIDs ...string) *StaticModelFactory {
	allowed := make(map[string]string, len(modelIDs))
	for _, id := range modelIDs {
		allowed[id] = id
	}
	return &StaticModelFactory{allowed: allowed}
}

// Resolve implements ModelFactory.
func (f *StaticModelFactory) Resolve(modelID string) (string, bool) {
	v, ok := f.allowed[modelID]
	return v, ok
}
