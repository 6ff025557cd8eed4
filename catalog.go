package emberql

// Catalog is the session-scoped view onto table/schema metadata. Catalog
// persistence and SQL/DataFrame frontends are explicitly out of scope
// (spec.md §1); emberql only needs a handle to pass through to the stage
// planner and the worker's plan-deserialization step, so this interface is
// deliberately thin.
type Catalog interface {
	// Resolve looks up a named relation's schema, for AnalyzePlan's
	// schema-only path and for scan-node resolution.
	Resolve(name string) (interface{}, error)
}

// ExtensionRegistry resolves the opaque extension node kinds a plan
// fragment may reference (shuffle read/write, and any frontend-specific
// operator the out-of-scope optimizer injects) back into behavior the
// worker's operator pipeline can execute.
type ExtensionRegistry interface {
	Lookup(kind string) (interface{}, bool)
}

// emptyCatalog/emptyExtensionRegistry are the default no-op
// implementations a Session gets when none is supplied; they're enough to
// exercise SubmitJob/AnalyzePlan without a real frontend wired in.
type emptyCatalog struct{}

func (emptyCatalog) Resolve(name string) (interface{}, error) {
	return nil, newError(NotFound, "relation %q not registered", name)
}

type emptyExtensionRegistry struct{}

func (emptyExtensionRegistry) Lookup(kind string) (interface{}, bool) {
	return nil, false
}
