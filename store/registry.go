package store

// Container identifies one of the two logical containers of the database.
type Container int

const (
	// Data holds language-scoped items (lexemes, texts), partitioned by language.id.
	Data Container = iota + 1

	// Metadata holds everything else, partitioned by type.
	Metadata
)

// String returns the container name.
func (c Container) String() string {
	switch c {
	case Data:
		return "data"
	case Metadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// PartitionPath returns the item field the container is partitioned by.
func (c Container) PartitionPath() string {
	switch c {
	case Data:
		return "language.id"
	case Metadata:
		return "type"
	default:
		return ""
	}
}

func (c Container) valid() bool {
	return c == Data || c == Metadata
}

// Route maps an item type to its container and schema.
type Route struct {
	// Type is the item type (e.g., "Lexeme").
	Type string

	// Container is where items of this type are stored.
	Container Container

	// Schema is an optional database-specific schema name that replaces the
	// type's general schema (e.g., "DatabaseLexeme"). Empty means the type name.
	Schema string
}

// Registry is the fixed table of item types. It is immutable once built.
type Registry struct {
	order  []string
	byType map[string]Route
}

// NewRegistry creates a Registry from routes. Later routes for the same type win.
func NewRegistry(routes ...Route) *Registry {
	r := &Registry{
		order:  make([]string, 0, len(routes)),
		byType: make(map[string]Route, len(routes)),
	}
	for _, route := range routes {
		if _, dup := r.byType[route.Type]; !dup {
			r.order = append(r.order, route.Type)
		}
		r.byType[route.Type] = route
	}
	return r
}

// DefaultRegistry returns the Digital Linguistics type table.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Route{Type: "BibliographicSource", Container: Metadata},
		Route{Type: "Language", Container: Metadata, Schema: "DatabaseLanguage"},
		Route{Type: "Lexeme", Container: Data, Schema: "DatabaseLexeme"},
		Route{Type: "Person", Container: Metadata},
		Route{Type: "Project", Container: Metadata},
		Route{Type: "Text", Container: Data, Schema: "DatabaseText"},
		Route{Type: "User", Container: Metadata},
	)
}

// Container returns the container for an item type.
func (r *Registry) Container(itemType string) (Container, bool) {
	route, ok := r.byType[itemType]
	if !ok || !route.Container.valid() {
		return 0, false
	}
	return route.Container, true
}

// SchemaName returns the schema an item type is validated against:
// its database-specific override if registered, otherwise the type itself.
func (r *Registry) SchemaName(itemType string) string {
	if route, ok := r.byType[itemType]; ok && route.Schema != "" {
		return route.Schema
	}
	return itemType
}

// Routes returns all registered routes in registration order.
func (r *Registry) Routes() []Route {
	out := make([]Route, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.byType[t])
	}
	return out
}

// TypesIn returns the item types stored in a container.
func (r *Registry) TypesIn(c Container) []string {
	var out []string
	for _, t := range r.order {
		if r.byType[t].Container == c {
			out = append(out, t)
		}
	}
	return out
}
