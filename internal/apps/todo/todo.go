// Package todo is the sample app: lists of todos that can be tagged.
package todo

import (
	"fmt"
	"log/slog"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/internal/registry"
	"github.com/heartmarshall/tenantkit/internal/service/crud"
	"github.com/heartmarshall/tenantkit/internal/transport/rest"
)

// App is the app name used in routes and service lookups.
const App = "todo"

var historyRef = registry.SharedApp + ".histories"

// ListSchema describes todo lists. Names are unique per tenant.
func ListSchema() *domain.Schema {
	return domain.NewTenantSchema(App, "lists",
		domain.Field{Name: "name", Type: domain.FieldString, Required: true, Text: true},
		domain.Field{Name: "color", Type: domain.FieldString, Enum: []string{"red", "green", "blue", "yellow"}},
		domain.Field{Name: domain.FieldInactive, Type: domain.FieldBool, Default: false},
		domain.Field{Name: domain.FieldHistory, Type: domain.FieldRef, Ref: historyRef, Array: true},
	)
}

// TodoSchema describes a single todo.
func TodoSchema() *domain.Schema {
	return domain.NewTenantSchema(App, "todos",
		domain.Field{Name: "title", Type: domain.FieldString, Required: true, Text: true, Default: ""},
		domain.Field{Name: "notes", Type: domain.FieldString, Text: true},
		domain.Field{Name: "date_due", Type: domain.FieldDate, Required: true},
		domain.Field{Name: "done", Type: domain.FieldBool, Default: false},
		domain.Field{Name: "points", Type: domain.FieldNumber},
		domain.Field{Name: "priority", Type: domain.FieldString, Enum: []string{"low", "normal", "high"}, Default: "normal"},
		domain.Field{Name: "list", Type: domain.FieldRef, Ref: "lists"},
		domain.Field{Name: "tags", Type: domain.FieldRef, Ref: "tags", Array: true},
		domain.Field{Name: domain.FieldInactive, Type: domain.FieldBool, Default: false},
		domain.Field{Name: domain.FieldHistory, Type: domain.FieldRef, Ref: historyRef, Array: true},
	)
}

// TagSchema describes tags attached to todos.
func TagSchema() *domain.Schema {
	return domain.NewTenantSchema(App, "tags",
		domain.Field{Name: "label", Type: domain.FieldString, Required: true},
	)
}

// Fields holds the API renames per collection.
var Fields = map[string]rest.FieldMap{
	"todos": {{Internal: "date_due", External: "due"}},
}

// Register creates the app services and adds them to reg. defaultLimit
// caps API list reads that choose no limit; zero keeps the service default.
func Register(reg *registry.Registry, deps crud.Deps, defaultLimit int, logger *slog.Logger) ([]*crud.Service, error) {
	services := []*crud.Service{
		crud.New(logger, ListSchema(), crud.Config{
			UniqueFields: [][]string{{"name"}},
			FilterFields: []string{"color"},
			DefaultLimit: defaultLimit,
			DefaultSort:  []docstore.SortField{{Key: "name"}},
			Dependencies: []crud.Dependency{
				{Name: "todos", Kind: crud.Confirm, Collection: "todos", Field: "list"},
			},
		}, deps),
		crud.New(logger, TodoSchema(), crud.Config{
			UpdateFields:          []string{"title", "notes", "date_due", "done", "points", "priority", "list", "tags"},
			ForeignKeyFields:      []string{"tags"},
			FilterFields:          []string{"done", "date_due", "points", "priority", "list", "tags"},
			SearchFields:          []string{"title", "notes"},
			DefaultSort:           []docstore.SortField{{Key: "date_due"}, {Key: domain.FieldDateCreated, Desc: true}},
			DefaultPopulateSingle: []string{"list", "tags"},
			DefaultLimit:          defaultLimit,
		}, deps),
		crud.New(logger, TagSchema(), crud.Config{
			UniqueFields: [][]string{{"label"}},
			DefaultSort:  []docstore.SortField{{Key: "label"}},
			DefaultLimit: defaultLimit,
			Dependencies: []crud.Dependency{
				{Name: "todos", Kind: crud.Prevent, Collection: "todos", Field: "tags"},
			},
		}, deps),
	}
	for _, svc := range services {
		if err := reg.AddService(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", App, err)
		}
	}
	return services, nil
}
