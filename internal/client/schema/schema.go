// Package schema validates entity field sets against a JSON Schema per
// entity kind.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dmitrijs2005/notesync/internal/models"
)

var (
	ErrUnknownKind = errors.New("unknown entity kind")
	ErrInvalid     = errors.New("invalid fields")
	ErrParent      = errors.New("invalid parent")
)

// Kind describes one entity kind. Parent is the kind a parent must have;
// empty means the kind lives at the root.
type Kind struct {
	Name   models.EntityKind
	Parent models.EntityKind
	Schema string
}

const sessionSchema = `{
  "type": "object",
  "required": ["title"],
  "properties": {
    "title":  {"type": "string", "minLength": 1},
    "tags":   {"type": "string"},
    "pinned": {"type": "boolean"}
  },
  "additionalProperties": false
}`

const noteSchema = `{
  "type": "object",
  "properties": {
    "title":    {"type": "string"},
    "body":     {"type": "string"},
    "media":    {"type": "string"},
    "position": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": false
}`

// Builtin returns the session and note kinds.
func Builtin() []Kind {
	return []Kind{
		{Name: models.EntitySession, Schema: sessionSchema},
		{Name: models.EntityNote, Parent: models.EntitySession, Schema: noteSchema},
	}
}

type compiled struct {
	kind   Kind
	schema *jsonschema.Schema
}

type Registry struct {
	mu    sync.RWMutex
	kinds map[models.EntityKind]compiled
}

// NewRegistry returns a registry holding the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{kinds: map[models.EntityKind]compiled{}}
	for _, k := range Builtin() {
		if err := r.Register(k); err != nil {
			panic(err)
		}
	}
	return r
}

// Register compiles and adds a kind, replacing an existing one of the same
// name.
func (r *Registry) Register(k Kind) error {
	if k.Name == "" {
		return fmt.Errorf("register kind: empty name")
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(k.Schema))
	if err != nil {
		return fmt.Errorf("register kind %s: %w", k.Name, err)
	}

	url := "mem://kinds/" + string(k.Name) + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return fmt.Errorf("register kind %s: %w", k.Name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("register kind %s: %w", k.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[k.Name] = compiled{kind: k, schema: sch}
	return nil
}

func (r *Registry) lookup(kind models.EntityKind) (compiled, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.kinds[kind]
	if !ok {
		return compiled{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return c, nil
}

func (r *Registry) Kinds() []models.EntityKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.EntityKind, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// ParentKind reports the kind a parent of kind must have.
func (r *Registry) ParentKind(kind models.EntityKind) (models.EntityKind, error) {
	c, err := r.lookup(kind)
	if err != nil {
		return "", err
	}
	return c.kind.Parent, nil
}

// Validate checks a complete field set. Null fields count as absent.
func (r *Registry) Validate(kind models.EntityKind, fields map[string]models.Field) error {
	c, err := r.lookup(kind)
	if err != nil {
		return err
	}

	inst, err := instance(fields)
	if err != nil {
		return err
	}
	if err := c.schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, kind, err)
	}
	return nil
}

// CheckParent verifies that an entity of kind may live under a parent of
// parentKind (empty when there is no parent).
func (r *Registry) CheckParent(kind, parentKind models.EntityKind) error {
	want, err := r.ParentKind(kind)
	if err != nil {
		return err
	}
	if want != parentKind {
		if want == "" {
			return fmt.Errorf("%w: %s cannot have a parent", ErrParent, kind)
		}
		return fmt.Errorf("%w: %s needs a %s parent", ErrParent, kind, want)
	}
	return nil
}

// instance renders fields into the JSON shape the validator expects.
func instance(fields map[string]models.Field) (any, error) {
	plain := make(map[string]any, len(fields))
	for name, f := range fields {
		if name == models.ParentField || f.Value.IsNull() {
			continue
		}
		plain[name] = f.Value.Native()
	}

	raw, err := json.Marshal(plain)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}
