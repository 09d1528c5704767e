// Package models - Output class registry for helmet detection models.
package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// Class represents one detection label.
type Class struct {
	// The integer id returned by the model. Ids start at 1.
	ID int `json:"id" yaml:"id"`
	// The label the model was trained with.
	Name string `json:"name" yaml:"name"`
	// The human-readable label reported to callers.
	DisplayName string `json:"display_name" yaml:"display_name"`
}

// HelmetClasses is the label map of the helmet detection graph.
var HelmetClasses = []Class{
	{ID: 1, Name: "person", DisplayName: "person"},
	{ID: 2, Name: "hat", DisplayName: "helmet"},
}

// UnknownClassError is returned when a model emits a class id the registry
// does not know. It indicates a model/registry mismatch.
type UnknownClassError struct {
	ID int
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("unknown class id %d", e.ID)
}

// Registry is an immutable id -> class lookup table.
type Registry struct {
	byID   map[int]Class
	byName map[string]int
}

// NewRegistry builds a registry from the given classes.
//
// Arguments:
//   - classes: The classes to register.
//
// Returns:
//   - *Registry: The registry.
//   - error: An error if an id is lower than 1 or registered twice.
func NewRegistry(classes ...Class) (*Registry, error) {
	r := &Registry{
		byID:   make(map[int]Class, len(classes)),
		byName: make(map[string]int, len(classes)),
	}
	for _, c := range classes {
		if c.ID < 1 {
			return nil, errors.Errorf("class %q has invalid id %d", c.Name, c.ID)
		}
		if _, ok := r.byID[c.ID]; ok {
			return nil, errors.Errorf("class id %d registered twice", c.ID)
		}
		if c.DisplayName == "" {
			c.DisplayName = c.Name
		}
		r.byID[c.ID] = c
		r.byName[c.Name] = c.ID
	}
	return r, nil
}

// DefaultRegistry returns a registry over HelmetClasses.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(HelmetClasses...)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the display name for a class id.
//
// Arguments:
//   - id: The class id emitted by the model.
//
// Returns:
//   - string: The display name.
//   - error: An *UnknownClassError if the id is not registered.
func (r *Registry) Resolve(id int) (string, error) {
	c, ok := r.byID[id]
	if !ok {
		return "", &UnknownClassError{ID: id}
	}
	return c.DisplayName, nil
}

// Lookup returns the class registered under id.
func (r *Registry) Lookup(id int) (Class, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// IDByName returns the id of the class trained under name.
func (r *Registry) IDByName(name string) (int, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Len returns the number of registered classes.
func (r *Registry) Len() int {
	return len(r.byID)
}
