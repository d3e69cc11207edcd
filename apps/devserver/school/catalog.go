// Package school serves the school -> class -> division hierarchy of the development server.
package school

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/filter"
)

var ErrNotFound = errors.New("not found")

type (
	Division struct {
		ID   string `yaml:"id" validate:"notblank"`
		Name string `yaml:"name"`
	}

	Class struct {
		ID        string     `yaml:"id" validate:"notblank"`
		Name      string     `yaml:"name"`
		Divisions []Division `yaml:"divisions" validate:"dive"`
	}

	School struct {
		ID      string  `yaml:"id" validate:"notblank"`
		Name    string  `yaml:"name"`
		Classes []Class `yaml:"classes" validate:"dive"`
	}
)

// Catalog is a read-only hierarchy; it implements filter.Source.
type Catalog struct {
	schools   []filter.Option
	classes   map[string][]filter.Option
	divisions map[string][]filter.Option
}

var _ filter.Source = (*Catalog)(nil)

func NewCatalog(schools []School) *Catalog {
	c := &Catalog{
		schools:   make([]filter.Option, 0, len(schools)),
		classes:   make(map[string][]filter.Option, len(schools)),
		divisions: make(map[string][]filter.Option),
	}
	for _, s := range schools {
		c.schools = append(c.schools, filter.Option{ID: s.ID, Name: s.Name})
		classes := make([]filter.Option, 0, len(s.Classes))
		for _, cl := range s.Classes {
			classes = append(classes, filter.Option{ID: cl.ID, Name: cl.Name})
			divisions := make([]filter.Option, 0, len(cl.Divisions))
			for _, d := range cl.Divisions {
				divisions = append(divisions, filter.Option{ID: d.ID, Name: d.Name})
			}
			c.divisions[cl.ID] = divisions
		}
		c.classes[s.ID] = classes
	}
	return c
}

// LoadCatalog reads a YAML document of the form:
//
//	schools:
//	  - id: S1
//	    name: Lycée Wima
//	    classes:
//	      - id: C1
//	        name: 6eme
//	        divisions: [{id: D1, name: A}]
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var doc struct {
		Schools []School `yaml:"schools" validate:"dive"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decoding catalog")
	}
	if err := core.Validate.Struct(doc); err != nil {
		return nil, core.NewValidationError(errors.New("invalid catalog"), core.FieldErrors(err)...)
	}
	return NewCatalog(doc.Schools), nil
}

func (c *Catalog) Schools(context.Context) ([]filter.Option, error) {
	return c.schools, nil
}

func (c *Catalog) Classes(_ context.Context, schoolID string) ([]filter.Option, error) {
	classes, ok := c.classes[schoolID]
	if !ok {
		return nil, ErrNotFound
	}
	return classes, nil
}

func (c *Catalog) Divisions(_ context.Context, classID string) ([]filter.Option, error) {
	divisions, ok := c.divisions[classID]
	if !ok {
		return nil, ErrNotFound
	}
	return divisions, nil
}

// Demo is the catalog served when none is configured.
func Demo() *Catalog {
	return NewCatalog([]School{
		{
			ID: "wima", Name: "Lycée Wima",
			Classes: []Class{
				{ID: "wima-6", Name: "6eme", Divisions: []Division{{ID: "wima-6-a", Name: "A"}, {ID: "wima-6-b", Name: "B"}}},
				{ID: "wima-5", Name: "5eme", Divisions: []Division{{ID: "wima-5-a", Name: "A"}}},
			},
		},
		{
			ID: "maele", Name: "Institut Maele",
			Classes: []Class{
				{ID: "maele-1", Name: "1ere", Divisions: []Division{{ID: "maele-1-a", Name: "Latin-Philo"}, {ID: "maele-1-b", Name: "Math-Physique"}}},
			},
		},
	})
}
