package engine

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed resources.yml
var defaultTableYAML []byte

// Table is the declarative description of the Feegow API consumed by the
// engine: where to call and what to load.
type Table struct {
	Client    Client     `yaml:"client" json:"client"`
	Resources []Resource `yaml:"resources" json:"resources"`
}

type Client struct {
	BaseURL      string `yaml:"base_url" json:"base_url"`
	IgnoreStatus []int  `yaml:"ignore_status,omitempty" json:"ignore_status,omitempty"`
}

// Resource is one API endpoint and its destination table.
type Resource struct {
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path" json:"path"`
	// DateWindowed resources receive the batch's date window and write mode.
	// All others are full snapshots with their own write disposition.
	DateWindowed     bool           `yaml:"date_windowed,omitempty" json:"date_windowed,omitempty"`
	WriteDisposition WriteMode      `yaml:"write_disposition,omitempty" json:"write_disposition,omitempty"`
	PrimaryKey       []string       `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	DataSelector     string         `yaml:"data_selector" json:"data_selector"`
	Params           map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Paginator        *Paginator     `yaml:"paginator,omitempty" json:"paginator,omitempty"`
}

type Paginator struct {
	Type        string `yaml:"type" json:"type"`
	Limit       int    `yaml:"limit" json:"limit"`
	OffsetParam string `yaml:"offset_param" json:"offset_param"`
	LimitParam  string `yaml:"limit_param" json:"limit_param"`
}

// DefaultTable returns the built-in Feegow resource table.
func DefaultTable() (*Table, error) {
	return parseTable(defaultTableYAML, "built-in resources")
}

// LoadTable reads a resource table from a YAML file. An empty path returns
// the built-in table.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resources: %w", err)
	}
	return parseTable(data, path)
}

func parseTable(data []byte, source string) (*Table, error) {
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return &table, nil
}

// Validate checks names are unique and write dispositions are known.
func (t *Table) Validate() error {
	if len(t.Resources) == 0 {
		return fmt.Errorf("no resources defined")
	}
	if dups := lo.FindDuplicates(lo.Map(t.Resources, func(r Resource, _ int) string { return r.Name })); len(dups) > 0 {
		return fmt.Errorf("duplicate resource names: %v", dups)
	}
	for _, r := range t.Resources {
		if r.Name == "" || r.Path == "" {
			return fmt.Errorf("resource %q: name and path are required", r.Name)
		}
		if r.DateWindowed {
			if r.WriteDisposition != "" {
				return fmt.Errorf("resource %q: date windowed resources take the batch write mode", r.Name)
			}
			continue
		}
		if _, err := ParseWriteMode(string(r.WriteDisposition)); err != nil {
			return fmt.Errorf("resource %q: %w", r.Name, err)
		}
	}
	return nil
}

// Bind returns the resources as they apply to a batch written with mode.
// Date windowed resources take mode, and only keep their primary key under
// merge, since append and replace do not deduplicate.
func (t *Table) Bind(mode WriteMode) []Resource {
	return lo.Map(t.Resources, func(r Resource, _ int) Resource {
		if !r.DateWindowed {
			return r
		}
		r.WriteDisposition = mode
		if mode != WriteMerge {
			r.PrimaryKey = nil
		}
		return r
	})
}

// Names lists resource names in table order.
func (t *Table) Names() []string {
	return lo.Map(t.Resources, func(r Resource, _ int) string { return r.Name })
}
