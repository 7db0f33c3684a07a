// Package project defines the parsed structure of a source project:
// services owning database tables and API implementations, plus the
// dependency and ordering fields the formalization pipeline fills in
// stage by stage. The structure is the unit of persistence between
// pipeline stages, so everything here must survive a JSON round trip.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Table is a database table subject to formalization.
type Table struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	SourceCode  string `json:"source_code,omitempty"`

	// DependsOn lists tables in the same service this table references.
	// Filled by the table dependency analysis stage.
	DependsOn []string `json:"depends_on,omitempty"`

	// LeanCode is the accepted Lean artifact, empty until the table
	// formalization stage commits one.
	LeanCode string `json:"lean_code,omitempty"`
}

// APIRef identifies an API by owning service and name.
type APIRef struct {
	Service string `json:"service"`
	API     string `json:"api"`
}

// Key returns the service-qualified name used for graph resolution.
func (r APIRef) Key() string {
	return r.Service + "." + r.API
}

func (r APIRef) String() string {
	return r.Key()
}

// API is one API implementation subject to formalization.
type API struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PlannerCode string `json:"planner_code,omitempty"`
	MessageCode string `json:"message_code,omitempty"`

	// TableDeps lists tables in the owning service this API reads or
	// writes. Filled by the API-table dependency analysis stage.
	TableDeps []string `json:"table_deps,omitempty"`

	// APIDeps lists other APIs (possibly in other services) this API
	// calls. Filled by the API dependency analysis stage.
	APIDeps []APIRef `json:"api_deps,omitempty"`

	// LeanCode is the accepted Lean artifact, empty until the API
	// formalization stage commits one.
	LeanCode string `json:"lean_code,omitempty"`
}

// Service groups the tables and APIs of one source service.
type Service struct {
	Name   string   `json:"name"`
	Tables []*Table `json:"tables"`
	APIs   []*API   `json:"apis"`

	// TableOrder is the dependency-first formalization order over
	// Tables, persisted by the table dependency analysis stage.
	TableOrder []string `json:"table_order,omitempty"`
}

// TableNames returns the names of all tables in declaration order.
func (s *Service) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// Table returns the named table, or nil.
func (s *Service) Table(name string) *Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// API returns the named API, or nil.
func (s *Service) API(name string) *API {
	for _, a := range s.APIs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Project is the full parsed structure handed between pipeline stages.
type Project struct {
	Name     string     `json:"name"`
	Services []*Service `json:"services"`

	// APIOrder is the global dependency-first formalization order over
	// all APIs, persisted by the API dependency analysis stage.
	APIOrder []APIRef `json:"api_order,omitempty"`
}

// Service returns the named service, or nil.
func (p *Project) Service(name string) *Service {
	for _, s := range p.Services {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Table returns the named table in the named service, or nil.
func (p *Project) Table(service, table string) *Table {
	s := p.Service(service)
	if s == nil {
		return nil
	}
	return s.Table(table)
}

// API resolves an APIRef, returning nil when either part is unknown.
func (p *Project) API(ref APIRef) *API {
	s := p.Service(ref.Service)
	if s == nil {
		return nil
	}
	return s.API(ref.API)
}

// AllAPIRefs returns a reference for every API in every service, in
// declaration order.
func (p *Project) AllAPIRefs() []APIRef {
	var refs []APIRef
	for _, s := range p.Services {
		for _, a := range s.APIs {
			refs = append(refs, APIRef{Service: s.Name, API: a.Name})
		}
	}
	return refs
}

// Validate rejects structures the pipeline cannot process: empty or
// duplicate entity names within a service, or duplicate service names.
func (p *Project) Validate() error {
	seenServices := make(map[string]bool)
	for _, s := range p.Services {
		if s.Name == "" {
			return fmt.Errorf("service with empty name")
		}
		if seenServices[s.Name] {
			return fmt.Errorf("duplicate service name: %s", s.Name)
		}
		seenServices[s.Name] = true

		seenTables := make(map[string]bool)
		for _, t := range s.Tables {
			if t.Name == "" {
				return fmt.Errorf("service %s: table with empty name", s.Name)
			}
			if seenTables[t.Name] {
				return fmt.Errorf("service %s: duplicate table name: %s", s.Name, t.Name)
			}
			seenTables[t.Name] = true
		}

		seenAPIs := make(map[string]bool)
		for _, a := range s.APIs {
			if a.Name == "" {
				return fmt.Errorf("service %s: API with empty name", s.Name)
			}
			if seenAPIs[a.Name] {
				return fmt.Errorf("service %s: duplicate API name: %s", s.Name, a.Name)
			}
			seenAPIs[a.Name] = true
		}
	}
	return nil
}

// Load reads a project structure document from disk.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project document: %w", err)
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode project document %s: %w", path, err)
	}
	return &p, nil
}

// Save writes the project structure document to disk, creating parent
// directories as needed.
func (p *Project) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode project document: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write project document: %w", err)
	}
	return nil
}
