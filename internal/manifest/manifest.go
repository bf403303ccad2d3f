// Package manifest reads YAML descriptions of branches and their agents and
// registers them with the ledger.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Manifest models a branches.yaml file.
type Manifest struct {
	Branches []Branch `yaml:"branches"`
}

// Branch is one branch entry.
type Branch struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`
	Active bool           `yaml:"active"`
	Config map[string]any `yaml:"config"`
	Agents []Agent        `yaml:"agents"`
}

// Agent is one agent entry under a branch.
type Agent struct {
	Name         string         `yaml:"name"`
	Type         string         `yaml:"type"`
	Capabilities map[string]any `yaml:"capabilities"`
}

// Load reads and validates the manifest at path.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes and validates a manifest. Unknown fields are rejected.
func Parse(r io.Reader) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return Manifest{}, fmt.Errorf("manifest: parse: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks names and uniqueness.
func (m Manifest) Validate() error {
	seen := map[string]bool{}
	for i, b := range m.Branches {
		if err := model.ValidateName("branch", b.Name); err != nil {
			return fmt.Errorf("manifest: branches[%d]: %w", i, err)
		}
		if seen[b.Name] {
			return fmt.Errorf("manifest: branch %q listed twice", b.Name)
		}
		seen[b.Name] = true
		for j, a := range b.Agents {
			if err := model.ValidateName("agent", a.Name); err != nil {
				return fmt.Errorf("manifest: branch %q agents[%d]: %w", b.Name, j, err)
			}
		}
	}
	return nil
}

// Registry is the part of the ledger an import drives.
type Registry interface {
	RegisterBranch(ctx context.Context, name, branchType string, config model.Document) (model.Branch, error)
	ActivateBranch(ctx context.Context, id uuid.UUID) (model.Branch, error)
	ProvisionAgent(ctx context.Context, branchID uuid.UUID, name, agentType string, capabilities model.Document) (model.Agent, error)
}

// Result summarizes an import.
type Result struct {
	Registered []string `json:"registered"`
	Skipped    []string `json:"skipped"`
	Agents     int      `json:"agents"`
}

// Import registers every branch in m and provisions its agents. Branches
// whose name already exists are skipped along with their agents. Each branch
// is its own unit: a failure stops the import but keeps what was registered.
func Import(ctx context.Context, reg Registry, m Manifest, logger *slog.Logger) (Result, error) {
	var res Result
	for _, b := range m.Branches {
		config, err := document(b.Config)
		if err != nil {
			return res, fmt.Errorf("manifest: branch %q config: %w", b.Name, err)
		}
		branch, err := reg.RegisterBranch(ctx, b.Name, b.Type, config)
		if errors.Is(err, model.ErrDuplicateName) {
			logger.Info("manifest: branch exists, skipping", "branch", b.Name)
			res.Skipped = append(res.Skipped, b.Name)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("manifest: register %q: %w", b.Name, err)
		}
		res.Registered = append(res.Registered, b.Name)

		for _, a := range b.Agents {
			caps, err := document(a.Capabilities)
			if err != nil {
				return res, fmt.Errorf("manifest: agent %q capabilities: %w", a.Name, err)
			}
			if _, err := reg.ProvisionAgent(ctx, branch.ID, a.Name, a.Type, caps); err != nil {
				return res, fmt.Errorf("manifest: provision %q/%q: %w", b.Name, a.Name, err)
			}
			res.Agents++
		}
		if b.Active {
			if _, err := reg.ActivateBranch(ctx, branch.ID); err != nil {
				return res, fmt.Errorf("manifest: activate %q: %w", b.Name, err)
			}
		}
	}
	return res, nil
}

func document(v map[string]any) (model.Document, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}
