package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/root-talis/shinka/migration"
	"github.com/root-talis/shinka/plan"
	"github.com/root-talis/shinka/source"
)

// ManifestName is the file in the plan directory describing the chains.
const ManifestName = "plan.yaml"

var ErrNotADirectory = errors.New("plan directory is not a directory")

type manifest struct {
	Name   string          `yaml:"name"`
	Chains []manifestChain `yaml:"chains"`
}

type manifestChain struct {
	From  string         `yaml:"from"`
	Steps []manifestLink `yaml:"steps"`
}

type manifestLink struct {
	Step string `yaml:"step"`
	To   string `yaml:"to"`
}

type filesSource struct {
	fsys fs.FS
	dir  string
}

// NewFilesSource returns a source reading dir/plan.yaml from fsys. Each step of the manifest names
// a SQL script in dir.
func NewFilesSource(fsys fs.FS, dir string) (source.Source, error) {
	stat, err := fs.Stat(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat plan directory: %w", err)
	}

	if !stat.IsDir() {
		return nil, ErrNotADirectory
	}

	return &filesSource{
		fsys: fsys,
		dir:  dir,
	}, nil
}

func (s *filesSource) Load(reg *migration.Registry) (*plan.Plan, error) {
	m, err := s.readManifest()
	if err != nil {
		return nil, err
	}

	if err := s.registerScripts(m, reg); err != nil {
		return nil, err
	}

	b := plan.NewBuilder(m.Name, reg)
	for _, chain := range m.Chains {
		b.From(migration.Token(chain.From))
		for _, link := range chain.Steps {
			if link.Step == "" {
				b.Alias(migration.Token(link.To))
			} else {
				b.Chain(migration.StepRef(link.Step), migration.Token(link.To))
			}
		}
	}

	return b.Build()
}

func (s *filesSource) readManifest() (*manifest, error) {
	data, err := fs.ReadFile(s.fsys, path.Join(s.dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("failed to read plan manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s", source.ErrInvalidManifest, err)
	}

	if m.Name == "" {
		return nil, fmt.Errorf("%w: name is missing", source.ErrInvalidManifest)
	}

	return &m, nil
}

func (s *filesSource) registerScripts(m *manifest, reg *migration.Registry) error {
	registered := make(map[string]bool)

	for _, chain := range m.Chains {
		for _, link := range chain.Steps {
			if link.Step == "" || registered[link.Step] {
				continue
			}

			statements, err := s.readScript(link.Step)
			if err != nil {
				return err
			}

			script := &sqlScript{name: link.Step, statements: statements}
			err = reg.Register(migration.StepRef(link.Step), func() migration.Step { return script })
			if err != nil {
				return fmt.Errorf("failed to register script %s: %w", link.Step, err)
			}

			registered[link.Step] = true
		}
	}

	return nil
}

func (s *filesSource) readScript(name string) ([]string, error) {
	if !strings.HasSuffix(name, ".sql") || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q must be a .sql file in the plan directory", source.ErrInvalidStepName, name)
	}

	data, err := fs.ReadFile(s.fsys, path.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", name, err)
	}

	statements, err := splitStatements(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse script %s: %w", name, err)
	}

	return statements, nil
}

// ---

type sqlScript struct {
	name       string
	statements []string
}

func (s *sqlScript) Migrate(ctx context.Context, mc *migration.Context) error {
	for i, stmt := range s.statements {
		if _, err := mc.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d of %s failed: %w", i+1, s.name, err)
		}
	}

	mc.Logger.Debug("script applied", "script", s.name, "statements", len(s.statements))

	return nil
}
