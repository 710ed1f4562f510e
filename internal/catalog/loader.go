package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/sitecheck/internal/models"
)

// File is the on-disk shape of an authored scenario file
type File struct {
	Scenarios []*models.ScenarioDefinition `toml:"scenarios" yaml:"scenarios" validate:"dive,required"`
}

// Loader reads authored scenario definitions from a directory
type Loader struct {
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewLoader creates a scenario file loader
func NewLoader(logger arbor.ILogger) *Loader {
	return &Loader{
		validate: validator.New(),
		logger:   logger,
	}
}

// LoadDir loads every *.toml, *.yaml and *.yml file in dir (not recursive),
// in file name order. A missing directory yields no scenarios.
func (l *Loader) LoadDir(dir string) ([]*models.ScenarioDefinition, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		l.logger.Warn().Str("dir", dir).Msg("Scenario directory not found, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".toml", ".yaml", ".yml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var defs []*models.ScenarioDefinition
	for _, name := range names {
		loaded, err := l.LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, loaded...)
	}

	l.logger.Debug().
		Str("dir", dir).
		Int("files", len(names)).
		Int("scenarios", len(defs)).
		Msg("Scenario files loaded")
	return defs, nil
}

// LoadFile parses and validates one scenario file; the format follows the extension
func (l *Loader) LoadFile(path string) ([]*models.ScenarioDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}

	var file File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &file)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported scenario file type: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse scenario file %s: %w", path, err)
	}

	if err := l.validate.Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid scenario file %s: %w", path, err)
	}
	for _, def := range file.Scenarios {
		if err := checkSteps(def.ID, def.Steps); err != nil {
			return nil, fmt.Errorf("invalid scenario file %s: %w", path, err)
		}
	}
	return file.Scenarios, nil
}

// checkSteps covers the cross-field rules struct tags cannot express
func checkSteps(id string, steps []models.Step) error {
	for i, step := range steps {
		switch step.Kind {
		case models.StepInteract:
			if step.Action == models.ActionResize {
				if step.Width <= 0 || step.Height <= 0 {
					return fmt.Errorf("scenario %s step %d: resize needs width and height", id, i+1)
				}
			} else if step.Target == nil {
				return fmt.Errorf("scenario %s step %d: %s needs a target", id, i+1, step.Action)
			}
		case models.StepWait:
			if step.Wait == models.WaitVisible && step.Target == nil {
				return fmt.Errorf("scenario %s step %d: visible wait needs a target", id, i+1)
			}
		case models.StepAssert:
			if step.Assertion.Kind.NeedsTarget() && step.Assertion.Target == nil {
				return fmt.Errorf("scenario %s step %d: assertion %s needs a target", id, i+1, step.Assertion.ID)
			}
		case models.StepConditional:
			if err := checkSteps(id, step.Steps); err != nil {
				return err
			}
		}
	}
	return nil
}

// Merge appends authored definitions to the built-in ones; an authored
// definition replaces a built-in one with the same id
func Merge(builtin, authored []*models.ScenarioDefinition) []*models.ScenarioDefinition {
	index := make(map[string]int, len(builtin))
	merged := make([]*models.ScenarioDefinition, 0, len(builtin)+len(authored))
	for _, def := range builtin {
		index[def.ID] = len(merged)
		merged = append(merged, def)
	}
	for _, def := range authored {
		if i, ok := index[def.ID]; ok {
			merged[i] = def
			continue
		}
		index[def.ID] = len(merged)
		merged = append(merged, def)
	}
	return merged
}
