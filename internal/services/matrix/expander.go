package matrix

import (
	"fmt"
	"path"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/models"
)

// Filter narrows the expanded matrix. Each non-empty field is a path.Match
// glob; an instance is kept when every non-empty field matches.
type Filter struct {
	Scenario string
	Engine   string
	Device   string
	Locale   string
}

// Empty reports whether the filter keeps everything
func (f Filter) Empty() bool {
	return f.Scenario == "" && f.Engine == "" && f.Device == "" && f.Locale == ""
}

// Validate checks every glob compiles
func (f Filter) Validate() error {
	for name, pattern := range map[string]string{
		"scenario": f.Scenario,
		"engine":   f.Engine,
		"device":   f.Device,
		"locale":   f.Locale,
	} {
		if pattern == "" {
			continue
		}
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid %s filter %q: %w", name, pattern, err)
		}
	}
	return nil
}

// Match reports whether the instance passes the filter
func (f Filter) Match(inst *models.ScenarioInstance) bool {
	return globMatch(f.Scenario, inst.Definition.ID) &&
		globMatch(f.Engine, string(inst.Engine)) &&
		globMatch(f.Device, inst.Device.Name) &&
		globMatch(f.Locale, inst.Locale.Code)
}

func globMatch(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}

// Expander produces the runnable ScenarioInstances for an environment
type Expander struct {
	env    *models.Environment
	logger arbor.ILogger
}

// NewExpander creates a matrix expander bound to a resolved environment
func NewExpander(env *models.Environment, logger arbor.ILogger) *Expander {
	return &Expander{env: env, logger: logger}
}

// Expand cross-products definitions x engines x devices x locales.
// Iteration follows definition order, then engine, device and locale order, so
// the output is identical for identical inputs. Scenarios restricted to
// locales or devices are not expanded for the excluded ones, and a duplicated
// definition ID is expanded once.
func (x *Expander) Expand(defs []*models.ScenarioDefinition, filter Filter) ([]*models.ScenarioInstance, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var instances []*models.ScenarioInstance

	for _, def := range defs {
		if seen[def.ID] {
			x.logger.Warn().Str("scenario", def.ID).Msg("Duplicate scenario definition ignored")
			continue
		}
		seen[def.ID] = true

		for _, engine := range x.env.Engines {
			for _, device := range x.env.Devices {
				if !def.AppliesToDevice(device.Name) {
					continue
				}
				for _, locale := range x.env.Locales {
					if !def.AppliesToLocale(locale.Code) {
						continue
					}
					inst := &models.ScenarioInstance{
						Definition: def,
						Engine:     engine,
						Device:     device,
						Locale:     locale,
					}
					if !filter.Match(inst) {
						continue
					}
					inst.Index = len(instances)
					instances = append(instances, inst)
				}
			}
		}
	}

	x.logger.Debug().
		Int("definitions", len(defs)).
		Int("instances", len(instances)).
		Bool("filtered", !filter.Empty()).
		Msg("Matrix expanded")

	return instances, nil
}
