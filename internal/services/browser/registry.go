package browser

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
)

// Registry maps browser engines onto the drivers serving them
type Registry struct {
	mu      sync.RWMutex
	drivers map[models.Engine]interfaces.BrowserDriver
	order   []interfaces.BrowserDriver
	logger  arbor.ILogger
}

// NewRegistry creates an empty registry
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		drivers: make(map[models.Engine]interfaces.BrowserDriver),
		logger:  logger,
	}
}

// Register binds every engine of the driver to it. A later registration for
// the same engine replaces the earlier one.
func (r *Registry) Register(driver interfaces.BrowserDriver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, engine := range driver.Engines() {
		r.drivers[engine] = driver
		r.logger.Debug().
			Str("engine", string(engine)).
			Str("driver", driver.Name()).
			Msg("Browser driver registered")
	}
	r.order = append(r.order, driver)
}

// RegisterFor binds a single engine to a driver that serves several
func (r *Registry) RegisterFor(engine models.Engine, driver interfaces.BrowserDriver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[engine] = driver
	for _, d := range r.order {
		if d == driver {
			return
		}
	}
	r.order = append(r.order, driver)
}

// Driver returns the driver for an engine
func (r *Registry) Driver(engine models.Engine) (interfaces.BrowserDriver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[engine]
	if !ok {
		return nil, fmt.Errorf("no driver for engine %q: %w", engine, models.ErrUnsupported)
	}
	return d, nil
}

// Engines lists the engines with a registered driver
func (r *Registry) Engines() []models.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	engines := make([]models.Engine, 0, len(r.drivers))
	for e := range r.drivers {
		engines = append(engines, e)
	}
	return engines
}

// Close shuts down every registered driver
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, d := range r.order {
		if err := d.Close(); err != nil {
			r.logger.Warn().Err(err).Str("driver", d.Name()).Msg("Failed to close browser driver")
			errs = append(errs, err)
		}
	}
	r.order = nil
	r.drivers = make(map[models.Engine]interfaces.BrowserDriver)
	return errors.Join(errs...)
}
