package models

import "fmt"

// ScenarioInstance is one runnable (definition, engine, device, locale)
// combination. Instances are created by the matrix expander and never mutated.
type ScenarioInstance struct {
	Definition *ScenarioDefinition
	Engine     Engine
	Device     DeviceProfile
	Locale     Locale
	// Index is the position in the expanded matrix
	Index int
}

// ID is the unique identity used to key results
func (i *ScenarioInstance) ID() string {
	return fmt.Sprintf("%s[%s/%s/%s]", i.Definition.ID, i.Engine, i.Device.Name, i.Locale.Code)
}

// Ref is the serializable identity of the instance
func (i *ScenarioInstance) Ref() InstanceRef {
	return InstanceRef{
		ID:       i.ID(),
		Scenario: i.Definition.ID,
		Group:    i.Definition.Group,
		Engine:   i.Engine,
		Device:   i.Device.Name,
		Locale:   i.Locale.Code,
		Index:    i.Index,
	}
}

// InstanceRef identifies a ScenarioInstance in reports and history
type InstanceRef struct {
	ID       string `json:"id"`
	Scenario string `json:"scenario"`
	Group    string `json:"group,omitempty"`
	Engine   Engine `json:"engine"`
	Device   string `json:"device"`
	Locale   string `json:"locale"`
	Index    int    `json:"index"`
}
