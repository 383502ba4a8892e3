package docker

import (
	"fmt"

	"github.com/google/uuid"
)

// Label keys used for Drey resources
const (
	LabelProject      = "drey.project"
	LabelInstanceName = "drey.instance.name"
	LabelSessionID    = "drey.session.id"
	LabelComponent    = "drey.component"
)

// Component label values
const (
	ComponentIntegrator = "integrator"
	ComponentPipeline   = "pipeline"
)

// BuildLabels creates the standard label set for all Drey resources.
func BuildLabels(instanceName, sessionID, component string) map[string]string {
	labels := map[string]string{
		LabelProject:      "true",
		LabelInstanceName: instanceName,
		LabelSessionID:    sessionID,
	}

	if component != "" {
		labels[LabelComponent] = component
	}

	return labels
}

// GenerateSessionID creates a new UUID for a spawned session.
func GenerateSessionID() string {
	return uuid.New().String()
}

// Resource naming conventions for Drey components

// NetworkName returns the Docker network name for an instance
func NetworkName(instanceName string) string {
	return fmt.Sprintf("drey-network-%s", instanceName)
}

// IntegratorContainerName returns the integrator container name for an instance
func IntegratorContainerName(instanceName string) string {
	return fmt.Sprintf("drey-integrator-%s", instanceName)
}
