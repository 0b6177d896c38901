package metadata

import "maps"

// Standard Kubernetes label keys following kubernetes.io conventions.
//
// See: https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
const (
	// LabelAppName is the standard label key for the application name.
	LabelAppName = "app.kubernetes.io/name"

	// LabelAppInstance is the standard label key for the unique instance name.
	LabelAppInstance = "app.kubernetes.io/instance"

	// LabelAppComponent is the standard label key for the component within the
	// application.
	LabelAppComponent = "app.kubernetes.io/component"

	// LabelAppPartOf is the standard label key for the name of a higher level
	// application this one is part of.
	LabelAppPartOf = "app.kubernetes.io/part-of"

	// LabelAppManagedBy is the standard label key for the tool managing the
	// resource.
	LabelAppManagedBy = "app.kubernetes.io/managed-by"
)

const (
	// AppNameCoreDB is the fixed application name for all managed instances.
	AppNameCoreDB = "coredb"

	// ManagedByConductor identifies the conductor as the managing tool.
	ManagedByConductor = "conductor"
)

const (
	// LabelDataPlane identifies which data plane a resource belongs to.
	LabelDataPlane = "coredb.io/data-plane"

	// LabelOrganization identifies the owning organization, when the control
	// plane supplies one.
	LabelOrganization = "coredb.io/organization"

	// AnnotationRestartedAt is stamped on a CoreDB to request a rolling
	// restart. The CoreDB operator restarts pods whenever the value changes.
	AnnotationRestartedAt = "coredb.io/restartedAt"
)

// BuildStandardLabels builds the standard Kubernetes labels for everything
// the conductor creates on behalf of an instance.
//
// Parameters:
//   - instanceName: the managed resource name (e.g. "example")
//   - componentName: the object role (e.g. "instance", "ingress", "namespace")
func BuildStandardLabels(instanceName, componentName string) map[string]string {
	return map[string]string{
		LabelAppName:      AppNameCoreDB,
		LabelAppInstance:  instanceName,
		LabelAppComponent: componentName,
		LabelAppPartOf:    AppNameCoreDB,
		LabelAppManagedBy: ManagedByConductor,
	}
}

// AddDataPlaneLabel adds the data plane label to the provided labels map.
func AddDataPlaneLabel(labels map[string]string, dataPlaneID string) map[string]string {
	labels[LabelDataPlane] = dataPlaneID
	return labels
}

// AddOrganizationLabel adds the organization label to the provided labels map.
func AddOrganizationLabel(labels map[string]string, organization string) map[string]string {
	if organization != "" {
		labels[LabelOrganization] = organization
	}
	return labels
}

// MergeLabels merges custom labels with standard labels.
//
// Note that standard labels take precedence over custom labels to prevent
// callers from overriding conductor-managed labels.
func MergeLabels(standardLabels, customLabels map[string]string) map[string]string {
	merged := make(map[string]string)
	maps.Copy(merged, customLabels)
	maps.Copy(merged, standardLabels)
	return merged
}
