package metadata

import "testing"

func TestBuildStandardLabels(t *testing.T) {
	t.Parallel()

	labels := BuildStandardLabels("example", "instance")

	want := map[string]string{
		LabelAppName:      AppNameCoreDB,
		LabelAppInstance:  "example",
		LabelAppComponent: "instance",
		LabelAppPartOf:    AppNameCoreDB,
		LabelAppManagedBy: ManagedByConductor,
	}
	for k, v := range want {
		if labels[k] != v {
			t.Errorf("labels[%q] = %q, want %q", k, labels[k], v)
		}
	}
}

func TestAddDataPlaneLabel(t *testing.T) {
	t.Parallel()

	labels := AddDataPlaneLabel(BuildStandardLabels("example", "instance"), "dp1")
	if labels[LabelDataPlane] != "dp1" {
		t.Errorf("data plane label = %q, want dp1", labels[LabelDataPlane])
	}
}

func TestAddOrganizationLabel(t *testing.T) {
	t.Parallel()

	withOrg := AddOrganizationLabel(map[string]string{}, "acme")
	if withOrg[LabelOrganization] != "acme" {
		t.Errorf("organization label = %q, want acme", withOrg[LabelOrganization])
	}

	withoutOrg := AddOrganizationLabel(map[string]string{}, "")
	if _, ok := withoutOrg[LabelOrganization]; ok {
		t.Error("empty organization should not add a label")
	}
}

func TestMergeLabels(t *testing.T) {
	t.Parallel()

	standard := BuildStandardLabels("example", "instance")
	custom := map[string]string{"team": "databases", LabelAppManagedBy: "someone-else"}

	merged := MergeLabels(standard, custom)

	if merged["team"] != "databases" {
		t.Errorf("custom label lost: %q", merged["team"])
	}
	if merged[LabelAppManagedBy] != ManagedByConductor {
		t.Errorf("standard label overridden: %q", merged[LabelAppManagedBy])
	}
}
