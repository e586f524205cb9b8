package services

import (
	"context"
	"testing"

	"github.com/codyseavey/kpi-widget/internal/host"
	"github.com/codyseavey/kpi-widget/internal/models"
)

func TestComputeFingerprintOrderInsensitive(t *testing.T) {
	ctx := context.Background()
	spec := models.DefaultPeriodSpec()

	configA := &fakeConfig{bindings: []host.RoleBinding{
		{Role: models.RoleBars, Field: "Revenue"},
		{Role: models.RoleBars, Field: "Units"},
		{Role: models.RoleDate, Field: "OrderDate"},
	}}
	configB := &fakeConfig{bindings: []host.RoleBinding{
		{Role: models.RoleDate, Field: "OrderDate"},
		{Role: models.RoleBars, Field: "Units"},
		{Role: models.RoleBars, Field: "Revenue"},
	}}

	sourceA := newFakeSource(nil, nil)
	sourceA.extraFilters = []host.FilterDescriptor{
		{Field: "Region", Kind: host.FilterValues, Values: []string{"West", "East"}},
		{Field: "Revenue", Kind: host.FilterRange, Min: "0", Max: "100"},
	}
	sourceB := newFakeSource(nil, nil)
	sourceB.extraFilters = []host.FilterDescriptor{
		{Field: "Revenue", Kind: host.FilterRange, Min: "0", Max: "100"},
		{Field: "Region", Kind: host.FilterValues, Values: []string{"East", "West"}},
	}

	fpA, err := ComputeFingerprint(ctx, configA, sourceA, spec)
	if err != nil {
		t.Fatalf("ComputeFingerprint: %v", err)
	}
	fpB, err := ComputeFingerprint(ctx, configB, sourceB, spec)
	if err != nil {
		t.Fatalf("ComputeFingerprint: %v", err)
	}
	if fpA != fpB {
		t.Errorf("fingerprints differ across enumeration order:\n%s\n%s", fpA, fpB)
	}
}

func TestComputeFingerprintSensitivity(t *testing.T) {
	ctx := context.Background()
	base := &fakeConfig{bindings: []host.RoleBinding{
		{Role: models.RoleBars, Field: "Revenue"},
		{Role: models.RoleDate, Field: "OrderDate"},
	}}
	source := newFakeSource(nil, nil)

	fp, err := ComputeFingerprint(ctx, base, source, models.PeriodSpec{Kind: models.PeriodMTD})
	if err != nil {
		t.Fatalf("ComputeFingerprint: %v", err)
	}

	t.Run("period kind changes fingerprint", func(t *testing.T) {
		other, err := ComputeFingerprint(ctx, base, source, models.PeriodSpec{Kind: models.PeriodYTD})
		if err != nil {
			t.Fatalf("ComputeFingerprint: %v", err)
		}
		if other == fp {
			t.Error("fingerprint unchanged across period kinds")
		}
	})

	t.Run("binding change changes fingerprint", func(t *testing.T) {
		changed := &fakeConfig{bindings: []host.RoleBinding{
			{Role: models.RoleBars, Field: "Units"},
			{Role: models.RoleDate, Field: "OrderDate"},
		}}
		other, err := ComputeFingerprint(ctx, changed, source, models.PeriodSpec{Kind: models.PeriodMTD})
		if err != nil {
			t.Fatalf("ComputeFingerprint: %v", err)
		}
		if other == fp {
			t.Error("fingerprint unchanged across binding edits")
		}
	})

	t.Run("filter change changes fingerprint", func(t *testing.T) {
		filtered := newFakeSource(nil, nil)
		filtered.extraFilters = []host.FilterDescriptor{
			{Field: "Region", Kind: host.FilterValues, Values: []string{"West"}},
		}
		other, err := ComputeFingerprint(ctx, base, filtered, models.PeriodSpec{Kind: models.PeriodMTD})
		if err != nil {
			t.Fatalf("ComputeFingerprint: %v", err)
		}
		if other == fp {
			t.Error("fingerprint unchanged when a filter appears")
		}
	})
}

func TestHasChanged(t *testing.T) {
	tests := []struct {
		name          string
		current, last string
		want          bool
	}{
		{"empty last always changed", "abc", "", true},
		{"both empty still changed", "", "", true},
		{"equal unchanged", "abc", "abc", false},
		{"different changed", "abc", "def", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasChanged(tt.current, tt.last); got != tt.want {
				t.Errorf("HasChanged(%q, %q) = %v, want %v", tt.current, tt.last, got, tt.want)
			}
		})
	}
}
