package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/codyseavey/kpi-widget/internal/host"
	"github.com/codyseavey/kpi-widget/internal/models"
)

// The fingerprint is a canonical string of everything a refresh
// depends on: role bindings, active filters, and the period kind.
// Two equal fingerprints mean a refresh can be skipped. Every list is
// sorted before serialization so binding/filter enumeration order
// never produces a spurious mismatch.

// ComputeFingerprint builds the refresh fingerprint from the host
// configuration, the active filter list, and the selected period.
func ComputeFingerprint(ctx context.Context, config host.ConfigSource, source host.DataSource, spec models.PeriodSpec) (string, error) {
	bindings, err := config.RoleBindings(ctx)
	if err != nil {
		return "", fmt.Errorf("read role bindings: %w", err)
	}
	filters, err := source.ActiveFilters(ctx)
	if err != nil {
		return "", fmt.Errorf("read active filters: %w", err)
	}

	var sb strings.Builder
	for _, role := range []models.Role{models.RoleBars, models.RoleLines, models.RoleUnfavorable, models.RoleTooltip, models.RoleDetail, models.RoleDate} {
		fields := host.FieldsForRole(bindings, role)
		sorted := append([]string(nil), fields...)
		sort.Strings(sorted)
		sb.WriteString(string(role))
		sb.WriteString(":")
		sb.WriteString(strings.Join(sorted, ","))
		sb.WriteString("|")
	}

	descriptors := make([]string, 0, len(filters))
	for _, f := range filters {
		desc := string(f.Kind) + "=" + f.Field
		switch f.Kind {
		case host.FilterRange:
			desc += "=" + f.Min + ".." + f.Max
		case host.FilterValues:
			values := append([]string(nil), f.Values...)
			sort.Strings(values)
			desc += "=" + strings.Join(values, ",")
		}
		descriptors = append(descriptors, desc)
	}
	sort.Strings(descriptors)
	sb.WriteString("filters:")
	sb.WriteString(strings.Join(descriptors, ";"))
	sb.WriteString("|period:")
	sb.WriteString(string(spec.Kind))

	return sb.String(), nil
}

// HasChanged reports whether a refresh is necessary. An empty last
// fingerprint means "unknown" (first run, or invalidated by a user
// edit) and always counts as changed.
func HasChanged(current, last string) bool {
	return last == "" || current != last
}
