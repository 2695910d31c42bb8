package capability

import "icn.coop/mesh/dag"

// Matches reports whether a manifest satisfies every predicate of the
// selector. Predicates combine with AND; a zero-valued predicate is not
// applied. An absent hardware section fails any predicate that needs it.
func Matches(m *dag.NodeManifest, sel *dag.Selector) bool {
	if sel.Architecture != "" && m.Architecture != sel.Architecture {
		return false
	}
	if sel.MinCores > 0 && m.Cores < sel.MinCores {
		return false
	}
	if sel.MinRAMMb > 0 && m.RAMMb < sel.MinRAMMb {
		return false
	}
	if sel.MinStorageBytes > 0 && m.StorageBytes < sel.MinStorageBytes {
		return false
	}
	if sel.GPU != nil && !matchGPU(m.GPU, sel.GPU) {
		return false
	}
	for i := range sel.Sensors {
		if !matchPeripheral(m.Sensors, &sel.Sensors[i]) {
			return false
		}
	}
	for i := range sel.Actuators {
		if !matchPeripheral(m.Actuators, &sel.Actuators[i]) {
			return false
		}
	}
	if sel.MinRenewablePct > 0 {
		if m.Energy == nil || m.Energy.RenewablePct < sel.MinRenewablePct {
			return false
		}
	}
	if sel.EnergySource != "" {
		if m.Energy == nil || !contains(m.Energy.Sources, sel.EnergySource) {
			return false
		}
	}
	for _, p := range sel.MeshProtocols {
		if !contains(m.MeshProtocols, p) {
			return false
		}
	}
	return true
}

func matchGPU(g *dag.GPUProfile, sel *dag.GPUSelector) bool {
	if g == nil {
		return false
	}
	if sel.APIFamily != "" && g.APIFamily != sel.APIFamily {
		return false
	}
	if sel.MinVRAMMb > 0 && g.VRAMMb < sel.MinVRAMMb {
		return false
	}
	if sel.TensorCores && !g.TensorCores {
		return false
	}
	for _, f := range sel.Features {
		if !contains(g.Features, f) {
			return false
		}
	}
	return true
}

// matchPeripheral requires at least one peripheral satisfying the whole
// selector entry, not per-field matches spread across peripherals.
func matchPeripheral(have []dag.PeripheralSpec, sel *dag.PeripheralSelector) bool {
	for i := range have {
		p := &have[i]
		if sel.Type != "" && p.Type != sel.Type {
			continue
		}
		if sel.Protocol != "" && p.Protocol != sel.Protocol {
			continue
		}
		if sel.Active != nil && p.Active != *sel.Active {
			continue
		}
		return true
	}
	return false
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
