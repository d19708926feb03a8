package taxonomy

// Default returns the built-in PV fault taxonomy: a binary healthy/anomalous
// gate, four anomaly groups, and eleven fine-grained fault classes.
func Default() *Taxonomy {
	return &Taxonomy{
		Stage1: []string{"Healthy", "Anomalous"},
		Groups: []string{
			"Hotspot",
			"Obstruction",
			"Cell-Defect",
			"Electrical-Fault",
		},
		Faults: []string{
			"Hot-Spot-Multi",
			"Hot-Spot",
			"Soiling",
			"Vegetation",
			"Shadowing",
			"Cracking",
			"Cell",
			"Cell-Multi",
			"Diode",
			"Diode-Multi",
			"Offline-Module",
		},
		Mapping: []GroupFaults{
			{Group: "Hotspot", Faults: []string{"Hot-Spot-Multi", "Hot-Spot"}},
			{Group: "Obstruction", Faults: []string{"Soiling", "Vegetation", "Shadowing"}},
			{Group: "Cell-Defect", Faults: []string{"Cracking", "Cell", "Cell-Multi"}},
			{Group: "Electrical-Fault", Faults: []string{"Diode", "Diode-Multi", "Offline-Module"}},
		},
	}
}
