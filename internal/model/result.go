package model

// Stage1Result is the binary gate verdict: healthy vs anomalous.
type Stage1Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Stage2Result assigns an anomalous panel to one of the fault groups.
type Stage2Result struct {
	GroupLabel string  `json:"group_label"`
	Confidence float64 `json:"confidence"`
}

// Stage3Result is the fine-grained fault verdict within the stage-2 group.
type Stage3Result struct {
	FineLabel  string  `json:"fine_label"`
	Confidence float64 `json:"confidence"`
}

// PipelineResult is the full cascade output for one image. Stage2 and Stage3
// are nil when the cascade short-circuits at stage 1; Error carries the
// low-confidence message or a per-item batch failure.
type PipelineResult struct {
	Stage1 *Stage1Result `json:"stage1"`
	Stage2 *Stage2Result `json:"stage2,omitempty"`
	Stage3 *Stage3Result `json:"stage3,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Status is a point-in-time snapshot of model provisioning.
type Status struct {
	Ready   bool   `json:"ready"`
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}
