package detection

import "time"

// LayerStat describes one network layer in a performance report.
type LayerStat struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// PerfReport is the detector's own introspection of the last forward pass.
type PerfReport struct {
	Total  time.Duration `json:"total"`
	Layers []LayerStat   `json:"layers"`
}
