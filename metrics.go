package rigid

// StepMetrics describes the last step.
type StepMetrics struct {
	Frame        uint64 `msgpack:"frame"`
	Bodies       int    `msgpack:"bodies"`
	AwakeBodies  int    `msgpack:"awake_bodies"`
	Pairs        int    `msgpack:"pairs"`
	Manifolds    int    `msgpack:"manifolds"`
	Points       int    `msgpack:"points"`
	Joints       int    `msgpack:"joints"`
	Islands      int    `msgpack:"islands"`
	AwakeIslands int    `msgpack:"awake_islands"`
	Slept        int    `msgpack:"slept"`
	Woken        int    `msgpack:"woken"`
	Multibodies  int    `msgpack:"multibodies"`

	CCDSweeps    int `msgpack:"ccd_sweeps"`
	CCDHits      int `msgpack:"ccd_hits"`
	CCDFallbacks int `msgpack:"ccd_fallbacks"`

	NormalImpulse     float64 `msgpack:"normal_impulse"`
	FrictionImpulse   float64 `msgpack:"friction_impulse"`
	PredictiveImpulse float64 `msgpack:"predictive_impulse"`
	MaxPenetration    float64 `msgpack:"max_penetration"`
	PositionError     float64 `msgpack:"position_error"`
	Faults            int     `msgpack:"faults"`
	Resets            int     `msgpack:"resets"`
}

// Metrics returns the metrics of the last step.
func (w *World) Metrics() StepMetrics { return w.metrics }
