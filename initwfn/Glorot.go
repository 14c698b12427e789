package initwfn

import G "gorgonia.org/gorgonia"

// GlorotUConfig describes Glorot initialization with weights drawn
// from a uniform distribution scaled by gain.
type GlorotUConfig struct {
	Gain float64
}

// NewGlorotU returns a Glorot uniform weight initializer with the
// given gain
func NewGlorotU(gain float64) (*InitWFn, error) {
	return newInitWFn(GlorotUConfig{Gain: gain})
}

// Type returns the initialization algorithm the configuration
// describes
func (g GlorotUConfig) Type() Type {
	return GlorotU
}

// Create returns the configured initializer as a Gorgonia InitWFn
func (g GlorotUConfig) Create() G.InitWFn {
	return G.GlorotU(g.Gain)
}

// GlorotNConfig describes Glorot initialization with weights drawn
// from a normal distribution scaled by gain.
type GlorotNConfig struct {
	Gain float64
}

// NewGlorotN returns a Glorot normal weight initializer with the
// given gain
func NewGlorotN(gain float64) (*InitWFn, error) {
	return newInitWFn(GlorotNConfig{Gain: gain})
}

// Type returns the initialization algorithm the configuration
// describes
func (g GlorotNConfig) Type() Type {
	return GlorotN
}

// Create returns the configured initializer as a Gorgonia InitWFn
func (g GlorotNConfig) Create() G.InitWFn {
	return G.GlorotN(g.Gain)
}
