package initwfn

import G "gorgonia.org/gorgonia"

// ZeroesConfig describes an initializer that sets every weight to 0.
type ZeroesConfig struct{}

// NewZeroes returns a weight initializer that zeroes all weights
func NewZeroes() (*InitWFn, error) {
	return newInitWFn(ZeroesConfig{})
}

// Type returns the initialization algorithm the configuration
// describes
func (z ZeroesConfig) Type() Type {
	return Zeroes
}

// Create returns the configured initializer as a Gorgonia InitWFn
func (z ZeroesConfig) Create() G.InitWFn {
	return G.Zeroes()
}

// OnesConfig describes an initializer that sets every weight to 1.
type OnesConfig struct{}

// NewOnes returns a weight initializer that sets all weights to 1
func NewOnes() (*InitWFn, error) {
	return newInitWFn(OnesConfig{})
}

// Type returns the initialization algorithm the configuration
// describes
func (o OnesConfig) Type() Type {
	return Ones
}

// Create returns the configured initializer as a Gorgonia InitWFn
func (o OnesConfig) Create() G.InitWFn {
	return G.Ones()
}

// ConstantConfig describes an initializer that sets every weight to a
// fixed value.
type ConstantConfig struct {
	Value float64
}

// NewConstant returns a weight initializer that sets all weights to
// value
func NewConstant(value float64) (*InitWFn, error) {
	return newInitWFn(ConstantConfig{Value: value})
}

// Type returns the initialization algorithm the configuration
// describes
func (c ConstantConfig) Type() Type {
	return Constant
}

// Create returns the configured initializer as a Gorgonia InitWFn
func (c ConstantConfig) Create() G.InitWFn {
	return G.ValuesOf(c.Value)
}
