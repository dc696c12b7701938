package models

import (
	"fmt"
	"reflect"
	"sync"
)

// InputParameters holds the kinetic and process constants of the growth model.
//
// Field order is significant: Values flattens the tagged fields in declaration
// order and the derivative model reads them back in that same order. Add new
// constants by appending a tagged field; the flattened order follows.
type InputParameters struct {
	Ndays    int `yaml:"ndays" json:"ndays" param:"-"`
	Nsamples int `yaml:"nsamples" json:"nsamples" param:"-"`

	MuMax   float64 `yaml:"mu_max" json:"mu_max" param:"mu_max"`       // 1/h
	MuDMax  float64 `yaml:"mu_d_max" json:"mu_d_max" param:"mu_d_max"` // 1/h
	MuDMin  float64 `yaml:"mu_d_min" json:"mu_d_min" param:"mu_d_min"` // 1/h
	KGlc    float64 `yaml:"k_glc" json:"k_glc" param:"k_glc"`          // mM
	KGln    float64 `yaml:"k_gln" json:"k_gln" param:"k_gln"`          // mM
	KLys    float64 `yaml:"K_lys" json:"K_lys" param:"K_lys"`          // 1/h
	KsAmm   float64 `yaml:"Ks_amm" json:"Ks_amm" param:"Ks_amm"`       // mM
	KiAmm   float64 `yaml:"Ki_amm" json:"Ki_amm" param:"Ki_amm"`       // mM
	KsGlc   float64 `yaml:"Ks_glc" json:"Ks_glc" param:"Ks_glc"`       // mM
	KsGln   float64 `yaml:"Ks_gln" json:"Ks_gln" param:"Ks_gln"`       // mM
	KsLac   float64 `yaml:"Ks_lac" json:"Ks_lac" param:"Ks_lac"`       // mM
	QMab    float64 `yaml:"q_mab" json:"q_mab" param:"q_mab"`          // mg/cell/h
	QGlcMax float64 `yaml:"q_glc_max" json:"q_glc_max" param:"q_glc_max"`
	QGlnMax float64 `yaml:"q_gln_max" json:"q_gln_max" param:"q_gln_max"`
	QLacMax float64 `yaml:"q_lac_max" json:"q_lac_max" param:"q_lac_max"`
	YAmmGln float64 `yaml:"Y_amm_gln" json:"Y_amm_gln" param:"Y_amm_gln"`
	YLacGlc float64 `yaml:"Y_lac_glc" json:"Y_lac_glc" param:"Y_lac_glc"`
	TRef    float64 `yaml:"T_ref" json:"T_ref" param:"T_ref"`       // degC
	KTMu    float64 `yaml:"k_T_mu" json:"k_T_mu" param:"k_T_mu"`    // 1/degC^2
	KTMab   float64 `yaml:"k_T_mab" json:"k_T_mab" param:"k_T_mab"` // 1/degC

	// Feed-concentration setpoints. The simulator takes per-run values from
	// RunInput; these are only the configured fallbacks.
	CglcFeed float64 `yaml:"Cglc_feed" json:"Cglc_feed" param:"Cglc_feed"` // mM
	CglnFeed float64 `yaml:"Cgln_feed" json:"Cgln_feed" param:"Cgln_feed"` // mM
}

// DefaultInputParameters returns the CHO parameter set from Table 2 of
// Moller et al., "Model uncertainty-based evaluation of process strategies
// during scale-up of biopharmaceutical processes" (2020).
func DefaultInputParameters() InputParameters {
	return InputParameters{
		Ndays:    12,
		Nsamples: 2,
		MuMax:    0.043,
		MuDMax:   0.06,
		MuDMin:   0.001,
		KGlc:     0.2,
		KGln:     2.5,
		KLys:     0.001,
		KsAmm:    10.0,
		KiAmm:    10.0,
		KsGlc:    0.02,
		KsGln:    0.03,
		KsLac:    1.0,
		QMab:     3.12e-10,
		QGlcMax:  0.05e-9,
		QGlnMax:  0.054e-9,
		QLacMax:  0.2e-9,
		YAmmGln:  0.90,
		YLacGlc:  0.25,
		TRef:     37.0,
		KTMu:     0.02,
		KTMab:    0.05,
		CglcFeed: 140,
		CglnFeed: 5,
	}
}

type paramField struct {
	name  string
	index int
}

var (
	paramFieldsOnce sync.Once
	paramFields     []paramField
)

func flattenedFields() []paramField {
	paramFieldsOnce.Do(func() {
		rt := reflect.TypeOf(InputParameters{})
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			tag := f.Tag.Get("param")
			if tag == "" || tag == "-" {
				continue
			}
			if f.Type.Kind() != reflect.Float64 {
				panic(fmt.Sprintf("models: parameter field %s must be float64", f.Name))
			}
			paramFields = append(paramFields, paramField{name: tag, index: i})
		}
	})
	return paramFields
}

// ParameterNames returns the flattened parameter names in vector order.
func ParameterNames() []string {
	fields := flattenedFields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

// NumParameters is the length of the flattened parameter vector.
func NumParameters() int {
	return len(flattenedFields())
}

// Values flattens the kinetic constants into the ordered vector consumed by a
// derivative model.
func (p *InputParameters) Values() []float64 {
	fields := flattenedFields()
	rv := reflect.ValueOf(p).Elem()
	out := make([]float64, len(fields))
	for i, f := range fields {
		out[i] = rv.Field(f.index).Float()
	}
	return out
}

// ParametersFromValues is the inverse of Values. Ndays and Nsamples are left
// at zero since they are not part of the vector.
func ParametersFromValues(values []float64) (InputParameters, error) {
	var p InputParameters
	fields := flattenedFields()
	if len(values) != len(fields) {
		return p, fmt.Errorf("parameter vector has %d values, schema has %d", len(values), len(fields))
	}
	rv := reflect.ValueOf(&p).Elem()
	for i, f := range fields {
		rv.Field(f.index).SetFloat(values[i])
	}
	return p, nil
}

// Index returns the position of a named parameter in the flattened vector.
func Index(name string) (int, bool) {
	for i, f := range flattenedFields() {
		if f.name == name {
			return i, true
		}
	}
	return -1, false
}

// MustIndex is Index for names known at compile time.
func MustIndex(name string) int {
	i, ok := Index(name)
	if !ok {
		panic("models: unknown parameter " + name)
	}
	return i
}

// Validate rejects negative constants and non-positive simulation controls.
func (p *InputParameters) Validate() error {
	if p.Ndays < 1 {
		return fmt.Errorf("ndays must be at least 1, got %d", p.Ndays)
	}
	if p.Nsamples < 1 {
		return fmt.Errorf("nsamples must be at least 1, got %d", p.Nsamples)
	}
	names := ParameterNames()
	for i, v := range p.Values() {
		if v < 0 || v != v {
			return fmt.Errorf("parameter %s must be a non-negative number, got %g", names[i], v)
		}
	}
	return nil
}
