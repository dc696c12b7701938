// Package cho is the reference CHO fed-batch growth model: an unstructured
// Monod model of viable and dead cells, glucose, glutamine, lactate, ammonia
// and antibody under controlled oxygen and pH.
package cho

import (
	"math"

	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
)

// Auxiliary column indices.
const (
	AuxF = iota
	AuxT
	AuxMu
	AuxMuD
	AuxQGlc
	AuxQGln
	AuxQLac
	AuxQAmm
	AuxQMab
	AuxOsmolarity

	NumAux
)

// AuxNames are the dataset keys of the auxiliary quantities, in column order.
var AuxNames = [NumAux]string{"F", "T", "mu", "mu_d", "q_glc", "q_gln", "q_lac", "q_amm", "q_mab", "Osmolarity"}

// Medium osmolarity without the tracked solutes, mOsm/kg.
const baseOsmolarity = 280.0

// Glucose level (mM) around which cells switch from lactate production to
// lactate uptake, and the width of the switch.
const (
	lacSwitchGlc   = 0.5
	lacSwitchWidth = 0.05
)

var (
	iMuMax    = models.MustIndex("mu_max")
	iMuDMax   = models.MustIndex("mu_d_max")
	iMuDMin   = models.MustIndex("mu_d_min")
	iKGlc     = models.MustIndex("k_glc")
	iKGln     = models.MustIndex("k_gln")
	iKLys     = models.MustIndex("K_lys")
	iKsAmm    = models.MustIndex("Ks_amm")
	iKiAmm    = models.MustIndex("Ki_amm")
	iKsGlc    = models.MustIndex("Ks_glc")
	iKsGln    = models.MustIndex("Ks_gln")
	iKsLac    = models.MustIndex("Ks_lac")
	iQMab     = models.MustIndex("q_mab")
	iQGlcMax  = models.MustIndex("q_glc_max")
	iQGlnMax  = models.MustIndex("q_gln_max")
	iQLacMax  = models.MustIndex("q_lac_max")
	iYAmmGln  = models.MustIndex("Y_amm_gln")
	iYLacGlc  = models.MustIndex("Y_lac_glc")
	iTRef     = models.MustIndex("T_ref")
	iKTMu     = models.MustIndex("k_T_mu")
	iKTMab    = models.MustIndex("k_T_mab")
	iCglcFeed = models.MustIndex("Cglc_feed")
	iCglnFeed = models.MustIndex("Cgln_feed")
)

// rates are the specific rates at one point of the culture.
type rates struct {
	mu, muD                      float64 // 1/h
	qGlc, qGln, qLac, qAmm, qMab float64 // per cell
}

func specificRates(y, p []float64, temp float64) rates {
	glc := math.Max(y[models.Cglc], 0)
	gln := math.Max(y[models.Cgln], 0)
	lac := math.Max(y[models.Clac], 0)
	amm := math.Max(y[models.Camm], 0)

	dT := temp - p[iTRef]
	fT := math.Exp(-p[iKTMu] * dT * dT)

	var r rates
	r.mu = p[iMuMax] *
		glc / (p[iKsGlc] + glc) *
		gln / (p[iKsGln] + gln) *
		p[iKsAmm] / (p[iKsAmm] + amm) *
		fT
	r.muD = p[iMuDMin] + p[iMuDMax]*
		p[iKGlc]/(p[iKGlc]+glc)*
		p[iKGln]/(p[iKGln]+gln)

	r.qGlc = p[iQGlcMax] * glc / (p[iKsGlc] + glc)
	r.qGln = p[iQGlnMax] * gln / (p[iKsGln] + gln)

	// 1 when glucose is exhausted, 0 when plentiful
	w := 1 / (1 + math.Exp((glc-lacSwitchGlc)/lacSwitchWidth))
	r.qLac = (1-w)*p[iYLacGlc]*r.qGlc - w*p[iQLacMax]*lac/(p[iKsLac]+lac)

	r.qAmm = p[iYAmmGln] * r.qGln
	r.qMab = p[iQMab] *
		math.Max(0, 1+p[iKTMab]*(p[iTRef]-temp)) *
		p[iKiAmm] / (p[iKiAmm] + amm)
	return r
}

// Derivative is the growth model right-hand side. Feed is in L/h and temp
// in degC; the feed medium concentrations are read from p.
func Derivative(t float64, y, p []float64, feed, temp models.Signal, dydt []float64) {
	F := feed(t)
	r := specificRates(y, p, temp(t))

	xv := y[models.Xv]
	d := F / y[models.V]

	dydt[models.Xv] = (r.mu - r.muD - d) * xv
	dydt[models.Xt] = r.mu*xv - p[iKLys]*(y[models.Xt]-xv) - d*y[models.Xt]
	dydt[models.Cglc] = -r.qGlc*xv + d*(p[iCglcFeed]-y[models.Cglc])
	dydt[models.Cgln] = -r.qGln*xv + d*(p[iCglnFeed]-y[models.Cgln])
	dydt[models.Clac] = r.qLac*xv - d*y[models.Clac]
	dydt[models.Camm] = r.qAmm*xv - d*y[models.Camm]
	dydt[models.Cmab] = r.qMab*xv - d*y[models.Cmab]
	dydt[models.Coxygen] = 0
	dydt[models.V] = F
	dydt[models.PH] = 0
}

// Auxiliary returns the feed rate, temperature, specific rates and
// osmolarity at one point, in AuxNames order.
func Auxiliary(t float64, y []float64, params *models.InputParameters, feed, temp models.Signal) []float64 {
	T := temp(t)
	r := specificRates(y, params.Values(), T)

	out := make([]float64, NumAux)
	out[AuxF] = feed(t)
	out[AuxT] = T
	out[AuxMu] = r.mu
	out[AuxMuD] = r.muD
	out[AuxQGlc] = r.qGlc
	out[AuxQGln] = r.qGln
	out[AuxQLac] = r.qLac
	out[AuxQAmm] = r.qAmm
	out[AuxQMab] = r.qMab
	out[AuxOsmolarity] = baseOsmolarity + y[models.Cglc] + y[models.Cgln] + y[models.Clac] + y[models.Camm]
	return out
}
