package indicator

import (
	"fmt"
	"time"
)

// Unit is one named facade reading: a concrete indicator bound to concrete
// windows, so strategies reference signals by name instead of re-stating
// window arithmetic at every call site.
type Unit struct {
	name string
	get  func() float64
}

func NewUnit(name string, get func() float64) Unit {
	return Unit{name: name, get: get}
}

func (u Unit) Name() string   { return u.name }
func (u Unit) Value() float64 { return u.get() }

// Msg renders "name: value" for signal logging.
func (u Unit) Msg() string {
	return fmt.Sprintf("%s: %g", u.name, u.Value())
}

// Facade window constants. Tuned for the TAIFEX mini contract's tick rate.
const (
	LenPMAP = 10 * time.Second
	LenPMAS = 10*time.Minute + 30*time.Second
	LenPMAM = 27*time.Minute + 30*time.Second
	LenPMAL = 72 * time.Minute

	LenVMAL    = 24 * time.Minute
	LenVMAS    = 5 * time.Minute
	FacadeUnit = time.Minute
	VMATimes   = 2

	LenSellBuy           = 5 * time.Minute
	LenSellBuyChangeRate = 3 * time.Minute

	LenSD   = 45 * time.Minute
	BBTimes = 2

	LenCovarianceL = 2 * time.Hour
	LenCovarianceS = 30 * time.Minute

	LenDonchian  = 30 * time.Minute
	LenDonchianS = 3 * time.Minute
)

// Facade binds the provider's managers to the named units strategies read.
// All units report 0 until their manager produces a first state.
type Facade struct {
	p *Provider

	Price Unit

	PMAP Unit
	PMAS Unit
	PMAM Unit
	PMAL Unit

	VMAL        Unit
	VMAS        Unit
	VolumeRatio Unit

	SellBuyRatio           Unit
	SellBuyRatioChangeRate Unit
	SellBuyPower           Unit

	SD      Unit
	BBUpper Unit
	BBLower Unit
	BBWidth Unit

	SDStopLoss Unit

	CovarianceLong  Unit
	CovarianceShort Unit

	BidAskRatio Unit

	DonchianH     Unit
	DonchianL     Unit
	DonchianH25   Unit
	DonchianL25   Unit
	DonchianPivot Unit
	DonchianIdle  Unit
}

func NewFacade(p *Provider) *Facade {
	f := &Facade{p: p}

	f.Price = NewUnit("price", p.LatestPrice)

	f.PMAP = NewUnit("pma_p", func() float64 { return p.MA(LenPMAP) })
	f.PMAS = NewUnit("pma_s", func() float64 { return p.MA(LenPMAS) })
	f.PMAM = NewUnit("pma_m", func() float64 { return p.MA(LenPMAM) })
	f.PMAL = NewUnit("pma_l", func() float64 { return p.MA(LenPMAL) })

	f.VMAL = NewUnit("vma_l", func() float64 { return p.VMA(LenVMAL, FacadeUnit, VMATimes) })
	f.VMAS = NewUnit("vma_s", func() float64 { return p.VMA(LenVMAS, FacadeUnit, 1) })
	f.VolumeRatio = NewUnit("volume_ratio", func() float64 {
		long := p.VMA(LenVMAL, FacadeUnit, 1)
		if long == 0 {
			return 0
		}
		return p.VMA(LenVMAS, FacadeUnit, 1) / long
	})

	f.SellBuyRatio = NewUnit("sell_buy_ratio", func() float64 { return p.SellBuyRatio(LenSellBuy) })
	f.SellBuyRatioChangeRate = NewUnit("sell_buy_ratio_change_rate", func() float64 {
		return p.SellBuyRatioChangeRate(LenSellBuy, LenSellBuyChangeRate)
	})
	f.SellBuyPower = NewUnit("sell_buy_power", func() float64 {
		return f.SellBuyRatio.Value() * f.VolumeRatio.Value()
	})

	f.SD = NewUnit("sd", func() float64 { return p.SD(LenSD) })
	f.BBUpper = NewUnit("bb_upper", func() float64 { return f.PMAL.Value() + f.SD.Value()*BBTimes })
	f.BBLower = NewUnit("bb_lower", func() float64 { return f.PMAL.Value() - f.SD.Value()*BBTimes })
	f.BBWidth = NewUnit("bb_width", func() float64 { return f.SD.Value() * BBTimes })

	f.SDStopLoss = NewUnit("sd_stop_loss", func() float64 { return p.SDStopLoss(LenSD) })

	f.CovarianceLong = NewUnit("covariance_long", func() float64 { return p.Covariance(LenCovarianceL) })
	f.CovarianceShort = NewUnit("covariance_short", func() float64 { return p.Covariance(LenCovarianceS) })

	f.BidAskRatio = NewUnit("bid_ask_ratio", func() float64 { return p.BidAskRatio(LenSellBuy) })

	donchianF := func(get func(DonchianState) float64) func() float64 {
		return func() float64 {
			st, ok := p.Donchian(LenDonchian)
			if !ok {
				return 0
			}
			return get(st)
		}
	}
	f.DonchianH = NewUnit("donchian_h", donchianF(func(s DonchianState) float64 { return s.H }))
	f.DonchianL = NewUnit("donchian_l", donchianF(func(s DonchianState) float64 { return s.L }))
	f.DonchianH25 = NewUnit("donchian_h_25", donchianF(func(s DonchianState) float64 {
		return s.H - (s.H-s.L)*0.25
	}))
	f.DonchianL25 = NewUnit("donchian_l_25", donchianF(func(s DonchianState) float64 {
		return s.L + (s.H-s.L)*0.25
	}))
	f.DonchianPivot = NewUnit("pivot_price", donchianF(func(s DonchianState) float64 { return s.PivotPrice }))
	f.DonchianIdle = NewUnit("donchian_idle", donchianF(func(s DonchianState) float64 {
		return float64(s.IdleAccum)
	}))

	return f
}

// Now returns the provider's current cycle timestamp.
func (f *Facade) Now() time.Time { return f.p.Now() }

// Donchian returns the full channel state at the facade's standard window.
func (f *Facade) Donchian() (DonchianState, bool) {
	return f.p.Donchian(LenDonchian)
}

// DonchianShort is the fast channel used by swing entries.
func (f *Facade) DonchianShort() (DonchianState, bool) {
	return f.p.Donchian(LenDonchianS)
}
