// Package reduce converts accumulator state into rates, series, and
// percentiles. It is read-only over the accumulator: it never mutates a
// stored delay sequence, sorting a copy instead.
package reduce

import (
	"sort"

	"github.com/galpt/tunnelstats/pkg/types"
)

// sevenPcts are the seven-number-summary percentiles, as fractions.
var sevenPcts = [7]float64{0.02, 0.09, 0.25, 0.50, 0.75, 0.91, 0.98}

// Percentile95 returns the nearest-rank 95th percentile of values. The
// input is not required to be sorted; Percentile95 sorts a copy. Given N
// sorted values ascending, the result is the value at index
// ceil(0.95*N)-1, clamped to [0, N-1]; ties are broken by the lower index,
// which nearest-rank selection does automatically.
//
// This is implemented explicitly, rather than delegating to a statistics
// library's quantile function, because every general-purpose
// implementation in the ecosystem (including gonum/stat's) defaults to
// some form of interpolation between ranks; the tunnel-log format's
// reproducibility requirement calls for the discrete nearest-rank method
// specifically, so a hand implementation is the only way to match it.
func Percentile95(values []float64) float64 {
	return NearestRank(values, 0.95)
}

// NearestRank returns the nearest-rank percentile of values at fraction p
// in [0,1]. See Percentile95 for the exact definition.
func NearestRank(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(ceilFrac(p*float64(n))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank > n-1 {
		rank = n - 1
	}
	return sorted[rank]
}

func ceilFrac(x float64) float64 {
	i := float64(int64(x))
	if i < x {
		return i + 1
	}
	return i
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SevenNumberSummary computes the 2/9/25/50/75/91/98th nearest-rank
// percentiles of values in one sort pass.
func SevenNumberSummary(values []float64) types.SevenNumberSummary {
	n := len(values)
	if n == 0 {
		return types.SevenNumberSummary{}
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	at := func(p float64) float64 {
		rank := int(ceilFrac(p*float64(n))) - 1
		if rank < 0 {
			rank = 0
		}
		if rank > n-1 {
			rank = n - 1
		}
		return sorted[rank]
	}
	return types.SevenNumberSummary{
		P02: at(sevenPcts[0]),
		P09: at(sevenPcts[1]),
		P25: at(sevenPcts[2]),
		P50: at(sevenPcts[3]),
		P75: at(sevenPcts[4]),
		P91: at(sevenPcts[5]),
		P98: at(sevenPcts[6]),
	}
}

// densify walks bins in [min(keys), max(keys)] inclusive and returns the
// values (missing bins read as 0) along with the matching bin ids, in
// ascending bin order. Returns ok=false for an empty map.
func densify(m map[int64]uint64) (bins []int64, values []uint64, ok bool) {
	if len(m) == 0 {
		return nil, nil, false
	}
	var lo, hi int64
	first := true
	for b := range m {
		if first || b < lo {
			lo = b
		}
		if first || b > hi {
			hi = b
		}
		first = false
	}
	for b := lo; b <= hi; b++ {
		bins = append(bins, b)
		values = append(values, m[b])
	}
	return bins, values, true
}

func binToS(bin int64, binWidthMs float64) float64 {
	return float64(bin) * binWidthMs / 1000.0
}

// AverageCapacityMbps computes the average link capacity in Mbit/s, or nil
// if no capacity events were observed.
func AverageCapacityMbps(cap *types.CapacityStats) *float64 {
	if len(cap.CapacityByBin) == 0 {
		return nil
	}
	if *cap.LastCapacityMs == *cap.FirstCapacityMs {
		v := 0.0
		return &v
	}
	var total uint64
	for _, v := range cap.CapacityByBin {
		total += v
	}
	deltaMs := *cap.LastCapacityMs - *cap.FirstCapacityMs
	v := float64(total) / (1000.0 * deltaMs)
	return &v
}

// LinkCapacitySeries returns the dense per-bin link capacity series in
// Mbit/s, with the bin start time in seconds as the time axis.
func LinkCapacitySeries(cap *types.CapacityStats, binWidthMs float64) types.Series {
	bins, values, ok := densify(cap.CapacityByBin)
	if !ok {
		return types.Series{}
	}
	usPerBin := 1000.0 * binWidthMs
	s := types.Series{TimesS: make([]float64, len(bins)), Values: make([]float64, len(bins))}
	for i, b := range bins {
		s.Values[i] = float64(values[i]) / usPerBin
		s.TimesS[i] = binToS(b, binWidthMs)
	}
	return s
}

// IngressSeries returns the dense per-bin ingress throughput series (Mbit/s)
// for one flow's arrivals.
func IngressSeries(fs *types.FlowStats, binWidthMs float64) types.Series {
	bins, values, ok := densify(fs.ArrivalsByBin)
	if !ok {
		return types.Series{}
	}
	usPerBin := 1000.0 * binWidthMs
	s := types.Series{TimesS: make([]float64, len(bins)), Values: make([]float64, len(bins))}
	for i, b := range bins {
		s.Values[i] = float64(values[i]) / usPerBin
		s.TimesS[i] = binToS(b, binWidthMs)
	}
	return s
}

// EgressSeries returns the dense per-bin egress throughput series (Mbit/s)
// for one flow's departures, with a leading zero sample at the first
// departure bin's time and every subsequent sample shifted one bin later.
// This one-bin shift is intentional (it matches the plot-alignment
// convention of the analyzer this was distilled from) and is not a
// mathematically natural choice, but downstream plotting depends on it.
func EgressSeries(fs *types.FlowStats, binWidthMs float64) types.Series {
	bins, values, ok := densify(fs.DeparturesByBin)
	if !ok {
		return types.Series{}
	}
	usPerBin := 1000.0 * binWidthMs
	s := types.Series{
		TimesS: make([]float64, 0, len(bins)+1),
		Values: make([]float64, 0, len(bins)+1),
	}
	s.Values = append(s.Values, 0.0)
	s.TimesS = append(s.TimesS, binToS(bins[0], binWidthMs))
	for i, b := range bins {
		s.Values = append(s.Values, float64(values[i])/usPerBin)
		s.TimesS = append(s.TimesS, binToS(b+1, binWidthMs))
	}
	return s
}

// AvgRateMbps computes the average rate in Mbit/s of totalBits observed
// between firstMs and lastMs. Returns 0 when the window has zero width.
func AvgRateMbps(totalBits uint64, firstMs, lastMs *float64) float64 {
	if firstMs == nil || lastMs == nil || *lastMs == *firstMs {
		return 0
	}
	deltaMs := *lastMs - *firstMs
	return float64(totalBits) / (1000.0 * deltaMs)
}

// LossRate returns 1 - departureBits/arrivalBits, or nil when arrivalBits
// is 0 (loss is undefined without any arrivals to measure against).
func LossRate(arrivalBits, departureBits uint64) *float64 {
	if arrivalBits == 0 {
		return nil
	}
	v := 1.0 - float64(departureBits)/float64(arrivalBits)
	return &v
}

// FlowMetrics reduces one flow's accumulator state to its derived metrics.
func FlowMetrics(fs *types.FlowStats, binWidthMs float64) *types.FlowMetrics {
	m := &types.FlowMetrics{
		FlowID:        fs.ID,
		IngressSeries: IngressSeries(fs, binWidthMs),
		EgressSeries:  EgressSeries(fs, binWidthMs),
	}

	if len(fs.ArrivalsByBin) > 0 {
		m.AvgIngressMbps = AvgRateMbps(fs.TotalArrivalBits, fs.FirstArrivalMs, fs.LastArrivalMs)
	}
	if len(fs.DeparturesByBin) > 0 {
		m.AvgEgressMbps = AvgRateMbps(fs.TotalDepartureBits, fs.FirstDepartureMs, fs.LastDepartureMs)
	}

	if len(fs.Delays) > 0 {
		m.DelayScatter = types.DelayScatter{TimesS: fs.DelayTimesS, Delays: fs.Delays}
		p := Percentile95(fs.Delays)
		m.PercentileDelayMs = &p
		avg := Mean(fs.Delays)
		m.AvgDelayMs = &avg
		sns := SevenNumberSummary(fs.Delays)
		m.DelaySummary = &sns
	}

	// Loss is only defined when the flow has both an arrival and a
	// departure record; a flow with arrivals but zero observed departures
	// has an undefined (not 100%) loss rate.
	if len(fs.ArrivalsByBin) > 0 && len(fs.DeparturesByBin) > 0 {
		m.LossRate = LossRate(fs.TotalArrivalBits, fs.TotalDepartureBits)
	}

	return m
}

// Aggregate holds the cross-flow derived scalars.
type Aggregate struct {
	TotalAvgEgressMbps  float64
	TotalAvgIngressMbps float64
	TotalPercentileMs   *float64
	TotalAvgDelayMs     *float64
	TotalLossRate       *float64
	TotalDurationMs     float64
	TotalDelaySummary   *types.SevenNumberSummary
}

// Reduce computes the Aggregate from accumulator global state plus every
// flow's delay sequence, concatenated in first-observed flow order.
func Reduce(global types.GlobalStats, flowOrder []uint32, flows map[uint32]*types.FlowStats) Aggregate {
	var agg Aggregate

	if global.TotalFirstDepartureMs != nil && global.TotalLastDepartureMs != nil &&
		*global.TotalLastDepartureMs == *global.TotalFirstDepartureMs {
		agg.TotalDurationMs = 0
		agg.TotalAvgEgressMbps = 0
	} else if global.TotalFirstDepartureMs != nil && global.TotalLastDepartureMs != nil {
		agg.TotalDurationMs = *global.TotalLastDepartureMs - *global.TotalFirstDepartureMs
		agg.TotalAvgEgressMbps = float64(global.TotalDepartureBits) / (1000.0 * agg.TotalDurationMs)
	}

	agg.TotalAvgIngressMbps = AvgRateMbps(global.TotalArrivalBits, global.TotalFirstArrivalMs, global.TotalLastArrivalMs)

	agg.TotalLossRate = LossRate(global.TotalArrivalBits, global.TotalDepartureBits)

	var totalDelays []float64
	for _, id := range flowOrder {
		fs := flows[id]
		totalDelays = append(totalDelays, fs.Delays...)
	}
	if len(totalDelays) > 0 {
		p := Percentile95(totalDelays)
		agg.TotalPercentileMs = &p
		avg := Mean(totalDelays)
		agg.TotalAvgDelayMs = &avg
		sns := SevenNumberSummary(totalDelays)
		agg.TotalDelaySummary = &sns
	}

	return agg
}
