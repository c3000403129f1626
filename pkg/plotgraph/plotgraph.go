// Package plotgraph is the plot-path collaborator: it satisfies the
// interface a real rendering backend would implement, consuming an
// AnalysisResult and producing a throughput and/or delay graph file, but
// does no actual rendering itself. Rendering is an external collaborator's
// job; this package exists so the pipeline has somewhere to hand its
// series and warn when there is nothing plottable.
package plotgraph

import (
	"github.com/galpt/tunnelstats/pkg/log"
	"github.com/galpt/tunnelstats/pkg/types"
)

// Renderer is the interface a real plotting backend implements. The stub
// below satisfies it without writing any file.
type Renderer interface {
	ThroughputGraph(res *types.AnalysisResult, path string) error
	DelayGraph(res *types.AnalysisResult, path string) error
}

// Stub is a Renderer that logs an EmptyGraph warning when the relevant
// series is empty and otherwise does nothing — no file is ever written.
// It exists to keep the pipeline's call sites complete while leaving
// actual rendering to an external collaborator.
type Stub struct{}

func (Stub) ThroughputGraph(res *types.AnalysisResult, path string) error {
	if path == "" {
		return nil
	}
	if !hasThroughputData(res) {
		log.Logger.Warn().Str("path", path).Msg("no valid throughput graph is generated")
		return nil
	}
	return nil
}

func (Stub) DelayGraph(res *types.AnalysisResult, path string) error {
	if path == "" {
		return nil
	}
	if !hasDelayData(res) {
		log.Logger.Warn().Str("path", path).Msg("no valid delay graph is generated")
		return nil
	}
	return nil
}

func hasThroughputData(res *types.AnalysisResult) bool {
	if len(res.LinkCapacity.Values) > 0 {
		return true
	}
	for _, m := range res.Flows {
		if len(m.IngressSeries.Values) > 0 || len(m.EgressSeries.Values) > 0 {
			return true
		}
	}
	return false
}

func hasDelayData(res *types.AnalysisResult) bool {
	for _, m := range res.Flows {
		if len(m.DelayScatter.Delays) > 0 {
			return true
		}
	}
	return false
}
