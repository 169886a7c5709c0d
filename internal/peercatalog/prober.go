package peercatalog

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/artifactkeeper/borgcore/internal/domain"
)

// TargetSource enumerates the edges a Prober should walk each tick.
type TargetSource interface {
	List(ctx context.Context) ([]domain.EdgeNode, error)
}

// ProbeFunc reaches out to target and reports latency; a zero or negative
// value means the caller couldn't or didn't measure that dimension.
type ProbeFunc func(ctx context.Context, target domain.EdgeNode) (latencyMS, bandwidthBPS float64, err error)

// Prober drives active probing on a fixed interval. Together with samples
// posted to the probe REST endpoint, it is what keeps the catalog's
// latency/bandwidth estimates fresh; chunk transfers do not update them.
type Prober struct {
	Catalog  *Catalog
	Source   string
	Targets  TargetSource
	Probe    ProbeFunc
	Interval time.Duration
	Log      *logrus.Logger
}

// Run ticks every p.Interval until ctx is done, probing every known edge
// (other than itself) each tick.
func (p *Prober) Run(ctx context.Context) {
	if p.Interval <= 0 {
		p.Interval = DefaultStaleHeartbeat
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	targets, err := p.Targets.List(ctx)
	if err != nil {
		if p.Log != nil {
			p.Log.WithError(err).Warn("peercatalog: prober failed to list targets")
		}
		return
	}
	for _, target := range targets {
		if target.ID == p.Source {
			continue
		}
		latency, bandwidth, err := p.Probe(ctx, target)
		now := time.Now()
		if err != nil {
			if ferr := p.Catalog.RecordProbeFailure(ctx, p.Source, target.ID, now); ferr != nil && p.Log != nil {
				p.Log.WithError(ferr).WithField("target", target.ID).Warn("peercatalog: failed to record probe failure")
			}
			continue
		}
		result := ProbeResult{
			Source:       p.Source,
			Target:       target.ID,
			LatencyMS:    latency,
			BandwidthBPS: bandwidth,
			SampledAt:    now,
		}
		if err := p.Catalog.RecordProbeSuccess(ctx, result); err != nil && p.Log != nil {
			p.Log.WithError(err).WithField("target", target.ID).Warn("peercatalog: failed to record probe success")
		}
	}
}
