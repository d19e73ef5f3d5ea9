package probe

import (
	"context"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Result is the outcome of pinging one target once per tick.
type Result struct {
	Target      string        `json:"target"`
	PacketsSent int           `json:"packets_sent"`
	PacketsRecv int           `json:"packets_recv"`
	LossPct     float64       `json:"loss_pct"`
	AvgRTT      time.Duration `json:"avg_rtt"`
	At          time.Time     `json:"at"`
	Error       string        `json:"error,omitempty"`
}

// Reachable reports whether any echo reply came back.
func (r Result) Reachable() bool {
	return r.PacketsRecv > 0
}

// PingFunc pings target and returns the aggregated result.
type PingFunc func(ctx context.Context, target string, cfg ProbeConfig) (Result, error)

// icmpPing sends cfg.Count echo requests with pro-bing and summarizes them.
func icmpPing(ctx context.Context, target string, cfg ProbeConfig) (Result, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return Result{Target: target}, err
	}
	pinger.Count = cfg.Count
	pinger.Timeout = cfg.Timeout
	pinger.SetPrivileged(cfg.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return Result{Target: target}, err
	}

	stats := pinger.Statistics()
	return Result{
		Target:      target,
		PacketsSent: stats.PacketsSent,
		PacketsRecv: stats.PacketsRecv,
		LossPct:     stats.PacketLoss,
		AvgRTT:      stats.AvgRtt,
	}, nil
}
