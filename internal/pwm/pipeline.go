package pwm

import "time"

// HeatPipeline tracks heat already committed to a hydronic manifold: water
// that left the boiler but has not reached the emitters yet.
type HeatPipeline struct {
	transportDelay time.Duration
	valveTime      time.Duration

	openedAt *time.Duration
	closedAt *time.Duration
}

func NewHeatPipeline(transportDelay, valveTime time.Duration) *HeatPipeline {
	return &HeatPipeline{transportDelay: transportDelay, valveTime: valveTime}
}

func (p *HeatPipeline) TransportDelay() time.Duration { return p.transportDelay }

func (p *HeatPipeline) ValveOpened(now time.Duration) {
	at := now
	p.openedAt = &at
	p.closedAt = nil
}

func (p *HeatPipeline) ValveClosed(now time.Duration) {
	if p.openedAt == nil {
		return
	}
	at := now
	p.closedAt = &at
}

func (p *HeatPipeline) Reset() {
	p.openedAt = nil
	p.closedAt = nil
}

// CommittedHeatRemaining is in [0, transportDelay]: it fills while the valve
// is open and drains after it closes.
func (p *HeatPipeline) CommittedHeatRemaining(now time.Duration) time.Duration {
	if p.openedAt == nil {
		return 0
	}
	if p.closedAt == nil {
		return min(max(now-*p.openedAt, 0), p.transportDelay)
	}
	return max(0, p.transportDelay-max(now-*p.closedAt, 0))
}

// CalculateValveOpenDuration returns how long to keep the valve open so that
// duty×period of heat arrives, net of what is already in the pipe. Half the
// valve travel time is added for the closing lag.
func (p *HeatPipeline) CalculateValveOpenDuration(duty float64, period, committed time.Duration) time.Duration {
	needed := scale(period, duty) - committed
	if needed <= 0 {
		return 0
	}
	return needed + p.valveTime/2
}
