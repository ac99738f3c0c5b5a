package dashboard

import "time"

// timers holds a Session's three periodic timers. The zero value is stopped,
// and the channels of a stopped timers block forever, so the event loop can
// select on them unconditionally.
type timers struct {
	tick, timeline, metrics *time.Ticker
}

// start (re)starts all timers, so they fire relative to now
func (t *timers) start(cfg Config) {
	t.stop()
	t.tick = time.NewTicker(cfg.Tick)
	t.timeline = time.NewTicker(cfg.TimelineRefresh)
	t.metrics = time.NewTicker(cfg.MetricsRefresh)
}

func (t *timers) stop() {
	for _, tk := range []*time.Ticker{t.tick, t.timeline, t.metrics} {
		if tk != nil {
			tk.Stop()
		}
	}
	*t = timers{}
}

func tickerC(tk *time.Ticker) <-chan time.Time {
	if tk == nil {
		return nil
	}
	return tk.C
}

func (t *timers) tickC() <-chan time.Time     { return tickerC(t.tick) }
func (t *timers) timelineC() <-chan time.Time { return tickerC(t.timeline) }
func (t *timers) metricsC() <-chan time.Time  { return tickerC(t.metrics) }
