package metrics

import (
	"runtime"
	"time"
)

// RuntimeCollector samples Go runtime statistics into gauges.
type RuntimeCollector struct {
	goroutines *Gauge
	heapAlloc  *Gauge
	heapInuse  *Gauge
	numGC      *Gauge
	goInfo     *Gauge
	uptime     *Gauge

	startTime time.Time
}

// NewRuntimeCollector registers the runtime gauges on r. uptime may be nil.
func NewRuntimeCollector(r *Registry, uptime *Gauge) *RuntimeCollector {
	rc := &RuntimeCollector{
		startTime:  time.Now(),
		uptime:     uptime,
		goroutines: r.NewGauge("go_goroutines", "Number of goroutines that currently exist"),
		heapAlloc:  r.NewGauge("go_memstats_heap_alloc_bytes", "Number of heap bytes allocated and still in use"),
		heapInuse:  r.NewGauge("go_memstats_heap_inuse_bytes", "Number of heap bytes that are in use"),
		numGC:      r.NewGauge("go_gc_cycles_total", "Total number of completed GC cycles"),
		goInfo:     r.NewGauge("go_info", "Information about the Go environment", "version"),
	}

	if vec, err := rc.goInfo.WithLabels(runtime.Version()); err == nil {
		vec.Set(1)
	}
	return rc
}

// Collect updates the gauges with current values.
func (rc *RuntimeCollector) Collect() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	if rc.uptime != nil {
		_ = rc.uptime.Set(time.Since(rc.startTime).Seconds())
	}
	_ = rc.goroutines.Set(float64(runtime.NumGoroutine()))
	_ = rc.heapAlloc.Set(float64(mem.HeapAlloc))
	_ = rc.heapInuse.Set(float64(mem.HeapInuse))
	_ = rc.numGC.Set(float64(mem.NumGC))
}

// StartCollector collects immediately and then every interval until the
// returned stop function is called.
func (rc *RuntimeCollector) StartCollector(interval time.Duration) func() {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		rc.Collect()
		for {
			select {
			case <-ticker.C:
				rc.Collect()
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}
