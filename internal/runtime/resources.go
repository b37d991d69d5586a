package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is a coarse sample of this process's footprint.
type ResourceUsage struct {
	CPUPercent float64   `json:"cpu_percent"`
	HeapBytes  uint64    `json:"heap_bytes"`
	Goroutines int       `json:"goroutines"`
	SampledAt  time.Time `json:"sampled_at"`
}

const (
	cpuMetric  = "/sched/cpu:seconds"
	heapMetric = "/memory/classes/heap/objects:bytes"
)

// resourceSampler derives CPU utilisation from the delta between calls.
type resourceSampler struct {
	mu         sync.Mutex
	samples    []metrics.Sample
	lastCPU    float64
	lastSample time.Time
	numCPU     float64
}

func newResourceSampler() *resourceSampler {
	return &resourceSampler{
		samples: []metrics.Sample{{Name: cpuMetric}, {Name: heapMetric}},
		numCPU:  float64(runtime.NumCPU()),
	}
}

func (r *resourceSampler) sample(now time.Time) ResourceUsage {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	usage := ResourceUsage{Goroutines: runtime.NumGoroutine(), SampledAt: now}

	if v := r.samples[1].Value; v.Kind() == metrics.KindUint64 {
		usage.HeapBytes = v.Uint64()
	}

	v := r.samples[0].Value
	if v.Kind() != metrics.KindFloat64 {
		return usage
	}
	cpu := v.Float64()
	if !r.lastSample.IsZero() {
		wall := now.Sub(r.lastSample).Seconds()
		if wall > 0 && r.numCPU > 0 {
			usage.CPUPercent = (cpu - r.lastCPU) / wall / r.numCPU * 100
		}
	}
	r.lastCPU = cpu
	r.lastSample = now
	return usage
}
