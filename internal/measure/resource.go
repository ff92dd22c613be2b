///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package measure

// measure/resource.go contains the resourceMetric object, the resourceMonitor
// object. These keep track of computational and disk resources while the
// benchmark is running

import (
	"context"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	jww "github.com/spf13/jwalterweatherman"
	"runtime"
	"sync"
	"time"
)

// ResourceMetric structure stores memory, thread, cpu and disk usage metrics.
// Disk counters are cumulative over every device of the host.
type ResourceMetric struct {
	SystemStartTime time.Time
	Time            time.Time
	MemAllocBytes   uint64
	MemAvailable    uint64
	NumThreads      int
	CPUPercentage   float64
	DiskReadBytes   uint64
	DiskWriteBytes  uint64
}

// ResourceDelta is the resource usage observed between two samples.
type ResourceDelta struct {
	Interval       time.Duration `json:"interval" yaml:"interval"`
	CPUPercentage  float64       `json:"cpuPercentage" yaml:"cpuPercentage"`
	MemAllocBytes  uint64        `json:"memAllocBytes" yaml:"memAllocBytes"`
	MemAvailable   uint64        `json:"memAvailable" yaml:"memAvailable"`
	NumThreads     int           `json:"numThreads" yaml:"numThreads"`
	DiskReadBytes  uint64        `json:"diskReadBytes" yaml:"diskReadBytes"`
	DiskWriteBytes uint64        `json:"diskWriteBytes" yaml:"diskWriteBytes"`
}

// Delta computes the usage between the before and after samples. Gauges are
// taken from after, counters are differenced.
func Delta(before, after ResourceMetric) ResourceDelta {
	return ResourceDelta{
		Interval:       after.Time.Sub(before.Time),
		CPUPercentage:  after.CPUPercentage,
		MemAllocBytes:  after.MemAllocBytes,
		MemAvailable:   after.MemAvailable,
		NumThreads:     after.NumThreads,
		DiskReadBytes:  counterDelta(before.DiskReadBytes, after.DiskReadBytes),
		DiskWriteBytes: counterDelta(before.DiskWriteBytes, after.DiskWriteBytes),
	}
}

// counters can reset when devices come and go
func counterDelta(before, after uint64) uint64 {
	if after < before {
		return 0
	}
	return after - before
}

// ResourceMonitor structure contains a mutable resource metric.
type ResourceMonitor struct {
	lastMetric ResourceMetric
	startTime  time.Time
	sync.RWMutex
}

// NewResourceMonitor creates a monitor whose samples are stamped with the
// current time as the system start time.
func NewResourceMonitor() *ResourceMonitor {
	return &ResourceMonitor{startTime: time.Now()}
}

// Get returns a copy of the last ResourceMetric.
func (rm *ResourceMonitor) Get() ResourceMetric {
	rm.RLock()
	defer rm.RUnlock()

	return rm.lastMetric
}

// Set sets the lastMetric of the ResourceMonitor to a copy of the specified
// ResourceMetric.
func (rm *ResourceMonitor) Set(b ResourceMetric) {
	rm.Lock()
	defer rm.Unlock()

	rm.lastMetric = b
}

// Sample reads the current resource usage of the host, stores it as the last
// metric and returns it.
func (rm *ResourceMonitor) Sample() (ResourceMetric, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metric := ResourceMetric{
		SystemStartTime: rm.startTime,
		Time:            time.Now(),
		MemAllocBytes:   memStats.Alloc,
		NumThreads:      runtime.NumGoroutine(),
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return ResourceMetric{}, errors.WithMessage(err,
			"Failed to read virtual memory")
	}
	metric.MemAvailable = vm.Available

	percent, err := cpu.Percent(0, false)
	if err != nil {
		return ResourceMetric{}, errors.WithMessage(err,
			"Failed to read cpu usage")
	}
	if len(percent) > 0 {
		metric.CPUPercentage = percent[0]
	}

	counters, err := disk.IOCounters()
	if err != nil {
		return ResourceMetric{}, errors.WithMessage(err,
			"Failed to read disk counters")
	}
	for _, c := range counters {
		metric.DiskReadBytes += c.ReadBytes
		metric.DiskWriteBytes += c.WriteBytes
	}

	rm.Set(metric)
	return metric, nil
}

// Start samples the host every interval until the context is cancelled.
func (rm *ResourceMonitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metric, err := rm.Sample()
			if err != nil {
				jww.WARN.Printf("Resource sampling failed: %+v", err)
				continue
			}
			jww.DEBUG.Printf("Resources: cpu %.1f%%, threads %d, "+
				"heap %d bytes, disk read %d bytes, disk written %d bytes",
				metric.CPUPercentage, metric.NumThreads, metric.MemAllocBytes,
				metric.DiskReadBytes, metric.DiskWriteBytes)
		}
	}
}
