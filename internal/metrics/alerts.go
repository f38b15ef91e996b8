package metrics

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertStoreFailureSpike   AlertType = "store_failure_spike"
	AlertExpiredCertificates AlertType = "expired_certificates"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// spikeDetector tracks sliding window counters for anomaly detection.
type spikeDetector struct {
	mu  sync.Mutex
	now func() time.Time

	storeFailures  []time.Time
	storeWindow    time.Duration
	storeThreshold int

	expired          []time.Time
	expiredWindow    time.Duration
	expiredThreshold int

	alertFn AlertFunc
}

const (
	defaultStoreFailureWindow    = time.Minute
	defaultStoreFailureThreshold = 20
	defaultExpiredWindow         = 10 * time.Minute
	defaultExpiredThreshold      = 10
)

func newSpikeDetector(alertFn AlertFunc) *spikeDetector {
	return &spikeDetector{
		now:              time.Now,
		storeWindow:      defaultStoreFailureWindow,
		storeThreshold:   defaultStoreFailureThreshold,
		expiredWindow:    defaultExpiredWindow,
		expiredThreshold: defaultExpiredThreshold,
		alertFn:          alertFn,
	}
}

func (d *spikeDetector) recordStoreFailure() {
	if d == nil || d.alertFn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.storeFailures = trimWindow(append(d.storeFailures, now), now, d.storeWindow)
	if len(d.storeFailures) >= d.storeThreshold {
		d.alertFn(AlertEvent{
			Type:      AlertStoreFailureSpike,
			Message:   "CSR store failure rate exceeds threshold",
			Count:     len(d.storeFailures),
			Threshold: d.storeThreshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		d.storeFailures = d.storeFailures[:0]
	}
}

func (d *spikeDetector) recordExpired() {
	if d == nil || d.alertFn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expired = trimWindow(append(d.expired, now), now, d.expiredWindow)
	if len(d.expired) >= d.expiredThreshold {
		d.alertFn(AlertEvent{
			Type:      AlertExpiredCertificates,
			Message:   "expired certificate events exceed threshold",
			Count:     len(d.expired),
			Threshold: d.expiredThreshold,
			Timestamp: now,
		})
		d.expired = d.expired[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
