package detector

import (
	"crypto/sha256"
	"encoding/binary"
)

// CameraConfig is one camera's registered region-of-interest: the capacity
// of the road segment it watches, used to turn a raw vehicle count into
// density and pressure.
type CameraConfig struct {
	// CapacityVehicles is the approximate number of vehicles that fill the
	// camera's region of interest at saturation.
	CapacityVehicles int
	// RoadLengthM is the length of road the ROI covers, for queue_length_m.
	RoadLengthM float64
}

// StubDetector stands in for the vision model: it is deterministic given
// (image, cameraID) so callers and tests get stable, reproducible metrics
// without a real inference pipeline. Every cameraID must be registered with
// a CameraConfig before Detect will serve it.
//
// Pressure combines queue and density the way the upstream analyzer does:
// pressure = 0.6*queueFrac + 0.4*density, clamped to [0,1].
type StubDetector struct {
	cameras map[string]CameraConfig
}

const (
	pressureQueueWeight   = 0.6
	pressureDensityWeight = 0.4
)

// NewStubDetector builds a detector over the given camera registry.
func NewStubDetector(cameras map[string]CameraConfig) *StubDetector {
	cp := make(map[string]CameraConfig, len(cameras))
	for k, v := range cameras {
		cp[k] = v
	}
	return &StubDetector{cameras: cp}
}

// Detect derives vehicle_counts, queue_length_m, density, and pressure from
// image and the camera's registered ROI. The image is hashed rather than
// inspected pixel-by-pixel: this package stands at the interface the real
// detector will eventually occupy.
func (d *StubDetector) Detect(image []byte, cameraID string) (Result, error) {
	cfg, ok := d.cameras[cameraID]
	if !ok {
		return Result{}, ErrUnknownCamera
	}

	count := vehicleCountFromImage(image, cfg.CapacityVehicles)
	density := 0.0
	if cfg.CapacityVehicles > 0 {
		density = float64(count) / float64(cfg.CapacityVehicles)
	}
	if density > 1 {
		density = 1
	}

	queueFrac := density
	queueLengthM := queueFrac * cfg.RoadLengthM

	pressure := pressureQueueWeight*queueFrac + pressureDensityWeight*density
	if pressure > 1 {
		pressure = 1
	}

	return Result{
		VehicleCounts: count,
		QueueLengthM:  queueLengthM,
		Density:       density,
		Pressure:      pressure,
	}, nil
}

// vehicleCountFromImage maps image bytes to a count in [0, capacity] by
// hashing: stable across repeated calls with the same bytes, sensitive to
// any change in the image, and bounded by the camera's capacity.
func vehicleCountFromImage(image []byte, capacity int) int {
	if capacity <= 0 {
		return 0
	}
	sum := sha256.Sum256(image)
	v := binary.BigEndian.Uint32(sum[:4])
	return int(v % uint32(capacity+1))
}
