package detector

import (
	"testing"

	"trafficfabric/internal/apperrors"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStubDetectorUnknownCamera(t *testing.T) {
	Convey("Given a detector with no registered cameras", t, func() {
		d := NewStubDetector(nil)

		Convey("detecting against any camera ID fails with DetectorFailure", func() {
			_, err := d.Detect([]byte("some-image-bytes"), "cam-42")
			So(err, ShouldNotBeNil)
			kind, ok := apperrors.KindOf(err)
			So(ok, ShouldBeTrue)
			So(kind, ShouldEqual, apperrors.KindDetectorFailure)
		})
	})
}

func TestStubDetectorDeterministicAndBounded(t *testing.T) {
	Convey("Given a detector with one registered camera", t, func() {
		d := NewStubDetector(map[string]CameraConfig{
			"cam-1": {CapacityVehicles: 20, RoadLengthM: 150},
		})
		image := []byte("frame-bytes-from-cam-1")

		Convey("two calls with identical bytes return identical metrics", func() {
			r1, err1 := d.Detect(image, "cam-1")
			r2, err2 := d.Detect(image, "cam-1")
			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)
			So(r1, ShouldResemble, r2)
		})

		Convey("metrics stay within their declared ranges", func() {
			r, err := d.Detect(image, "cam-1")
			So(err, ShouldBeNil)
			So(r.VehicleCounts, ShouldBeGreaterThanOrEqualTo, 0)
			So(r.VehicleCounts, ShouldBeLessThanOrEqualTo, 20)
			So(r.Density, ShouldBeBetweenOrEqual, 0, 1)
			So(r.Pressure, ShouldBeBetweenOrEqual, 0, 1)
			So(r.QueueLengthM, ShouldBeGreaterThanOrEqualTo, 0)
			So(r.QueueLengthM, ShouldBeLessThanOrEqualTo, 150)
		})

		Convey("changing the image bytes changes the result", func() {
			r1, _ := d.Detect(image, "cam-1")
			r2, _ := d.Detect([]byte("a different frame entirely"), "cam-1")
			So(r1, ShouldNotResemble, r2)
		})
	})
}

func TestStubDetectorZeroCapacityCamera(t *testing.T) {
	Convey("Given a camera registered with zero capacity", t, func() {
		d := NewStubDetector(map[string]CameraConfig{
			"cam-empty": {CapacityVehicles: 0, RoadLengthM: 50},
		})

		Convey("detection reports zero vehicles and zero density without dividing by zero", func() {
			r, err := d.Detect([]byte("anything"), "cam-empty")
			So(err, ShouldBeNil)
			So(r.VehicleCounts, ShouldEqual, 0)
			So(r.Density, ShouldEqual, 0)
			So(r.Pressure, ShouldEqual, 0)
		})
	})
}
