package metrics

import (
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPathMetricsSequential(t *testing.T) {
	Convey("Given a fresh path metrics ledger", t, func() {
		p := NewPathMetrics()

		Convey("With no samples, Stats reports zero", func() {
			st := p.Stats()
			So(st.Count, ShouldEqual, int64(0))
			So(st.Min, ShouldEqual, 0.0)
		})

		Convey("Recording three samples computes mean/min/max", func() {
			p.Record(100 * time.Microsecond)
			p.Record(300 * time.Microsecond)
			p.Record(200 * time.Microsecond)

			st := p.Stats()
			So(st.Count, ShouldEqual, int64(3))
			So(st.Min, ShouldEqual, 100.0)
			So(st.Max, ShouldEqual, 300.0)
			So(st.Mean, ShouldEqual, 200.0)
			So(p.Samples(), ShouldResemble, []int64{100, 300, 200})
		})
	})
}

func TestPathMetricsConcurrent(t *testing.T) {
	Convey("Given many goroutines recording samples concurrently", t, func() {
		p := NewPathMetrics()
		const n = 200
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 1; i <= n; i++ {
			go func(micros int) {
				defer wg.Done()
				p.Record(time.Duration(micros) * time.Microsecond)
			}(i)
		}
		wg.Wait()

		Convey("The aggregate reflects every sample exactly once", func() {
			st := p.Stats()
			So(st.Count, ShouldEqual, int64(n))
			So(st.Min, ShouldEqual, 1.0)
			So(st.Max, ShouldEqual, float64(n))
			So(len(p.Samples()), ShouldEqual, n)
		})
	})
}
