package stochastic

import (
	"strings"
	"testing"

	"github.com/matryer/is"
)

func setupTestStore() *Store {
	s := NewStore()
	s.InsertFromDistribution(DelayRange{5, 10}, DelayRange{30, 45}, true, 1, Uniform(-2, 3))
	s.InsertFromDistribution(DelayRange{0, 0}, DelayRange{30, 45}, true, 1, Uniform(-3, 4))
	return s
}

func int16p(v int16) *int16 { return &v }

func TestStoreInsert(t *testing.T) {
	is := is.New(t)
	s := NewStore()
	s.InsertFromDistribution(DelayRange{30, 45}, DelayRange{10, 15}, true, 5, Uniform(55, 2))

	is.Equal(s.delayBucket(int16p(33), DelayRange{10, 15}), DelayRange{30, 45})
	is.Equal(s.ttlBucket(10), DelayRange{10, 15})
	is.Equal(s.ttlBucket(15), DelayRange{})

	o := s.delay[DelayKey{ProductType: 5, PriorDelay: DelayRange{30, 45}, PriorTTL: DelayRange{10, 15}, IsDeparture: true}]
	is.Equal(o.Start, Mtime(55))
	is.Equal(len(o.Histogram), 2)
}

func TestDistributionWithDelay(t *testing.T) {
	is := is.New(t)
	s := setupTestStore()
	d := s.DelayDistribution(StopInfo{Scheduled: 55, Delay: int16p(7)}, true, 1, 21)
	is.Equal(d.Start, Mtime(60))
	is.Equal(d.Mean, 61.0)
	is.Equal(len(d.Histogram), 3)
}

func TestDistributionWithHighDelay(t *testing.T) {
	is := is.New(t)
	s := setupTestStore()
	is.Equal(s.delayUpper, DelayRange{5, 10})
	d := s.DelayDistribution(StopInfo{Scheduled: 55, Delay: int16p(100)}, true, 1, 120)
	is.Equal(d.Start, Mtime(153))
	is.Equal(d.Mean, 154.0)
	is.Equal(len(d.Histogram), 3)
}

func TestDistributionWithNonexistentDelay(t *testing.T) {
	is := is.New(t)
	s := setupTestStore()
	d := s.DelayDistribution(StopInfo{Scheduled: 55, Delay: int16p(1)}, true, 1, 15)
	is.Equal(d.Start, Mtime(53))
	is.Equal(d.Mean, 54.5)
	is.Equal(len(d.Histogram), 4)
}

func TestDistributionWithNoDelay(t *testing.T) {
	is := is.New(t)
	s := setupTestStore()
	d := s.DelayDistribution(StopInfo{Scheduled: 55, Delay: nil}, true, 1, 14)
	is.Equal(d.Start, Mtime(52))
	is.Equal(d.Mean, 53.5)
	is.Equal(len(d.Histogram), 4)
}

func TestDistributionWithNonexistentProduct(t *testing.T) {
	is := is.New(t)
	s := setupTestStore()
	d := s.DelayDistribution(StopInfo{Scheduled: 55, Delay: int16p(1)}, true, 555, 15)
	is.Equal(d.Start, Mtime(56))
	is.Equal(d.Mean, 56.0)
	is.Equal(len(d.Histogram), 1)
}

func TestParseBucket(t *testing.T) {
	is := is.New(t)
	cases := []struct {
		in   string
		want DelayRange
	}{
		{"[5,10)", DelayRange{5, 10}},
		{"[5,)", DelayRange{5, 5}},
		{"(,10)", DelayRange{10, 10}},
		{"(0,0)", DelayRange{0, 0}},
		{"NULL", DelayRange{0, 0}},
	}
	for _, c := range cases {
		got, err := parseBucket(c.in)
		is.NoErr(err)
		is.Equal(got, c.want)
	}
}

func TestLoadDistributionsCSV(t *testing.T) {
	is := is.New(t)
	csvData := `product_type_id,is_departure,prior_ttl_bucket,prior_delay_bucket,latest_sample_delay_bucket,sample_count
1,True,"[30,45)","[5,10)","[-2,0)",60
1,True,"[30,45)","[5,10)","[0,1)",60
1,True,"[30,45)","[5,10)","(0,0)",5
2,False,"[10,20)",NULL,"[0,3)",150
`
	s := NewStore()
	err := s.LoadDistributionsCSV(strings.NewReader(csvData))
	is.NoErr(err)

	d, ok := s.delay[DelayKey{ProductType: 1, PriorDelay: DelayRange{5, 10}, PriorTTL: DelayRange{30, 45}, IsDeparture: true}]
	is.True(ok)
	is.Equal(d.Start, int16sMtime(-2))
	is.True(d.Feasibility < 1.0)

	d2, ok := s.delay[DelayKey{ProductType: 2, PriorDelay: DelayRange{}, PriorTTL: DelayRange{10, 20}, IsDeparture: false}]
	is.True(ok)
	is.Equal(d2.Feasibility, 1.0)
}

func int16sMtime(v int16) Mtime { return Mtime(v) }

func TestReachableBetweenConnectionsSameTripOverride(t *testing.T) {
	is := is.New(t)
	s := setupTestStore()
	arr := Connection{TripID: 1, RouteIdx: 1, ProductType: 1, Arrival: StopInfo{Scheduled: 20}}
	dep := Connection{TripID: 1, RouteIdx: 1, ProductType: 1, Departure: StopInfo{Scheduled: 20}}
	p := s.ReachableBetweenConnections(arr, dep, 0)
	is.Equal(p, 1.0)
}
