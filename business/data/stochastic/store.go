package stochastic

import (
	"encoding/csv"
	"fmt"
	logger "log"
	"io"
	"strconv"
	"strings"
)

// DelayKey identifies one empirical delay distribution: a product type, the
// prior-delay and remaining-time-to-live buckets it was observed under, and
// whether it describes a departure or an arrival delay.
type DelayKey struct {
	ProductType int16
	PriorDelay  DelayRange
	PriorTTL    DelayRange
	IsDeparture bool
}

// ReachabilityKey extends DelayKey with the destination side of a transfer:
// the product and delay bucket of the connection transferred to, the scheduled minute
// difference between the two connections, and whether the "from" side is a
// departure or an arrival.
type ReachabilityKey struct {
	FromProductType int16
	ToProductType   int16
	FromPriorDelay  DelayRange
	ToPriorDelay    DelayRange
	PriorTTL        DelayRange
	Diff            int16
	FromIsDeparture bool
}

// Store is the empirical delay/reachability distribution cache: it looks up
// distributions keyed by (product, prior-delay bucket, ttl bucket,
// is-departure) and memoises before-probability transfer feasibility.
type Store struct {
	Log *logger.Logger

	delay        map[DelayKey]Distribution
	delayBuckets map[int16]DelayRange
	delayUpper   DelayRange
	ttlBuckets   map[int16]DelayRange
	reachability map[ReachabilityKey]float64

	// minDelayDiff is the smallest signed diff the store has ever computed a
	// nonzero before_probability for; the preprocessor DFS uses it as a
	// short-circuit floor (spec "Optimisations").
	minDelayDiff int16
	// MaxDelay bounds how far past a connection's scheduled departure the
	// sweep still considers it reachable (see Query's t_start/t_max skip).
	MaxDelay Mtime
}

// NewStore builds a Store seeded with the fallback distributions used when
// no empirical bucket matches a lookup.
func NewStore() *Store {
	s := &Store{
		delay:        make(map[DelayKey]Distribution),
		delayBuckets: make(map[int16]DelayRange),
		ttlBuckets:   make(map[int16]DelayRange),
		reachability: make(map[ReachabilityKey]float64),
		minDelayDiff: 0,
		MaxDelay:     180,
	}
	s.insertFallbackDistributions()
	return s
}

func (s *Store) insertFallbackDistributions() {
	s.insertDelayKey(DelayKey{ProductType: 100, IsDeparture: true}, Uniform(0, 3))
	s.insertDelayKey(DelayKey{ProductType: 100, IsDeparture: false}, Uniform(-2, 3))
	s.insertDelayKey(DelayKey{ProductType: -1, IsDeparture: false}, Uniform(0, 1))
}

// ReachabilityLen returns the number of memoised reachability computations
// currently cached.
func (s *Store) ReachabilityLen() int {
	return len(s.reachability)
}

// ClearReachability empties the reachability memo. It should be called
// between independently parameterised queries; it grows monotonically
// within a single query/preprocess call.
func (s *Store) ClearReachability() {
	s.reachability = make(map[ReachabilityKey]float64)
}

func (s *Store) delayBucket(delay *int16, ttl DelayRange) DelayRange {
	if ttl.Empty() {
		return DelayRange{}
	}
	if delay == nil {
		return DelayRange{}
	}
	if *delay >= s.delayUpper.Start {
		return s.delayUpper
	}
	if b, ok := s.delayBuckets[*delay]; ok {
		return b
	}
	return DelayRange{}
}

func (s *Store) ttlBucket(ttl int32) DelayRange {
	if b, ok := s.ttlBuckets[int16(ttl)]; ok {
		return b
	}
	return DelayRange{}
}

func (s *Store) insertDelayKey(key DelayKey, dist Distribution) {
	for i := key.PriorDelay.Start; i < key.PriorDelay.End; i++ {
		s.delayBuckets[i] = key.PriorDelay
	}
	for i := key.PriorTTL.Start; i < key.PriorTTL.End; i++ {
		s.ttlBuckets[i] = key.PriorTTL
	}
	if key.PriorDelay.Start >= s.delayUpper.Start {
		s.delayUpper = key.PriorDelay
	}
	s.delay[key] = dist
}

// InsertFromDistribution inserts a caller-built Distribution under an
// explicit DelayKey, bypassing the empirical bucket loader. Used by tests
// and by callers seeding synthetic corpora.
func (s *Store) InsertFromDistribution(priorDelay, priorTTL DelayRange, isDeparture bool, productType int16, dist Distribution) {
	s.insertDelayKey(DelayKey{
		ProductType: productType,
		PriorDelay:  priorDelay,
		PriorTTL:    priorTTL,
		IsDeparture: isDeparture,
	}, dist)
}

func (s *Store) insertDistributionFromBuckets(key DelayKey, buckets []Bucket, totalFeasibleSampleCount int) {
	if len(buckets) == 0 || totalFeasibleSampleCount < 100 {
		return
	}
	nonEmptyWidth := 0
	for _, b := range buckets {
		nonEmptyWidth += int(b.Range.End - b.Range.Start)
	}
	if len(buckets) <= 3 && nonEmptyWidth == 0 {
		return
	}
	s.insertDelayKey(key, FromBuckets(buckets, totalFeasibleSampleCount))
}

// parseBucket parses a CSV half-open range literal such as "[5,10)". "NULL"
// and "(0,0)" both mean "no prior information" (the (0,0) sentinel).
func parseBucket(s string) (DelayRange, error) {
	if s == "NULL" {
		return DelayRange{}, nil
	}
	cleaned := strings.NewReplacer("[", "", "(", "", ")", "", "]", "").Replace(s)
	parts := strings.Split(cleaned, ",")
	if len(parts) != 2 {
		return DelayRange{}, fmt.Errorf("malformed bucket %q", s)
	}
	start, startErr := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 16)
	end, endErr := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 16)
	if startErr != nil && endErr != nil {
		return DelayRange{}, fmt.Errorf("malformed bucket %q", s)
	}
	if startErr != nil {
		start = end
	}
	if endErr != nil {
		end = start
	}
	return DelayRange{Start: int16(start), End: int16(end)}, nil
}

// LoadDistributionsCSV loads the delay-bucket corpus described in spec.md
// section 6: columns product_type_id, is_departure, prior_ttl_bucket,
// prior_delay_bucket, latest_sample_delay_bucket, sample_count, grouped by
// the leading four columns into one Distribution per group via FromBuckets.
// Any unparseable row is a fatal, returned error - MalformedInput never
// reaches a running query.
func (s *Store) LoadDistributionsCSV(r io.Reader) error {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("reading corpus header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	required := []string{"product_type_id", "is_departure", "prior_ttl_bucket",
		"prior_delay_bucket", "latest_sample_delay_bucket", "sample_count"}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return fmt.Errorf("corpus missing required column %q", name)
		}
	}

	var currentKey *DelayKey
	var buckets []Bucket
	total := 0
	flush := func() {
		if currentKey != nil {
			s.insertDistributionFromBuckets(*currentKey, buckets, total)
		}
		currentKey = nil
		buckets = nil
		total = 0
	}

	line := 1
	for {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("corpus row %d: %w", line, readErr)
		}
		line++

		productType, err := strconv.ParseInt(record[col["product_type_id"]], 10, 16)
		if err != nil {
			return fmt.Errorf("corpus row %d: bad product_type_id: %w", line, err)
		}
		priorTTL, err := parseBucket(record[col["prior_ttl_bucket"]])
		if err != nil {
			return fmt.Errorf("corpus row %d: %w", line, err)
		}
		priorDelay, err := parseBucket(record[col["prior_delay_bucket"]])
		if err != nil {
			return fmt.Errorf("corpus row %d: %w", line, err)
		}
		latestSampleDelay, err := parseBucket(record[col["latest_sample_delay_bucket"]])
		if err != nil {
			return fmt.Errorf("corpus row %d: %w", line, err)
		}
		sampleCount, err := strconv.Atoi(record[col["sample_count"]])
		if err != nil {
			return fmt.Errorf("corpus row %d: bad sample_count: %w", line, err)
		}

		key := DelayKey{
			ProductType: int16(productType),
			PriorDelay:  priorDelay,
			PriorTTL:    priorTTL,
			IsDeparture: strings.EqualFold(record[col["is_departure"]], "True"),
		}
		if currentKey != nil && key != *currentKey {
			flush()
		}
		currentKey = &key
		if !latestSampleDelay.Empty() {
			total += sampleCount
		}
		buckets = append(buckets, Bucket{Range: latestSampleDelay, Count: sampleCount})
	}
	flush()
	if s.Log != nil {
		s.Log.Printf("store: loaded %d delay distributions\n", len(s.delay))
	}
	return nil
}

func (s *Store) rawDelayDistribution(stopInfo StopInfo, isDeparture bool, productType int16, now Mtime) Distribution {
	ttl := s.ttlBucket(int32(stopInfo.Projected() - now))
	key := DelayKey{
		ProductType: productType,
		PriorDelay:  s.delayBucket(stopInfo.Delay, ttl),
		PriorTTL:    ttl,
		IsDeparture: isDeparture,
	}
	if d, ok := s.delay[key]; ok {
		return d
	}
	if productType == 100 {
		return s.delay[DelayKey{ProductType: 100, IsDeparture: isDeparture}]
	}
	return s.delay[DelayKey{ProductType: -1, IsDeparture: false}]
}

// DelayDistribution returns the bucketed distribution for stopInfo, shifted
// by stopInfo.Projected() so the result is expressed in absolute minutes.
func (s *Store) DelayDistribution(stopInfo StopInfo, isDeparture bool, productType int16, now Mtime) Distribution {
	return s.rawDelayDistribution(stopInfo, isDeparture, productType, now).Shift(stopInfo.Projected())
}

func (s *Store) calculateBeforeProbability(from StopInfo, fromProduct int16, fromIsDeparture bool, to StopInfo, toProduct int16, key ReachabilityKey, now Mtime) float64 {
	a := s.rawDelayDistribution(from, fromIsDeparture, fromProduct, now)
	d := s.rawDelayDistribution(to, true, toProduct, now)
	p := a.BeforeProbability(d, -Mtime(key.Diff))
	if !fromIsDeparture {
		p *= d.Feasibility
	}
	s.reachability[key] = p
	if p > 0 && key.Diff < s.minDelayDiff {
		s.minDelayDiff = key.Diff
	}
	return p
}

// BeforeProbability computes P(from + transferTime <= to) using the raw
// (unshifted) delay distributions of from and to, with the signed offset
// baked into the memoisation key. For an arrival-side from, the result is
// additionally weighted by the destination distribution's own feasibility.
// Results are memoised in the reachability map.
func (s *Store) BeforeProbability(from StopInfo, fromProduct int16, fromIsDeparture bool, to StopInfo, toProduct int16, transferTime Mtime, now Mtime) float64 {
	ttl := s.ttlBucket(int32(from.Projected() - now))
	key := ReachabilityKey{
		FromProductType: fromProduct,
		ToProductType:   toProduct,
		FromPriorDelay:  s.delayBucket(from.Delay, ttl),
		ToPriorDelay:    s.delayBucket(to.Delay, ttl),
		PriorTTL:        ttl,
		Diff:            int16(to.Projected() - from.Projected() - transferTime),
		FromIsDeparture: fromIsDeparture,
	}
	if p, ok := s.reachability[key]; ok {
		return p
	}
	return s.calculateBeforeProbability(from, fromProduct, fromIsDeparture, to, toProduct, key, now)
}

// MinDelayDiff returns the smallest signed diff the store has ever computed
// a nonzero before_probability for - the preprocessor's short-circuit
// floor.
func (s *Store) MinDelayDiff() int16 {
	return s.minDelayDiff
}

// ReachableBetweenConnections computes the transfer feasibility between an
// arriving connection and a candidate departure, applying the same-trip
// "safe transfer" override: a same-trip, same-route, schedule-ordered pair
// is reachable with probability 1.0 regardless of the computed
// before_probability.
func (s *Store) ReachableBetweenConnections(arr, dep Connection, now Mtime) float64 {
	p := s.BeforeProbability(arr.Arrival, arr.ProductType, false, dep.Departure, dep.ProductType, 1, now)
	if arr.TripID != dep.TripID || arr.RouteIdx != dep.RouteIdx || arr.Arrival.Scheduled > dep.Departure.Scheduled {
		return p
	}
	return 1.0
}

// BeforeProbabilityBetweenDepartures computes the before-probability that
// one departure precedes another at the same stop - used by the sweep to
// rank label-list alternatives against each other.
func (s *Store) BeforeProbabilityBetweenDepartures(before, after Connection, now Mtime) float64 {
	return s.BeforeProbability(before.Departure, before.ProductType, true, after.Departure, after.ProductType, 1, now)
}

// PrintStats logs a one-line summary of the store's current size, mirroring
// the teacher's "print_stats" diagnostic calls around the preprocessing and
// query hot paths.
func (s *Store) PrintStats() {
	if s.Log == nil {
		return
	}
	s.Log.Printf("store: delay keys=%d reachability memo=%d delayUpper=%v\n",
		len(s.delay), len(s.reachability), s.delayUpper)
}
