package matchmaking

import (
	"math/rand/v2"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
)

// rankedWindow caps how many rating-adjacent players one ranked match takes.
const rankedWindow = 10

// NewGeneralEngine groups by mode and region and alternates team labels.
func NewGeneralEngine(cfg config.MatchmakingConfig, rules *Rules, alloc ServerAllocator, clock clockwork.Clock, logger *zap.Logger) *Engine {
	return newEngine(generalStrategy{}, cfg.PollInterval, cfg.BaseWait, rules, alloc, clock, logger)
}

// NewRankedEngine groups by region under cfg.RankedMode and only promotes
// windows whose rating spread fits the tier tolerance.
func NewRankedEngine(cfg config.MatchmakingConfig, rules *Rules, alloc ServerAllocator, clock clockwork.Clock, logger *zap.Logger) *Engine {
	return newEngine(rankedStrategy{mode: cfg.RankedMode}, cfg.RankedPollInterval, cfg.BaseWait, rules, alloc, clock, logger)
}

// NewCasualEngine groups by mode and region and picks the map players asked for most.
func NewCasualEngine(cfg config.MatchmakingConfig, rules *Rules, alloc ServerAllocator, clock clockwork.Clock, logger *zap.Logger) *Engine {
	return newEngine(casualStrategy{}, cfg.PollInterval, cfg.BaseWait, rules, alloc, clock, logger)
}

type generalStrategy struct{}

func (generalStrategy) name() string { return "general" }
func (generalStrategy) normalize(_ *Entry) {}
func (generalStrategy) key(e *Entry) groupKey { return groupKey{mode: e.Mode, region: e.Region} }

func (generalStrategy) batches(group []*Entry, rules ModeRules) [][]*Entry {
	return chunk(group, rules)
}

func (generalStrategy) assign(batch []*Entry) []Participant {
	out := make([]Participant, len(batch))
	for i, e := range batch {
		team := TeamAlpha
		if i%2 == 1 {
			team = TeamBravo
		}
		out[i] = participant(e, team)
	}
	return out
}

func (generalStrategy) pickMap(_ []*Entry, rules ModeRules, rng *rand.Rand) string {
	return randomMap(rules, rng)
}

func (generalStrategy) estimate(*Entry, int, int, ModeRules, time.Duration) time.Duration {
	return 0
}

type rankedStrategy struct {
	mode string
}

func (s rankedStrategy) name() string { return "ranked" }
func (s rankedStrategy) normalize(e *Entry) { e.Mode = s.mode }
func (s rankedStrategy) key(e *Entry) groupKey { return groupKey{mode: s.mode, region: e.Region} }

// batches sorts the region by rating and slides a window of up to
// rankedWindow players, shrinking it until the spread fits the tolerance.
// Starts that fit no window are skipped and those players stay queued.
func (rankedStrategy) batches(group []*Entry, rules ModeRules) [][]*Entry {
	sorted := append([]*Entry(nil), group...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rating < sorted[j].Rating })

	width := min(rules.MaxPlayers, rankedWindow)
	var out [][]*Entry
	for i := 0; len(sorted)-i >= rules.MinPlayers; {
		found := false
		for size := min(width, len(sorted)-i); size >= rules.MinPlayers; size-- {
			w := sorted[i : i+size]
			if ratingSpread(w) <= ratingTolerance(averageRating(w)) {
				batch := append([]*Entry(nil), w...)
				sortOldestFirst(batch)
				out = append(out, batch)
				i += size
				found = true
				break
			}
		}
		if !found {
			i++
		}
	}
	return out
}

func (rankedStrategy) assign(batch []*Entry) []Participant {
	return splitHalves(batch)
}

func (rankedStrategy) pickMap(_ []*Entry, rules ModeRules, rng *rand.Rand) string {
	return randomMap(rules, rng)
}

// estimate scales the base wait for thin regions and high ratings.
func (rankedStrategy) estimate(e *Entry, groupSize, regionSize int, rules ModeRules, base time.Duration) time.Duration {
	wait := scaleForPopulation(base, groupSize, rules.MinPlayers)
	switch {
	case e.Rating >= 3000:
		wait *= 2
	case e.Rating >= 2000:
		wait = wait * 3 / 2
	}
	if regionSize < 2*rules.MaxPlayers {
		wait = wait * 5 / 4
	}
	return wait
}

type casualStrategy struct{}

func (casualStrategy) name() string { return "casual" }
func (casualStrategy) normalize(_ *Entry) {}
func (casualStrategy) key(e *Entry) groupKey { return groupKey{mode: e.Mode, region: e.Region} }

func (casualStrategy) batches(group []*Entry, rules ModeRules) [][]*Entry {
	return chunk(group, rules)
}

func (casualStrategy) assign(batch []*Entry) []Participant {
	return splitHalves(batch)
}

// pickMap chooses the most requested map, ties going to the map requested
// earliest. Without preferences it picks from the mode's pool at random.
func (casualStrategy) pickMap(batch []*Entry, rules ModeRules, rng *rand.Rand) string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, e := range batch {
		if e.MapPreference == "" || !allowedMap(rules, e.MapPreference) {
			continue
		}
		if _, ok := firstSeen[e.MapPreference]; !ok {
			firstSeen[e.MapPreference] = i
		}
		counts[e.MapPreference]++
	}
	best := ""
	for m, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && firstSeen[m] < firstSeen[best]) {
			best = m
		}
	}
	if best != "" {
		return best
	}
	return randomMap(rules, rng)
}

func (casualStrategy) estimate(_ *Entry, groupSize, _ int, rules ModeRules, base time.Duration) time.Duration {
	return scaleForPopulation(base, groupSize, rules.MinPlayers)
}

// chunk splits an oldest-first group into runs of at most MaxPlayers,
// keeping only runs that reach MinPlayers.
func chunk(group []*Entry, rules ModeRules) [][]*Entry {
	var out [][]*Entry
	for i := 0; i < len(group); i += rules.MaxPlayers {
		end := min(i+rules.MaxPlayers, len(group))
		if end-i >= rules.MinPlayers {
			out = append(out, group[i:end])
		}
	}
	return out
}

// splitHalves puts the first half of batch on alpha and the rest on bravo.
func splitHalves(batch []*Entry) []Participant {
	out := make([]Participant, len(batch))
	half := (len(batch) + 1) / 2
	for i, e := range batch {
		team := TeamAlpha
		if i >= half {
			team = TeamBravo
		}
		out[i] = participant(e, team)
	}
	return out
}

func participant(e *Entry, team string) Participant {
	return Participant{PlayerID: e.PlayerID, Name: e.Name, Team: team, Rating: e.Rating}
}

func randomMap(rules ModeRules, rng *rand.Rand) string {
	if len(rules.Maps) == 0 {
		return ""
	}
	return rules.Maps[rng.IntN(len(rules.Maps))]
}

func allowedMap(rules ModeRules, name string) bool {
	if len(rules.Maps) == 0 {
		return true
	}
	for _, m := range rules.Maps {
		if m == name {
			return true
		}
	}
	return false
}

// ratingTolerance is the largest rating spread allowed at an average rating.
func ratingTolerance(avg float64) int {
	switch {
	case avg < 1000:
		return 200
	case avg < 2000:
		return 150
	case avg < 3000:
		return 100
	default:
		return 50
	}
}

func ratingSpread(w []*Entry) int {
	lo, hi := w[0].Rating, w[0].Rating
	for _, e := range w[1:] {
		lo = min(lo, e.Rating)
		hi = max(hi, e.Rating)
	}
	return hi - lo
}

func averageRating(w []*Entry) float64 {
	sum := 0
	for _, e := range w {
		sum += e.Rating
	}
	return float64(sum) / float64(len(w))
}

// scaleForPopulation stretches base when fewer than need players share the queue key.
func scaleForPopulation(base time.Duration, have, need int) time.Duration {
	if have >= need || have <= 0 {
		return base
	}
	return base * time.Duration(need) / time.Duration(have)
}
