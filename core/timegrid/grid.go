// Package timegrid enumerates the (day, hour-block) cells of the planning
// week. A Grid is a pure value derived from the configured working window:
// one-hour blocks Monday through Friday, with the lunch break excluded.
package timegrid

import (
	"fmt"
	"strings"
)

// Day identifies a weekday of the planning week.
type Day int

const (
	Monday Day = iota
	Tuesday
	Wednesday
	Thursday
	Friday
)

var dayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}

func (d Day) String() string {
	if d < Monday || d > Friday {
		return fmt.Sprintf("Day(%d)", int(d))
	}
	return dayNames[d]
}

// Days returns the weekdays in planning order.
func Days() []Day {
	return []Day{Monday, Tuesday, Wednesday, Thursday, Friday}
}

// ParseDay resolves a weekday name such as "Monday".
func ParseDay(name string) (Day, error) {
	for i, n := range dayNames {
		if n == name {
			return Day(i), nil
		}
	}
	return 0, fmt.Errorf("unknown day %q", name)
}

// BlockSet holds a set of block indices for one day.
type BlockSet map[int]bool

// Has reports whether the block is in the set.
func (s BlockSet) Has(block int) bool { return s[block] }

// Add inserts the block into the set.
func (s BlockSet) Add(block int) { s[block] = true }

// Count returns the number of blocks in the set.
func (s BlockSet) Count() int { return len(s) }

// Config defines the working window the grid is built from. All boundaries
// must align to whole hours.
type Config struct {
	DayStart   string `json:"day_start"`
	DayEnd     string `json:"day_end"`
	LunchStart string `json:"lunch_start"`
	LunchEnd   string `json:"lunch_end"`
}

// SetDefaults applies the standard 08:00-18:00 window with a 13:00-14:00
// lunch break.
func (c *Config) SetDefaults() {
	if c.DayStart == "" {
		c.DayStart = "08:00"
	}
	if c.DayEnd == "" {
		c.DayEnd = "18:00"
	}
	if c.LunchStart == "" {
		c.LunchStart = "13:00"
	}
	if c.LunchEnd == "" {
		c.LunchEnd = "14:00"
	}
}

// Validate checks the window boundaries for ordering and hour alignment.
func (c Config) Validate() error {
	ds, err := parseClock(c.DayStart)
	if err != nil {
		return fmt.Errorf("day_start: %w", err)
	}
	de, err := parseClock(c.DayEnd)
	if err != nil {
		return fmt.Errorf("day_end: %w", err)
	}
	ls, err := parseClock(c.LunchStart)
	if err != nil {
		return fmt.Errorf("lunch_start: %w", err)
	}
	le, err := parseClock(c.LunchEnd)
	if err != nil {
		return fmt.Errorf("lunch_end: %w", err)
	}
	for name, m := range map[string]int{"day_start": ds, "day_end": de, "lunch_start": ls, "lunch_end": le} {
		if m%60 != 0 {
			return fmt.Errorf("%s must align to a whole hour", name)
		}
	}
	if !(ds < ls && ls < le && le < de) {
		return fmt.Errorf("working window must satisfy day_start < lunch_start < lunch_end < day_end")
	}
	return nil
}

// block is one hour of the working day, in minutes since midnight.
type block struct {
	start int
	end   int
}

// Grid is the fixed block enumeration for one working day, shared by all
// weekdays.
type Grid struct {
	blocks   []block
	segments [][]int
	byRange  map[string]int
}

// New builds a Grid from the configured working window.
func New(cfg Config) (Grid, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return Grid{}, err
	}
	ds, _ := parseClock(cfg.DayStart)
	de, _ := parseClock(cfg.DayEnd)
	ls, _ := parseClock(cfg.LunchStart)
	le, _ := parseClock(cfg.LunchEnd)

	g := Grid{byRange: make(map[string]int)}
	var morning, afternoon []int
	for m := ds; m < ls; m += 60 {
		morning = append(morning, len(g.blocks))
		g.blocks = append(g.blocks, block{start: m, end: m + 60})
	}
	for m := le; m < de; m += 60 {
		afternoon = append(afternoon, len(g.blocks))
		g.blocks = append(g.blocks, block{start: m, end: m + 60})
	}
	g.segments = [][]int{morning, afternoon}
	for i := range g.blocks {
		g.byRange[g.Range(i)] = i
	}
	return g, nil
}

// NumBlocks returns how many hour blocks one day holds.
func (g Grid) NumBlocks() int { return len(g.blocks) }

// Blocks returns the block indices of one day in clock order.
func (g Grid) Blocks() []int {
	out := make([]int, len(g.blocks))
	for i := range out {
		out[i] = i
	}
	return out
}

// Segments returns the runs of blocks that are consecutive in clock time.
// The lunch break separates the morning and afternoon runs.
func (g Grid) Segments() [][]int { return g.segments }

// Range renders a block as "HH:MM-HH:MM".
func (g Grid) Range(blockIdx int) string {
	b := g.blocks[blockIdx]
	return fmt.Sprintf("%s-%s", clock(b.start), clock(b.end))
}

// StartEnd returns the start and end clock strings of a block.
func (g Grid) StartEnd(blockIdx int) (string, string) {
	b := g.blocks[blockIdx]
	return clock(b.start), clock(b.end)
}

// BlockForRange resolves an exact one-hour range such as "08:00-09:00" to
// its block index.
func (g Grid) BlockForRange(r string) (int, error) {
	idx, ok := g.byRange[strings.TrimSpace(r)]
	if !ok {
		return 0, fmt.Errorf("unknown time range %q", r)
	}
	return idx, nil
}

// BlocksWithin returns the blocks fully covered by the half-open ranges.
// Ranges are "HH:MM-HH:MM" strings; a block counts only when it lies entirely
// inside one range.
func (g Grid) BlocksWithin(ranges []string) (BlockSet, error) {
	set := make(BlockSet)
	for _, r := range ranges {
		start, end, err := parseRange(r)
		if err != nil {
			return nil, err
		}
		for i, b := range g.blocks {
			if start <= b.start && b.end <= end {
				set.Add(i)
			}
		}
	}
	return set, nil
}

func parseRange(r string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(r), "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed time range %q", r)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed time range %q: %w", r, err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed time range %q: %w", r, err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("time range %q must end after it starts", r)
	}
	return start, end, nil
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	return h*60 + m, nil
}

func clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
