package model

import (
	"fmt"

	"github.com/narvik-labs/therasched/core/timegrid"
)

// InvalidInputError reports an entity payload the core refuses to schedule:
// unknown id references, malformed availability ranges, or nonsensical
// bounds. It fails the request before any model is built.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return e.Reason }

func invalidf(format string, args ...any) error {
	return &InvalidInputError{Reason: fmt.Sprintf(format, args...)}
}

// AvailabilityPayload maps a weekday name to "HH:MM-HH:MM" ranges.
type AvailabilityPayload map[string][]string

// SpecialtyPayload is a qualification tag.
type SpecialtyPayload struct {
	ID string `json:"id"`
}

// TherapyPayload declares the composition rule of a group session.
type TherapyPayload struct {
	ID           string         `json:"id"`
	Requirements map[string]int `json:"requirements"`
	MinPatients  int            `json:"minPatients"`
	MaxPatients  int            `json:"maxPatients"`
}

// TherapistPayload declares a staff member.
type TherapistPayload struct {
	ID           string              `json:"id"`
	Name         string              `json:"name,omitempty"`
	Specialties  []string            `json:"specialties"`
	Availability AvailabilityPayload `json:"availability"`
}

// PinnedSlotPayload fixes a therapy occurrence to a day and time range.
type PinnedSlotPayload struct {
	Day  string `json:"day"`
	Time string `json:"time"`
}

// PatientPayload declares a patient and their weekly demand.
type PatientPayload struct {
	ID                 string                         `json:"id"`
	Name               string                         `json:"name,omitempty"`
	Therapies          map[string]int                 `json:"therapies"`
	Availability       AvailabilityPayload            `json:"availability"`
	MaxContinuousHours *int                           `json:"maxContinuousHours,omitempty"`
	NoSameDayTherapies []string                       `json:"noSameDayTherapies"`
	FixedTherapists    map[string]map[string][]string `json:"fixedTherapists"`
	PinnedSessions     map[string][]PinnedSlotPayload `json:"pinnedSessions"`
}

// RoomPayload declares a room.
type RoomPayload struct {
	ID           string              `json:"id"`
	Name         string              `json:"name,omitempty"`
	Therapies    []string            `json:"therapies"`
	Capacity     int                 `json:"capacity"`
	Availability AvailabilityPayload `json:"availability"`
}

// EntitiesPayload is the full entity set consumed from the CRUD collaborator.
type EntitiesPayload struct {
	Specialties []SpecialtyPayload `json:"specialties"`
	Therapies   []TherapyPayload   `json:"therapies"`
	Therapists  []TherapistPayload `json:"therapists"`
	Patients    []PatientPayload   `json:"patients"`
	Rooms       []RoomPayload      `json:"rooms"`
}

const defaultMaxContinuousHours = 3

// BuildInstance validates the payload against the grid and the id registries
// and produces the immutable Instance a request schedules from. Any
// violation returns an *InvalidInputError.
func BuildInstance(p EntitiesPayload, grid timegrid.Grid) (*Instance, error) {
	inst := &Instance{
		Specialties: make(map[string]bool, len(p.Specialties)),
		Therapies:   make(map[string]Therapy, len(p.Therapies)),
		Grid:        grid,
	}

	for _, s := range p.Specialties {
		if s.ID == "" {
			return nil, invalidf("specialty with empty id")
		}
		if inst.Specialties[s.ID] {
			return nil, invalidf("duplicate specialty id %q", s.ID)
		}
		inst.Specialties[s.ID] = true
	}

	for _, t := range p.Therapies {
		if t.ID == "" {
			return nil, invalidf("therapy with empty id")
		}
		if _, dup := inst.Therapies[t.ID]; dup {
			return nil, invalidf("duplicate therapy id %q", t.ID)
		}
		minP, maxP := t.MinPatients, t.MaxPatients
		if minP == 0 {
			minP = 1
		}
		if maxP == 0 {
			maxP = minP
		}
		if minP < 1 || maxP < minP {
			return nil, invalidf("therapy %q: invalid patient bounds [%d, %d]", t.ID, minP, maxP)
		}
		reqs := make(map[string]int, len(t.Requirements))
		for spec, count := range t.Requirements {
			if !inst.Specialties[spec] {
				return nil, invalidf("therapy %q requires unknown specialty %q", t.ID, spec)
			}
			if count < 1 {
				return nil, invalidf("therapy %q: requirement for %q must be positive", t.ID, spec)
			}
			reqs[spec] = count
		}
		if len(reqs) == 0 {
			return nil, invalidf("therapy %q has no specialty requirements", t.ID)
		}
		inst.Therapies[t.ID] = Therapy{ID: t.ID, Requirements: reqs, MinPatients: minP, MaxPatients: maxP}
	}

	seenTherapists := make(map[string]bool, len(p.Therapists))
	for _, t := range p.Therapists {
		if t.ID == "" {
			return nil, invalidf("therapist with empty id")
		}
		if seenTherapists[t.ID] {
			return nil, invalidf("duplicate therapist id %q", t.ID)
		}
		seenTherapists[t.ID] = true
		specs := make(map[string]bool, len(t.Specialties))
		for _, spec := range t.Specialties {
			if !inst.Specialties[spec] {
				return nil, invalidf("therapist %q holds unknown specialty %q", t.ID, spec)
			}
			specs[spec] = true
		}
		avail, err := parseAvailability(t.Availability, grid)
		if err != nil {
			return nil, invalidf("therapist %q: %v", t.ID, err)
		}
		inst.Therapists = append(inst.Therapists, Therapist{ID: t.ID, Specialties: specs, Availability: avail})
	}

	seenRooms := make(map[string]bool, len(p.Rooms))
	for _, r := range p.Rooms {
		if r.ID == "" {
			return nil, invalidf("room with empty id")
		}
		if seenRooms[r.ID] {
			return nil, invalidf("duplicate room id %q", r.ID)
		}
		seenRooms[r.ID] = true
		if r.Capacity < 1 {
			return nil, invalidf("room %q: capacity must be positive", r.ID)
		}
		therapies := make(map[string]bool, len(r.Therapies))
		for _, tid := range r.Therapies {
			if _, ok := inst.Therapies[tid]; !ok {
				return nil, invalidf("room %q supports unknown therapy %q", r.ID, tid)
			}
			therapies[tid] = true
		}
		avail, err := parseAvailability(r.Availability, grid)
		if err != nil {
			return nil, invalidf("room %q: %v", r.ID, err)
		}
		inst.Rooms = append(inst.Rooms, Room{ID: r.ID, Therapies: therapies, Capacity: r.Capacity, Availability: avail})
	}

	seenPatients := make(map[string]bool, len(p.Patients))
	for _, pp := range p.Patients {
		pat, err := buildPatient(pp, inst, seenTherapists, grid)
		if err != nil {
			return nil, err
		}
		if seenPatients[pat.ID] {
			return nil, invalidf("duplicate patient id %q", pat.ID)
		}
		seenPatients[pat.ID] = true
		inst.Patients = append(inst.Patients, pat)
	}

	return inst, nil
}

func buildPatient(pp PatientPayload, inst *Instance, therapistIDs map[string]bool, grid timegrid.Grid) (Patient, error) {
	if pp.ID == "" {
		return Patient{}, invalidf("patient with empty id")
	}
	demand := make(map[string]int, len(pp.Therapies))
	for tid, count := range pp.Therapies {
		if _, ok := inst.Therapies[tid]; !ok {
			return Patient{}, invalidf("patient %q demands unknown therapy %q", pp.ID, tid)
		}
		if count < 0 {
			return Patient{}, invalidf("patient %q: session count for %q must be non-negative", pp.ID, tid)
		}
		demand[tid] = count
	}
	avail, err := parseAvailability(pp.Availability, grid)
	if err != nil {
		return Patient{}, invalidf("patient %q: %v", pp.ID, err)
	}
	maxCont := defaultMaxContinuousHours
	if pp.MaxContinuousHours != nil {
		maxCont = *pp.MaxContinuousHours
		if maxCont < 1 {
			return Patient{}, invalidf("patient %q: maxContinuousHours must be positive", pp.ID)
		}
	}
	noSameDay := make(map[string]bool, len(pp.NoSameDayTherapies))
	for _, tid := range pp.NoSameDayTherapies {
		if _, ok := inst.Therapies[tid]; !ok {
			return Patient{}, invalidf("patient %q lists unknown therapy %q in noSameDayTherapies", pp.ID, tid)
		}
		noSameDay[tid] = true
	}
	fixed := make(map[string]map[string][]string)
	for tid, bySpec := range pp.FixedTherapists {
		if _, ok := inst.Therapies[tid]; !ok {
			return Patient{}, invalidf("patient %q fixes therapists for unknown therapy %q", pp.ID, tid)
		}
		for spec, ids := range bySpec {
			if !inst.Specialties[spec] {
				return Patient{}, invalidf("patient %q fixes unknown specialty %q for therapy %q", pp.ID, spec, tid)
			}
			var kept []string
			for _, id := range ids {
				if id == "" {
					continue
				}
				if !therapistIDs[id] {
					return Patient{}, invalidf("patient %q fixes unknown therapist %q for therapy %q", pp.ID, id, tid)
				}
				kept = append(kept, id)
			}
			if len(kept) == 0 {
				continue
			}
			if fixed[tid] == nil {
				fixed[tid] = make(map[string][]string)
			}
			fixed[tid][spec] = kept
		}
	}
	pinned, err := buildPinned(pp, demand, grid)
	if err != nil {
		return Patient{}, err
	}
	return Patient{
		ID:                 pp.ID,
		Therapies:          demand,
		Availability:       avail,
		MaxContinuousHours: maxCont,
		NoSameDayTherapies: noSameDay,
		FixedTherapists:    fixed,
		PinnedSessions:     pinned,
	}, nil
}

func buildPinned(pp PatientPayload, demand map[string]int, grid timegrid.Grid) (map[string][]PinnedSlot, error) {
	pinned := make(map[string][]PinnedSlot)
	for tid, slots := range pp.PinnedSessions {
		var items []PinnedSlot
		seen := make(map[PinnedSlot]bool)
		for _, slot := range slots {
			day, err := timegrid.ParseDay(slot.Day)
			if err != nil {
				return nil, invalidf("patient %q pins %q on invalid day %q", pp.ID, tid, slot.Day)
			}
			block, err := grid.BlockForRange(slot.Time)
			if err != nil {
				return nil, invalidf("patient %q pins %q at invalid time %q", pp.ID, tid, slot.Time)
			}
			key := PinnedSlot{Day: day, Block: block}
			if seen[key] {
				return nil, invalidf("patient %q repeats pinned %q on %s %s", pp.ID, tid, slot.Day, slot.Time)
			}
			seen[key] = true
			items = append(items, key)
		}
		if len(items) == 0 {
			continue
		}
		required := demand[tid]
		if required <= 0 {
			return nil, invalidf("patient %q pins sessions for %q but requires none", pp.ID, tid)
		}
		if len(items) > required {
			return nil, invalidf("patient %q pins %d %q sessions but requires %d", pp.ID, len(items), tid, required)
		}
		pinned[tid] = items
	}
	return pinned, nil
}

func parseAvailability(p AvailabilityPayload, grid timegrid.Grid) (Availability, error) {
	avail := make(Availability)
	for dayName, ranges := range p {
		day, err := timegrid.ParseDay(dayName)
		if err != nil {
			return nil, err
		}
		if len(ranges) == 0 {
			continue
		}
		set, err := grid.BlocksWithin(ranges)
		if err != nil {
			return nil, err
		}
		if set.Count() > 0 {
			avail[day] = set
		}
	}
	return avail, nil
}
