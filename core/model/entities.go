// Package model holds the validated entity set a scheduling request works
// on, plus the JSON payload types consumed from the CRUD collaborator.
package model

import (
	"github.com/narvik-labs/therasched/core/timegrid"
)

// Availability maps a weekday to the hour blocks an entity can be booked in.
type Availability map[timegrid.Day]timegrid.BlockSet

// Has reports whether the entity is available in the given cell.
func (a Availability) Has(day timegrid.Day, block int) bool {
	return a[day].Has(block)
}

// TotalBlocks counts the available blocks over the whole week.
func (a Availability) TotalBlocks() int {
	total := 0
	for _, set := range a {
		total += set.Count()
	}
	return total
}

// Therapy describes the composition rule of a group session.
type Therapy struct {
	ID string
	// Requirements maps a specialty to the number of therapists holding it
	// that every active session needs.
	Requirements map[string]int
	MinPatients  int
	MaxPatients  int
}

// Therapist is a staff member with qualification tags and weekly availability.
type Therapist struct {
	ID           string
	Specialties  map[string]bool
	Availability Availability
}

// PinnedSlot fixes one occurrence of a therapy to a grid cell.
type PinnedSlot struct {
	Day   timegrid.Day
	Block int
}

// Patient carries the weekly therapy demand and the personal scheduling
// rules attached to it.
type Patient struct {
	ID string
	// Therapies maps a therapy to the exact number of weekly sessions.
	Therapies    map[string]int
	Availability Availability
	// MaxContinuousHours bounds consecutive busy blocks per day.
	MaxContinuousHours int
	// NoSameDayTherapies lists therapies limited to one session per day.
	NoSameDayTherapies map[string]bool
	// FixedTherapists pins named staff to specialty slots of a therapy.
	FixedTherapists map[string]map[string][]string
	// PinnedSessions fixes therapy occurrences to specific grid cells.
	PinnedSessions map[string][]PinnedSlot
}

// Room hosts sessions of the therapies it supports.
type Room struct {
	ID           string
	Therapies    map[string]bool
	Capacity     int
	Availability Availability
}

// Instance is the validated input snapshot one scheduling request consumes.
// It is immutable for the duration of the request.
type Instance struct {
	Specialties map[string]bool
	Therapies   map[string]Therapy
	Therapists  []Therapist
	Patients    []Patient
	Rooms       []Room
	Grid        timegrid.Grid
}

// TherapistByID returns the therapist with the given id, if present.
func (in *Instance) TherapistByID(id string) (Therapist, bool) {
	for _, t := range in.Therapists {
		if t.ID == id {
			return t, true
		}
	}
	return Therapist{}, false
}

// RoomsForTherapy lists the rooms supporting a therapy, in input order.
func (in *Instance) RoomsForTherapy(therapyID string) []Room {
	var out []Room
	for _, r := range in.Rooms {
		if r.Therapies[therapyID] {
			out = append(out, r)
		}
	}
	return out
}
