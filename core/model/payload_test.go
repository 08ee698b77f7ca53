package model

import (
	"errors"
	"testing"

	"github.com/narvik-labs/therasched/core/timegrid"
)

func testGrid(t *testing.T) timegrid.Grid {
	t.Helper()
	g, err := timegrid.New(timegrid.Config{})
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	return g
}

func basePayload() EntitiesPayload {
	return EntitiesPayload{
		Specialties: []SpecialtyPayload{{ID: "kinesiology"}},
		Therapies: []TherapyPayload{{
			ID:           "solo",
			Requirements: map[string]int{"kinesiology": 1},
			MinPatients:  1,
			MaxPatients:  1,
		}},
		Therapists: []TherapistPayload{{
			ID:           "T1",
			Specialties:  []string{"kinesiology"},
			Availability: AvailabilityPayload{"Monday": {"08:00-12:00"}},
		}},
		Patients: []PatientPayload{{
			ID:           "P1",
			Therapies:    map[string]int{"solo": 1},
			Availability: AvailabilityPayload{"Monday": {"08:00-12:00"}},
		}},
		Rooms: []RoomPayload{{
			ID:           "R1",
			Therapies:    []string{"solo"},
			Capacity:     1,
			Availability: AvailabilityPayload{"Monday": {"08:00-12:00"}},
		}},
	}
}

func TestBuildInstance(t *testing.T) {
	inst, err := BuildInstance(basePayload(), testGrid(t))
	if err != nil {
		t.Fatalf("build instance: %v", err)
	}
	if len(inst.Patients) != 1 || len(inst.Therapists) != 1 || len(inst.Rooms) != 1 {
		t.Fatalf("unexpected entity counts: %d patients, %d therapists, %d rooms",
			len(inst.Patients), len(inst.Therapists), len(inst.Rooms))
	}
	p := inst.Patients[0]
	if p.MaxContinuousHours != 3 {
		t.Fatalf("expected default continuity limit 3, got %d", p.MaxContinuousHours)
	}
	if got := p.Availability.TotalBlocks(); got != 4 {
		t.Fatalf("expected 4 available blocks, got %d", got)
	}
	if !p.Availability.Has(timegrid.Monday, 0) || p.Availability.Has(timegrid.Monday, 4) {
		t.Fatal("availability expansion out of range")
	}
	therapy := inst.Therapies["solo"]
	if therapy.MinPatients != 1 || therapy.MaxPatients != 1 {
		t.Fatalf("therapy bounds: [%d, %d]", therapy.MinPatients, therapy.MaxPatients)
	}
}

func TestBuildInstanceTherapyDefaults(t *testing.T) {
	payload := basePayload()
	payload.Therapies[0].MinPatients = 0
	payload.Therapies[0].MaxPatients = 0
	inst, err := BuildInstance(payload, testGrid(t))
	if err != nil {
		t.Fatalf("build instance: %v", err)
	}
	therapy := inst.Therapies["solo"]
	if therapy.MinPatients != 1 || therapy.MaxPatients != 1 {
		t.Fatalf("expected defaulted bounds [1, 1], got [%d, %d]", therapy.MinPatients, therapy.MaxPatients)
	}
}

func TestBuildInstanceRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*EntitiesPayload)
	}{
		{"unknown requirement specialty", func(p *EntitiesPayload) {
			p.Therapies[0].Requirements = map[string]int{"hydrotherapy": 1}
		}},
		{"unknown therapist specialty", func(p *EntitiesPayload) {
			p.Therapists[0].Specialties = []string{"hydrotherapy"}
		}},
		{"unknown patient therapy", func(p *EntitiesPayload) {
			p.Patients[0].Therapies = map[string]int{"group": 1}
		}},
		{"unknown room therapy", func(p *EntitiesPayload) {
			p.Rooms[0].Therapies = []string{"group"}
		}},
		{"non-positive capacity", func(p *EntitiesPayload) {
			p.Rooms[0].Capacity = 0
		}},
		{"malformed availability", func(p *EntitiesPayload) {
			p.Patients[0].Availability = AvailabilityPayload{"Monday": {"morning"}}
		}},
		{"unknown availability day", func(p *EntitiesPayload) {
			p.Patients[0].Availability = AvailabilityPayload{"Sunday": {"08:00-12:00"}}
		}},
		{"inverted patient bounds", func(p *EntitiesPayload) {
			p.Therapies[0].MinPatients = 3
			p.Therapies[0].MaxPatients = 2
		}},
		{"duplicate patient", func(p *EntitiesPayload) {
			p.Patients = append(p.Patients, p.Patients[0])
		}},
		{"unknown fixed therapist", func(p *EntitiesPayload) {
			p.Patients[0].FixedTherapists = map[string]map[string][]string{
				"solo": {"kinesiology": {"T9"}},
			}
		}},
		{"pinned without demand", func(p *EntitiesPayload) {
			p.Patients[0].Therapies = map[string]int{"solo": 0}
			p.Patients[0].PinnedSessions = map[string][]PinnedSlotPayload{
				"solo": {{Day: "Monday", Time: "08:00-09:00"}},
			}
		}},
		{"pinned beyond demand", func(p *EntitiesPayload) {
			p.Patients[0].PinnedSessions = map[string][]PinnedSlotPayload{
				"solo": {{Day: "Monday", Time: "08:00-09:00"}, {Day: "Tuesday", Time: "08:00-09:00"}},
			}
		}},
		{"pinned in lunch hour", func(p *EntitiesPayload) {
			p.Patients[0].PinnedSessions = map[string][]PinnedSlotPayload{
				"solo": {{Day: "Monday", Time: "13:00-14:00"}},
			}
		}},
	}
	for _, tc := range cases {
		payload := basePayload()
		tc.mutate(&payload)
		_, err := BuildInstance(payload, testGrid(t))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		var invalid *InvalidInputError
		if !errors.As(err, &invalid) {
			t.Fatalf("%s: expected InvalidInputError, got %T", tc.name, err)
		}
	}
}

func TestRoomsForTherapy(t *testing.T) {
	payload := basePayload()
	payload.Rooms = append(payload.Rooms, RoomPayload{
		ID:           "R2",
		Therapies:    []string{},
		Capacity:     2,
		Availability: AvailabilityPayload{"Monday": {"08:00-12:00"}},
	})
	inst, err := BuildInstance(payload, testGrid(t))
	if err != nil {
		t.Fatalf("build instance: %v", err)
	}
	rooms := inst.RoomsForTherapy("solo")
	if len(rooms) != 1 || rooms[0].ID != "R1" {
		t.Fatalf("expected only R1, got %v", rooms)
	}
}
