package problem

import (
	"context"
	"strings"
	"testing"

	"github.com/narvik-labs/therasched/core/model"
	"github.com/narvik-labs/therasched/core/solver"
	"github.com/narvik-labs/therasched/core/timegrid"
	"github.com/narvik-labs/therasched/infra/cpsolver"
)

func buildInstance(t *testing.T, payload model.EntitiesPayload) *model.Instance {
	t.Helper()
	grid, err := timegrid.New(timegrid.Config{})
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	inst, err := model.BuildInstance(payload, grid)
	if err != nil {
		t.Fatalf("build instance: %v", err)
	}
	return inst
}

func soloPayload() model.EntitiesPayload {
	return model.EntitiesPayload{
		Specialties: []model.SpecialtyPayload{{ID: "kinesiology"}},
		Therapies: []model.TherapyPayload{{
			ID:           "solo",
			Requirements: map[string]int{"kinesiology": 1},
			MinPatients:  1,
			MaxPatients:  1,
		}},
		Therapists: []model.TherapistPayload{{
			ID:           "T1",
			Specialties:  []string{"kinesiology"},
			Availability: model.AvailabilityPayload{"Monday": {"08:00-12:00"}, "Tuesday": {"08:00-12:00"}},
		}},
		Patients: []model.PatientPayload{{
			ID:           "P1",
			Therapies:    map[string]int{"solo": 2},
			Availability: model.AvailabilityPayload{"Monday": {"08:00-12:00"}, "Tuesday": {"08:00-12:00"}},
		}},
		Rooms: []model.RoomPayload{{
			ID:           "R1",
			Therapies:    []string{"solo"},
			Capacity:     1,
			Availability: model.AvailabilityPayload{"Monday": {"08:00-12:00"}, "Tuesday": {"08:00-12:00"}},
		}},
	}
}

func solveHard(t *testing.T, inst *model.Instance) (*Built, solver.Result) {
	t.Helper()
	m := cpsolver.New()
	built, err := Build(m, inst, ModeHard)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := m.Solve(context.Background(), solver.Options{})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	return built, res
}

func TestBuildPrunesIncompatibleSessions(t *testing.T) {
	inst := buildInstance(t, soloPayload())
	m := cpsolver.New()
	built, err := Build(m, inst, ModeHard)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// R1 is open 4 blocks on 2 days; no session may exist elsewhere.
	if len(built.Sessions) != 8 {
		t.Fatalf("expected 8 session slots, got %d", len(built.Sessions))
	}
	for sk := range built.Sessions {
		if sk.Day != timegrid.Monday && sk.Day != timegrid.Tuesday {
			t.Fatalf("session on unavailable day %s", sk.Day)
		}
		if sk.Block > 3 {
			t.Fatalf("session in unavailable block %d", sk.Block)
		}
	}
}

func TestHardModelSatisfiesInvariants(t *testing.T) {
	inst := buildInstance(t, soloPayload())
	built, res := solveHard(t, inst)
	if res.Status != solver.StatusOptimal {
		t.Fatalf("status: %v", res.Status)
	}

	// Exact coverage: P1 attends exactly two solo sessions.
	attended := 0
	for ak, av := range built.Attends {
		if res.BoolValue(av) {
			if ak.Patient != "P1" || ak.Therapy != "solo" {
				t.Fatalf("unexpected assignment %+v", ak)
			}
			attended++
		}
	}
	if attended != 2 {
		t.Fatalf("expected exactly 2 assignments, got %d", attended)
	}

	// Every open session carries exactly one attendee and one staff slot.
	for sk, sv := range built.Sessions {
		if !res.BoolValue(sv) {
			continue
		}
		patients, staff := 0, 0
		for ak, av := range built.Attends {
			if ak.Room == sk.Room && ak.Day == sk.Day && ak.Block == sk.Block && res.BoolValue(av) {
				patients++
			}
		}
		for stk, stv := range built.Staff {
			if stk.Room == sk.Room && stk.Day == sk.Day && stk.Block == sk.Block && res.BoolValue(stv) {
				staff++
			}
		}
		if patients != 1 || staff != 1 {
			t.Fatalf("session %+v: %d patients, %d staff", sk, patients, staff)
		}
	}

	// Non-overlap: the single therapist never works two sessions at once.
	type cell struct {
		day   timegrid.Day
		block int
	}
	seen := make(map[cell]bool)
	for stk, stv := range built.Staff {
		if !res.BoolValue(stv) {
			continue
		}
		c := cell{stk.Day, stk.Block}
		if seen[c] {
			t.Fatalf("therapist double-booked at %+v", c)
		}
		seen[c] = true
	}
}

func TestContinuityWindows(t *testing.T) {
	limit := 2
	payload := soloPayload()
	payload.Patients[0].MaxContinuousHours = &limit
	payload.Patients[0].Therapies = map[string]int{"solo": 4}
	payload.Patients[0].Availability = model.AvailabilityPayload{"Monday": {"08:00-13:00"}}
	payload.Therapists[0].Availability = model.AvailabilityPayload{"Monday": {"08:00-13:00"}}
	payload.Rooms[0].Availability = model.AvailabilityPayload{"Monday": {"08:00-13:00"}}

	inst := buildInstance(t, payload)
	built, res := solveHard(t, inst)
	if res.Status != solver.StatusOptimal {
		t.Fatalf("4 sessions in 5 blocks with limit 2 should fit, got %v", res.Status)
	}
	// No window of 3 consecutive blocks has 3 busy blocks.
	busy := make(map[int]bool)
	for ak, av := range built.Attends {
		if res.BoolValue(av) {
			busy[ak.Block] = true
		}
	}
	for start := 0; start+3 <= 5; start++ {
		n := 0
		for b := start; b < start+3; b++ {
			if busy[b] {
				n++
			}
		}
		if n > limit {
			t.Fatalf("window at %d has %d busy blocks", start, n)
		}
	}

	// A fifth session cannot fit without breaking the window limit.
	payload.Patients[0].Therapies = map[string]int{"solo": 5}
	inst = buildInstance(t, payload)
	_, res = solveHard(t, inst)
	if res.Status != solver.StatusInfeasible {
		t.Fatalf("5 sessions in 5 blocks with limit 2 should be infeasible, got %v", res.Status)
	}
}

func TestNoSameDay(t *testing.T) {
	payload := soloPayload()
	payload.Patients[0].NoSameDayTherapies = []string{"solo"}

	inst := buildInstance(t, payload)
	built, res := solveHard(t, inst)
	if res.Status != solver.StatusOptimal {
		t.Fatalf("status: %v", res.Status)
	}
	perDay := make(map[timegrid.Day]int)
	for ak, av := range built.Attends {
		if res.BoolValue(av) {
			perDay[ak.Day]++
		}
	}
	for day, n := range perDay {
		if n > 1 {
			t.Fatalf("%d solo sessions on %s", n, day)
		}
	}

	// Shrinking the week to one day makes the rule unsatisfiable.
	payload.Patients[0].Availability = model.AvailabilityPayload{"Monday": {"08:00-12:00"}}
	inst = buildInstance(t, payload)
	_, res = solveHard(t, inst)
	if res.Status != solver.StatusInfeasible {
		t.Fatalf("expected infeasible, got %v", res.Status)
	}
}

func TestFixedTherapistForcesStaff(t *testing.T) {
	payload := soloPayload()
	payload.Therapists = append(payload.Therapists, model.TherapistPayload{
		ID:           "T2",
		Specialties:  []string{"kinesiology"},
		Availability: model.AvailabilityPayload{"Monday": {"08:00-12:00"}, "Tuesday": {"08:00-12:00"}},
	})
	payload.Patients[0].FixedTherapists = map[string]map[string][]string{
		"solo": {"kinesiology": {"T2"}},
	}

	inst := buildInstance(t, payload)
	built, res := solveHard(t, inst)
	if res.Status != solver.StatusOptimal {
		t.Fatalf("status: %v", res.Status)
	}
	for ak, av := range built.Attends {
		if !res.BoolValue(av) {
			continue
		}
		stv, ok := built.Staff[StaffKey{
			Therapist: "T2", Therapy: ak.Therapy, Room: ak.Room,
			Day: ak.Day, Block: ak.Block, Specialty: "kinesiology",
		}]
		if !ok || !res.BoolValue(stv) {
			t.Fatalf("pinned therapist T2 absent from attended session %+v", ak)
		}
	}
}

func TestPinnedSessionForcesSlot(t *testing.T) {
	payload := soloPayload()
	payload.Patients[0].PinnedSessions = map[string][]model.PinnedSlotPayload{
		"solo": {{Day: "Tuesday", Time: "10:00-11:00"}},
	}

	inst := buildInstance(t, payload)
	built, res := solveHard(t, inst)
	if res.Status != solver.StatusOptimal {
		t.Fatalf("status: %v", res.Status)
	}
	found := false
	for ak, av := range built.Attends {
		if res.BoolValue(av) && ak.Day == timegrid.Tuesday && ak.Block == 2 {
			found = true
		}
	}
	if !found {
		t.Fatal("pinned Tuesday 10:00-11:00 session missing")
	}
}

func TestAssumptionModeLabels(t *testing.T) {
	inst := buildInstance(t, soloPayload())
	m := cpsolver.New()
	built, err := Build(m, inst, ModeAssumption)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(built.Labels) == 0 || len(built.LabelOrder) != len(built.Labels) {
		t.Fatalf("labels: %d, order: %d", len(built.Labels), len(built.LabelOrder))
	}
	want := []string{
		"coverage:patient P1:therapy solo",
		"capacity:therapy solo",
		"staffing:therapy solo:specialty kinesiology",
	}
	for _, label := range want {
		if _, ok := built.Labels[label]; !ok {
			t.Fatalf("missing label %q", label)
		}
	}

	// With every group assumed, the feasible instance stays feasible.
	assumptions := make([]solver.Var, 0, len(built.LabelOrder))
	for _, label := range built.LabelOrder {
		assumptions = append(assumptions, built.Labels[label])
	}
	res, err := m.Solve(context.Background(), solver.Options{Assumptions: assumptions})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Status != solver.StatusOptimal {
		t.Fatalf("status: %v", res.Status)
	}
}

func TestSoftModeMeasuresShortage(t *testing.T) {
	// Demand exceeds the week: P1 wants 9 solo sessions with 8 slots.
	payload := soloPayload()
	payload.Patients[0].Therapies = map[string]int{"solo": 9}
	cont := 4
	payload.Patients[0].MaxContinuousHours = &cont

	inst := buildInstance(t, payload)
	m := cpsolver.New()
	built, err := Build(m, inst, ModeSoft)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(built.Slacks) == 0 {
		t.Fatal("soft mode produced no slacks")
	}
	EncodeSlackObjective(m, built)
	res, err := m.Solve(context.Background(), solver.Options{})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if !res.Status.HasSolution() {
		t.Fatalf("status: %v", res.Status)
	}

	total := 0
	var shortage string
	for _, s := range built.Slacks {
		magnitude := 0
		for _, v := range s.Vars {
			magnitude += res.Value(v)
		}
		total += magnitude
		if magnitude > 0 {
			shortage = s.Format
		}
	}
	if total != 1 {
		t.Fatalf("expected total slack 1, got %d", total)
	}
	if !strings.Contains(shortage, "patient P1") || !strings.Contains(shortage, "solo") {
		t.Fatalf("unexpected bottleneck format %q", shortage)
	}
}
