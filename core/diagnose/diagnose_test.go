package diagnose

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/narvik-labs/therasched/core/model"
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
			Availability: model.AvailabilityPayload{"Monday": {"08:00-12:00"}},
		}},
		Patients: []model.PatientPayload{{
			ID:           "P1",
			Therapies:    map[string]int{"solo": 1},
			Availability: model.AvailabilityPayload{"Monday": {"08:00-12:00"}},
		}},
		Rooms: []model.RoomPayload{{
			ID:           "R1",
			Therapies:    []string{"solo"},
			Capacity:     1,
			Availability: model.AvailabilityPayload{"Monday": {"08:00-12:00"}},
		}},
	}
}

// mismatchPayload has patient and room sharing a morning the only qualified
// therapist does not work.
func mismatchPayload() model.EntitiesPayload {
	payload := soloPayload()
	payload.Therapists[0].Availability = model.AvailabilityPayload{"Monday": {"14:00-18:00"}}
	return payload
}

func testRunner() *Runner {
	return &Runner{
		Factory:       cpsolver.Factory,
		Budget:        10 * time.Second,
		Deterministic: true,
	}
}

func TestPrechecksAvailabilityMismatch(t *testing.T) {
	inst := buildInstance(t, mismatchPayload())
	findings := runPrechecks(inst)
	found := false
	for _, f := range findings {
		if strings.Contains(f, "patient P1 has only 0 feasible slot(s) for therapy solo, 1 needed") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing feasible-slot finding: %v", findings)
	}
}

func TestPrechecksDeterministic(t *testing.T) {
	inst := buildInstance(t, mismatchPayload())
	first := runPrechecks(inst)
	second := runPrechecks(inst)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("prechecks not deterministic:\n%v\n%v", first, second)
	}
}

func TestPrechecksFallbackMessage(t *testing.T) {
	inst := buildInstance(t, soloPayload())
	findings := runPrechecks(inst)
	if len(findings) != 1 || !strings.Contains(findings[0], "no single precheck explains") {
		t.Fatalf("expected only the fallback message, got %v", findings)
	}
}

func TestPrechecksMissingRoom(t *testing.T) {
	payload := soloPayload()
	payload.Rooms[0].Therapies = nil
	inst := buildInstance(t, payload)
	findings := runPrechecks(inst)
	found := false
	for _, f := range findings {
		if strings.Contains(f, "therapy solo has no room supporting it") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing room-coverage finding: %v", findings)
	}
}

func TestPrechecksSpecialtyCapacity(t *testing.T) {
	// Five weekly sessions against four therapist-blocks of supply.
	payload := soloPayload()
	payload.Patients[0].Therapies = map[string]int{"solo": 5}
	payload.Patients[0].Availability = model.AvailabilityPayload{
		"Monday": {"08:00-12:00"}, "Tuesday": {"08:00-12:00"},
	}
	inst := buildInstance(t, payload)
	findings := runPrechecks(inst)
	found := false
	for _, f := range findings {
		if strings.Contains(f, "specialty kinesiology: weekly demand of 5 therapist-block(s) exceeds the 4 available") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing specialty-capacity finding: %v", findings)
	}
}

func TestPrechecksAggregateSupply(t *testing.T) {
	// T1 holds both specialties, so each per-specialty count sees four
	// blocks of supply. Jointly the six demanded blocks cannot fit.
	payload := model.EntitiesPayload{
		Specialties: []model.SpecialtyPayload{{ID: "kinesiology"}, {ID: "speech"}},
		Therapies: []model.TherapyPayload{
			{ID: "gym", Requirements: map[string]int{"kinesiology": 1}, MinPatients: 1, MaxPatients: 1},
			{ID: "talk", Requirements: map[string]int{"speech": 1}, MinPatients: 1, MaxPatients: 1},
		},
		Therapists: []model.TherapistPayload{{
			ID:           "T1",
			Specialties:  []string{"kinesiology", "speech"},
			Availability: model.AvailabilityPayload{"Monday": {"08:00-12:00"}},
		}},
		Patients: []model.PatientPayload{{
			ID:        "P1",
			Therapies: map[string]int{"gym": 3, "talk": 3},
			Availability: model.AvailabilityPayload{
				"Monday": {"08:00-12:00"}, "Tuesday": {"08:00-12:00"}, "Wednesday": {"08:00-12:00"},
			},
		}},
		Rooms: []model.RoomPayload{{
			ID:        "R1",
			Therapies: []string{"gym", "talk"},
			Capacity:  1,
			Availability: model.AvailabilityPayload{
				"Monday": {"08:00-12:00"}, "Tuesday": {"08:00-12:00"}, "Wednesday": {"08:00-12:00"},
			},
		}},
	}
	inst := buildInstance(t, payload)

	if naive := checkSpecialtyCapacity(inst); len(naive) != 0 {
		t.Fatalf("per-specialty counts should pass here: %v", naive)
	}
	findings := checkAggregateSupply(inst)
	if len(findings) == 0 {
		t.Fatal("expected an aggregate shortfall finding")
	}
	shortfall := 0
	for _, f := range findings {
		if !strings.Contains(f, "even with ideal allocation") {
			t.Fatalf("unexpected finding: %q", f)
		}
		var spec string
		var n int
		if _, err := fmt.Sscanf(f, "even with ideal allocation, specialty %s is short %d", &spec, &n); err != nil {
			t.Fatalf("unparseable finding %q: %v", f, err)
		}
		shortfall += n
	}
	if shortfall != 2 {
		t.Fatalf("total shortfall %d, want 2: %v", shortfall, findings)
	}
}

func TestAssumptionConflict(t *testing.T) {
	inst := buildInstance(t, mismatchPayload())
	findings := testRunner().runAssumptions(context.Background(), inst)
	if len(findings) != 1 {
		t.Fatalf("expected one conflict line, got %v", findings)
	}
	line := findings[0]
	if !strings.HasPrefix(line, "conflict: ") {
		t.Fatalf("finding: %q", line)
	}
	for _, label := range []string{
		"coverage:patient P1:therapy solo",
		"staffing:therapy solo:specialty kinesiology",
	} {
		if !strings.Contains(line, label) {
			t.Fatalf("conflict %q misses %q", line, label)
		}
	}
	// Unrelated groups must be shrunk away.
	if strings.Contains(line, "capacity:") {
		t.Fatalf("conflict not minimal: %q", line)
	}
}

func TestSoftSlackRanksShortage(t *testing.T) {
	inst := buildInstance(t, mismatchPayload())
	findings := testRunner().runSoftSlack(context.Background(), inst)
	if len(findings) != 1 {
		t.Fatalf("expected one slack finding, got %v", findings)
	}
	// A minimal relaxation either drops the session or staffs it short.
	f := findings[0]
	if !strings.Contains(f, "patient P1 missing 1 session(s) of therapy solo") &&
		!strings.Contains(f, "need +1 kinesiology staff for therapy solo") {
		t.Fatalf("unexpected slack finding: %q", f)
	}
}

func TestSoftSlackZeroIsAnomaly(t *testing.T) {
	// A feasible instance relaxes to zero total slack; when diagnosis runs
	// anyway, that contradiction must surface instead of an empty report.
	inst := buildInstance(t, soloPayload())
	findings := testRunner().runSoftSlack(context.Background(), inst)
	if len(findings) != 1 || !strings.Contains(findings[0], "anomaly: minimal total slack is zero") {
		t.Fatalf("expected the zero-slack anomaly, got %v", findings)
	}
}

func TestAssumptionFeasibleIsAnomaly(t *testing.T) {
	inst := buildInstance(t, soloPayload())
	findings := testRunner().runAssumptions(context.Background(), inst)
	if len(findings) != 1 || !strings.Contains(findings[0], "anomaly") {
		t.Fatalf("expected a feasibility anomaly, got %v", findings)
	}
}

func TestRunAllStrategies(t *testing.T) {
	inst := buildInstance(t, mismatchPayload())
	out := testRunner().Run(context.Background(), inst)
	if len(out.Prechecks) == 0 || len(out.Assumptions) == 0 || len(out.Soft) == 0 {
		t.Fatalf("all strategies should report on this instance: %+v", out)
	}
}

func TestRunMarksExhaustedBudget(t *testing.T) {
	inst := buildInstance(t, mismatchPayload())
	r := testRunner()
	r.Budget = time.Nanosecond
	out := r.Run(context.Background(), inst)
	for name, findings := range map[string][]string{
		"prechecks":   out.Prechecks,
		"assumptions": out.Assumptions,
		"soft":        out.Soft,
	} {
		marker := "diagnostic incomplete: " + name + " exceeded time budget"
		found := false
		for _, f := range findings {
			if f == marker {
				found = true
			}
		}
		if !found {
			t.Errorf("%s findings miss the budget marker: %v", name, findings)
		}
	}
}

func TestCapFindings(t *testing.T) {
	var long []string
	for i := 0; i < maxFindings+5; i++ {
		long = append(long, fmt.Sprintf("finding %d", i))
	}
	capped := capFindings(long)
	if len(capped) != maxFindings+1 {
		t.Fatalf("capped length %d", len(capped))
	}
	if capped[maxFindings] != "...and 5 more" {
		t.Fatalf("tail: %q", capped[maxFindings])
	}
	short := []string{"one"}
	if got := capFindings(short); len(got) != 1 {
		t.Fatalf("short list altered: %v", got)
	}
}
