package diagnose

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/narvik-labs/therasched/core/model"
	"github.com/narvik-labs/therasched/core/timegrid"
)

// runPrechecks evaluates the cheap necessary-condition battery directly on
// the entity data. Checks are independent; each failing one appends its own
// findings. An empty result means no single precheck explains the
// infeasibility.
func runPrechecks(inst *model.Instance) []string {
	var findings []string
	findings = append(findings, checkRoomCoverage(inst)...)
	findings = append(findings, checkSpecialtyCapacity(inst)...)
	findings = append(findings, checkPatientAvailability(inst)...)
	findings = append(findings, checkFeasibleSlots(inst)...)
	findings = append(findings, checkSameDayCap(inst)...)
	findings = append(findings, checkFixedTherapists(inst)...)
	findings = append(findings, checkPinnedSlots(inst)...)
	findings = append(findings, checkAggregateSupply(inst)...)
	if len(findings) == 0 {
		findings = append(findings, "no single precheck explains the infeasibility; see the assumption and slack diagnostics")
	}
	return findings
}

// checkRoomCoverage verifies every therapy has at least one supporting room
// with available hours.
func checkRoomCoverage(inst *model.Instance) []string {
	var findings []string
	for _, therapyID := range sortedTherapyIDs(inst) {
		rooms := inst.RoomsForTherapy(therapyID)
		if len(rooms) == 0 {
			findings = append(findings, fmt.Sprintf("therapy %s has no room supporting it", therapyID))
			continue
		}
		open := false
		for _, room := range rooms {
			if room.Availability.TotalBlocks() > 0 {
				open = true
				break
			}
		}
		if !open {
			findings = append(findings, fmt.Sprintf("therapy %s has supporting rooms, but none with available hours", therapyID))
		}
	}
	return findings
}

// checkSpecialtyCapacity compares, per specialty, the weekly therapist-block
// supply against the demand implied by therapy requirements and patient
// session counts.
func checkSpecialtyCapacity(inst *model.Instance) []string {
	demand := specialtyDemand(inst)
	supply := make(map[string]int)
	for _, th := range inst.Therapists {
		blocks := th.Availability.TotalBlocks()
		for spec := range th.Specialties {
			supply[spec] += blocks
		}
	}

	var findings []string
	for _, spec := range sortedKeys(demand) {
		if supply[spec] < demand[spec] {
			findings = append(findings, fmt.Sprintf(
				"specialty %s: weekly demand of %d therapist-block(s) exceeds the %d available",
				spec, demand[spec], supply[spec]))
		}
	}
	return findings
}

// checkPatientAvailability verifies every patient has at least as many
// available blocks as weekly sessions demanded.
func checkPatientAvailability(inst *model.Instance) []string {
	var findings []string
	for _, patient := range inst.Patients {
		required := 0
		for _, count := range patient.Therapies {
			required += count
		}
		available := patient.Availability.TotalBlocks()
		for _, slots := range patient.PinnedSessions {
			for _, slot := range slots {
				if !patient.Availability.Has(slot.Day, slot.Block) {
					available++
				}
			}
		}
		if available < required {
			findings = append(findings, fmt.Sprintf(
				"patient %s needs %d weekly session(s) but is only available %d block(s)",
				patient.ID, required, available))
		}
	}
	return findings
}

// checkFeasibleSlots counts, per (patient, therapy), the grid cells where
// the patient and a supporting room overlap, with a per-day breakdown when
// the count falls short of the demand.
func checkFeasibleSlots(inst *model.Instance) []string {
	var findings []string
	for _, patient := range inst.Patients {
		for _, therapyID := range sortedKeys(patient.Therapies) {
			required := patient.Therapies[therapyID]
			if required <= 0 {
				continue
			}
			perDay := feasibleSlotsPerDay(inst, patient, therapyID)
			total := 0
			for _, n := range perDay {
				total += n
			}
			if total >= required {
				continue
			}
			parts := make([]string, 0, len(timegrid.Days()))
			for _, day := range timegrid.Days() {
				parts = append(parts, fmt.Sprintf("%s %d", day, perDay[day]))
			}
			findings = append(findings, fmt.Sprintf(
				"patient %s has only %d feasible slot(s) for therapy %s, %d needed (%s)",
				patient.ID, total, therapyID, required, strings.Join(parts, ", ")))
		}
	}
	return findings
}

// checkSameDayCap verifies a one-session-per-day therapy's demand fits the
// number of days with at least one feasible slot.
func checkSameDayCap(inst *model.Instance) []string {
	var findings []string
	for _, patient := range inst.Patients {
		for _, therapyID := range sortedKeys(patient.NoSameDayTherapies) {
			required := patient.Therapies[therapyID]
			if required <= 1 {
				continue
			}
			perDay := feasibleSlotsPerDay(inst, patient, therapyID)
			days := 0
			for _, n := range perDay {
				if n > 0 {
					days++
				}
			}
			if days < required {
				findings = append(findings, fmt.Sprintf(
					"patient %s needs %d session(s) of %s on distinct days, but only %d day(s) have feasible slots",
					patient.ID, required, therapyID, days))
			}
		}
	}
	return findings
}

// checkFixedTherapists sanity-checks every staff pin: qualification, slot
// counts, duplicates, and at least one overlapping feasible cell.
func checkFixedTherapists(inst *model.Instance) []string {
	var findings []string
	for _, patient := range inst.Patients {
		for _, therapyID := range sortedKeys(patient.FixedTherapists) {
			therapy := inst.Therapies[therapyID]
			bySpec := patient.FixedTherapists[therapyID]
			for _, spec := range sortedKeys(bySpec) {
				pins := bySpec[spec]
				if len(pins) > therapy.Requirements[spec] {
					findings = append(findings, fmt.Sprintf(
						"patient %s pins %d therapist(s) to %s/%s, which only has %d slot(s)",
						patient.ID, len(pins), therapyID, spec, therapy.Requirements[spec]))
				}
				seen := make(map[string]bool)
				for _, therapistID := range pins {
					if seen[therapistID] {
						findings = append(findings, fmt.Sprintf(
							"patient %s pins therapist %s twice for %s/%s",
							patient.ID, therapistID, therapyID, spec))
						continue
					}
					seen[therapistID] = true

					th, ok := inst.TherapistByID(therapistID)
					if !ok {
						continue
					}
					if !th.Specialties[spec] {
						findings = append(findings, fmt.Sprintf(
							"patient %s pins therapist %s to %s/%s, but %s does not hold that specialty",
							patient.ID, therapistID, therapyID, spec, therapistID))
						continue
					}
					if !hasPinOverlap(inst, patient, therapyID, th) {
						findings = append(findings, fmt.Sprintf(
							"patient %s and pinned therapist %s share no feasible slot for therapy %s",
							patient.ID, therapistID, therapyID))
					}
				}
			}
		}
	}
	return findings
}

// checkPinnedSlots verifies every pinned session cell has a supporting room
// and a qualified therapist available.
func checkPinnedSlots(inst *model.Instance) []string {
	var findings []string
	for _, patient := range inst.Patients {
		for _, therapyID := range sortedKeys(patient.PinnedSessions) {
			therapy := inst.Therapies[therapyID]
			for _, slot := range patient.PinnedSessions[therapyID] {
				cell := fmt.Sprintf("%s %s", slot.Day, inst.Grid.Range(slot.Block))
				if !roomOpenAt(inst, therapyID, slot.Day, slot.Block) {
					findings = append(findings, fmt.Sprintf(
						"patient %s pinned %s on %s, but no supporting room is available then",
						patient.ID, therapyID, cell))
				}
				for _, spec := range sortedKeys(therapy.Requirements) {
					qualified := false
					for _, th := range inst.Therapists {
						if th.Specialties[spec] && th.Availability.Has(slot.Day, slot.Block) {
							qualified = true
							break
						}
					}
					if !qualified {
						findings = append(findings, fmt.Sprintf(
							"patient %s pinned %s on %s, but no %s therapist is available then",
							patient.ID, therapyID, cell, spec))
					}
				}
			}
		}
	}
	return findings
}

// checkAggregateSupply allocates each therapist's weekly blocks across their
// specialties with a transportation LP and reports per-specialty shortfall.
// It catches joint shortages the per-specialty count misses: a therapist
// holding two specialties supplies both counts but can only work one at a
// time.
func checkAggregateSupply(inst *model.Instance) []string {
	demand := specialtyDemand(inst)
	specs := sortedKeys(demand)
	if len(specs) == 0 {
		return nil
	}
	specIdx := make(map[string]int, len(specs))
	for i, spec := range specs {
		specIdx[spec] = i
	}

	// Columns: x[t,s] allocations, then one unused-capacity slack per
	// therapist, then one shortfall per specialty.
	type alloc struct {
		therapist int
		spec      int
	}
	var allocs []alloc
	for ti, th := range inst.Therapists {
		for _, spec := range sortedKeys(th.Specialties) {
			if si, ok := specIdx[spec]; ok {
				allocs = append(allocs, alloc{ti, si})
			}
		}
	}

	nCols := len(allocs) + len(inst.Therapists) + len(specs)
	nRows := len(inst.Therapists) + len(specs)
	a := mat.NewDense(nRows, nCols, nil)
	b := make([]float64, nRows)
	c := make([]float64, nCols)

	for ai, al := range allocs {
		a.Set(al.therapist, ai, 1)
		a.Set(len(inst.Therapists)+al.spec, ai, 1)
	}
	for ti, th := range inst.Therapists {
		a.Set(ti, len(allocs)+ti, 1)
		b[ti] = float64(th.Availability.TotalBlocks())
	}
	for si, spec := range specs {
		col := len(allocs) + len(inst.Therapists) + si
		a.Set(len(inst.Therapists)+si, col, 1)
		b[len(inst.Therapists)+si] = float64(demand[spec])
		c[col] = 1
	}

	shortfall, x, err := lp.Simplex(c, a, b, 1e-9, nil)
	if err != nil || shortfall < 0.5 {
		return nil
	}

	var findings []string
	for si, spec := range specs {
		u := x[len(allocs)+len(inst.Therapists)+si]
		if u < 0.5 {
			continue
		}
		findings = append(findings, fmt.Sprintf(
			"even with ideal allocation, specialty %s is short %d therapist-block(s) weekly",
			spec, int(math.Round(u))))
	}
	return findings
}

// specialtyDemand sums, per specialty, the weekly therapist-blocks implied
// by every patient's therapy demand.
func specialtyDemand(inst *model.Instance) map[string]int {
	demand := make(map[string]int)
	for _, patient := range inst.Patients {
		for therapyID, count := range patient.Therapies {
			if count <= 0 {
				continue
			}
			for spec, per := range inst.Therapies[therapyID].Requirements {
				demand[spec] += count * per
			}
		}
	}
	return demand
}

// feasibleSlotsPerDay counts, per day, the cells where the patient, a
// supporting room, and enough qualified therapists per required specialty
// are all available at once. Pinned cells count as available to the
// patient.
func feasibleSlotsPerDay(inst *model.Instance, patient model.Patient, therapyID string) map[timegrid.Day]int {
	pinned := make(map[timegrid.Day]map[int]bool)
	for _, slot := range patient.PinnedSessions[therapyID] {
		if pinned[slot.Day] == nil {
			pinned[slot.Day] = make(map[int]bool)
		}
		pinned[slot.Day][slot.Block] = true
	}
	therapy := inst.Therapies[therapyID]

	perDay := make(map[timegrid.Day]int)
	for _, day := range timegrid.Days() {
		for _, block := range inst.Grid.Blocks() {
			if !patient.Availability.Has(day, block) && !pinned[day][block] {
				continue
			}
			if !roomOpenAt(inst, therapyID, day, block) || !staffCoverableAt(inst, therapy, day, block) {
				continue
			}
			perDay[day]++
		}
	}
	return perDay
}

func roomOpenAt(inst *model.Instance, therapyID string, day timegrid.Day, block int) bool {
	for _, room := range inst.RoomsForTherapy(therapyID) {
		if room.Availability.Has(day, block) {
			return true
		}
	}
	return false
}

// staffCoverableAt reports whether every required specialty has enough
// qualified therapists available in the cell. Necessary, not sufficient: a
// therapist holding two required specialties is counted for both.
func staffCoverableAt(inst *model.Instance, therapy model.Therapy, day timegrid.Day, block int) bool {
	for spec, required := range therapy.Requirements {
		n := 0
		for _, th := range inst.Therapists {
			if th.Specialties[spec] && th.Availability.Has(day, block) {
				n++
			}
		}
		if n < required {
			return false
		}
	}
	return true
}

// hasPinOverlap reports whether patient, pinned therapist, and a supporting
// room share at least one grid cell.
func hasPinOverlap(inst *model.Instance, patient model.Patient, therapyID string, th model.Therapist) bool {
	for _, day := range timegrid.Days() {
		for _, block := range inst.Grid.Blocks() {
			if !patient.Availability.Has(day, block) || !th.Availability.Has(day, block) {
				continue
			}
			if roomOpenAt(inst, therapyID, day, block) {
				return true
			}
		}
	}
	return false
}

func sortedTherapyIDs(inst *model.Instance) []string {
	return sortedKeys(inst.Therapies)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
