package scheduler

import (
	"sort"

	"github.com/narvik-labs/therasched/core/model"
	"github.com/narvik-labs/therasched/core/problem"
	"github.com/narvik-labs/therasched/core/solver"
)

// extractSessions reconstructs the session records of a satisfying
// assignment. It is a pure read of the solver result; a session appears
// when its variable is set and at least one patient attends.
func extractSessions(inst *model.Instance, built *problem.Built, res solver.Result) []SessionRecord {
	keys := make([]problem.SessionKey, 0, len(built.Sessions))
	for sk := range built.Sessions {
		keys = append(keys, sk)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Block != b.Block {
			return a.Block < b.Block
		}
		if a.Room != b.Room {
			return a.Room < b.Room
		}
		return a.Therapy < b.Therapy
	})

	out := []SessionRecord{}
	for _, sk := range keys {
		if !res.BoolValue(built.Sessions[sk]) {
			continue
		}
		var patients []string
		for ak, av := range built.Attends {
			if ak.Therapy == sk.Therapy && ak.Room == sk.Room && ak.Day == sk.Day && ak.Block == sk.Block && res.BoolValue(av) {
				patients = append(patients, ak.Patient)
			}
		}
		if len(patients) == 0 {
			continue
		}
		sort.Strings(patients)

		var staff []StaffRecord
		for stk, stv := range built.Staff {
			if stk.Therapy == sk.Therapy && stk.Room == sk.Room && stk.Day == sk.Day && stk.Block == sk.Block && res.BoolValue(stv) {
				staff = append(staff, StaffRecord{TherapistID: stk.Therapist, Specialty: stk.Specialty})
			}
		}
		sort.Slice(staff, func(i, j int) bool {
			if staff[i].Specialty != staff[j].Specialty {
				return staff[i].Specialty < staff[j].Specialty
			}
			return staff[i].TherapistID < staff[j].TherapistID
		})

		start, end := inst.Grid.StartEnd(sk.Block)
		out = append(out, SessionRecord{
			ID:         sk.Room + "-" + sk.Therapy + "-" + sk.Day.String() + "-" + start,
			Day:        sk.Day.String(),
			Start:      start,
			End:        end,
			RoomID:     sk.Room,
			TherapyID:  sk.Therapy,
			PatientIDs: patients,
			Staff:      staff,
		})
	}
	return out
}
