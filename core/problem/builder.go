package problem

import (
	"sort"

	"github.com/narvik-labs/therasched/core/model"
	"github.com/narvik-labs/therasched/core/solver"
	"github.com/narvik-labs/therasched/core/timegrid"
)

type patientTherapy struct {
	patient string
	therapy string
}

type patientDay struct {
	patient string
	day     timegrid.Day
}

type patientDayBlock struct {
	patient string
	day     timegrid.Day
	block   int
}

type patientTherapyDay struct {
	patient string
	therapy string
	day     timegrid.Day
}

type sessionSpec struct {
	session   SessionKey
	specialty string
}

type entityDayBlock struct {
	id    string
	day   timegrid.Day
	block int
}

type builder struct {
	m    solver.Model
	inst *model.Instance
	mode Mode
	out  *Built

	sessionOrder []SessionKey

	attendsBySession     map[SessionKey][]solver.Var
	attendKeysByPT       map[patientTherapy][]AttendKey
	attendsByPDB         map[patientDayBlock][]solver.Var
	attendsByPTD         map[patientTherapyDay][]solver.Var
	attendsByPD          map[patientDay][]solver.Var
	staffBySessionSpec   map[sessionSpec][]solver.Var
	staffByTherapistCell map[entityDayBlock][]solver.Var
	sessionsByRoomCell   map[entityDayBlock][]solver.Var
}

// Build populates the model with all decision variables and constraints for
// the given mode. The objective is encoded separately; see EncodeObjective
// and EncodeSlackObjective.
func Build(m solver.Model, inst *model.Instance, mode Mode) (*Built, error) {
	b := &builder{
		m:    m,
		inst: inst,
		mode: mode,
		out: &Built{
			Mode:           mode,
			Sessions:       make(map[SessionKey]solver.Var),
			Attends:        make(map[AttendKey]solver.Var),
			Staff:          make(map[StaffKey]solver.Var),
			Labels:         make(map[string]solver.Var),
			PatientDayUsed: make(map[PatientDayKey]solver.Var),
		},
		attendsBySession:     make(map[SessionKey][]solver.Var),
		attendKeysByPT:       make(map[patientTherapy][]AttendKey),
		attendsByPDB:         make(map[patientDayBlock][]solver.Var),
		attendsByPTD:         make(map[patientTherapyDay][]solver.Var),
		attendsByPD:          make(map[patientDay][]solver.Var),
		staffBySessionSpec:   make(map[sessionSpec][]solver.Var),
		staffByTherapistCell: make(map[entityDayBlock][]solver.Var),
		sessionsByRoomCell:   make(map[entityDayBlock][]solver.Var),
	}

	b.buildSessionAndStaffVars()
	if err := b.buildAttendVars(); err != nil {
		return nil, err
	}

	b.sessionCapacity()
	b.staffing()
	if err := b.coverage(); err != nil {
		return nil, err
	}
	b.pinnedSessions()
	if err := b.fixedTherapists(); err != nil {
		return nil, err
	}
	b.noSameDay()
	b.patientNonOverlap()
	b.continuity()
	b.therapistNonOverlap()
	b.roomNonOverlap()

	b.out.attendsByPD = b.attendsByPD
	b.out.staffByTherapistCell = b.staffByTherapistCell
	return b.out, nil
}

// buildSessionAndStaffVars instantiates one session variable per compatible
// (therapy, room, day, block) combination and the staffing variables of
// every qualified, available therapist. Incompatible combinations never
// reach the solver.
func (b *builder) buildSessionAndStaffVars() {
	for _, therapyID := range b.therapyIDs() {
		therapy := b.inst.Therapies[therapyID]
		specialties := sortedKeys(therapy.Requirements)
		for _, room := range b.inst.Rooms {
			if !room.Therapies[therapyID] {
				continue
			}
			for _, day := range timegrid.Days() {
				for _, block := range b.inst.Grid.Blocks() {
					if !room.Availability.Has(day, block) {
						continue
					}
					sk := SessionKey{Therapy: therapyID, Room: room.ID, Day: day, Block: block}
					sv := b.m.NewBoolVar(labelf("s_%s_%s_%s_%d", therapyID, room.ID, day, block))
					b.out.Sessions[sk] = sv
					b.sessionOrder = append(b.sessionOrder, sk)
					b.sessionsByRoomCell[entityDayBlock{room.ID, day, block}] = append(
						b.sessionsByRoomCell[entityDayBlock{room.ID, day, block}], sv)

					for _, spec := range specialties {
						for _, th := range b.inst.Therapists {
							if !th.Specialties[spec] || !th.Availability.Has(day, block) {
								continue
							}
							stk := StaffKey{Therapist: th.ID, Therapy: therapyID, Room: room.ID, Day: day, Block: block, Specialty: spec}
							stv := b.m.NewBoolVar(labelf("t_%s_%s_%s_%s_%d_%s", th.ID, therapyID, room.ID, day, block, spec))
							b.out.Staff[stk] = stv
							// Staffing only exists on an open session.
							b.m.AddLinear([]solver.Term{{Var: stv, Coef: 1}, {Var: sv, Coef: -1}}, solver.NoLower, 0)
							b.staffBySessionSpec[sessionSpec{sk, spec}] = append(b.staffBySessionSpec[sessionSpec{sk, spec}], stv)
							b.staffByTherapistCell[entityDayBlock{th.ID, day, block}] = append(
								b.staffByTherapistCell[entityDayBlock{th.ID, day, block}], stv)
						}
					}
				}
			}
		}
	}
}

// buildAttendVars creates one assignment variable per feasible
// (patient, therapy, room, day, block). Pinned blocks extend the patient's
// availability for the pinned therapy.
func (b *builder) buildAttendVars() error {
	for _, patient := range b.inst.Patients {
		pinnedBlocks := make(map[string]map[timegrid.Day]map[int]bool)
		for therapyID, slots := range patient.PinnedSessions {
			byDay := make(map[timegrid.Day]map[int]bool)
			for _, slot := range slots {
				if byDay[slot.Day] == nil {
					byDay[slot.Day] = make(map[int]bool)
				}
				byDay[slot.Day][slot.Block] = true
			}
			pinnedBlocks[therapyID] = byDay
		}

		for _, therapyID := range sortedKeys(patient.Therapies) {
			if patient.Therapies[therapyID] <= 0 {
				continue
			}
			for _, day := range timegrid.Days() {
				for _, block := range b.inst.Grid.Blocks() {
					if !patient.Availability.Has(day, block) && !pinnedBlocks[therapyID][day][block] {
						continue
					}
					for _, room := range b.inst.Rooms {
						if !room.Therapies[therapyID] {
							continue
						}
						sk := SessionKey{Therapy: therapyID, Room: room.ID, Day: day, Block: block}
						sv, ok := b.out.Sessions[sk]
						if !ok {
							// Room unavailable in this block; no slot.
							continue
						}
						ak := AttendKey{Patient: patient.ID, Therapy: therapyID, Room: room.ID, Day: day, Block: block}
						if _, dup := b.out.Attends[ak]; dup {
							return buildErrf("duplicate assignment variable for %+v", ak)
						}
						av := b.m.NewBoolVar(labelf("x_%s_%s_%s_%s_%d", patient.ID, therapyID, room.ID, day, block))
						b.out.Attends[ak] = av
						// Attendance implies an open session.
						b.m.AddLinear([]solver.Term{{Var: av, Coef: 1}, {Var: sv, Coef: -1}}, solver.NoLower, 0)

						b.attendsBySession[sk] = append(b.attendsBySession[sk], av)
						pt := patientTherapy{patient.ID, therapyID}
						b.attendKeysByPT[pt] = append(b.attendKeysByPT[pt], ak)
						b.attendsByPDB[patientDayBlock{patient.ID, day, block}] = append(
							b.attendsByPDB[patientDayBlock{patient.ID, day, block}], av)
						b.attendsByPTD[patientTherapyDay{patient.ID, therapyID, day}] = append(
							b.attendsByPTD[patientTherapyDay{patient.ID, therapyID, day}], av)
						b.attendsByPD[patientDay{patient.ID, day}] = append(
							b.attendsByPD[patientDay{patient.ID, day}], av)
					}
				}
			}
		}
	}
	return nil
}

// add installs a constraint, guarded by the group's assumption literal in
// ModeAssumption.
func (b *builder) add(label string, terms []solver.Term, lo, hi int) {
	if b.mode == ModeAssumption {
		b.m.AddLinearIf(b.guard(label), terms, lo, hi)
		return
	}
	b.m.AddLinear(terms, lo, hi)
}

func (b *builder) guard(label string) solver.Var {
	if g, ok := b.out.Labels[label]; ok {
		return g
	}
	g := b.m.NewBoolVar("assume_" + label)
	b.out.Labels[label] = g
	b.out.LabelOrder = append(b.out.LabelOrder, label)
	return g
}

func (b *builder) slack(format string, vars ...solver.Var) {
	b.out.Slacks = append(b.out.Slacks, Slack{Vars: vars, Format: format})
}

// sessionCapacity bounds the number of attendees of every session: at most
// min(maxPatients, room capacity), at least minPatients when open. The lower
// bound also closes sessions nobody attends.
func (b *builder) sessionCapacity() {
	roomsByID := make(map[string]model.Room, len(b.inst.Rooms))
	for _, r := range b.inst.Rooms {
		roomsByID[r.ID] = r
	}
	for _, sk := range b.sessionOrder {
		sv := b.out.Sessions[sk]
		therapy := b.inst.Therapies[sk.Therapy]
		maxAllowed := therapy.MaxPatients
		if cap := roomsByID[sk.Room].Capacity; cap < maxAllowed {
			maxAllowed = cap
		}
		attends := b.attendsBySession[sk]
		terms := make([]solver.Term, 0, len(attends)+1)
		for _, av := range attends {
			terms = append(terms, solver.Term{Var: av, Coef: 1})
		}

		if b.mode == ModeSoft {
			slackMax := b.m.NewIntVar(0, maxAllowed, labelf("slack_max_%s_%s_%s_%d", sk.Therapy, sk.Room, sk.Day, sk.Block))
			slackMin := b.m.NewIntVar(0, therapy.MinPatients, labelf("slack_min_%s_%s_%s_%d", sk.Therapy, sk.Room, sk.Day, sk.Block))
			rng := b.inst.Grid.Range(sk.Block)
			b.slack(labelf("session %s in room %s %s %s over capacity by %%d patient(s)", sk.Therapy, sk.Room, sk.Day, rng), slackMax)
			b.slack(labelf("session %s in room %s %s %s short %%d patient(s) vs minimum", sk.Therapy, sk.Room, sk.Day, rng), slackMin)
			// sum(attends) - slackMax <= maxAllowed
			b.m.AddLinear(append(append([]solver.Term{}, terms...), solver.Term{Var: slackMax, Coef: -1}), solver.NoLower, maxAllowed)
			// sum(attends) + slackMin - minPatients*session >= 0
			b.m.AddLinear(append(append([]solver.Term{}, terms...),
				solver.Term{Var: slackMin, Coef: 1},
				solver.Term{Var: sv, Coef: -therapy.MinPatients}), 0, solver.NoUpper)
			continue
		}

		label := labelf("capacity:therapy %s", sk.Therapy)
		b.add(label, terms, solver.NoLower, maxAllowed)
		b.add(label, append(append([]solver.Term{}, terms...), solver.Term{Var: sv, Coef: -therapy.MinPatients}), 0, solver.NoUpper)
	}
}

// staffing requires exactly requirements[specialty] distinct therapists per
// specialty on every open session.
func (b *builder) staffing() {
	for _, sk := range b.sessionOrder {
		sv := b.out.Sessions[sk]
		therapy := b.inst.Therapies[sk.Therapy]
		for _, spec := range sortedKeys(therapy.Requirements) {
			required := therapy.Requirements[spec]
			staff := b.staffBySessionSpec[sessionSpec{sk, spec}]
			terms := make([]solver.Term, 0, len(staff)+1)
			for _, stv := range staff {
				terms = append(terms, solver.Term{Var: stv, Coef: 1})
			}

			if b.mode == ModeSoft {
				slack := b.m.NewIntVar(0, required, labelf("slack_staff_%s_%s_%s_%d_%s", sk.Therapy, sk.Room, sk.Day, sk.Block, spec))
				b.slack(labelf("need +%%d %s staff for therapy %s in room %s %s %s", spec, sk.Therapy, sk.Room, sk.Day, b.inst.Grid.Range(sk.Block)), slack)
				// sum(staff) + slack >= required*session
				b.m.AddLinear(append(append([]solver.Term{}, terms...),
					solver.Term{Var: slack, Coef: 1},
					solver.Term{Var: sv, Coef: -required}), 0, solver.NoUpper)
				continue
			}

			label := labelf("staffing:therapy %s:specialty %s", sk.Therapy, spec)
			if len(staff) == 0 {
				// No qualified therapist ever available here; the session
				// cannot open.
				b.add(label, []solver.Term{{Var: sv, Coef: 1}}, 0, 0)
				continue
			}
			b.add(label, append(append([]solver.Term{}, terms...), solver.Term{Var: sv, Coef: -required}), 0, 0)
		}
	}
}

// coverage pins each (patient, therapy) to exactly the demanded number of
// weekly sessions. Equality: under-scheduling is as invalid as
// over-scheduling.
func (b *builder) coverage() error {
	for _, patient := range b.inst.Patients {
		for _, therapyID := range sortedKeys(patient.Therapies) {
			required := patient.Therapies[therapyID]
			if required <= 0 {
				continue
			}
			keys := b.attendKeysByPT[patientTherapy{patient.ID, therapyID}]
			terms := make([]solver.Term, 0, len(keys)+1)
			for _, ak := range keys {
				av, ok := b.out.Attends[ak]
				if !ok {
					return buildErrf("missing assignment variable for %+v", ak)
				}
				terms = append(terms, solver.Term{Var: av, Coef: 1})
			}

			if b.mode == ModeSoft {
				slack := b.m.NewIntVar(0, required, labelf("slack_req_%s_%s", patient.ID, therapyID))
				b.slack(labelf("patient %s missing %%d session(s) of therapy %s", patient.ID, therapyID), slack)
				b.m.AddLinear(append(terms, solver.Term{Var: slack, Coef: 1}), required, required)
				continue
			}
			b.add(labelf("coverage:patient %s:therapy %s", patient.ID, therapyID), terms, required, required)
		}
	}
	return nil
}

// pinnedSessions forces one attended session at every pinned grid cell.
func (b *builder) pinnedSessions() {
	for _, patient := range b.inst.Patients {
		for _, therapyID := range sortedKeys(patient.PinnedSessions) {
			for _, slot := range patient.PinnedSessions[therapyID] {
				var terms []solver.Term
				for _, ak := range b.attendKeysByPT[patientTherapy{patient.ID, therapyID}] {
					if ak.Day == slot.Day && ak.Block == slot.Block {
						terms = append(terms, solver.Term{Var: b.out.Attends[ak], Coef: 1})
					}
				}
				rng := b.inst.Grid.Range(slot.Block)
				if b.mode == ModeSoft {
					slack := b.m.NewBoolVar(labelf("slack_pin_%s_%s_%s_%d", patient.ID, therapyID, slot.Day, slot.Block))
					b.slack(labelf("patient %s cannot keep pinned %s on %s %s (%%d slot(s))", patient.ID, therapyID, slot.Day, rng), slack)
					b.m.AddLinear(append(terms, solver.Term{Var: slack, Coef: 1}), 1, 1)
					continue
				}
				b.add(labelf("pinned:patient %s:therapy %s:%s %s", patient.ID, therapyID, slot.Day, rng), terms, 1, 1)
			}
		}
	}
}

// fixedTherapists forces pinned staff onto every session the patient attends
// for the pinned therapy and specialty slot.
func (b *builder) fixedTherapists() error {
	for _, patient := range b.inst.Patients {
		for _, therapyID := range sortedKeys(patient.FixedTherapists) {
			bySpec := patient.FixedTherapists[therapyID]
			for _, spec := range sortedKeys(bySpec) {
				for _, therapistID := range bySpec[spec] {
					var slacks []solver.Var
					for _, ak := range b.attendKeysByPT[patientTherapy{patient.ID, therapyID}] {
						av, ok := b.out.Attends[ak]
						if !ok {
							return buildErrf("missing assignment variable for %+v", ak)
						}
						stv, hasStaff := b.out.Staff[StaffKey{
							Therapist: therapistID, Therapy: therapyID, Room: ak.Room,
							Day: ak.Day, Block: ak.Block, Specialty: spec,
						}]

						if b.mode == ModeSoft {
							slack := b.m.NewBoolVar(labelf("slack_fixed_%s_%s_%s_%s_%s_%s_%d",
								patient.ID, therapyID, spec, therapistID, ak.Room, ak.Day, ak.Block))
							slacks = append(slacks, slack)
							terms := []solver.Term{{Var: av, Coef: 1}, {Var: slack, Coef: -1}}
							if hasStaff {
								terms = append(terms, solver.Term{Var: stv, Coef: -1})
							}
							b.m.AddLinear(terms, solver.NoLower, 0)
							continue
						}

						label := labelf("fixed:patient %s:therapy %s:specialty %s:therapist %s",
							patient.ID, therapyID, spec, therapistID)
						if hasStaff {
							b.add(label, []solver.Term{{Var: av, Coef: 1}, {Var: stv, Coef: -1}}, solver.NoLower, 0)
						} else {
							// The pinned therapist can never staff this slot.
							b.add(label, []solver.Term{{Var: av, Coef: 1}}, 0, 0)
						}
					}
					if b.mode == ModeSoft && len(slacks) > 0 {
						b.slack(labelf("patient %s needs therapist %s for %s (%s), but %%d session(s) violate that",
							patient.ID, therapistID, therapyID, spec), slacks...)
					}
				}
			}
		}
	}
	return nil
}

// noSameDay limits listed therapies to one session per patient per day.
func (b *builder) noSameDay() {
	for _, patient := range b.inst.Patients {
		for _, therapyID := range sortedKeys(patient.NoSameDayTherapies) {
			for _, day := range timegrid.Days() {
				vars := b.attendsByPTD[patientTherapyDay{patient.ID, therapyID, day}]
				if len(vars) == 0 {
					continue
				}
				terms := make([]solver.Term, 0, len(vars)+1)
				for _, av := range vars {
					terms = append(terms, solver.Term{Var: av, Coef: 1})
				}
				if b.mode == ModeSoft {
					slack := b.m.NewIntVar(0, len(vars), labelf("slack_sameday_%s_%s_%s", patient.ID, therapyID, day))
					b.slack(labelf("patient %s needs %%d extra %s session(s) on %s despite the same-day rule", patient.ID, therapyID, day), slack)
					b.m.AddLinear(append(terms, solver.Term{Var: slack, Coef: -1}), solver.NoLower, 1)
					continue
				}
				b.add(labelf("sameday:patient %s:therapy %s", patient.ID, therapyID), terms, solver.NoLower, 1)
			}
		}
	}
}

// patientNonOverlap allows at most one session per patient per block.
func (b *builder) patientNonOverlap() {
	for _, patient := range b.inst.Patients {
		for _, day := range timegrid.Days() {
			for _, block := range b.inst.Grid.Blocks() {
				vars := b.attendsByPDB[patientDayBlock{patient.ID, day, block}]
				if len(vars) < 2 {
					continue
				}
				terms := make([]solver.Term, 0, len(vars))
				for _, av := range vars {
					terms = append(terms, solver.Term{Var: av, Coef: 1})
				}
				b.add(labelf("nonoverlap:patient %s", patient.ID), terms, solver.NoLower, 1)
			}
		}
	}
}

// continuity enforces the sliding window limit: within every run of
// maxContinuousHours+1 consecutive blocks, at most maxContinuousHours are
// busy. Lunch resets the run.
func (b *builder) continuity() {
	for _, patient := range b.inst.Patients {
		limit := patient.MaxContinuousHours
		window := limit + 1
		for _, day := range timegrid.Days() {
			for _, segment := range b.inst.Grid.Segments() {
				if len(segment) < window {
					continue
				}
				for start := 0; start+window <= len(segment); start++ {
					var terms []solver.Term
					for _, block := range segment[start : start+window] {
						for _, av := range b.attendsByPDB[patientDayBlock{patient.ID, day, block}] {
							terms = append(terms, solver.Term{Var: av, Coef: 1})
						}
					}
					if len(terms) <= limit {
						continue
					}
					b.add(labelf("continuity:patient %s", patient.ID), terms, solver.NoLower, limit)
				}
			}
		}
	}
}

// therapistNonOverlap allows at most one staffing slot per therapist per
// block, across sessions and specialties.
func (b *builder) therapistNonOverlap() {
	for _, th := range b.inst.Therapists {
		for _, day := range timegrid.Days() {
			for _, block := range b.inst.Grid.Blocks() {
				vars := b.staffByTherapistCell[entityDayBlock{th.ID, day, block}]
				if len(vars) < 2 {
					continue
				}
				terms := make([]solver.Term, 0, len(vars))
				for _, stv := range vars {
					terms = append(terms, solver.Term{Var: stv, Coef: 1})
				}
				b.add(labelf("nonoverlap:therapist %s", th.ID), terms, solver.NoLower, 1)
			}
		}
	}
}

// roomNonOverlap allows at most one open session per room per block.
func (b *builder) roomNonOverlap() {
	for _, room := range b.inst.Rooms {
		for _, day := range timegrid.Days() {
			for _, block := range b.inst.Grid.Blocks() {
				vars := b.sessionsByRoomCell[entityDayBlock{room.ID, day, block}]
				if len(vars) < 2 {
					continue
				}
				terms := make([]solver.Term, 0, len(vars))
				for _, sv := range vars {
					terms = append(terms, solver.Term{Var: sv, Coef: 1})
				}
				b.add(labelf("nonoverlap:room %s", room.ID), terms, solver.NoLower, 1)
			}
		}
	}
}

func (b *builder) therapyIDs() []string {
	return sortedKeys(b.inst.Therapies)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
