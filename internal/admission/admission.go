package admission

import (
	"fmt"

	"github.com/romashorodok/conferencing-platform/internal/micstate"
)

type Reason string

const (
	ReasonNone          Reason = ""
	ReasonDisabled      Reason = "disabled"
	ReasonRole          Reason = "role"
	ReasonNoHost        Reason = "no_host"
	ReasonCapacity      Reason = "capacity"
	ReasonDuplicate     Reason = "duplicate"
	ReasonNotPresent    Reason = "not_present"
	ReasonNotRequesting Reason = "not_requesting"
)

// Decision is the outcome of one admission evaluation. Occupancy and
// MaxMicSlots are the values the decision was taken against.
type Decision struct {
	Allow       bool
	Reason      Reason
	Occupancy   int
	MaxMicSlots int
}

// Message is the notice shown to the user for a rejected decision.
func (d Decision) Message() string {
	switch d.Reason {
	case ReasonNone:
		return ""
	case ReasonDisabled:
		return "您已被禁止上麦"
	case ReasonRole:
		return "当前身份无法上麦"
	case ReasonNoHost:
		return "主持人不在房间，暂时无法申请上麦"
	case ReasonCapacity:
		return fmt.Sprintf("麦位已满 (%d/%d)", d.Occupancy, d.MaxMicSlots)
	case ReasonDuplicate:
		return "已在申请中或已在麦上"
	case ReasonNotPresent:
		return "该用户已离开房间"
	case ReasonNotRequesting:
		return "该用户没有申请上麦"
	}
	return string(d.Reason)
}

// Err returns nil for an allowed decision and a *Rejection otherwise.
func (d Decision) Err() error {
	if d.Allow {
		return nil
	}
	return &Rejection{Decision: d}
}

// Roster is the live participant set an evaluation runs against.
type Roster []micstate.Snapshot

// Occupancy counts the participants holding a mic slot.
func (r Roster) Occupancy() int {
	occupancy := 0
	for _, p := range r {
		if p.Status.HoldsSlot() {
			occupancy++
		}
	}
	return occupancy
}

// HostPresent reports whether a Host or Admin other than exclude is in the room.
func (r Roster) HostPresent(exclude string) bool {
	for _, p := range r {
		if p.Identity != exclude && p.Role.Privileged() {
			return true
		}
	}
	return false
}

func (r Roster) Find(identity string) (micstate.Snapshot, bool) {
	for _, p := range r {
		if p.Identity == identity {
			return p, true
		}
	}
	return micstate.Snapshot{}, false
}

// CanAdmit evaluates a self request of candidate. Rules run in order and the
// first failing one wins. Capacity is derived from roster on every call and
// nothing is reserved, so two requests racing at the boundary may both pass.
func CanAdmit(candidate micstate.Snapshot, policy Policy, roster Roster) Decision {
	decision := Decision{
		Occupancy:   roster.Occupancy(),
		MaxMicSlots: policy.MaxMicSlots,
	}

	switch {
	case candidate.Disabled:
		decision.Reason = ReasonDisabled
	case candidate.Role != micstate.Member:
		decision.Reason = ReasonRole
	case !roster.HostPresent(candidate.Identity):
		decision.Reason = ReasonNoHost
	case decision.Occupancy >= policy.MaxMicSlots:
		decision.Reason = ReasonCapacity
	case candidate.Status != micstate.OffMic:
		decision.Reason = ReasonDuplicate
	default:
		decision.Allow = true
	}
	return decision
}

// CanApprove evaluates a host approval of target. Only members go on the mic,
// whatever their attributes claim. Approving a participant that already holds a
// slot is allowed without a capacity check.
func CanApprove(target string, policy Policy, roster Roster) Decision {
	decision := Decision{
		Occupancy:   roster.Occupancy(),
		MaxMicSlots: policy.MaxMicSlots,
	}

	participant, found := roster.Find(target)
	switch {
	case !found:
		decision.Reason = ReasonNotPresent
	case participant.Disabled:
		decision.Reason = ReasonDisabled
	case participant.Role != micstate.Member:
		decision.Reason = ReasonRole
	case participant.Status == micstate.OnMic:
		decision.Allow = true
	case participant.Status != micstate.Requesting:
		decision.Reason = ReasonNotRequesting
	case decision.Occupancy >= policy.MaxMicSlots:
		decision.Reason = ReasonCapacity
	default:
		decision.Allow = true
	}
	return decision
}
