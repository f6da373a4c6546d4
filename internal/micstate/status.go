package micstate

type Status int

const (
	OffMic Status = iota
	Requesting
	OnMic
	Muted
)

var statusNames = map[Status]string{
	OffMic:     "off_mic",
	Requesting: "requesting",
	OnMic:      "on_mic",
	Muted:      "muted",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return statusNames[OffMic]
}

// ParseStatus maps an attribute value to a Status. Unknown or empty values are
// OffMic, which is also the state of a freshly joined participant.
func ParseStatus(value string) Status {
	for status, name := range statusNames {
		if name == value {
			return status
		}
	}
	return OffMic
}

// HoldsSlot reports whether the status occupies one unit of room capacity.
// Muted keeps its slot, only the publish grant is withdrawn.
func (s Status) HoldsSlot() bool {
	return s == OnMic || s == Muted
}

// GrantsPublish reports whether the status is expected to carry canPublish.
func (s Status) GrantsPublish() bool {
	return s == OnMic
}

type Display int

const (
	Hidden Display = iota
	Visible
)

func (d Display) String() string {
	if d == Visible {
		return "visible"
	}
	return "hidden"
}

func ParseDisplay(value string) Display {
	if value == "visible" {
		return Visible
	}
	return Hidden
}

// DisplayFor is the display status a participant must carry in status s.
func DisplayFor(s Status) Display {
	if s == OffMic {
		return Hidden
	}
	return Visible
}
