// Package sync defines the shared-document model: the fixed key space,
// the merge policy attached to each key, and the document envelope that
// travels between clients and the server.
package sync

// Key identifies one logical shared document. Only keys in the allow-list
// below are ever persisted or broadcast.
type Key string

const (
	KeyAnnouncements   Key = "announcements"
	KeyScheduleBlocks  Key = "schedule_blocks"
	KeyShiftTemplates  Key = "shift_templates"
	KeyShiftSwaps      Key = "shift_swaps"
	KeyAbsences        Key = "absences"
	KeyAttendanceMarks Key = "attendance_marks"
	KeyDutyRoster      Key = "duty_roster"
	KeyStandbyList     Key = "standby_list"
	KeyReminders       Key = "reminders"
	KeyChecklists      Key = "checklists"
	KeyThemeSettings   Key = "theme_settings"
	KeySiteSettings    Key = "site_settings"
	KeyTeamMembers     Key = "team_members"
	KeyLocations       Key = "locations"
	KeyUmsCases        Key = "ums_cases"
	KeyUmsNotes        Key = "ums_notes"
	KeyMailboxShifts   Key = "mailbox_shifts"
	KeyMailboxRules    Key = "mailbox_rules"
	KeyHandoverNotes   Key = "handover_notes"
	KeyBroadcastFlags  Key = "broadcast_flags"
)

// Policy selects the merge algorithm for a key's value shape.
type Policy uint8

const (
	// PolicyScalar replaces the stored value verbatim.
	PolicyScalar Policy = iota
	// PolicyArray merges lists of identifiable items with tombstones.
	PolicyArray
	// PolicyObject shallow-merges flat key maps, incoming keys win.
	PolicyObject
	// PolicyTable merges the nested per-shift mailbox structure.
	PolicyTable
)

func (p Policy) String() string {
	switch p {
	case PolicyArray:
		return "array"
	case PolicyObject:
		return "object"
	case PolicyTable:
		return "table"
	default:
		return "scalar"
	}
}

// policies is the static key → merge policy table. Merge dispatch is a
// switch over this closed set, never runtime type sniffing.
var policies = map[Key]Policy{
	KeyAnnouncements:   PolicyArray,
	KeyScheduleBlocks:  PolicyArray,
	KeyShiftTemplates:  PolicyArray,
	KeyShiftSwaps:      PolicyArray,
	KeyAbsences:        PolicyArray,
	KeyAttendanceMarks: PolicyArray,
	KeyDutyRoster:      PolicyObject,
	KeyStandbyList:     PolicyArray,
	KeyReminders:       PolicyArray,
	KeyChecklists:      PolicyArray,
	KeyThemeSettings:   PolicyObject,
	KeySiteSettings:    PolicyObject,
	KeyTeamMembers:     PolicyArray,
	KeyLocations:       PolicyArray,
	KeyUmsCases:        PolicyArray,
	KeyUmsNotes:        PolicyArray,
	KeyMailboxShifts:   PolicyTable,
	KeyMailboxRules:    PolicyArray,
	KeyHandoverNotes:   PolicyArray,
	KeyBroadcastFlags:  PolicyObject,
}

// collaborative is the subset of keys a restricted (member) role may write.
// Privileged roles may write any allow-listed key.
var collaborative = map[Key]bool{
	KeyShiftSwaps:      true,
	KeyAttendanceMarks: true,
	KeyStandbyList:     true,
	KeyChecklists:      true,
	KeyUmsCases:        true,
	KeyUmsNotes:        true,
	KeyMailboxShifts:   true,
	KeyHandoverNotes:   true,
}

// Valid reports whether k is in the allow-list.
func Valid(k Key) bool {
	_, ok := policies[k]
	return ok
}

// PolicyFor returns the merge policy for k. Unknown keys fall back to
// PolicyScalar; callers must check Valid first.
func PolicyFor(k Key) Policy {
	return policies[k]
}

// Collaborative reports whether k is writable by the restricted role.
func Collaborative(k Key) bool {
	return collaborative[k]
}

// Keys returns a copy of the allow-list.
func Keys() []Key {
	out := make([]Key, 0, len(policies))
	for k := range policies {
		out = append(out, k)
	}
	return out
}
