package models

import "strings"

// UpdateStatus is the classifier's verdict on one observed content item,
// a bitflag so callers can test group membership with a single AND.
type UpdateStatus uint8

const (
	// StatusNewWithChild marks a first sighting that already carries
	// unseen children (replies or sub-replies).
	StatusNewWithChild UpdateStatus = 1 << iota
	// StatusNew marks a first sighting with no unseen children.
	StatusNew
	// StatusUpdated marks a repeat sighting whose update markers moved.
	StatusUpdated
	// StatusUnchanged marks a repeat sighting with identical markers.
	StatusUnchanged
)

// Derived groups used by the spider's pagination decisions.
const (
	StatusIsNew      = StatusNew | StatusNewWithChild
	StatusIsStable   = StatusUnchanged | StatusNew
	StatusHasChanges = StatusUpdated | StatusNewWithChild
)

func (s UpdateStatus) String() string {
	names := []struct {
		bit  UpdateStatus
		name string
	}{
		{StatusNewWithChild, "new_with_child"},
		{StatusNew, "new"},
		{StatusUpdated, "updated"},
		{StatusUnchanged, "unchanged"},
	}
	var parts []string
	for _, n := range names {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
