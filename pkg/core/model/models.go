// Package model defines the entity shapes shared across the registry,
// the HTTP surface and the spreadsheet mapper.
package model

import "strings"

// Member is one registrant row from the members sheet.
//
// ID is derived from the row's position within a single fetch and is NOT
// stable across writes or reordering of the sheet; it exists only so list
// UIs have a render key. Never persist it as a durable reference.
type Member struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Number    string `json:"number"`
	ParentNum string `json:"parentNum"`
	Role      string `json:"role"`
	Team      string `json:"team"`
}

// Program is one scheduled segment of a service. TimePeriod encodes the
// start and end clock times joined by the schedule package's separator,
// e.g. "7:00am ~ 7:30am". Anchors and BackupAnchors never contain two
// entries equal ignoring case.
type Program struct {
	TimePeriod    string   `json:"TimePeriod"`
	Program       string   `json:"Program"`
	Anchors       []string `json:"Anchors"`
	BackupAnchors []string `json:"BackupAnchors"`
}

// PlanCollection maps a date key ("2006-01-02") to that date's ordered
// program list. It is a derived read model; the spreadsheet is the
// durable store.
type PlanCollection map[string][]Program

// Organisation is the stored record routing an organisation to its own
// spreadsheet and registration form.
type Organisation struct {
	ID       string `json:"id" firestore:"id"`
	Name     string `json:"name" firestore:"name"`
	OwnerUID string `json:"ownerUid" firestore:"ownerUid"`
	SheetURL string `json:"sheetUrl" firestore:"sheetUrl"`
	FormURL  string `json:"formUrl" firestore:"formUrl"`
}

// ToggleAnchor adds name to anchors unless an entry equal ignoring case
// is already present, in which case that entry is removed instead. The
// input slice is not modified.
func ToggleAnchor(anchors []string, name string) []string {
	out := make([]string, 0, len(anchors)+1)
	removed := false
	for _, a := range anchors {
		if strings.EqualFold(a, name) {
			removed = true
			continue
		}
		out = append(out, a)
	}
	if !removed {
		out = append(out, name)
	}
	return out
}
