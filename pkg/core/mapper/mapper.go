// Package mapper converts between the raw tabular rows used by the
// spreadsheet and the structured entities in model. The join/split of
// anchor lists onto a single cell lives here and nowhere else.
package mapper

import (
	"strconv"
	"strings"

	"github.com/citylight-dev/congregate/pkg/core/model"
)

// anchorSeparator joins anchor names into one spreadsheet cell. Anchor
// names containing this exact substring will not survive a round trip;
// see the serialization note in DESIGN.md.
const anchorSeparator = ", "

// Column layout of a members sheet. Column 0 holds the sheet's own
// numbering and is ignored; member ids are derived from row position.
const (
	memberColName = iota + 1
	memberColEmail
	memberColNumber
	memberColParentNum
	memberColRole
	memberColTeam
)

// ProgramHeader is the header row written at the top of every service
// plan tab.
var ProgramHeader = []any{"Time", "Program", "Anchors", "Backup Anchors"}

// RowsToMembers converts a members range into Member values, skipping
// the header row. Each data row in order is assigned the positional id
// "1", "2", ... which is stable only within this one fetch. Missing
// cells map to empty strings.
func RowsToMembers(rows [][]any) []model.Member {
	if len(rows) < 2 {
		return []model.Member{}
	}

	members := make([]model.Member, 0, len(rows)-1)
	for i, row := range rows[1:] {
		members = append(members, model.Member{
			ID:        strconv.Itoa(i + 1),
			Name:      cellString(row, memberColName),
			Email:     cellString(row, memberColEmail),
			Number:    cellString(row, memberColNumber),
			ParentNum: cellString(row, memberColParentNum),
			Role:      cellString(row, memberColRole),
			Team:      cellString(row, memberColTeam),
		})
	}

	return members
}

// RowsToPrograms converts a service plan tab's rows into Program values,
// skipping the header row. Anchor cells are comma-space joined on the
// wire and split back into slices here; an empty cell yields an empty
// slice.
func RowsToPrograms(rows [][]any) []model.Program {
	if len(rows) < 2 {
		return []model.Program{}
	}

	programs := make([]model.Program, 0, len(rows)-1)
	for _, row := range rows[1:] {
		programs = append(programs, model.Program{
			TimePeriod:    cellString(row, 0),
			Program:       cellString(row, 1),
			Anchors:       splitAnchors(cellString(row, 2)),
			BackupAnchors: splitAnchors(cellString(row, 3)),
		})
	}

	return programs
}

// ProgramsToRows is the inverse of RowsToPrograms: a header row followed
// by one row per program, used for both tab creation and full-tab
// replacement on edit.
func ProgramsToRows(programs []model.Program) [][]any {
	rows := make([][]any, 0, len(programs)+1)
	rows = append(rows, ProgramHeader)

	for _, p := range programs {
		rows = append(rows, []any{
			p.TimePeriod,
			p.Program,
			strings.Join(p.Anchors, anchorSeparator),
			strings.Join(p.BackupAnchors, anchorSeparator),
		})
	}

	return rows
}

func splitAnchors(cell string) []string {
	if cell == "" {
		return []string{}
	}
	return strings.Split(cell, anchorSeparator)
}

// cellString returns the cell at index i as a string, or "" when the row
// is short or the cell is not a string.
func cellString(row []any, i int) string {
	if i >= len(row) {
		return ""
	}
	if s, ok := row[i].(string); ok {
		return s
	}
	return ""
}
