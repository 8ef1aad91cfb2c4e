package api

import "github.com/citylight-dev/congregate/pkg/core/model"

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type membersResponse struct {
	Members []model.Member `json:"members"`
}

type plansResponse struct {
	Plans model.PlanCollection `json:"plans"`
}

type createPlanRequest struct {
	Date     string          `json:"date" validate:"required"`
	Programs []model.Program `json:"programs" validate:"required"`
	OrgID    string          `json:"orgId"`
}

type updatePlanRequest struct {
	OriginalDate string          `json:"originalDate" validate:"required"`
	NewDate      string          `json:"newDate" validate:"required"`
	Programs     []model.Program `json:"programs" validate:"required"`
	OrgID        string          `json:"orgId"`
}

type serviceDatesResponse struct {
	Dates []string `json:"dates"`
}

type cleanupResponse struct {
	Evicted int `json:"evicted"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type createOrgRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name" validate:"required"`
	OwnerUID string `json:"ownerUid" validate:"required"`
	SheetURL string `json:"sheetUrl" validate:"omitempty,url"`
	FormURL  string `json:"formUrl" validate:"omitempty,url"`
}

// Pointer fields distinguish "leave unchanged" from "set to empty".
type updateOrgRequest struct {
	Name     *string `json:"name,omitempty"`
	SheetURL *string `json:"sheetUrl,omitempty" validate:"omitempty,url"`
	FormURL  *string `json:"formUrl,omitempty" validate:"omitempty,url"`
}

type orgResponse struct {
	Organisation model.Organisation `json:"organisation"`
}

type orgListResponse struct {
	Organisations []model.Organisation `json:"organisations"`
}
