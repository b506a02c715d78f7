package gdexposure

import (
	"context"
	"log/slog"

	admin "google.golang.org/api/admin/reports/v1"
)

// Visibility is the sharing visibility reported by a drive audit event.
type Visibility int

const (
	VisibilityOther Visibility = iota
	VisibilityPublicOnWeb
	VisibilityAnyoneWithLink
	VisibilityPeopleWithLink
)

// ParseVisibility maps the audit parameter value to a Visibility.
// Unrecognized values map to VisibilityOther.
func ParseVisibility(s string) Visibility {
	switch s {
	case "public_on_the_web":
		return VisibilityPublicOnWeb
	case "anyone_with_link":
		return VisibilityAnyoneWithLink
	case "people_with_link":
		return VisibilityPeopleWithLink
	default:
		return VisibilityOther
	}
}

func (v Visibility) String() string {
	switch v {
	case VisibilityPublicOnWeb:
		return "public_on_the_web"
	case VisibilityAnyoneWithLink:
		return "anyone_with_link"
	case VisibilityPeopleWithLink:
		return "people_with_link"
	default:
		return "other"
	}
}

// Candidate is a visibility-change fact that passed coarse filtering.
// Unique by DocID within one run; it still needs a live re-check before
// anyone is notified.
type Candidate struct {
	DocID      string
	Title      string
	Owner      string
	Visibility Visibility
}

// audit event parameter names for the drive application
const (
	paramVisibility         = "visibility"
	paramOwner              = "owner"
	paramDocID              = "doc_id"
	paramDocTitle           = "doc_title"
	paramOwnerIsSharedDrive = "owner_is_shared_drive"
)

type eventParams map[string]*admin.ActivityEventsParameters

func flattenParams(ev *admin.ActivityEvents) eventParams {
	params := make(eventParams, len(ev.Parameters))
	for _, p := range ev.Parameters {
		if p == nil || p.Name == "" {
			continue
		}
		params[p.Name] = p
	}
	return params
}

func (p eventParams) String(name string) (string, bool) {
	param, ok := p[name]
	if !ok {
		return "", false
	}
	return param.Value, param.Value != ""
}

// Bool returns the parameter as a boolean. The generic string value wins
// when present; otherwise the typed boolean field is used.
func (p eventParams) Bool(name string) bool {
	param, ok := p[name]
	if !ok {
		return false
	}
	if param.Value != "" {
		return param.Value == "true"
	}
	return param.BoolValue
}

// ExtractCandidates turns raw audit activities into exposure candidates in
// a single pass. It never calls a live service.
//
// The seen set is run-scoped and owned by the caller: the first event for a
// doc_id wins, later events for the same id in the same run are ignored.
// Events missing a required parameter are skipped, as are events whose
// visibility is not a public one, whose owner is a shared drive identity,
// or whose doc_id is in the excluded set.
func ExtractCandidates(ctx context.Context, events []*admin.Activity, seen map[string]struct{}, excluded map[string]struct{}) []*Candidate {
	candidates := make([]*Candidate, 0, len(events))
	for _, activity := range events {
		if activity == nil || len(activity.Events) == 0 {
			continue
		}
		params := flattenParams(activity.Events[0])
		visibilityValue, ok := params.String(paramVisibility)
		if !ok {
			slog.DebugContext(ctx, "skip audit event without visibility parameter")
			continue
		}
		owner, ok := params.String(paramOwner)
		if !ok {
			slog.DebugContext(ctx, "skip audit event without owner parameter")
			continue
		}
		docID, ok := params.String(paramDocID)
		if !ok {
			slog.DebugContext(ctx, "skip audit event without doc_id parameter")
			continue
		}
		visibility := ParseVisibility(visibilityValue)
		if visibility == VisibilityOther {
			slog.DebugContext(ctx, "skip audit event with non-public visibility", "doc_id", docID, "visibility", visibilityValue)
			continue
		}
		if params.Bool(paramOwnerIsSharedDrive) {
			slog.DebugContext(ctx, "skip audit event owned by shared drive", "doc_id", docID)
			continue
		}
		if _, dup := seen[docID]; dup {
			slog.DebugContext(ctx, "skip audit event for already seen doc_id", "doc_id", docID)
			continue
		}
		if _, skip := excluded[docID]; skip {
			slog.DebugContext(ctx, "skip audit event for excluded doc_id", "doc_id", docID)
			continue
		}
		title, _ := params.String(paramDocTitle)
		candidates = append(candidates, &Candidate{
			DocID:      docID,
			Title:      title,
			Owner:      owner,
			Visibility: visibility,
		})
		seen[docID] = struct{}{}
	}
	return candidates
}
