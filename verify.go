package gdexposure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// ItemKind is the resolved type of a Drive item.
type ItemKind int

const (
	ItemNotFound ItemKind = iota
	ItemFile
	ItemFolder
)

func (k ItemKind) String() string {
	switch k {
	case ItemFile:
		return "file"
	case ItemFolder:
		return "folder"
	default:
		return "not_found"
	}
}

// SharingAccess is the current sharing state of a Drive item.
type SharingAccess int

const (
	AccessRestricted SharingAccess = iota
	AccessAnyoneWithLink
	AccessAnyoneOnWeb
)

func (a SharingAccess) String() string {
	switch a {
	case AccessAnyoneOnWeb:
		return "anyone_on_web"
	case AccessAnyoneWithLink:
		return "anyone_with_link"
	default:
		return "restricted"
	}
}

// Label returns the human readable exposure label used in owner reports.
func (a SharingAccess) Label() string {
	switch a {
	case AccessAnyoneOnWeb:
		return "Public sur le Web (Indexable)"
	case AccessAnyoneWithLink:
		return "Tous les utilisateurs avec le lien"
	default:
		return "Restreint"
	}
}

// ResolvedItem is the live state of one Drive item. Kind is ItemNotFound
// when the item is deleted, inaccessible or the id is invalid; the other
// fields are only meaningful for a found item.
type ResolvedItem struct {
	Kind   ItemKind
	ID     string
	Title  string
	URL    string
	Access SharingAccess
}

// Resolver resolves a Drive item id to its current state. A missing or
// inaccessible item resolves to ItemNotFound, it is not an error.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*ResolvedItem, error)
}

const folderMIMEType = "application/vnd.google-apps.folder"

// DriveResolver implements Resolver on the Drive API v3. Files and folders
// share the files endpoint; the kind is derived from the MIME type.
type DriveResolver struct {
	svc *drive.Service
}

// NewDriveResolver creates a Resolver backed by the Drive API.
func NewDriveResolver(svc *drive.Service) *DriveResolver {
	return &DriveResolver{svc: svc}
}

func (r *DriveResolver) Resolve(ctx context.Context, id string) (*ResolvedItem, error) {
	f, err := r.svc.Files.Get(id).
		SupportsAllDrives(true).
		Fields("id", "name", "mimeType", "webViewLink", "permissions(id,type,allowFileDiscovery)").
		Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusForbidden) {
			slog.DebugContext(ctx, "drive API files:get item not resolvable", "doc_id", id, "status", apiErr.Code)
			return &ResolvedItem{Kind: ItemNotFound, ID: id}, nil
		}
		return nil, fmt.Errorf("drive API files:get: %w", err)
	}
	item := &ResolvedItem{
		Kind:   ItemFile,
		ID:     f.Id,
		Title:  f.Name,
		URL:    f.WebViewLink,
		Access: classifyAccess(f.Permissions),
	}
	if f.MimeType == folderMIMEType {
		item.Kind = ItemFolder
	}
	return item, nil
}

func classifyAccess(permissions []*drive.Permission) SharingAccess {
	for _, p := range permissions {
		if p == nil || p.Type != "anyone" {
			continue
		}
		if p.AllowFileDiscovery {
			return AccessAnyoneOnWeb
		}
		return AccessAnyoneWithLink
	}
	return AccessRestricted
}

// ConfirmedExposure is a candidate whose public sharing was re-confirmed
// against the item's current state.
type ConfirmedExposure struct {
	DocID    string
	Title    string
	Owner    string
	URL      string
	Level    SharingAccess
	ItemKind ItemKind
}

// Verifier re-checks candidates against live state. Audit events are
// historical: an owner who already fixed the sharing must not be alerted.
type Verifier struct {
	resolver    Resolver
	concurrency int
}

// NewVerifier creates a Verifier. Concurrency below 1 means sequential.
func NewVerifier(resolver Resolver, concurrency int) *Verifier {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Verifier{
		resolver:    resolver,
		concurrency: concurrency,
	}
}

// Confirm re-checks one candidate. It returns nil when the item no longer
// exists or its current access is restricted.
func (v *Verifier) Confirm(ctx context.Context, c *Candidate) (*ConfirmedExposure, error) {
	item, err := v.resolver.Resolve(ctx, c.DocID)
	if err != nil {
		return nil, err
	}
	if item.Kind == ItemNotFound {
		slog.DebugContext(ctx, "candidate item not found, treated as removed", "doc_id", c.DocID)
		return nil, nil
	}
	if item.Access == AccessRestricted {
		slog.DebugContext(ctx, "candidate already remediated", "doc_id", c.DocID, "kind", item.Kind.String())
		return nil, nil
	}
	title := item.Title
	if title == "" {
		title = c.Title
	}
	return &ConfirmedExposure{
		DocID:    c.DocID,
		Title:    title,
		Owner:    c.Owner,
		URL:      item.URL,
		Level:    item.Access,
		ItemKind: item.Kind,
	}, nil
}

// ConfirmAll re-checks candidates with bounded parallelism. Results keep
// the candidate order regardless of completion order. Resolution failures
// drop the candidate and never abort the run.
func (v *Verifier) ConfirmAll(ctx context.Context, candidates []*Candidate) []*ConfirmedExposure {
	results := make([]*ConfirmedExposure, len(candidates))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(v.concurrency)
	for i, c := range candidates {
		eg.Go(func() error {
			exposure, err := v.Confirm(egCtx, c)
			if err != nil {
				slog.WarnContext(egCtx, "candidate verification failed, dropping", "doc_id", c.DocID, "error", err)
				return nil
			}
			results[i] = exposure
			return nil
		})
	}
	// workers never return an error, Wait only joins them
	_ = eg.Wait()
	confirmed := make([]*ConfirmedExposure, 0, len(candidates))
	for _, exposure := range results {
		if exposure != nil {
			confirmed = append(confirmed, exposure)
		}
	}
	return confirmed
}
