// Package orgstore persists organisation records in Firestore and
// resolves an organisation id to the spreadsheet it operates against.
package orgstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/citylight-dev/congregate/pkg/core/model"
)

const collection = "organisations"

// ErrExists is returned by Create when a record with the same id already
// exists.
var ErrExists = errors.New("organisation already exists")

// ErrNotFound is returned by Get and Update when no record has the given
// id. Resolve never returns it; absence degrades to the default
// spreadsheet there.
var ErrNotFound = errors.New("organisation not found")

// Google Sheets URLs carry the spreadsheet id in their /d/<id>/ segment.
var sheetURLPattern = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)

// Resolution is the outcome of routing an organisation id to its
// backing spreadsheet.
type Resolution struct {
	SpreadsheetID string
	FormURL       string
}

// Store provides organisation record operations over Firestore.
type Store struct {
	client         *firestore.Client
	defaultSheetID string
	logger         *zap.Logger
}

// NewStore connects to Firestore with the given project and service
// account key file. defaultSheetID is the spreadsheet used whenever an
// organisation cannot be resolved.
func NewStore(ctx context.Context, projectID, credentialsPath, defaultSheetID string, logger *zap.Logger) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return NewStoreWithClient(client, defaultSheetID, logger), nil
}

// NewStoreWithClient wraps an already constructed Firestore client.
func NewStoreWithClient(client *firestore.Client, defaultSheetID string, logger *zap.Logger) *Store {
	return &Store{
		client:         client,
		defaultSheetID: defaultSheetID,
		logger:         logger,
	}
}

// Close releases the underlying Firestore connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Resolve maps an organisation id to its spreadsheet and registration
// form. A missing or unreadable record, or a sheet URL the id cannot be
// extracted from, resolves to the default spreadsheet rather than an
// error.
func (s *Store) Resolve(ctx context.Context, orgID string) (Resolution, error) {
	org, err := s.Get(ctx, orgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Debug("organisation not found, using default spreadsheet",
				zap.String("org_id", orgID))
			return Resolution{SpreadsheetID: s.defaultSheetID}, nil
		}
		return Resolution{}, err
	}

	return Resolution{
		SpreadsheetID: ExtractSpreadsheetID(org.SheetURL, s.defaultSheetID),
		FormURL:       org.FormURL,
	}, nil
}

// Get fetches one organisation record by id.
func (s *Store) Get(ctx context.Context, orgID string) (model.Organisation, error) {
	snap, err := s.client.Collection(collection).Doc(orgID).Get(ctx)
	if err != nil {
		// Unauthorized reads behave like absence so a misconfigured
		// rule set cannot take member listing down with it.
		switch status.Code(err) {
		case codes.NotFound, codes.PermissionDenied:
			return model.Organisation{}, fmt.Errorf("organisation %s: %w", orgID, ErrNotFound)
		}
		return model.Organisation{}, fmt.Errorf("failed to get organisation %s: %w", orgID, err)
	}

	var org model.Organisation
	if err := snap.DataTo(&org); err != nil {
		return model.Organisation{}, fmt.Errorf("failed to decode organisation %s: %w", orgID, err)
	}
	org.ID = snap.Ref.ID

	return org, nil
}

// Create stores a new organisation record, failing if the id is taken.
func (s *Store) Create(ctx context.Context, org model.Organisation) error {
	_, err := s.client.Collection(collection).Doc(org.ID).Create(ctx, org)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("organisation %s: %w", org.ID, ErrExists)
		}
		return fmt.Errorf("failed to create organisation %s: %w", org.ID, err)
	}

	return nil
}

// Update merges the given fields into an existing record. Only non-nil
// map entries are written; fields absent from the map keep their stored
// values.
func (s *Store) Update(ctx context.Context, orgID string, fields map[string]any) error {
	if _, err := s.Get(ctx, orgID); err != nil {
		return err
	}

	_, err := s.client.Collection(collection).Doc(orgID).Set(ctx, fields, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to update organisation %s: %w", orgID, err)
	}

	return nil
}

// ListByOwner returns every organisation whose ownerUid field matches
// the given identity claim.
func (s *Store) ListByOwner(ctx context.Context, ownerUID string) ([]model.Organisation, error) {
	iter := s.client.Collection(collection).Where("ownerUid", "==", ownerUID).Documents(ctx)
	defer iter.Stop()

	var orgs []model.Organisation
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list organisations for %s: %w", ownerUID, err)
		}

		var org model.Organisation
		if err := snap.DataTo(&org); err != nil {
			return nil, fmt.Errorf("failed to decode organisation %s: %w", snap.Ref.ID, err)
		}
		org.ID = snap.Ref.ID
		orgs = append(orgs, org)
	}

	return orgs, nil
}

// ExtractSpreadsheetID pulls the spreadsheet id out of a Google Sheets
// URL, returning fallback when the URL is empty or has no /d/ segment.
func ExtractSpreadsheetID(sheetURL, fallback string) string {
	m := sheetURLPattern.FindStringSubmatch(sheetURL)
	if m == nil {
		return fallback
	}
	return m[1]
}
