// Package services implements the data-access layer between the HTTP
// surface and the spreadsheet/document-store backends: read-through TTL
// caching, row mapping, organisation-scoped routing and the write paths
// for service plans.
package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/citylight-dev/congregate/pkg/cache"
	"github.com/citylight-dev/congregate/pkg/clients/orgstore"
	"github.com/citylight-dev/congregate/pkg/core/mapper"
	"github.com/citylight-dev/congregate/pkg/core/model"
	"github.com/citylight-dev/congregate/pkg/core/schedule"
)

// Cache key namespaces. An organisation id, when present, is appended
// after ":". Org ids are uuids or Firestore document ids and never
// contain a colon, so derived keys cannot collide across tenants.
const (
	membersKeyPrefix = "all_members"
	plansKeyPrefix   = "service_plans"
)

// DateKeyLayout is the tab-title format naming one date's service plan.
const DateKeyLayout = "2006-01-02"

var dateKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// SheetsTransport is the slice of the spreadsheet API the registry uses.
// Implemented by sheetsclient.Client.
type SheetsTransport interface {
	GetValues(ctx context.Context, spreadsheetID, sheetRange string) ([][]any, error)
	BatchGetValues(ctx context.Context, spreadsheetID string, ranges []string) ([][][]any, error)
	UpdateValues(ctx context.Context, spreadsheetID, sheetRange string, values [][]any) error
	ClearValues(ctx context.Context, spreadsheetID, sheetRange string) error
	AddSheet(ctx context.Context, spreadsheetID, title string, rows, cols int64) error
	RenameSheet(ctx context.Context, spreadsheetID, oldTitle, newTitle string) error
	SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error)
}

// OrgResolver routes an organisation id to its backing spreadsheet.
// Implemented by orgstore.Store.
type OrgResolver interface {
	Resolve(ctx context.Context, orgID string) (orgstore.Resolution, error)
}

// RegistryConfig carries the registry's tunables.
type RegistryConfig struct {
	// DefaultSpreadsheetID backs unscoped requests and organisations
	// whose record cannot be resolved.
	DefaultSpreadsheetID string

	// MembersRange is the ranged read covering the members region.
	MembersRange string

	// ServiceRule is an optional RRULE string describing the service
	// cadence, used by UpcomingServiceDates.
	ServiceRule string

	MembersTTL time.Duration
	PlansTTL   time.Duration

	// MaxPlanTabs bounds how many date tabs one read assembles, newest
	// first.
	MaxPlanTabs int
}

// Registry is the cached, organisation-scoped data-access layer.
type Registry struct {
	transport SheetsTransport
	orgs      OrgResolver
	cache     *cache.Cache
	logger    *zap.Logger
	cfg       RegistryConfig

	// Coalesces concurrent cold reads of the same key so expiry does
	// not fan out into duplicate remote fetches.
	group singleflight.Group
}

// NewRegistry wires the registry. The cache is shared, process-wide
// state owned by the caller; tests pass a cache with a fake clock.
func NewRegistry(transport SheetsTransport, orgs OrgResolver, c *cache.Cache, logger *zap.Logger, cfg RegistryConfig) *Registry {
	if cfg.MembersRange == "" {
		cfg.MembersRange = "Members!A1:G"
	}
	if cfg.MaxPlanTabs <= 0 {
		cfg.MaxPlanTabs = 10
	}
	if cfg.MembersTTL <= 0 {
		cfg.MembersTTL = 5 * time.Minute
	}
	if cfg.PlansTTL <= 0 {
		cfg.PlansTTL = 5 * time.Minute
	}

	return &Registry{
		transport: transport,
		orgs:      orgs,
		cache:     c,
		logger:    logger,
		cfg:       cfg,
	}
}

// GetMembers returns the member list for the given organisation scope,
// serving from cache when warm and fetching through the mapper on a
// miss. Concurrent misses for the same key share one remote fetch.
func (r *Registry) GetMembers(ctx context.Context, orgID string) ([]model.Member, error) {
	key := scopedKey(membersKeyPrefix, orgID)
	if v, ok := r.cache.Get(key); ok {
		return v.([]model.Member), nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		// A flight that finished while we queued may have warmed the key.
		if v, ok := r.cache.Get(key); ok {
			return v, nil
		}

		spreadsheetID, err := r.resolveSpreadsheet(ctx, orgID)
		if err != nil {
			return nil, err
		}

		r.logger.Debug("fetching members from spreadsheet",
			zap.String("spreadsheet_id", spreadsheetID),
			zap.String("org_id", orgID))

		// Captured before the remote read so an invalidation landing
		// mid-fetch keeps this snapshot out of the cache.
		gen := r.cache.Generation(key)

		rows, err := r.transport.GetValues(ctx, spreadsheetID, r.cfg.MembersRange)
		if err != nil {
			return nil, transportErr("failed to read members range", err)
		}

		members := mapper.RowsToMembers(rows)
		r.cache.SetIfGeneration(key, members, r.cfg.MembersTTL, gen)

		return members, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]model.Member), nil
}

// GetServicePlans assembles the most recent date tabs (at most
// MaxPlanTabs, newest first) into a PlanCollection for the given scope.
// Tabs whose titles are not date keys are ignored.
func (r *Registry) GetServicePlans(ctx context.Context, orgID string) (model.PlanCollection, error) {
	key := scopedKey(plansKeyPrefix, orgID)
	if v, ok := r.cache.Get(key); ok {
		return v.(model.PlanCollection), nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if v, ok := r.cache.Get(key); ok {
			return v, nil
		}

		spreadsheetID, err := r.resolveSpreadsheet(ctx, orgID)
		if err != nil {
			return nil, err
		}

		gen := r.cache.Generation(key)

		titles, err := r.transport.SheetTitles(ctx, spreadsheetID)
		if err != nil {
			return nil, transportErr("failed to list plan tabs", err)
		}

		dates := dateTabs(titles, r.cfg.MaxPlanTabs)

		collection := make(model.PlanCollection, len(dates))
		if len(dates) > 0 {
			ranges := make([]string, len(dates))
			for i, date := range dates {
				ranges[i] = planTabRange(date)
			}

			batches, err := r.transport.BatchGetValues(ctx, spreadsheetID, ranges)
			if err != nil {
				return nil, transportErr("failed to read plan tabs", err)
			}
			if len(batches) != len(dates) {
				return nil, transportErr(
					fmt.Sprintf("expected %d row batches, got %d", len(dates), len(batches)), nil)
			}

			for i, date := range dates {
				collection[date] = mapper.RowsToPrograms(batches[i])
			}
		}

		r.cache.SetIfGeneration(key, collection, r.cfg.PlansTTL, gen)

		return collection, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(model.PlanCollection), nil
}

// CreateServicePlan writes a new date tab holding the given programs and
// invalidates the same-scoped plan cache entry so the next read observes
// the new date.
func (r *Registry) CreateServicePlan(ctx context.Context, date string, programs []model.Program, orgID string) error {
	if err := validatePlan(date, programs); err != nil {
		return err
	}

	spreadsheetID, err := r.resolveSpreadsheet(ctx, orgID)
	if err != nil {
		return err
	}

	rows := mapper.ProgramsToRows(programs)

	if err := r.transport.AddSheet(ctx, spreadsheetID, date, int64(len(rows)), int64(len(mapper.ProgramHeader))); err != nil {
		return transportErr(fmt.Sprintf("failed to create tab %s", date), err)
	}

	if err := r.transport.UpdateValues(ctx, spreadsheetID, planWriteRange(date), rows); err != nil {
		// The empty tab exists but holds no rows; retrying the whole
		// operation will fail on AddSheet, so surface this distinctly.
		return inconsistentErr(fmt.Sprintf("tab %s created but rows not written", date), err)
	}

	r.invalidatePlans(orgID)

	r.logger.Info("service plan created",
		zap.String("date", date),
		zap.Int("programs", len(programs)),
		zap.String("org_id", orgID))

	return nil
}

// UpdateServicePlan renames the tab when the date changed, then clears
// and fully rewrites its rows (replace, not merge). The rename is
// skipped when already applied, so the whole operation is safe to retry
// after a partial failure, which is surfaced as an inconsistent-state
// error.
func (r *Registry) UpdateServicePlan(ctx context.Context, originalDate, newDate string, programs []model.Program, orgID string) error {
	if originalDate == "" {
		return validationErrf("original date is required")
	}
	if !isDateKey(originalDate) {
		return validationErrf("original date must be formatted %s", DateKeyLayout)
	}
	if err := validatePlan(newDate, programs); err != nil {
		return err
	}

	spreadsheetID, err := r.resolveSpreadsheet(ctx, orgID)
	if err != nil {
		return err
	}

	if newDate != originalDate {
		titles, err := r.transport.SheetTitles(ctx, spreadsheetID)
		if err != nil {
			return transportErr("failed to list plan tabs", err)
		}

		switch {
		case contains(titles, originalDate):
			if err := r.transport.RenameSheet(ctx, spreadsheetID, originalDate, newDate); err != nil {
				return transportErr(fmt.Sprintf("failed to rename tab %s to %s", originalDate, newDate), err)
			}
		case contains(titles, newDate):
			// Rename already applied by an earlier, partially failed
			// attempt; fall through to the rewrite.
		default:
			return notFoundErrf("no plan tab named %s", originalDate)
		}
	}

	if err := r.transport.ClearValues(ctx, spreadsheetID, planClearRange(newDate)); err != nil {
		return inconsistentErr(fmt.Sprintf("tab %s renamed but not cleared", newDate), err)
	}

	rows := mapper.ProgramsToRows(programs)
	if err := r.transport.UpdateValues(ctx, spreadsheetID, planWriteRange(newDate), rows); err != nil {
		return inconsistentErr(fmt.Sprintf("tab %s cleared but rows not rewritten", newDate), err)
	}

	r.invalidatePlans(orgID)

	r.logger.Info("service plan updated",
		zap.String("original_date", originalDate),
		zap.String("new_date", newDate),
		zap.Int("programs", len(programs)),
		zap.String("org_id", orgID))

	return nil
}

// invalidatePlans evicts the scoped plan entry and drops any in-flight
// fetch for it. A read issued after the write then starts a fresh
// remote fetch instead of joining a pre-write flight, and the old
// flight's result is kept out of the cache by its stale generation.
func (r *Registry) invalidatePlans(orgID string) {
	key := scopedKey(plansKeyPrefix, orgID)
	r.cache.Delete(key)
	r.group.Forget(key)
}

// ClearCache empties the process-wide cache.
func (r *Registry) ClearCache() {
	r.cache.Clear()
	r.logger.Info("cache cleared")
}

// CleanupCache sweeps expired entries and reports how many were evicted.
func (r *Registry) CleanupCache() int {
	evicted := r.cache.Cleanup()
	if evicted > 0 {
		r.logger.Debug("cache cleanup", zap.Int("evicted", evicted))
	}
	return evicted
}

// resolveSpreadsheet maps an organisation scope to the spreadsheet id to
// operate against. An empty orgID targets the default spreadsheet.
func (r *Registry) resolveSpreadsheet(ctx context.Context, orgID string) (string, error) {
	if orgID == "" {
		if r.cfg.DefaultSpreadsheetID == "" {
			return "", configErrf("default spreadsheet id is not configured")
		}
		return r.cfg.DefaultSpreadsheetID, nil
	}

	if r.orgs == nil {
		return "", configErrf("organisation store is not configured")
	}

	res, err := r.orgs.Resolve(ctx, orgID)
	if err != nil {
		return "", transportErr(fmt.Sprintf("failed to resolve organisation %s", orgID), err)
	}
	if res.SpreadsheetID == "" {
		return "", configErrf("organisation %s resolved to no spreadsheet and no default is configured", orgID)
	}

	return res.SpreadsheetID, nil
}

func validatePlan(date string, programs []model.Program) error {
	if date == "" {
		return validationErrf("date is required")
	}
	if !isDateKey(date) {
		return validationErrf("date must be formatted %s", DateKeyLayout)
	}

	for i, p := range programs {
		if strings.TrimSpace(p.Program) == "" {
			return validationErrf("program %d has no name", i)
		}
		// SplitPeriod substitutes defaults for missing halves, so an
		// empty or partial period still passes; only garbled clock
		// strings are rejected here.
		start, end := schedule.SplitPeriod(p.TimePeriod)
		if !schedule.IsValidTime(start) || !schedule.IsValidTime(end) {
			return validationErrf("program %q has a malformed time period %q", p.Program, p.TimePeriod)
		}
		if dup := findCaseInsensitiveDup(p.Anchors); dup != "" {
			return validationErrf("program %q lists anchor %q more than once", p.Program, dup)
		}
		if dup := findCaseInsensitiveDup(p.BackupAnchors); dup != "" {
			return validationErrf("program %q lists backup anchor %q more than once", p.Program, dup)
		}
	}

	return nil
}

func findCaseInsensitiveDup(names []string) string {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		folded := strings.ToLower(name)
		if _, ok := seen[folded]; ok {
			return name
		}
		seen[folded] = struct{}{}
	}
	return ""
}

func isDateKey(s string) bool {
	if !dateKeyPattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(DateKeyLayout, s)
	return err == nil
}

// dateTabs filters tab titles to date keys and returns the most recent
// limit of them in descending order.
func dateTabs(titles []string, limit int) []string {
	dates := make([]string, 0, len(titles))
	for _, title := range titles {
		if isDateKey(title) {
			dates = append(dates, title)
		}
	}

	// Date keys sort lexicographically in chronological order.
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	if len(dates) > limit {
		dates = dates[:limit]
	}

	return dates
}

func scopedKey(prefix, orgID string) string {
	if orgID == "" {
		return prefix
	}
	return prefix + ":" + orgID
}

// Tab titles are quoted in range strings because date keys start with a
// digit.
func planTabRange(date string) string {
	return fmt.Sprintf("'%s'!A1:D", date)
}

func planWriteRange(date string) string {
	return fmt.Sprintf("'%s'!A1", date)
}

func planClearRange(date string) string {
	return fmt.Sprintf("'%s'!A1:Z", date)
}

func contains(titles []string, want string) bool {
	for _, t := range titles {
		if t == want {
			return true
		}
	}
	return false
}
