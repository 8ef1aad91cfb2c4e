package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/citylight-dev/congregate/pkg/cache"
	"github.com/citylight-dev/congregate/pkg/clients/orgstore"
	"github.com/citylight-dev/congregate/pkg/core/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// fakeTransport records calls and serves canned data. A non-nil gate
// blocks GetValues until the channel is closed, for coalescing tests;
// titlesGate does the same for SheetTitles, signalling titlesStarted
// first so a test can act while the fetch is in flight.
type fakeTransport struct {
	mu sync.Mutex

	memberRows [][]any
	titles     []string
	batches    [][][]any

	getErr    error
	titlesErr error
	batchErr  error
	addErr    error
	updateErr error
	clearErr  error
	renameErr error

	gate          chan struct{}
	titlesGate    chan struct{}
	titlesStarted chan struct{}

	getCalls    int
	titleCalls  int
	batchCalls  int
	addCalls    int
	updateCalls int
	clearCalls  int
	renameCalls int

	batchRanges   []string
	addedTitle    string
	addedRows     int64
	addedCols     int64
	updatedRange  string
	updatedValues [][]any
	clearedRange  string
	renamedFrom   string
	renamedTo     string
}

func (f *fakeTransport) GetValues(_ context.Context, _, _ string) ([][]any, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.memberRows, nil
}

func (f *fakeTransport) BatchGetValues(_ context.Context, _ string, ranges []string) ([][][]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	f.batchRanges = ranges
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return f.batches, nil
}

func (f *fakeTransport) UpdateValues(_ context.Context, _, sheetRange string, values [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	f.updatedRange = sheetRange
	f.updatedValues = values
	return f.updateErr
}

func (f *fakeTransport) ClearValues(_ context.Context, _, sheetRange string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	f.clearedRange = sheetRange
	return f.clearErr
}

func (f *fakeTransport) AddSheet(_ context.Context, _, title string, rows, cols int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	f.addedTitle = title
	f.addedRows = rows
	f.addedCols = cols
	return f.addErr
}

func (f *fakeTransport) RenameSheet(_ context.Context, _, oldTitle, newTitle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renameCalls++
	f.renamedFrom = oldTitle
	f.renamedTo = newTitle
	return f.renameErr
}

func (f *fakeTransport) SheetTitles(_ context.Context, _ string) ([]string, error) {
	if f.titlesStarted != nil {
		select {
		case f.titlesStarted <- struct{}{}:
		default:
		}
	}
	if f.titlesGate != nil {
		<-f.titlesGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titleCalls++
	if f.titlesErr != nil {
		return nil, f.titlesErr
	}
	return f.titles, nil
}

type fakeResolver struct {
	resolutions map[string]orgstore.Resolution
	err         error
	calls       int
}

func (f *fakeResolver) Resolve(_ context.Context, orgID string) (orgstore.Resolution, error) {
	f.calls++
	if f.err != nil {
		return orgstore.Resolution{}, f.err
	}
	return f.resolutions[orgID], nil
}

func newTestRegistry(transport *fakeTransport, orgs OrgResolver, clock *fakeClock) *Registry {
	return NewRegistry(transport, orgs, cache.NewWithClock(clock.Now), zap.NewNop(), RegistryConfig{
		DefaultSpreadsheetID: "default-sheet",
		MembersTTL:           5 * time.Minute,
		PlansTTL:             5 * time.Minute,
	})
}

var memberFixture = [][]any{
	{"header"},
	{"1", "Jane Doe", "jane@x.com", "555-1234", "", "leader", "worship"},
}

func TestGetMembersCachesFetch(t *testing.T) {
	transport := &fakeTransport{memberRows: memberFixture}
	reg := newTestRegistry(transport, nil, newFakeClock())

	members, err := reg.GetMembers(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Jane Doe", members[0].Name)

	// Second read is served from cache.
	_, err = reg.GetMembers(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, transport.getCalls)
}

func TestGetMembersRefetchesAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	transport := &fakeTransport{memberRows: memberFixture}
	reg := newTestRegistry(transport, nil, clock)

	_, err := reg.GetMembers(context.Background(), "")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)

	_, err = reg.GetMembers(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, transport.getCalls)
}

func TestGetMembersTransportError(t *testing.T) {
	transport := &fakeTransport{getErr: assert.AnError}
	reg := newTestRegistry(transport, nil, newFakeClock())

	_, err := reg.GetMembers(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestGetMembersNoDefaultConfigured(t *testing.T) {
	transport := &fakeTransport{}
	reg := NewRegistry(transport, nil, cache.New(), zap.NewNop(), RegistryConfig{})

	_, err := reg.GetMembers(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Zero(t, transport.getCalls)
}

func TestGetMembersOrgScopedKeysAreSeparate(t *testing.T) {
	transport := &fakeTransport{memberRows: memberFixture}
	orgs := &fakeResolver{resolutions: map[string]orgstore.Resolution{
		"org-a": {SpreadsheetID: "sheet-a"},
		"org-b": {SpreadsheetID: "sheet-b"},
	}}
	reg := newTestRegistry(transport, orgs, newFakeClock())

	_, err := reg.GetMembers(context.Background(), "org-a")
	require.NoError(t, err)
	_, err = reg.GetMembers(context.Background(), "org-b")
	require.NoError(t, err)

	// Different scopes must not share a cache entry.
	assert.Equal(t, 2, transport.getCalls)

	_, err = reg.GetMembers(context.Background(), "org-a")
	require.NoError(t, err)
	assert.Equal(t, 2, transport.getCalls)
}

func TestGetMembersCoalescesConcurrentMisses(t *testing.T) {
	gate := make(chan struct{})
	transport := &fakeTransport{memberRows: memberFixture, gate: gate}
	reg := newTestRegistry(transport, nil, newFakeClock())

	const readers = 8
	var wg sync.WaitGroup
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = reg.GetMembers(context.Background(), "")
		}(i)
	}

	// Let the goroutines pile up on the in-flight fetch, then release it.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, transport.getCalls)
}

func TestGetServicePlansAssemblesRecentTabs(t *testing.T) {
	transport := &fakeTransport{
		titles: []string{"Members", "2025-05-18", "Notes", "2025-05-25", "2025-06-01"},
		batches: [][][]any{
			{{"Time", "Program", "Anchors", "Backup Anchors"}, {"7:00am ~ 7:30am", "Worship", "Jane", ""}},
			{{"Time", "Program", "Anchors", "Backup Anchors"}, {"7:00am ~ 7:30am", "Prayer", "Bob, Ann", ""}},
			{{"Time", "Program", "Anchors", "Backup Anchors"}},
		},
	}
	reg := newTestRegistry(transport, nil, newFakeClock())

	plans, err := reg.GetServicePlans(context.Background(), "")
	require.NoError(t, err)

	// Newest date first in the batch request.
	assert.Equal(t, []string{"'2025-06-01'!A1:D", "'2025-05-25'!A1:D", "'2025-05-18'!A1:D"}, transport.batchRanges)

	require.Len(t, plans, 3)
	require.Len(t, plans["2025-06-01"], 1)
	assert.Equal(t, "Worship", plans["2025-06-01"][0].Program)
	assert.Equal(t, []string{"Bob", "Ann"}, plans["2025-05-25"][0].Anchors)
	assert.Empty(t, plans["2025-05-18"])
}

func TestGetServicePlansLimitsToTenNewestTabs(t *testing.T) {
	titles := []string{
		"2025-01-05", "2025-01-12", "2025-01-19", "2025-01-26",
		"2025-02-02", "2025-02-09", "2025-02-16", "2025-02-23",
		"2025-03-02", "2025-03-09", "2025-03-16", "2025-03-23",
	}
	batches := make([][][]any, 10)
	transport := &fakeTransport{titles: titles, batches: batches}
	reg := newTestRegistry(transport, nil, newFakeClock())

	plans, err := reg.GetServicePlans(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, transport.batchRanges, 10)
	assert.Equal(t, "'2025-03-23'!A1:D", transport.batchRanges[0])
	assert.Equal(t, "'2025-01-19'!A1:D", transport.batchRanges[9])

	_, oldest := plans["2025-01-05"]
	assert.False(t, oldest)
}

func TestGetServicePlansNoDateTabs(t *testing.T) {
	transport := &fakeTransport{titles: []string{"Members", "Notes"}}
	reg := newTestRegistry(transport, nil, newFakeClock())

	plans, err := reg.GetServicePlans(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, plans)
	assert.Zero(t, transport.batchCalls)

	// The empty collection is cached like any other read.
	_, err = reg.GetServicePlans(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, transport.titleCalls)
}

func TestCreateServicePlanWritesAndInvalidates(t *testing.T) {
	transport := &fakeTransport{titles: []string{"2025-05-25"}, batches: [][][]any{{}}}
	reg := newTestRegistry(transport, nil, newFakeClock())

	// Warm the plan cache.
	_, err := reg.GetServicePlans(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, transport.titleCalls)

	programs := []model.Program{{
		TimePeriod: "7:00am ~ 7:30am",
		Program:    "Worship",
		Anchors:    []string{"Jane Doe"},
	}}
	require.NoError(t, reg.CreateServicePlan(context.Background(), "2025-06-01", programs, ""))

	assert.Equal(t, "2025-06-01", transport.addedTitle)
	assert.Equal(t, int64(2), transport.addedRows)
	assert.Equal(t, int64(4), transport.addedCols)
	assert.Equal(t, "'2025-06-01'!A1", transport.updatedRange)
	require.Len(t, transport.updatedValues, 2)

	// The write invalidated the cache entry, so the next read goes
	// back to the spreadsheet.
	_, err = reg.GetServicePlans(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, transport.titleCalls)
}

func TestCreateServicePlanScopedInvalidation(t *testing.T) {
	transport := &fakeTransport{titles: []string{}, memberRows: memberFixture}
	orgs := &fakeResolver{resolutions: map[string]orgstore.Resolution{
		"org-a": {SpreadsheetID: "sheet-a"},
		"org-b": {SpreadsheetID: "sheet-b"},
	}}
	reg := newTestRegistry(transport, orgs, newFakeClock())

	_, err := reg.GetServicePlans(context.Background(), "org-a")
	require.NoError(t, err)
	_, err = reg.GetServicePlans(context.Background(), "org-b")
	require.NoError(t, err)
	require.Equal(t, 2, transport.titleCalls)

	programs := []model.Program{{Program: "Worship"}}
	require.NoError(t, reg.CreateServicePlan(context.Background(), "2025-06-01", programs, "org-a"))

	// Only org-a's entry was invalidated.
	_, err = reg.GetServicePlans(context.Background(), "org-b")
	require.NoError(t, err)
	assert.Equal(t, 2, transport.titleCalls)

	_, err = reg.GetServicePlans(context.Background(), "org-a")
	require.NoError(t, err)
	assert.Equal(t, 3, transport.titleCalls)
}

func TestCreateServicePlanBeatsInflightFetch(t *testing.T) {
	// A cold fetch that is already reading the spreadsheet when a write
	// lands must not repopulate the cache with its pre-write snapshot.
	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	transport := &fakeTransport{titlesStarted: started, titlesGate: gate}
	reg := newTestRegistry(transport, nil, newFakeClock())

	var wg sync.WaitGroup
	wg.Add(1)
	var staleErr error
	go func() {
		defer wg.Done()
		_, staleErr = reg.GetServicePlans(context.Background(), "")
	}()
	<-started

	programs := []model.Program{{
		TimePeriod: "7:00am ~ 7:30am",
		Program:    "Worship",
		Anchors:    []string{"Jane"},
	}}
	require.NoError(t, reg.CreateServicePlan(context.Background(), "2025-06-01", programs, ""))

	// The next fetch sees the tab the write just created.
	transport.mu.Lock()
	transport.titles = []string{"2025-06-01"}
	transport.batches = [][][]any{{
		{"Time", "Program", "Anchors", "Backup Anchors"},
		{"7:00am ~ 7:30am", "Worship", "Jane", ""},
	}}
	transport.mu.Unlock()

	close(gate)
	wg.Wait()
	require.NoError(t, staleErr)

	plans, err := reg.GetServicePlans(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, transport.titleCalls)
	require.Contains(t, plans, "2025-06-01")
	assert.Equal(t, "Worship", plans["2025-06-01"][0].Program)
}

func TestCreateServicePlanValidation(t *testing.T) {
	transport := &fakeTransport{}
	reg := newTestRegistry(transport, nil, newFakeClock())

	tests := []struct {
		name     string
		date     string
		programs []model.Program
	}{
		{"missing date", "", []model.Program{{Program: "Worship"}}},
		{"malformed date", "June 1", []model.Program{{Program: "Worship"}}},
		{"empty program name", "2025-06-01", []model.Program{{Program: "  "}}},
		{
			"garbled time period",
			"2025-06-01",
			[]model.Program{{Program: "Worship", TimePeriod: "morning ~ 7:30am"}},
		},
		{
			"case-insensitive duplicate anchor",
			"2025-06-01",
			[]model.Program{{Program: "Worship", Anchors: []string{"Jane", "jane"}}},
		},
		{
			"duplicate backup anchor",
			"2025-06-01",
			[]model.Program{{Program: "Worship", BackupAnchors: []string{"Bob", "BOB"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.CreateServicePlan(context.Background(), tt.date, tt.programs, "")
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}

	// Validation failures never reach the transport.
	assert.Zero(t, transport.addCalls)
	assert.Zero(t, transport.updateCalls)
}

func TestCreateServicePlanPartialFailure(t *testing.T) {
	transport := &fakeTransport{updateErr: assert.AnError}
	reg := newTestRegistry(transport, nil, newFakeClock())

	err := reg.CreateServicePlan(context.Background(), "2025-06-01",
		[]model.Program{{Program: "Worship"}}, "")
	require.Error(t, err)
	assert.Equal(t, KindInconsistentState, KindOf(err))
}

func TestUpdateServicePlanSameDateRewritesInPlace(t *testing.T) {
	transport := &fakeTransport{titles: []string{"2025-06-01"}}
	reg := newTestRegistry(transport, nil, newFakeClock())

	programs := []model.Program{{Program: "Worship", Anchors: []string{"Jane"}}}
	require.NoError(t, reg.UpdateServicePlan(context.Background(), "2025-06-01", "2025-06-01", programs, ""))

	assert.Zero(t, transport.renameCalls)
	assert.Equal(t, "'2025-06-01'!A1:Z", transport.clearedRange)
	assert.Equal(t, "'2025-06-01'!A1", transport.updatedRange)
}

func TestUpdateServicePlanRenames(t *testing.T) {
	transport := &fakeTransport{titles: []string{"2025-06-01"}}
	reg := newTestRegistry(transport, nil, newFakeClock())

	programs := []model.Program{{Program: "Worship"}}
	require.NoError(t, reg.UpdateServicePlan(context.Background(), "2025-06-01", "2025-06-08", programs, ""))

	assert.Equal(t, "2025-06-01", transport.renamedFrom)
	assert.Equal(t, "2025-06-08", transport.renamedTo)
	assert.Equal(t, "'2025-06-08'!A1:Z", transport.clearedRange)
}

func TestUpdateServicePlanRenameAlreadyApplied(t *testing.T) {
	// A retry after a partial failure: the tab already carries the new
	// date, so the rename is skipped and the rewrite proceeds.
	transport := &fakeTransport{titles: []string{"2025-06-08"}}
	reg := newTestRegistry(transport, nil, newFakeClock())

	programs := []model.Program{{Program: "Worship"}}
	require.NoError(t, reg.UpdateServicePlan(context.Background(), "2025-06-01", "2025-06-08", programs, ""))

	assert.Zero(t, transport.renameCalls)
	assert.Equal(t, 1, transport.clearCalls)
	assert.Equal(t, 1, transport.updateCalls)
}

func TestUpdateServicePlanTabNotFound(t *testing.T) {
	transport := &fakeTransport{titles: []string{"2025-05-25"}}
	reg := newTestRegistry(transport, nil, newFakeClock())

	err := reg.UpdateServicePlan(context.Background(), "2025-06-01", "2025-06-08",
		[]model.Program{{Program: "Worship"}}, "")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestUpdateServicePlanPartialFailureAfterRename(t *testing.T) {
	transport := &fakeTransport{titles: []string{"2025-06-01"}, clearErr: assert.AnError}
	reg := newTestRegistry(transport, nil, newFakeClock())

	err := reg.UpdateServicePlan(context.Background(), "2025-06-01", "2025-06-08",
		[]model.Program{{Program: "Worship"}}, "")
	require.Error(t, err)
	assert.Equal(t, KindInconsistentState, KindOf(err))
	assert.Equal(t, 1, transport.renameCalls)
}

func TestUpcomingServiceDates(t *testing.T) {
	reg := NewRegistry(&fakeTransport{}, nil, cache.New(), zap.NewNop(), RegistryConfig{
		DefaultSpreadsheetID: "default-sheet",
		ServiceRule:          "FREQ=WEEKLY;BYDAY=SU",
	})

	from := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) // a Monday
	dates, err := reg.UpcomingServiceDates(from, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-06-08", "2025-06-15", "2025-06-22"}, dates)
}

func TestUpcomingServiceDatesNoRule(t *testing.T) {
	reg := newTestRegistry(&fakeTransport{}, nil, newFakeClock())

	_, err := reg.UpcomingServiceDates(time.Time{}, 3)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}
