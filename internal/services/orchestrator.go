package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/codyseavey/kpi-widget/internal/host"
	"github.com/codyseavey/kpi-widget/internal/metrics"
	"github.com/codyseavey/kpi-widget/internal/models"
)

const (
	// defaultDebounce collapses bursts of data-changed notifications
	// into one refresh check.
	defaultDebounce = time.Second

	// defaultCooldown keeps the self-trigger guard up after a refresh
	// completes, long enough for the source to finish emitting
	// notifications caused by this widget's own filter writes.
	defaultCooldown = 1500 * time.Millisecond
)

// Configuration outcomes that end a refresh in the persistent
// empty state rather than an error.
var (
	ErrNoDateField    = errors.New("no date field configured or inferable from filters")
	ErrNoMetricFields = errors.New("no metric fields configured or inferable from the data source")
)

// RefreshState is the orchestrator's current phase
type RefreshState string

const (
	StateIdle              RefreshState = "idle"
	StateChecking          RefreshState = "checking"
	StateFetchingTotals    RefreshState = "fetching_totals"
	StateRenderingSkeleton RefreshState = "rendering_skeleton"
	StateFetchingSeries    RefreshState = "fetching_series"
)

// MetricEncoding is one configured metric/chart pairing. The same
// field bound to both bars and lines yields two encodings and two
// independent cards.
type MetricEncoding struct {
	FieldName   string           `json:"field_name"`
	ChartKind   models.ChartKind `json:"chart_kind"`
	Unfavorable bool             `json:"unfavorable"`
}

// TooltipFieldTotal carries the ungrouped window totals of one
// configured tooltip field, fetched alongside the metric totals for
// display outside any detail group.
type TooltipFieldTotal struct {
	Field     string  `json:"field"`
	Current   float64 `json:"current"`
	PrevMonth float64 `json:"prev_month"`
	PrevYear  float64 `json:"prev_year"`
}

// Status is the orchestrator state exposed over the API
type Status struct {
	State       RefreshState `json:"state"`
	LastRefresh time.Time    `json:"last_refresh,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	EmptyState  string       `json:"empty_state,omitempty"`
	CardCount   int          `json:"card_count"`
}

// Orchestrator owns the refresh pipeline: it decides whether a
// refresh is needed, computes the comparison windows, fetches totals
// and series strictly sequentially (the source allows one active date
// filter), publishes cards skeleton-first, and fills chart series
// progressively. Only one refresh runs at a time; requests arriving
// while one is in flight are dropped.
type Orchestrator struct {
	source  host.DataSource
	config  host.ConfigSource
	fetcher *Fetcher
	cache   *SeriesCache

	now      func() time.Time
	cooldown time.Duration
	limiter  *rate.Limiter

	mu              sync.RWMutex
	state           RefreshState
	isCalculating   bool
	lastFingerprint string
	period          models.PeriodSpec
	cards           []models.Card
	series          map[string]models.CardSeries
	windows         models.ComparisonWindows
	tooltipFields   []string
	tooltipTotals   []TooltipFieldTotal
	lastError       string
	emptyState      string
	lastRefresh     time.Time

	guardMu       sync.Mutex
	selfTriggered bool
	guardTimer    *time.Timer

	subID string

	// onSeriesReady, when set, is called after each card's series
	// publication. Used by the API layer for push updates and by
	// tests to observe progressive fill.
	onSeriesReady func(cardID string)
}

func NewOrchestrator(source host.DataSource, config host.ConfigSource) *Orchestrator {
	return &Orchestrator{
		source:   source,
		config:   config,
		fetcher:  NewFetcher(source),
		cache:    NewSeriesCache(),
		now:      time.Now,
		cooldown: defaultCooldown,
		limiter:  rate.NewLimiter(rate.Every(defaultDebounce), 1),
		state:    StateIdle,
		period:   models.DefaultPeriodSpec(),
		series:   make(map[string]models.CardSeries),
	}
}

// SetDebounce overrides the notification debounce window
func (o *Orchestrator) SetDebounce(d time.Duration) {
	o.limiter = rate.NewLimiter(rate.Every(d), 1)
}

// SetCooldown overrides the self-trigger guard cooldown
func (o *Orchestrator) SetCooldown(d time.Duration) {
	o.cooldown = d
}

// OnSeriesReady registers the per-card series publication hook
func (o *Orchestrator) OnSeriesReady(fn func(cardID string)) {
	o.onSeriesReady = fn
}

// Start subscribes to data-changed notifications, runs the initial
// refresh, and blocks until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	log.Println("Refresh orchestrator started: watching data source for changes")

	o.subID = o.source.Subscribe(o.handleDataChanged)

	if err := o.Refresh(ctx, false); err != nil {
		log.Printf("Refresh orchestrator: initial refresh failed: %v", err)
	}

	<-ctx.Done()
	o.source.Unsubscribe(o.subID)
	log.Println("Refresh orchestrator stopping...")
}

// handleDataChanged reacts to an external change notification. The
// guard flag drops notifications our own filter writes caused; the
// rate limiter collapses bursts into one check. Dropped notifications
// are not queued.
func (o *Orchestrator) handleDataChanged() {
	metrics.ChangeNotifications.Inc()

	if o.guardActive() {
		metrics.ChangeNotificationsSelfSuppressed.Inc()
		return
	}
	if !o.limiter.Allow() {
		metrics.ChangeNotificationsDebounced.Inc()
		return
	}

	go func() {
		if err := o.Refresh(context.Background(), false); err != nil {
			log.Printf("Refresh orchestrator: change-triggered refresh failed: %v", err)
		}
	}()
}

// SetPeriod applies a user period edit: the stored fingerprint is
// invalidated and a refresh runs unconditionally, bypassing both
// debounce and change detection.
func (o *Orchestrator) SetPeriod(spec models.PeriodSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	o.period = spec
	o.lastFingerprint = ""
	o.mu.Unlock()

	go func() {
		if err := o.Refresh(context.Background(), true); err != nil {
			log.Printf("Refresh orchestrator: period-change refresh failed: %v", err)
		}
	}()
	return nil
}

// RestorePeriod sets the period without triggering a refresh. Used
// at startup, before the initial refresh runs.
func (o *Orchestrator) RestorePeriod(spec models.PeriodSpec) {
	if spec.Validate() != nil {
		return
	}
	o.mu.Lock()
	o.period = spec
	o.mu.Unlock()
}

// Period returns the active period spec
func (o *Orchestrator) Period() models.PeriodSpec {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.period
}

// Cards returns the current card list in render order
func (o *Orchestrator) Cards() []models.Card {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]models.Card(nil), o.cards...)
}

// CardByID looks up one card
func (o *Orchestrator) CardByID(id string) (models.Card, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, c := range o.cards {
		if c.ID == id {
			return c, true
		}
	}
	return models.Card{}, false
}

// SeriesFor returns a card's published series, which may be partial
// (reference only) while the progressive fill is running.
func (o *Orchestrator) SeriesFor(cardID string) (models.CardSeries, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.series[cardID]
	return s, ok
}

// Windows returns the comparison windows of the last refresh
func (o *Orchestrator) Windows() models.ComparisonWindows {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.windows
}

// TooltipFields returns the configured extra tooltip fields
func (o *Orchestrator) TooltipFields() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.tooltipFields...)
}

// TooltipTotals returns the ungrouped window totals of the configured
// tooltip fields, in declaration order.
func (o *Orchestrator) TooltipTotals() []TooltipFieldTotal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]TooltipFieldTotal(nil), o.tooltipTotals...)
}

// Status reports the orchestrator's externally visible state
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Status{
		State:       o.state,
		LastRefresh: o.lastRefresh,
		LastError:   o.lastError,
		EmptyState:  o.emptyState,
		CardCount:   len(o.cards),
	}
}

func (o *Orchestrator) setState(s RefreshState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) guardActive() bool {
	o.guardMu.Lock()
	defer o.guardMu.Unlock()
	return o.selfTriggered
}

// raiseGuard marks subsequent notifications as self-triggered. Called
// before the first filter-mutating operation of a refresh.
func (o *Orchestrator) raiseGuard() {
	o.guardMu.Lock()
	defer o.guardMu.Unlock()
	if o.guardTimer != nil {
		o.guardTimer.Stop()
		o.guardTimer = nil
	}
	o.selfTriggered = true
}

// releaseGuardAfterCooldown schedules the guard drop. The cooldown
// outlives the refresh so late notifications from our own filter
// writes are still suppressed.
func (o *Orchestrator) releaseGuardAfterCooldown() {
	o.guardMu.Lock()
	defer o.guardMu.Unlock()
	if o.guardTimer != nil {
		o.guardTimer.Stop()
	}
	o.guardTimer = time.AfterFunc(o.cooldown, func() {
		o.guardMu.Lock()
		o.selfTriggered = false
		o.guardMu.Unlock()
	})
}

// Refresh runs one full refresh cycle. force bypasses change
// detection (user-initiated edits). Returns nil when the refresh was
// dropped or skipped.
func (o *Orchestrator) Refresh(ctx context.Context, force bool) error {
	o.mu.Lock()
	if o.isCalculating {
		o.mu.Unlock()
		metrics.RefreshesDropped.Inc()
		log.Println("Refresh orchestrator: refresh already running, dropping request")
		return nil
	}
	o.isCalculating = true
	o.state = StateChecking
	period := o.period
	lastFingerprint := o.lastFingerprint
	o.mu.Unlock()

	metrics.RefreshesStarted.Inc()
	started := time.Now()

	defer func() {
		metrics.RefreshDuration.Observe(time.Since(started).Seconds())
		o.mu.Lock()
		o.isCalculating = false
		o.state = StateIdle
		o.mu.Unlock()
		o.releaseGuardAfterCooldown()
	}()

	// Change detection. A fingerprint failure degrades to "assume
	// changed" so a needed refresh is never silently skipped.
	fingerprint, err := ComputeFingerprint(ctx, o.config, o.source, period)
	if err != nil {
		log.Printf("Refresh orchestrator: fingerprint computation failed, assuming changed: %v", err)
		fingerprint = ""
	} else if !force && !HasChanged(fingerprint, lastFingerprint) {
		metrics.RefreshesSkipped.Inc()
		return nil
	}

	if err := o.runRefresh(ctx, period); err != nil {
		switch {
		case errors.Is(err, ErrNoDateField), errors.Is(err, ErrNoMetricFields):
			o.mu.Lock()
			o.emptyState = err.Error()
			o.cards = nil
			o.series = make(map[string]models.CardSeries)
			o.tooltipTotals = nil
			o.mu.Unlock()
			metrics.CardsRendered.Set(0)
			log.Printf("Refresh orchestrator: %v", err)
			return nil
		default:
			metrics.RefreshesFailed.Inc()
			o.mu.Lock()
			o.lastError = err.Error()
			o.mu.Unlock()
			return err
		}
	}

	// Store the fingerprint that describes the state this refresh
	// rendered. Recomputed because the refresh's own filter writes
	// have settled by now.
	final, err := ComputeFingerprint(ctx, o.config, o.source, period)
	if err != nil {
		final = fingerprint
	}
	o.mu.Lock()
	o.lastFingerprint = final
	o.lastRefresh = o.now()
	o.lastError = ""
	o.mu.Unlock()

	return nil
}

// runRefresh executes steps 1-8: resolve configuration, compute
// windows, fetch totals, publish skeleton cards, fill series.
func (o *Orchestrator) runRefresh(ctx context.Context, period models.PeriodSpec) error {
	bindings, err := o.config.RoleBindings(ctx)
	if err != nil {
		return fmt.Errorf("read role bindings: %w", err)
	}

	table, err := o.source.GetTable(ctx)
	if err != nil {
		return fmt.Errorf("read data source schema: %w", err)
	}
	metrics.WorksheetFetchesTotal.Inc()

	dateField, err := o.resolveDateField(ctx, bindings)
	if err != nil {
		return err
	}
	encodings := resolveMetricEncodings(bindings, table, dateField)
	if len(encodings) == 0 {
		return ErrNoMetricFields
	}

	tooltipFields := host.FieldsForRole(bindings, models.RoleTooltip)
	detailFields := host.FieldsForRole(bindings, models.RoleDetail)

	windows := models.ComparisonWindows{
		Current: ComputeCurrentWindow(period, o.now()),
	}
	windows.PrevMonth = DerivePriorMonth(windows.Current)
	windows.PrevYear = DerivePriorYear(windows.Current)

	// Everything below mutates the source's shared filter state.
	o.raiseGuard()

	o.setState(StateFetchingTotals)

	// Detail group order is captured from the current window's raw
	// row order and reused everywhere; never re-sorted.
	groupKeys := []string{""}
	if len(detailFields) > 0 {
		groups, err := o.fetcher.DetailGroups(ctx, dateField, windows.Current, detailFields)
		if err != nil {
			return fmt.Errorf("resolve detail groups: %w", err)
		}
		groupKeys = groups
	}

	totals := o.fetchAllTotals(ctx, encodings, tooltipFields, dateField, windows, detailFields, groupKeys)

	cards := buildCards(encodings, groupKeys, totals)
	tooltipTotals := buildTooltipTotals(tooltipFields, totals)

	// Skeleton render: cards appear immediately, charts fill in below.
	o.mu.Lock()
	o.cards = cards
	o.series = make(map[string]models.CardSeries)
	o.windows = windows
	o.tooltipFields = tooltipFields
	o.tooltipTotals = tooltipTotals
	o.emptyState = ""
	o.lastError = ""
	o.mu.Unlock()
	o.setState(StateRenderingSkeleton)
	metrics.CardsRendered.Set(float64(len(cards)))

	o.setState(StateFetchingSeries)
	o.fillSeries(ctx, cards, period, dateField, windows, detailFields, tooltipFields)

	return nil
}

// resolveDateField prefers the explicit date binding, then an active
// date-typed range filter. A date-kind column in the schema is not
// enough: without either source the widget stays in the empty state
// until the user binds one.
func (o *Orchestrator) resolveDateField(ctx context.Context, bindings []host.RoleBinding) (string, error) {
	if fields := host.FieldsForRole(bindings, models.RoleDate); len(fields) > 0 {
		return fields[0], nil
	}

	filters, err := o.source.ActiveFilters(ctx)
	if err != nil {
		return "", fmt.Errorf("read active filters: %w", err)
	}
	for _, f := range filters {
		if f.Kind == host.FilterRange && f.Data == models.DataKindDate {
			return f.Field, nil
		}
	}
	return "", ErrNoDateField
}

// resolveMetricEncodings uses the bars/lines bindings in declaration
// order; with none configured it infers numeric, non-date, non-geo
// columns as bar metrics.
func resolveMetricEncodings(bindings []host.RoleBinding, table host.Table, dateField string) []MetricEncoding {
	unfavorable := make(map[string]bool)
	for _, f := range host.FieldsForRole(bindings, models.RoleUnfavorable) {
		unfavorable[f] = true
	}

	var encodings []MetricEncoding
	for _, b := range bindings {
		switch b.Role {
		case models.RoleBars:
			encodings = append(encodings, MetricEncoding{FieldName: b.Field, ChartKind: models.ChartBar, Unfavorable: unfavorable[b.Field]})
		case models.RoleLines:
			encodings = append(encodings, MetricEncoding{FieldName: b.Field, ChartKind: models.ChartLine, Unfavorable: unfavorable[b.Field]})
		}
	}
	if len(encodings) > 0 {
		return encodings
	}

	for _, col := range table.Columns {
		if col.Kind != models.DataKindNumber || col.Field == dateField {
			continue
		}
		encodings = append(encodings, MetricEncoding{FieldName: col.Field, ChartKind: models.ChartBar, Unfavorable: unfavorable[col.Field]})
	}
	return encodings
}

// totalsKey indexes the fetched totals
type totalsKey struct {
	field  string
	group  string
	window string // "current", "prev_month", "prev_year"
}

// fetchAllTotals fetches every (metric x group) total for the three
// windows, strictly sequentially: the source allows one active date
// filter at a time. Tooltip fields get an ungrouped total per window
// for display outside the cards. A failed fetch degrades to a zero
// total so one bad metric never blocks the others.
func (o *Orchestrator) fetchAllTotals(ctx context.Context, encodings []MetricEncoding, tooltipFields []string, dateField string, windows models.ComparisonWindows, detailFields []string, groupKeys []string) map[totalsKey]TotalResult {
	totals := make(map[totalsKey]TotalResult)

	fields := make([]string, 0, len(encodings))
	seen := make(map[string]bool)
	for _, enc := range encodings {
		if !seen[enc.FieldName] {
			seen[enc.FieldName] = true
			fields = append(fields, enc.FieldName)
		}
	}
	extraFields := make([]string, 0, len(tooltipFields))
	tooltipSeen := make(map[string]bool)
	for _, field := range tooltipFields {
		if !tooltipSeen[field] {
			tooltipSeen[field] = true
			extraFields = append(extraFields, field)
		}
	}

	for _, win := range []struct {
		name   string
		window models.DateWindow
	}{
		{"current", windows.Current},
		{"prev_month", windows.PrevMonth},
		{"prev_year", windows.PrevYear},
	} {
		for _, field := range fields {
			for _, group := range groupKeys {
				result, err := o.fetcher.FetchTotal(ctx, field, dateField, win.window, detailFields, group)
				if err != nil {
					log.Printf("Refresh orchestrator: total fetch failed for %s/%s (%s), defaulting to 0: %v", field, group, win.name, err)
					result = TotalResult{}
				}
				totals[totalsKey{field: field, group: group, window: win.name}] = result
			}
		}
		for _, field := range extraFields {
			// a metric field fetched ungrouped above already has this total
			if _, ok := totals[totalsKey{field: field, window: win.name}]; ok {
				continue
			}
			result, err := o.fetcher.FetchTotal(ctx, field, dateField, win.window, nil, "")
			if err != nil {
				log.Printf("Refresh orchestrator: tooltip total fetch failed for %s (%s), defaulting to 0: %v", field, win.name, err)
				result = TotalResult{}
			}
			totals[totalsKey{field: field, window: win.name}] = result
		}
	}
	return totals
}

// buildTooltipTotals extracts the per-window tooltip-field totals in
// declaration order.
func buildTooltipTotals(tooltipFields []string, totals map[totalsKey]TotalResult) []TooltipFieldTotal {
	out := make([]TooltipFieldTotal, 0, len(tooltipFields))
	for _, field := range tooltipFields {
		out = append(out, TooltipFieldTotal{
			Field:     field,
			Current:   totals[totalsKey{field: field, window: "current"}].Sum,
			PrevMonth: totals[totalsKey{field: field, window: "prev_month"}].Sum,
			PrevYear:  totals[totalsKey{field: field, window: "prev_year"}].Sum,
		})
	}
	return out
}

// buildCards produces the ordered card list: encoding declaration
// order crossed with detail group first-appearance order.
func buildCards(encodings []MetricEncoding, groupKeys []string, totals map[totalsKey]TotalResult) []models.Card {
	cards := make([]models.Card, 0, len(encodings)*len(groupKeys))
	for _, enc := range encodings {
		for _, group := range groupKeys {
			current := totals[totalsKey{enc.FieldName, group, "current"}]
			prevMonth := totals[totalsKey{enc.FieldName, group, "prev_month"}]
			prevYear := totals[totalsKey{enc.FieldName, group, "prev_year"}]

			cards = append(cards, models.Card{
				ID:             uuid.NewString(),
				MetricName:     enc.FieldName,
				DetailGroupKey: group,
				ChartKind:      enc.ChartKind,
				Unfavorable:    enc.Unfavorable,
				CurrentTotal:   current.Sum,
				ReferenceTotal: prevMonth.Sum,
				PriorYearTotal: prevYear.Sum,
				IsPercentage:   current.IsPercentage,
				DisplayValue:   formatTotal(current.Sum, current.IsPercentage),
			})
		}
	}
	return cards
}

func formatTotal(total float64, isPercentage bool) string {
	if isPercentage {
		return fmt.Sprintf("%.1f%%", total)
	}
	return formatNumber(total)
}

// seriesGranularity picks the chart bucket size: the configured
// granularity for rolling periods, daily buckets for to-date periods.
func seriesGranularity(period models.PeriodSpec) models.Granularity {
	if period.Kind == models.PeriodRolling {
		return period.Granularity
	}
	return models.GranularityDays
}

// fillSeries runs the progressive chart fill, one card at a time:
// cache when valid, otherwise reference series first (early visual
// feedback), then the current series, then the cache write. A failed
// fetch leaves that card partial and moves on.
func (o *Orchestrator) fillSeries(ctx context.Context, cards []models.Card, period models.PeriodSpec, dateField string, windows models.ComparisonWindows, detailFields, tooltipFields []string) {
	granularity := seriesGranularity(period)

	for _, card := range cards {
		key := CacheKey{CardIdentity: card.DisplayIdentity(), PeriodKind: period.Kind}

		if entry, ok := o.cache.Get(key); ok {
			if IsValid(entry, card.CurrentTotal, card.ReferenceTotal) {
				o.publishSeries(card.ID, models.CardSeries{
					Current:   entry.SeriesCurrent,
					Reference: entry.SeriesReference,
				})
				continue
			}
			metrics.SeriesCacheStale.Inc()
		}

		reference, refErr := o.fetcher.FetchSeries(ctx, card.MetricName, dateField, windows.PrevMonth, granularity, period.WeekStart, detailFields, card.DetailGroupKey, tooltipFields)
		if refErr != nil {
			log.Printf("Refresh orchestrator: reference series fetch failed for %s: %v", card.DisplayIdentity(), refErr)
			reference = nil
		}
		o.publishSeries(card.ID, models.CardSeries{Reference: reference})

		current, curErr := o.fetcher.FetchSeries(ctx, card.MetricName, dateField, windows.Current, granularity, period.WeekStart, detailFields, card.DetailGroupKey, tooltipFields)
		if curErr != nil {
			log.Printf("Refresh orchestrator: current series fetch failed for %s: %v", card.DisplayIdentity(), curErr)
			current = nil
		}
		o.publishSeries(card.ID, models.CardSeries{Current: current, Reference: reference})

		if refErr == nil && curErr == nil {
			o.cache.Put(key, CacheEntry{
				TotalCurrent:    card.CurrentTotal,
				TotalReference:  card.ReferenceTotal,
				SeriesCurrent:   current,
				SeriesReference: reference,
			})
		}
	}
}

func (o *Orchestrator) publishSeries(cardID string, series models.CardSeries) {
	o.mu.Lock()
	o.series[cardID] = series
	o.mu.Unlock()

	if o.onSeriesReady != nil {
		o.onSeriesReady(cardID)
	}
}
