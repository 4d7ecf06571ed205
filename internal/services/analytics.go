package services

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"cleartitle/internal/apperr"
	"cleartitle/internal/models"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Timeframe string

const (
	Timeframe24h Timeframe = "24h"
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
	Timeframe90d Timeframe = "90d"
	Timeframe1y  Timeframe = "1y"
	TimeframeAll Timeframe = "all"

	DefaultTimeframe = Timeframe7d
	defaultTopN      = 10
	maxTopN          = 100
	rawDataLimit     = 100
)

// EpochFloor is the start of the "all" window.
var EpochFloor = time.Unix(0, 0).UTC()

func ParseTimeframe(s string) (Timeframe, error) {
	switch tf := Timeframe(strings.ToLower(strings.TrimSpace(s))); tf {
	case "":
		return DefaultTimeframe, nil
	case Timeframe24h, Timeframe7d, Timeframe30d, Timeframe90d, Timeframe1y, TimeframeAll:
		return tf, nil
	}
	return "", apperr.Validation("timeframe must be one of 24h, 7d, 30d, 90d, 1y, all")
}

// Range returns the inclusive window ending at now.
func (t Timeframe) Range(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	switch t {
	case Timeframe24h:
		return now.Add(-24 * time.Hour), now
	case Timeframe30d:
		return now.AddDate(0, 0, -30), now
	case Timeframe90d:
		return now.AddDate(0, 0, -90), now
	case Timeframe1y:
		return now.AddDate(-1, 0, 0), now
	case TimeframeAll:
		return EpochFloor, now
	default:
		return now.AddDate(0, 0, -7), now
	}
}

type ClickFilter struct {
	Timeframe  Timeframe
	ItemType   string
	PropertyID string
	EntityType models.EntityType
}

type ClickSummary struct {
	TotalClicks      int64   `json:"totalClicks"`
	UniqueSessions   int64   `json:"uniqueSessions"`
	UniqueIPs        int64   `json:"uniqueIPs"`
	UniqueUsers      int64   `json:"uniqueUsers"`
	UniqueItems      int64   `json:"uniqueItems"`
	AvgClicksPerItem float64 `json:"avgClicksPerItem"`
	AvgClicksPerUser float64 `json:"avgClicksPerUser"`
	EngagementRate   float64 `json:"engagementRate"`
}

type GroupCount struct {
	Key            string    `json:"key"`
	Clicks         int64     `json:"clicks"`
	UniqueSessions int64     `json:"uniqueSessions"`
	UniqueIPs      int64     `json:"uniqueIPs"`
	LastActivity   time.Time `json:"lastActivity"`
}

type HourCount struct {
	Hour           int   `json:"hour"`
	Clicks         int64 `json:"clicks"`
	UniqueSessions int64 `json:"uniqueSessions"`
}

type TopItem struct {
	ItemType       string    `json:"itemType"`
	ItemValue      string    `json:"itemValue"`
	PropertyID     string    `json:"propertyId,omitempty"`
	Clicks         int64     `json:"clicks"`
	UniqueSessions int64     `json:"uniqueSessions"`
	LastActivity   time.Time `json:"lastActivity"`
}

type ClickReport struct {
	Timeframe  Timeframe           `json:"timeframe"`
	Start      time.Time           `json:"start"`
	End        time.Time           `json:"end"`
	Summary    ClickSummary        `json:"summary"`
	ByItemType []GroupCount        `json:"byItemType"`
	ByDay      []GroupCount        `json:"byDay"`
	ByHour     []HourCount         `json:"byHour"`
	ByCountry  []GroupCount        `json:"byCountry"`
	ByDevice   []GroupCount        `json:"byDevice"`
	TopItems   []TopItem           `json:"topItems"`
	RawData    []models.ClickEvent `json:"rawData"`
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func emptyHours() []HourCount {
	hours := make([]HourCount, 24)
	for h := range hours {
		hours[h].Hour = h
	}
	return hours
}

// EmptyClickReport is the zeroed report for a window with no events.
func EmptyClickReport(tf Timeframe, start, end time.Time) ClickReport {
	return ClickReport{
		Timeframe:  tf,
		Start:      start,
		End:        end,
		ByItemType: []GroupCount{},
		ByDay:      []GroupCount{},
		ByHour:     emptyHours(),
		ByCountry:  []GroupCount{},
		ByDevice:   []GroupCount{},
		TopItems:   []TopItem{},
		RawData:    []models.ClickEvent{},
	}
}

// bucketExprs are the dialect specific day and hour expressions over
// created_at. Both bucket in UTC.
type bucketExprs struct {
	day  string
	hour string
}

func bucketsFor(db *gorm.DB) bucketExprs {
	if db.Dialector.Name() == "postgres" {
		return bucketExprs{
			day:  "to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')",
			hour: "CAST(EXTRACT(HOUR FROM created_at AT TIME ZONE 'UTC') AS INTEGER)",
		}
	}
	return bucketExprs{
		day:  "strftime('%Y-%m-%d', created_at)",
		hour: "CAST(strftime('%H', created_at) AS INTEGER)",
	}
}

const (
	// A visitor is their session id, or their masked address when the
	// event carried no session.
	sessionExpr = "CASE WHEN COALESCE(session_id, '') <> '' THEN 's:' || session_id ELSE 'ip:' || COALESCE(ip_address, '') END"

	distinctSessions = "COUNT(DISTINCT " + sessionExpr + ")"
	distinctIPs      = "COUNT(DISTINCT NULLIF(ip_address, ''))"
	groupColumns     = "COUNT(*) AS clicks, " + distinctSessions + " AS unique_sessions, " +
		distinctIPs + " AS unique_ips, MAX(created_at) AS last_activity"

	itemColumns = "item_type, COALESCE(item_value, ''), COALESCE(property_id, '')"
)

var (
	countryExpr = "COALESCE(NULLIF(country, ''), '" + UnknownLocation + "')"
	deviceExpr  = "COALESCE(NULLIF(device_type, ''), '" + DeviceDesktop + "')"
)

// storeTimeLayouts covers the text forms a MAX(created_at) comes back in.
var storeTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseStoreTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range storeTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type summaryRow struct {
	TotalClicks    int64
	UniqueSessions int64
	UniqueIPs      int64
	UniqueUsers    int64
}

type hourRow struct {
	Hour           int
	Clicks         int64
	UniqueSessions int64
}

type topRow struct {
	ItemType       string
	ItemValue      string
	ItemProperty   string
	Clicks         int64
	UniqueSessions int64
	LastActivity   string
}

type groupRow struct {
	Key            string
	Clicks         int64
	UniqueSessions int64
	UniqueIPs      int64
	LastActivity   string
}

func (r groupRow) count() GroupCount {
	return GroupCount{
		Key:            r.Key,
		Clicks:         r.Clicks,
		UniqueSessions: r.UniqueSessions,
		UniqueIPs:      r.UniqueIPs,
		LastActivity:   parseStoreTime(r.LastActivity),
	}
}

func toGroups(rows []groupRow) []GroupCount {
	out := make([]GroupCount, len(rows))
	for i, r := range rows {
		out[i] = r.count()
	}
	return out
}

// rankGroups orders by clicks, then most recent activity, then key.
func rankGroups(out []GroupCount) []GroupCount {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Clicks != out[j].Clicks {
			return out[i].Clicks > out[j].Clicks
		}
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// AnalyticsService runs read-only reports. Every count is computed by the
// store over the whole window; only rawData is limited. A failing query
// yields a zeroed report and a log line, analytics never fail the request.
type AnalyticsService struct {
	db      *gorm.DB
	logger  *slog.Logger
	timeout time.Duration
	buckets bucketExprs
	now     func() time.Time
}

func NewAnalyticsService(db *gorm.DB, logger *slog.Logger, timeout time.Duration) *AnalyticsService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AnalyticsService{db: db, logger: logger, timeout: timeout, buckets: bucketsFor(db), now: time.Now}
}

func (s *AnalyticsService) window(tf Timeframe) (time.Time, time.Time) {
	return tf.Range(s.now())
}

// events scopes a query to the filtered window.
func (s *AnalyticsService) events(ctx context.Context, f ClickFilter, start, end time.Time) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&models.ClickEvent{}).
		Where("created_at >= ? AND created_at <= ?", start, end)
	if f.ItemType != "" {
		q = q.Where("item_type = ?", f.ItemType)
	}
	if f.PropertyID != "" {
		q = q.Where("property_id = ?", f.PropertyID)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	return q
}

func (s *AnalyticsService) ClickAnalytics(ctx context.Context, f ClickFilter, topN int) ClickReport {
	start, end := s.window(f.Timeframe)
	report, err := s.clickReport(ctx, f, start, end, topN)
	if err != nil {
		s.logger.Error("Click analytics query failed", "timeframe", f.Timeframe, "error", err)
		return EmptyClickReport(f.Timeframe, start, end)
	}
	return report
}

func (s *AnalyticsService) clickReport(ctx context.Context, f ClickFilter, start, end time.Time, topN int) (ClickReport, error) {
	if topN <= 0 {
		topN = defaultTopN
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report := EmptyClickReport(f.Timeframe, start, end)
	g, gctx := errgroup.WithContext(ctx)
	q := func() *gorm.DB { return s.events(gctx, f, start, end) }

	var summary summaryRow
	var uniqueItems int64
	var byType, byDay, byCountry, byDevice []groupRow
	var hours []hourRow
	var top []topRow

	g.Go(func() error {
		return q().Select("COUNT(*) AS total_clicks, " + distinctSessions + " AS unique_sessions, " +
			distinctIPs + " AS unique_ips, COUNT(DISTINCT NULLIF(user_id, '')) AS unique_users").
			Scan(&summary).Error
	})
	g.Go(func() error {
		items := q().Select("item_type, COALESCE(item_value, '') AS item_value, COALESCE(property_id, '') AS item_property").Group(itemColumns)
		return s.db.WithContext(gctx).Raw("SELECT COUNT(*) FROM (?) AS items", items).Scan(&uniqueItems).Error
	})
	g.Go(func() error {
		return q().Select("item_type AS key, " + groupColumns).Group("item_type").Scan(&byType).Error
	})
	g.Go(func() error {
		return q().Select(s.buckets.day + " AS key, " + groupColumns).Group(s.buckets.day).Scan(&byDay).Error
	})
	g.Go(func() error {
		return q().Select(countryExpr + " AS key, " + groupColumns).Group(countryExpr).Scan(&byCountry).Error
	})
	g.Go(func() error {
		return q().Select(deviceExpr + " AS key, " + groupColumns).Group(deviceExpr).Scan(&byDevice).Error
	})
	g.Go(func() error {
		return q().Select(s.buckets.hour + " AS hour, COUNT(*) AS clicks, " + distinctSessions + " AS unique_sessions").
			Group(s.buckets.hour).Scan(&hours).Error
	})
	g.Go(func() error {
		return q().Select("item_type, COALESCE(item_value, '') AS item_value, COALESCE(property_id, '') AS item_property, " + groupColumns).
			Group(itemColumns).
			Order("clicks DESC, last_activity DESC, item_type, item_value, item_property").
			Limit(topN).Scan(&top).Error
	})
	g.Go(func() error {
		return q().Order("created_at DESC").Limit(rawDataLimit).Find(&report.RawData).Error
	})
	if err := g.Wait(); err != nil {
		return ClickReport{}, err
	}

	report.Summary = ClickSummary{
		TotalClicks:      summary.TotalClicks,
		UniqueSessions:   summary.UniqueSessions,
		UniqueIPs:        summary.UniqueIPs,
		UniqueUsers:      summary.UniqueUsers,
		UniqueItems:      uniqueItems,
		AvgClicksPerItem: ratio(summary.TotalClicks, uniqueItems),
		AvgClicksPerUser: ratio(summary.TotalClicks, summary.UniqueUsers),
		EngagementRate:   ratio(summary.TotalClicks, summary.UniqueSessions),
	}

	report.ByItemType = rankGroups(toGroups(byType))
	report.ByCountry = rankGroups(toGroups(byCountry))
	report.ByDevice = rankGroups(toGroups(byDevice))
	report.ByDay = toGroups(byDay)
	sort.Slice(report.ByDay, func(i, j int) bool { return report.ByDay[i].Key < report.ByDay[j].Key })

	for _, h := range hours {
		if h.Hour >= 0 && h.Hour < len(report.ByHour) {
			report.ByHour[h.Hour].Clicks = h.Clicks
			report.ByHour[h.Hour].UniqueSessions = h.UniqueSessions
		}
	}

	for _, t := range top {
		report.TopItems = append(report.TopItems, TopItem{
			ItemType:       t.ItemType,
			ItemValue:      t.ItemValue,
			PropertyID:     t.ItemProperty,
			Clicks:         t.Clicks,
			UniqueSessions: t.UniqueSessions,
			LastActivity:   parseStoreTime(t.LastActivity),
		})
	}
	return report, nil
}

// TopItems returns the n most clicked items in the window.
func (s *AnalyticsService) TopItems(ctx context.Context, f ClickFilter, n int) []TopItem {
	if n <= 0 {
		n = defaultTopN
	}
	if n > maxTopN {
		n = maxTopN
	}
	return s.ClickAnalytics(ctx, f, n).TopItems
}

type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

type ListingKindStats struct {
	Kind        models.EntityType `json:"kind"`
	Total       int64             `json:"total"`
	ByStatus    map[string]int64  `json:"byStatus"`
	Featured    int64             `json:"featured"`
	Verified    int64             `json:"verified"`
	ByCategory  []KeyCount        `json:"byCategory"`
	Price       PriceRange        `json:"price"`
	NewInWindow int64             `json:"newInWindow"`
	NewPerDay   []KeyCount        `json:"newPerDay"`
}

type ListingStats struct {
	Timeframe Timeframe          `json:"timeframe"`
	Start     time.Time          `json:"start"`
	End       time.Time          `json:"end"`
	Kinds     []ListingKindStats `json:"kinds"`
}

func emptyKindStats(kind models.EntityType) ListingKindStats {
	byStatus := map[string]int64{}
	for _, st := range []models.ApprovalStatus{models.StatusPending, models.StatusApproved, models.StatusRejected} {
		byStatus[string(st)] = 0
	}
	return ListingKindStats{Kind: kind, ByStatus: byStatus, ByCategory: []KeyCount{}, NewPerDay: []KeyCount{}}
}

// ListingStatistics runs the per-kind listing queries in parallel.
func (s *AnalyticsService) ListingStatistics(ctx context.Context, tf Timeframe) ListingStats {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start, end := s.window(tf)
	out := ListingStats{Timeframe: tf, Start: start, End: end, Kinds: make([]ListingKindStats, len(models.ListingKinds))}

	for i, kind := range models.ListingKinds {
		stats, err := s.kindStats(ctx, kind, start, end)
		if err != nil {
			s.logger.Error("Listing statistics query failed", "kind", kind, "error", err)
			stats = emptyKindStats(kind)
		}
		out.Kinds[i] = stats
	}
	return out
}

func (s *AnalyticsService) kindStats(ctx context.Context, kind models.EntityType, start, end time.Time) (ListingKindStats, error) {
	stats := emptyKindStats(kind)
	table := kind.Table()
	g, gctx := errgroup.WithContext(ctx)
	q := func() *gorm.DB { return s.db.WithContext(gctx).Table(table) }

	var statusRows, categoryRows, dayRows []KeyCount

	g.Go(func() error {
		return q().Select("approval_status AS key, COUNT(*) AS count").Group("approval_status").Scan(&statusRows).Error
	})
	g.Go(func() error {
		return q().Where("is_featured = ?", true).Count(&stats.Featured).Error
	})
	g.Go(func() error {
		return q().Where("is_verified = ?", true).Count(&stats.Verified).Error
	})
	g.Go(func() error {
		return q().Select("category AS key, COUNT(*) AS count").Group("category").Order("count DESC, category").Scan(&categoryRows).Error
	})
	g.Go(func() error {
		return q().Select("COALESCE(MIN(price), 0) AS min, COALESCE(MAX(price), 0) AS max, COALESCE(AVG(price), 0) AS avg").Scan(&stats.Price).Error
	})
	g.Go(func() error {
		return q().Select(s.buckets.day+" AS key, COUNT(*) AS count").
			Where("created_at >= ? AND created_at <= ?", start, end).
			Group(s.buckets.day).Scan(&dayRows).Error
	})
	if err := g.Wait(); err != nil {
		return emptyKindStats(kind), err
	}

	for _, r := range statusRows {
		stats.ByStatus[r.Key] = r.Count
		stats.Total += r.Count
	}
	for _, r := range categoryRows {
		if r.Key == "" {
			r.Key = "uncategorized"
		}
		stats.ByCategory = append(stats.ByCategory, r)
	}
	sort.Slice(dayRows, func(i, j int) bool { return dayRows[i].Key < dayRows[j].Key })
	for _, r := range dayRows {
		stats.NewInWindow += r.Count
		stats.NewPerDay = append(stats.NewPerDay, r)
	}
	return stats, nil
}

type LikedProperty struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Price   float64   `json:"price"`
	City    string    `json:"city"`
	LikedAt time.Time `json:"likedAt"`
}

type UserLikes struct {
	UserID    string          `json:"userId"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	LikeCount int64           `json:"likeCount"`
	Likes     []LikedProperty `json:"likes"`
}

// UsersWithLikes lists users who liked at least one property, most active
// first.
func (s *AnalyticsService) UsersWithLikes(ctx context.Context, page PageRequest) ([]UserLikes, Pagination) {
	page = page.Normalize()
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&models.Like{}).Distinct("user_id").Count(&total).Error; err != nil {
		s.logger.Error("Users-with-likes count failed", "error", err)
		return []UserLikes{}, NewPagination(page, 0)
	}

	type row struct {
		UserID    string
		LikeCount int64
	}
	var rows []row
	err := db.Model(&models.Like{}).Select("user_id, COUNT(*) AS like_count").
		Group("user_id").Order("like_count DESC, user_id").
		Offset(page.Offset()).Limit(page.Limit).Scan(&rows).Error
	if err != nil {
		s.logger.Error("Users-with-likes query failed", "error", err)
		return []UserLikes{}, NewPagination(page, 0)
	}
	if len(rows) == 0 {
		return []UserLikes{}, NewPagination(page, total)
	}

	userIDs := make([]string, len(rows))
	for i, r := range rows {
		userIDs[i] = r.UserID
	}

	var users []models.User
	var likes []models.Like
	if err := db.Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		s.logger.Error("Users-with-likes user lookup failed", "error", err)
	}
	if err := db.Where("user_id IN ?", userIDs).Order("created_at DESC").Find(&likes).Error; err != nil {
		s.logger.Error("Users-with-likes like lookup failed", "error", err)
	}

	propertyIDs := make([]string, 0, len(likes))
	for _, l := range likes {
		propertyIDs = append(propertyIDs, l.PropertyID)
	}
	var properties []models.Property
	if len(propertyIDs) > 0 {
		if err := db.Select("id", "title", "price", "city").Where("id IN ?", propertyIDs).Find(&properties).Error; err != nil {
			s.logger.Error("Users-with-likes property lookup failed", "error", err)
		}
	}

	userByID := make(map[string]models.User, len(users))
	for _, u := range users {
		userByID[u.ID] = u
	}
	propByID := make(map[string]models.Property, len(properties))
	for _, p := range properties {
		propByID[p.ID] = p
	}
	likesByUser := map[string][]LikedProperty{}
	for _, l := range likes {
		p := propByID[l.PropertyID]
		likesByUser[l.UserID] = append(likesByUser[l.UserID], LikedProperty{
			ID: l.PropertyID, Title: p.Title, Price: p.Price, City: p.City, LikedAt: l.CreatedAt,
		})
	}

	out := make([]UserLikes, 0, len(rows))
	for _, r := range rows {
		u := userByID[r.UserID]
		liked := likesByUser[r.UserID]
		if liked == nil {
			liked = []LikedProperty{}
		}
		out = append(out, UserLikes{UserID: r.UserID, Name: u.Name, Email: u.Email, LikeCount: r.LikeCount, Likes: liked})
	}
	return out, NewPagination(page, total)
}
