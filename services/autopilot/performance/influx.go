// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package performance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/autopilot/services/autopilot/datatypes"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// DefaultMeasurement is the Influx measurement holding ad performance rows.
const DefaultMeasurement = "ad_performance"

// InfluxConfig configures an InfluxSource.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string

	// Period is the length of the current window; the previous window is the
	// same length immediately before it.
	Period time.Duration
}

// InfluxSource reads performance rows from InfluxDB.
//
// # Description
//
// Rows are tagged with account_id and channel. Additive fields (spend,
// revenue, impressions, clicks, conversions, platform_conversions,
// tracked_conversions) are summed per window; gauge fields (daily_budget,
// quality_score, impression_share) take the latest value.
//
// # Thread Safety
//
// Safe for concurrent use.
type InfluxSource struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPIBlocking
	cfg      InfluxConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewInfluxSource creates a client for cfg.
func NewInfluxSource(cfg InfluxConfig, logger *slog.Logger) (*InfluxSource, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx url, org and bucket are required")
	}
	if cfg.Measurement == "" {
		cfg.Measurement = DefaultMeasurement
	}
	if cfg.Period <= 0 {
		cfg.Period = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSource{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Org),
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "performance_influx")),
	}, nil
}

// Close releases the underlying client.
func (s *InfluxSource) Close() {
	s.client.Close()
}

// Snapshot implements Source.
func (s *InfluxSource) Snapshot(ctx context.Context, accountID string) (*datatypes.PerformanceSnapshot, error) {
	end := s.now().UTC()
	mid := end.Add(-s.cfg.Period)
	start := mid.Add(-s.cfg.Period)

	current, err := s.queryWindow(ctx, accountID, mid, end)
	if err != nil {
		return nil, err
	}
	previous, err := s.queryWindow(ctx, accountID, start, mid)
	if err != nil {
		return nil, err
	}
	if len(current) == 0 && len(previous) == 0 {
		return nil, nil
	}

	snap := buildSnapshot(accountID, mid, end, current, previous)
	snap.CollectedAt = end
	return snap, nil
}

func (s *InfluxSource) queryWindow(ctx context.Context, accountID string, start, stop time.Time) ([]row, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.account_id == "%s")
		  |> pivot(rowKey:["_time", "channel"], columnKey: ["_field"], valueColumn: "_value")
		  |> sort(columns: ["_time"], desc: false)
	`, s.cfg.Bucket, start.Format(time.RFC3339), stop.Format(time.RFC3339), s.cfg.Measurement, accountID)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("influx query failed: %w", err)
	}
	defer result.Close()

	var rows []row
	for result.Next() {
		record := result.Record()
		r := row{time: record.Time(), fields: make(map[string]float64)}
		if ch, ok := record.ValueByKey("channel").(string); ok {
			r.channel = ch
		}
		for _, name := range allFields {
			if v, ok := record.ValueByKey(name).(float64); ok {
				r.fields[name] = v
			}
		}
		rows = append(rows, r)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading influx results: %w", result.Err())
	}
	s.logger.Debug("performance window loaded",
		slog.String("account_id", accountID), slog.Int("rows", len(rows)))
	return rows, nil
}

// Record writes one channel row at ts.
func (s *InfluxSource) Record(ctx context.Context, accountID string, ts time.Time, c datatypes.ChannelPerformance, m datatypes.Metrics) error {
	p := influxdb2.NewPointWithMeasurement(s.cfg.Measurement).
		AddTag("account_id", accountID).
		AddTag("channel", c.Channel).
		AddField("spend", m.Spend).
		AddField("revenue", m.Revenue).
		AddField("impressions", m.Impressions).
		AddField("clicks", m.Clicks).
		AddField("conversions", m.Conversions).
		AddField("daily_budget", c.DailyBudget).
		AddField("platform_conversions", c.PlatformConversions).
		AddField("tracked_conversions", c.TrackedConversions).
		AddField("quality_score", c.QualityScore).
		AddField("impression_share", c.ImpressionShare).
		SetTime(ts)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write performance point: %w", err)
	}
	return nil
}

var _ Source = (*InfluxSource)(nil)

// =============================================================================
// Aggregation
// =============================================================================

var (
	additiveFields = []string{"spend", "revenue", "impressions", "clicks", "conversions", "platform_conversions", "tracked_conversions"}
	gaugeFields    = []string{"daily_budget", "quality_score", "impression_share"}
	allFields      = append(append([]string{}, additiveFields...), gaugeFields...)
)

type row struct {
	time    time.Time
	channel string
	fields  map[string]float64
}

// channelTotals sums additive fields and keeps the latest gauges per channel.
type channelTotals struct {
	sums   map[string]float64
	gauges map[string]float64
}

func aggregate(rows []row) (map[string]*channelTotals, []string) {
	out := make(map[string]*channelTotals)
	var order []string
	for _, r := range rows {
		t, ok := out[r.channel]
		if !ok {
			t = &channelTotals{sums: map[string]float64{}, gauges: map[string]float64{}}
			out[r.channel] = t
			order = append(order, r.channel)
		}
		for _, f := range additiveFields {
			t.sums[f] += r.fields[f]
		}
		for _, f := range gaugeFields {
			if v, ok := r.fields[f]; ok {
				t.gauges[f] = v
			}
		}
	}
	return out, order
}

func metricsOf(totals map[string]*channelTotals) datatypes.Metrics {
	var m datatypes.Metrics
	for _, t := range totals {
		m.Spend += t.sums["spend"]
		m.Revenue += t.sums["revenue"]
		m.Impressions += t.sums["impressions"]
		m.Clicks += t.sums["clicks"]
		m.Conversions += t.sums["conversions"]
	}
	return m
}

// buildSnapshot folds both windows into a snapshot. Channels are listed in
// the order they first appear in the current window.
func buildSnapshot(accountID string, start, end time.Time, current, previous []row) *datatypes.PerformanceSnapshot {
	cur, order := aggregate(current)
	prev, _ := aggregate(previous)
	days := periodDays(start, end)

	snap := &datatypes.PerformanceSnapshot{
		AccountID:   accountID,
		PeriodStart: start,
		PeriodEnd:   end,
		Current:     metricsOf(cur),
		Previous:    metricsOf(prev),
	}
	for _, name := range order {
		if name == "" {
			continue
		}
		c := cur[name]
		cm := datatypes.Metrics{Spend: c.sums["spend"], Revenue: c.sums["revenue"], Conversions: c.sums["conversions"]}
		cp := datatypes.ChannelPerformance{
			Channel:             name,
			DailyBudget:         c.gauges["daily_budget"],
			Spend:               c.sums["spend"],
			PlatformConversions: c.sums["platform_conversions"],
			TrackedConversions:  c.sums["tracked_conversions"],
			QualityScore:        c.gauges["quality_score"],
			ImpressionShare:     c.gauges["impression_share"],
			CPA:                 cm.CPA(),
			ROAS:                cm.ROAS(),
		}
		if p, ok := prev[name]; ok {
			cp.PreviousQualityScore = p.gauges["quality_score"]
			cp.PreviousImpressionShare = p.gauges["impression_share"]
		}
		fillDerived(&cp, days)
		snap.Channels = append(snap.Channels, cp)
	}
	return snap
}
