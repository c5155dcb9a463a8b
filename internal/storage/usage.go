package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordUsage folds one interaction into the hourly bucket for the current
// local date and hour. A nil duration counts as zero in the running mean.
func (s *Store) RecordUsage(kind InteractionKind, duration *float64) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown interaction kind %q", ErrInvalidArgument, kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recordUsage(kind, duration); err != nil {
		s.recordFailure("usage_stats", err)
		return err
	}
	return nil
}

// recordUsage is a single upsert so concurrent writers through other handles
// cannot lose increments. SET expressions read the pre-update row, so the
// mean is weighted by the old count. Caller must hold s.mu.
func (s *Store) recordUsage(kind InteractionKind, duration *float64) error {
	now := s.now()
	var d float64
	if duration != nil {
		d = *duration
	}
	var cmd, ai int
	if kind == KindCommand {
		cmd = 1
	} else {
		ai = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO usage_stats (date, hour, interaction_count, command_count, ai_response_count, avg_duration)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(date, hour) DO UPDATE SET
			interaction_count = interaction_count + 1,
			command_count = command_count + excluded.command_count,
			ai_response_count = ai_response_count + excluded.ai_response_count,
			avg_duration = (COALESCE(avg_duration, 0) * interaction_count + excluded.avg_duration) / (interaction_count + 1)`,
		now.Format(time.DateOnly), now.Hour(), cmd, ai, d,
	)
	if err != nil {
		return fmt.Errorf("updating usage bucket: %w", err)
	}
	return nil
}

// UsageBuckets returns the hourly buckets of one date (YYYY-MM-DD) in hour order.
func (s *Store) UsageBuckets(date string) ([]UsageBucket, error) {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidArgument, date)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT date, hour, interaction_count, command_count, ai_response_count, COALESCE(avg_duration, 0)
		FROM usage_stats WHERE date = ? ORDER BY hour ASC`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []UsageBucket
	for rows.Next() {
		var b UsageBucket
		if err := rows.Scan(&b.Date, &b.Hour, &b.InteractionCount, &b.CommandCount, &b.AICount, &b.AvgDuration); err != nil {
			return nil, err
		}
		results = append(results, b)
	}
	return results, rows.Err()
}

// UsageStatistics summarizes the interactions of the trailing window of days.
func (s *Store) UsageStatistics(days int) (UsageSummary, error) {
	if days <= 0 {
		return UsageSummary{}, fmt.Errorf("%w: days must be positive, got %d", ErrInvalidArgument, days)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	since := formatTime(s.now().Add(-time.Duration(days) * 24 * time.Hour))

	var sum UsageSummary
	var avg sql.NullFloat64
	var first, last sql.NullString
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN response_type = 'command' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN response_type = 'ai' THEN 1 ELSE 0 END), 0),
			AVG(duration), MIN(timestamp), MAX(timestamp)
		FROM interactions WHERE timestamp >= ?`, since,
	).Scan(&sum.TotalInteractions, &sum.Commands, &sum.AIResponses, &avg, &first, &last)
	if err != nil {
		return UsageSummary{}, err
	}
	sum.AvgDuration = floatPtr(avg)
	if sum.FirstInteraction, err = parseNullTime(first); err != nil {
		return UsageSummary{}, err
	}
	if sum.LastInteraction, err = parseNullTime(last); err != nil {
		return UsageSummary{}, err
	}
	return sum, nil
}
