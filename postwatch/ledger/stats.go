package ledger

import (
	"context"
	"fmt"
	"time"
)

// Detection is one counted fingerprint.
type Detection struct {
	Fingerprint string    `json:"fingerprint"`
	Platform    string    `json:"platform"`
	Excerpt     string    `json:"excerpt"`
	FirstSeen   time.Time `json:"first_seen"`
	Probability *int      `json:"probability,omitempty"`
}

// Stats summarises the ledger for the command surface.
type Stats struct {
	Count      int64            `json:"detection_count"`
	ByPlatform map[string]int64 `json:"by_platform"`
	Classified int64            `json:"classified"`
	Recent     []Detection      `json:"recent"`
}

// Stats returns the count, a per-platform breakdown and the most recent
// detections (at most limit).
func (l *Ledger) Stats(ctx context.Context, limit int) (Stats, error) {
	if limit <= 0 {
		limit = 10
	}
	st := Stats{ByPlatform: make(map[string]int64)}

	var err error
	if st.Count, err = l.Count(ctx); err != nil {
		return Stats{}, err
	}

	rows, err := l.db.QueryContext(ctx, `SELECT platform, COUNT(*) FROM detections GROUP BY platform`)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger: stats by platform: %w", err)
	}
	for rows.Next() {
		var p string
		var n int64
		if err := rows.Scan(&p, &n); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("ledger: scan: %w", err)
		}
		st.ByPlatform[p] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("ledger: stats by platform: %w", err)
	}

	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verdicts`).Scan(&st.Classified); err != nil {
		return Stats{}, fmt.Errorf("ledger: count verdicts: %w", err)
	}

	rows, err = l.db.QueryContext(ctx, `
		SELECT d.fingerprint, d.platform, d.excerpt, d.first_seen, v.probability
		FROM detections d LEFT JOIN verdicts v ON v.fingerprint = d.fingerprint
		ORDER BY d.first_seen DESC, d.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger: recent: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d Detection
		var ts int64
		var prob *int
		if err := rows.Scan(&d.Fingerprint, &d.Platform, &d.Excerpt, &ts, &prob); err != nil {
			return Stats{}, fmt.Errorf("ledger: scan recent: %w", err)
		}
		d.FirstSeen = time.Unix(ts, 0).UTC()
		d.Probability = prob
		st.Recent = append(st.Recent, d)
	}
	return st, rows.Err()
}
