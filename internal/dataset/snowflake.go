package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/snowflakedb/gosnowflake" // Snowflake driver

	"github.com/soundlift/promo-monitor/internal/config"
)

// SnowflakeSource reads historical samples from the warehouse table the
// tier CSVs are exported from. Results are cached per tier so the model
// sees one dataset snapshot per process.
type SnowflakeSource struct {
	db    *sql.DB
	table string

	mu    sync.Mutex
	cache map[string][]Sample
}

// NewSnowflakeSource opens a connection pool against the configured
// warehouse.
func NewSnowflakeSource(cfg config.SnowflakeConfig) (*SnowflakeSource, error) {
	// DSN format: user:password@account/database/schema?warehouse=xxx
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s", cfg.User, cfg.Password, cfg.Account, cfg.Database, cfg.Schema)
	if cfg.Warehouse != "" {
		dsn += "?warehouse=" + cfg.Warehouse
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake connection: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &SnowflakeSource{
		db:    db,
		table: cfg.Table,
		cache: make(map[string][]Sample),
	}, nil
}

// Close closes the underlying connection pool.
func (s *SnowflakeSource) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping tests the warehouse connection.
func (s *SnowflakeSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// TierSamples returns all samples for the given tier, querying the
// warehouse on first access.
func (s *SnowflakeSource) TierSamples(ctx context.Context, tier string) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[tier]; ok {
		return cached, nil
	}

	query := fmt.Sprintf(`SELECT VIEWS, LIKES, COMMENTS, GENRE, LIKE_VIEW_RATIO, COMMENT_VIEW_RATIO
		FROM %s WHERE TIER = ?`, s.table)

	rows, err := s.db.QueryContext(ctx, query, tier)
	if err != nil {
		return nil, fmt.Errorf("query tier %s: %w", tier, err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var sample Sample
		var genre sql.NullString
		var likeRatio, commentRatio sql.NullFloat64
		if err := rows.Scan(&sample.Views, &sample.Likes, &sample.Comments, &genre, &likeRatio, &commentRatio); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sample.Genre = genre.String
		if likeRatio.Valid {
			sample.LikeViewRatio = likeRatio.Float64
		} else if sample.Views > 0 {
			sample.LikeViewRatio = sample.Likes / sample.Views
		}
		if commentRatio.Valid {
			sample.CommentViewRatio = commentRatio.Float64
		} else if sample.Views > 0 {
			sample.CommentViewRatio = sample.Comments / sample.Views
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}

	s.cache[tier] = samples
	return samples, nil
}
