package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/soundlift/promo-monitor/internal/config"
	"github.com/soundlift/promo-monitor/internal/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS promo_campaigns (
	id                             TEXT PRIMARY KEY,
	video_id                       TEXT NOT NULL,
	video_title                    TEXT NOT NULL DEFAULT '',
	video_link                     TEXT NOT NULL,
	genre                          TEXT NOT NULL,
	comments_sheet_ref             TEXT NOT NULL DEFAULT '',
	sheet_tier                     TEXT NOT NULL,
	wait_time_seconds              INTEGER NOT NULL DEFAULT 0,
	minimum_engagement_delta_views BIGINT NOT NULL DEFAULT 0,
	comment_service_id             INTEGER NOT NULL DEFAULT 0,
	like_service_id                INTEGER NOT NULL DEFAULT 0,
	desired_additional_views       BIGINT NOT NULL DEFAULT 0,
	likes_only                     BOOLEAN NOT NULL DEFAULT FALSE,
	status                         TEXT NOT NULL,
	likes                          BIGINT,
	comments                       BIGINT,
	views                          BIGINT,
	desired_likes                  BIGINT NOT NULL DEFAULT 0,
	desired_comments               BIGINT NOT NULL DEFAULT 0,
	ordered_likes                  BIGINT NOT NULL DEFAULT 0,
	ordered_comments               BIGINT NOT NULL DEFAULT 0,
	created_at                     TIMESTAMPTZ NOT NULL,
	updated_at                     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_promo_campaigns_status ON promo_campaigns (status);
`

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("opening database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("pinging database", "error", err)
		os.Exit(1)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		logger.Error("applying schema", "error", err)
		os.Exit(1)
	}
	logger.Info("schema applied")
}
