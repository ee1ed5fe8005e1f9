package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Expected header columns of a tier export. "#"-prefixed columns carry the
// cumulative totals the regression runs on; the bare columns are the
// per-period deltas kept for reference.
const (
	colViews            = "#views"
	colLikes            = "#likes"
	colComments         = "#comments"
	colGenre            = "genre"
	colLikeViewRatio    = "like:view"
	colCommentViewRatio = "comment:view"
)

// CSVSource reads per-tier CSV tables from a directory. Each tier maps to
// one file; parsed tiers are cached for the life of the source.
type CSVSource struct {
	dir   string
	tiers map[string]string

	mu    sync.Mutex
	cache map[string][]Sample
}

// NewCSVSource creates a CSV-backed dataset source. tiers maps tier names
// to filenames inside dir.
func NewCSVSource(dir string, tiers map[string]string) *CSVSource {
	return &CSVSource{
		dir:   dir,
		tiers: tiers,
		cache: make(map[string][]Sample),
	}
}

// TierSamples returns the parsed samples for a tier, loading the file on
// first access.
func (s *CSVSource) TierSamples(_ context.Context, tier string) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[tier]; ok {
		return cached, nil
	}

	filename, ok := s.tiers[tier]
	if !ok {
		return nil, fmt.Errorf("unknown tier %q", tier)
	}

	samples, err := s.loadFile(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, fmt.Errorf("load tier %s: %w", tier, err)
	}

	s.cache[tier] = samples
	return samples, nil
}

func (s *CSVSource) loadFile(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged exports

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	idx := make(map[string]int)
	for i, name := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{colViews, colLikes, colComments, colGenre} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var samples []Sample
	for _, row := range rows[1:] {
		sample, ok := parseRow(row, idx)
		if !ok {
			continue // malformed rows are skipped, not fatal
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func parseRow(row []string, idx map[string]int) (Sample, bool) {
	field := func(col string) (string, bool) {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[i]), true
	}
	num := func(col string) (float64, bool) {
		raw, ok := field(col)
		if !ok || raw == "" {
			return 0, false
		}
		// exports sometimes carry thousands separators
		raw = strings.ReplaceAll(raw, ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}

	views, ok := num(colViews)
	if !ok {
		return Sample{}, false
	}
	likes, ok := num(colLikes)
	if !ok {
		return Sample{}, false
	}
	comments, ok := num(colComments)
	if !ok {
		return Sample{}, false
	}
	genre, _ := field(colGenre)

	sample := Sample{
		Views:    views,
		Likes:    likes,
		Comments: comments,
		Genre:    genre,
	}
	if lv, ok := num(colLikeViewRatio); ok {
		sample.LikeViewRatio = lv
	} else if views > 0 {
		sample.LikeViewRatio = likes / views
	}
	if cv, ok := num(colCommentViewRatio); ok {
		sample.CommentViewRatio = cv
	} else if views > 0 {
		sample.CommentViewRatio = comments / views
	}
	return sample, true
}
