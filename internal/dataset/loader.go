// Package dataset loads the ratings, catalog and user tables a training run
// consumes, from MovieLens-style CSV files or from PostgreSQL.
package dataset

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/temcen/cinesense/pkg/models"
)

// Loader reads the three tables of a dataset.
type Loader interface {
	LoadRatings(ctx context.Context) ([]models.Rating, error)
	LoadItems(ctx context.Context) ([]models.Item, error)
	LoadUsers(ctx context.Context) ([]models.User, error)
}

// LoadAll reads every table concurrently and deduplicates ratings.
func LoadAll(ctx context.Context, l Loader) (models.Dataset, error) {
	var ds models.Dataset
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ratings, err := l.LoadRatings(ctx)
		if err != nil {
			return fmt.Errorf("load ratings: %w", err)
		}
		ds.Ratings = DedupeRatings(ratings)
		return nil
	})
	g.Go(func() error {
		items, err := l.LoadItems(ctx)
		if err != nil {
			return fmt.Errorf("load items: %w", err)
		}
		ds.Items = items
		return nil
	})
	g.Go(func() error {
		users, err := l.LoadUsers(ctx)
		if err != nil {
			return fmt.Errorf("load users: %w", err)
		}
		ds.Users = users
		return nil
	})

	if err := g.Wait(); err != nil {
		return models.Dataset{}, err
	}
	return ds, nil
}

// DedupeRatings keeps one rating per (user, item): the one with the latest
// timestamp, or the later row when timestamps tie. Output keeps the order in
// which each pair was first seen.
func DedupeRatings(ratings []models.Rating) []models.Rating {
	type key struct {
		user string
		item int64
	}
	pos := make(map[key]int, len(ratings))
	out := make([]models.Rating, 0, len(ratings))
	for _, r := range ratings {
		k := key{r.UserID, r.ItemID}
		if i, ok := pos[k]; ok {
			if r.Timestamp >= out[i].Timestamp {
				out[i] = r
			}
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

var titleYear = regexp.MustCompile(`\((\d{4})\)\s*$`)

// ExtractYear returns the release year in a MovieLens title such as
// "Heat (1995)", or 0.
func ExtractYear(title string) int {
	m := titleYear.FindStringSubmatch(title)
	if m == nil {
		return 0
	}
	year, _ := strconv.Atoi(m[1])
	return year
}

// SortItems orders a catalog by item id.
func SortItems(items []models.Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}
