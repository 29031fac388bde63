package dataset

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinesense/pkg/models"
)

// DatabaseQuerier is the subset of pgxpool.Pool the loader needs.
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const (
	itemsQuery = `SELECT movie_id, title, COALESCE(genres, ''), COALESCE(year, 0),
	COALESCE(summary, ''), COALESCE(avg_rating, 0), COALESCE(rating_count, 0)
FROM movies ORDER BY movie_id`

	ratingsQuery = `SELECT u.email, m.movie_id, r.rating,
	COALESCE(EXTRACT(EPOCH FROM r.timestamp)::bigint, 0)
FROM ratings r
JOIN users u ON u.id = r.user_id
JOIN movies m ON m.id = r.movie_id
ORDER BY r.id`

	usersQuery = `SELECT email, COALESCE(age, 0), COALESCE(NULLIF(gender, ''), 'M'),
	COALESCE(preferred_genre, '')
FROM users ORDER BY id`
)

// PostgresLoader reads the movies, ratings and users tables. App users are
// identified by e-mail address.
type PostgresLoader struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

// NewPostgresLoader creates a loader over db.
func NewPostgresLoader(db DatabaseQuerier, logger *logrus.Logger) *PostgresLoader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PostgresLoader{db: db, logger: logger}
}

// LoadItems reads the movie catalog.
func (l *PostgresLoader) LoadItems(ctx context.Context) ([]models.Item, error) {
	rows, err := l.db.Query(ctx, itemsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query movies: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var item models.Item
		var genres string
		if err := rows.Scan(&item.ID, &item.Title, &genres, &item.Year, &item.Summary, &item.AvgRating, &item.RatingCount); err != nil {
			return nil, fmt.Errorf("failed to scan movie: %w", err)
		}
		item.Genres = models.ParseGenres(genres)
		if item.Year == 0 {
			item.Year = ExtractYear(item.Title)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read movies: %w", err)
	}

	l.logger.WithField("items", len(items)).Info("Loaded movies from database")
	return items, nil
}

// LoadRatings reads every rating joined to its user and movie.
func (l *PostgresLoader) LoadRatings(ctx context.Context) ([]models.Rating, error) {
	rows, err := l.db.Query(ctx, ratingsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings: %w", err)
	}
	defer rows.Close()

	var ratings []models.Rating
	for rows.Next() {
		var r models.Rating
		if err := rows.Scan(&r.UserID, &r.ItemID, &r.Value, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ratings: %w", err)
	}

	l.logger.WithField("ratings", len(ratings)).Info("Loaded ratings from database")
	return ratings, nil
}

// LoadUsers reads user demographics.
func (l *PostgresLoader) LoadUsers(ctx context.Context) ([]models.User, error) {
	rows, err := l.db.Query(ctx, usersQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Age, &u.Gender, &u.PreferredGenre); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}

	l.logger.WithField("users", len(users)).Info("Loaded users from database")
	return users, nil
}

// WatchedItems returns the ids of items userID has rated.
func (l *PostgresLoader) WatchedItems(ctx context.Context, userID string) ([]int64, error) {
	rows, err := l.db.Query(ctx, `SELECT m.movie_id FROM ratings r
JOIN users u ON u.id = r.user_id
JOIN movies m ON m.id = r.movie_id
WHERE u.email = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query watched items: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan watched item: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
