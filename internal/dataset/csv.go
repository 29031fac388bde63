package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/temcen/cinesense/internal/ml"
	"github.com/temcen/cinesense/pkg/models"
)

// CSV file names inside a MovieLens directory.
const (
	MoviesFile  = "movies.csv"
	RatingsFile = "ratings.csv"
	UsersFile   = "users.csv"
)

// CSVLoader reads movies.csv, ratings.csv and the optional users.csv from a
// directory. Columns are located by header name.
type CSVLoader struct {
	dir    string
	logger *logrus.Logger
}

// NewCSVLoader creates a loader for dir.
func NewCSVLoader(dir string, logger *logrus.Logger) *CSVLoader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CSVLoader{dir: dir, logger: logger}
}

// LoadItems reads movies.csv: movieId,title,genres with optional summary and
// year columns. A missing year is parsed from the title.
func (l *CSVLoader) LoadItems(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	err := l.readFile(ctx, MoviesFile, []string{"movieId", "title"}, func(row record) error {
		id, err := row.int64("movieId")
		if err != nil {
			return err
		}
		item := models.Item{
			ID:      id,
			Title:   row.str("title"),
			Genres:  models.ParseGenres(row.str("genres")),
			Summary: row.str("summary"),
		}
		if item.Year, err = row.optInt("year"); err != nil {
			return err
		}
		if item.Year == 0 {
			item.Year = ExtractYear(item.Title)
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithField("items", len(items)).Info("Loaded movies from CSV")
	return items, nil
}

// LoadRatings reads ratings.csv: userId,movieId,rating[,timestamp].
func (l *CSVLoader) LoadRatings(ctx context.Context) ([]models.Rating, error) {
	var ratings []models.Rating
	err := l.readFile(ctx, RatingsFile, []string{"userId", "movieId", "rating"}, func(row record) error {
		itemID, err := row.int64("movieId")
		if err != nil {
			return err
		}
		value, err := row.float("rating")
		if err != nil {
			return err
		}
		ts, err := row.optInt64("timestamp")
		if err != nil {
			return err
		}
		ratings = append(ratings, models.Rating{
			UserID:    row.str("userId"),
			ItemID:    itemID,
			Value:     value,
			Timestamp: ts,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithField("ratings", len(ratings)).Info("Loaded ratings from CSV")
	return ratings, nil
}

// LoadUsers reads users.csv: userId[,age,gender,preferred_genre]. The file
// is optional; MovieLens latest ships without demographics.
func (l *CSVLoader) LoadUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := l.readFile(ctx, UsersFile, []string{"userId"}, func(row record) error {
		age, err := row.optInt("age")
		if err != nil {
			return err
		}
		gender := row.str("gender")
		if gender == "" {
			gender = models.DefaultGender
		}
		users = append(users, models.User{
			ID:             row.str("userId"),
			Age:            age,
			Gender:         gender,
			PreferredGenre: row.str("preferred_genre"),
		})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		l.logger.WithField("file", UsersFile).Warn("No user demographics found, continuing without")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.logger.WithField("users", len(users)).Info("Loaded users from CSV")
	return users, nil
}

func (l *CSVLoader) readFile(ctx context.Context, name string, required []string, fn func(record) error) error {
	path := filepath.Join(l.dir, name)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	rd := csv.NewReader(bufio.NewReader(f))
	rd.ReuseRecord = true
	rd.FieldsPerRecord = -1

	header, err := rd.Read()
	if err != nil {
		return fmt.Errorf("read %s header: %w", name, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			return fmt.Errorf("%s: missing column %q", name, c)
		}
	}

	for line := 2; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fields, err := rd.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s line %d: %w", name, line, err)
		}
		if err := fn(record{cols: cols, fields: fields}); err != nil {
			return fmt.Errorf("%s line %d: %w", name, line, err)
		}
	}
}

type record struct {
	cols   map[string]int
	fields []string
}

func (r record) str(col string) string {
	i, ok := r.cols[col]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func (r record) int64(col string) (int64, error) {
	v, err := strconv.ParseInt(r.str(col), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", col, err)
	}
	return v, nil
}

func (r record) float(col string) (float64, error) {
	v, err := strconv.ParseFloat(r.str(col), 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", col, err)
	}
	return v, nil
}

func (r record) optInt64(col string) (int64, error) {
	if r.str(col) == "" {
		return 0, nil
	}
	return r.int64(col)
}

func (r record) optInt(col string) (int, error) {
	s := r.str(col)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", col, err)
	}
	return int(v), nil
}

// LoadWordVectors reads a word2vec/GloVe text file: one word per line
// followed by its components. A leading "count dimension" header line is
// skipped.
func LoadWordVectors(path string) (*ml.WordVectors, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open word vectors: %w", err)
	}
	defer f.Close()
	return ReadWordVectors(f)
}

// ReadWordVectors parses the text format accepted by LoadWordVectors.
func ReadWordVectors(r io.Reader) (*ml.WordVectors, error) {
	table := make(map[string][]float64)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for line := 1; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if line == 1 && len(fields) == 2 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				continue
			}
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("word vectors line %d: no components", line)
		}
		vec := make([]float64, len(fields)-1)
		for i, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("word vectors line %d: %w", line, err)
			}
			vec[i] = v
		}
		table[strings.ToLower(fields[0])] = vec
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read word vectors: %w", err)
	}
	return ml.NewWordVectors(table)
}
