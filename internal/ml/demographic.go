package ml

import (
	"context"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/temcen/cinesense/pkg/models"
)

// DemographicWeights are the fixed weights of the three similarity signals.
// They were tuned offline and are not re-estimated at runtime.
type DemographicWeights struct {
	Age    float64 `json:"age" validate:"gte=0,lte=1"`
	Gender float64 `json:"gender" validate:"gte=0,lte=1"`
	Genre  float64 `json:"genre" validate:"gte=0,lte=1"`
}

// DefaultDemographicWeights returns the empirically tuned weights.
func DefaultDemographicWeights() DemographicWeights {
	return DemographicWeights{Age: 0.31, Gender: 0.27, Genre: 0.42}
}

// DemographicConfig contains configuration for the demographic model.
type DemographicConfig struct {
	Weights       DemographicWeights `json:"weights"`
	LikeThreshold float64            `json:"like_threshold" validate:"gt=0"`
	Neighbors     int                `json:"neighbors" validate:"min=1"`
}

// DefaultDemographicConfig returns the default configuration.
func DefaultDemographicConfig() DemographicConfig {
	return DemographicConfig{
		Weights:       DefaultDemographicWeights(),
		LikeThreshold: 4.0,
		Neighbors:     5,
	}
}

// maxAgeGap is the age difference at which age closeness reaches zero.
const maxAgeGap = 50.0

// Profile is the demographic view of a single user.
type Profile struct {
	UserID string
	Age    int
	Gender string

	// LikedGenres counts genre tags over items rated at or above the
	// like-threshold.
	LikedGenres map[string]int

	likedItems []int64
}

// LikedItems returns the ids of items the user rated at or above the threshold.
func (p *Profile) LikedItems() []int64 {
	out := make([]int64, len(p.likedItems))
	copy(out, p.likedItems)
	return out
}

// DemographicModel recommends items liked by the users most similar to the
// target user on age, gender and liked genres.
type DemographicModel struct {
	config  DemographicConfig
	users   []models.User
	ratings []models.Rating
	catalog []models.Item
	logger  *logrus.Logger

	profiles map[string]*Profile
	order    []string
}

// NewDemographicModel creates a model over the given tables. BuildProfiles
// must be called before querying.
func NewDemographicModel(
	users []models.User,
	ratings []models.Rating,
	catalog []models.Item,
	cfg DemographicConfig,
	logger *logrus.Logger,
) *DemographicModel {
	def := DefaultDemographicConfig()
	if cfg.Weights == (DemographicWeights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.LikeThreshold <= 0 {
		cfg.LikeThreshold = def.LikeThreshold
	}
	if cfg.Neighbors <= 0 {
		cfg.Neighbors = def.Neighbors
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DemographicModel{
		config:   cfg,
		users:    users,
		ratings:  ratings,
		catalog:  catalog,
		logger:   logger,
		profiles: make(map[string]*Profile),
	}
}

// BuildProfiles computes a profile for every user in the user table and every
// user that appears in the ratings. Users without a demographic row get age 0
// and the default gender.
func (m *DemographicModel) BuildProfiles() {
	genresByItem := make(map[int64][]string, len(m.catalog))
	for _, item := range m.catalog {
		genresByItem[item.ID] = item.Genres
	}

	m.profiles = make(map[string]*Profile)
	m.order = m.order[:0]

	for _, u := range m.users {
		if _, ok := m.profiles[u.ID]; ok {
			continue
		}
		gender := u.Gender
		if gender == "" {
			gender = models.DefaultGender
		}
		m.addProfile(&Profile{UserID: u.ID, Age: max(u.Age, 0), Gender: gender, LikedGenres: map[string]int{}})
	}

	for _, r := range m.ratings {
		p, ok := m.profiles[r.UserID]
		if !ok {
			p = &Profile{UserID: r.UserID, Gender: models.DefaultGender, LikedGenres: map[string]int{}}
			m.addProfile(p)
		}
		if r.Value < m.config.LikeThreshold {
			continue
		}
		p.likedItems = append(p.likedItems, r.ItemID)
		for _, g := range genresByItem[r.ItemID] {
			p.LikedGenres[g]++
		}
	}

	m.logger.WithFields(logrus.Fields{
		"profiles":       len(m.profiles),
		"like_threshold": m.config.LikeThreshold,
	}).Info("Demographic profiles built")
}

func (m *DemographicModel) addProfile(p *Profile) {
	m.profiles[p.UserID] = p
	m.order = append(m.order, p.UserID)
}

// Profile returns the profile of userID.
func (m *DemographicModel) Profile(userID string) (*Profile, bool) {
	p, ok := m.profiles[userID]
	return p, ok
}

// Similarity scores how close b is to a:
//
//	w_age * max(0, 1 - |ageA - ageB| / 50)
//	  + w_gender * [genderA == genderB]
//	  + w_genre * |likedA ∩ likedB| / max(|likedA|, 1)
//
// The genre term is normalized by a's distinct liked genres only, so the
// metric is a directed affinity: Similarity(a, b) != Similarity(b, a) in
// general.
func (m *DemographicModel) Similarity(a, b *Profile) float64 {
	return profileSimilarity(m.config.Weights, a, b)
}

func profileSimilarity(w DemographicWeights, a, b *Profile) float64 {
	ageSim := math.Max(0, 1-math.Abs(float64(a.Age-b.Age))/maxAgeGap)

	genderSim := 0.0
	if a.Gender == b.Gender {
		genderSim = 1
	}

	overlap := 0
	for g := range a.LikedGenres {
		if _, ok := b.LikedGenres[g]; ok {
			overlap++
		}
	}
	genreSim := float64(overlap) / float64(max(len(a.LikedGenres), 1))

	return w.Age*ageSim + w.Gender*genderSim + w.Genre*genreSim
}

// SimilarUsers returns the n users most similar to userID, most similar first.
// Ties are broken by user id.
func (m *DemographicModel) SimilarUsers(userID string, n int) []models.SimilarUser {
	target, ok := m.profiles[userID]
	if !ok || n <= 0 {
		return []models.SimilarUser{}
	}

	similar := make([]models.SimilarUser, 0, len(m.order))
	for _, otherID := range m.order {
		if otherID == userID {
			continue
		}
		similar = append(similar, models.SimilarUser{
			UserID:          otherID,
			SimilarityScore: m.Similarity(target, m.profiles[otherID]),
		})
	}

	sort.Slice(similar, func(i, j int) bool {
		if similar[i].SimilarityScore != similar[j].SimilarityScore {
			return similar[i].SimilarityScore > similar[j].SimilarityScore
		}
		return similar[i].UserID < similar[j].UserID
	})

	if len(similar) > n {
		similar = similar[:n]
	}
	return similar
}

// RecommendBySimilarity ranks items liked by the nearest neighbours of userID
// by how many of those neighbours liked them, ties by item id. An unknown
// user yields an empty list.
func (m *DemographicModel) RecommendBySimilarity(_ context.Context, userID string, topN int) ([]int64, error) {
	if _, ok := m.profiles[userID]; !ok || topN <= 0 {
		return []int64{}, nil
	}

	counts := make(map[int64]int)
	for _, neighbour := range m.SimilarUsers(userID, m.config.Neighbors) {
		for _, itemID := range m.profiles[neighbour.UserID].likedItems {
			counts[itemID]++
		}
	}

	candidates := make([]int64, 0, len(counts))
	for itemID := range counts {
		candidates = append(candidates, itemID)
	}
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := counts[candidates[i]], counts[candidates[j]]
		if ci != cj {
			return ci > cj
		}
		return candidates[i] < candidates[j]
	})

	if len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates, nil
}

// RecommendByGenre is the cold-start genre filter over the model's catalog.
func (m *DemographicModel) RecommendByGenre(genre string, limit int) []int64 {
	return RecommendByGenre(genre, m.catalog, limit)
}

// RecommendByGenre returns ids of catalog items whose genre tags contain
// genre (case-insensitive substring). Items are ordered by average rating
// when the catalog carries a rating signal, otherwise catalog order is kept.
// No trained model or rating history is needed.
func RecommendByGenre(genre string, catalog []models.Item, limit int) []int64 {
	if limit <= 0 {
		return []int64{}
	}

	matched := make([]models.Item, 0)
	rated := false
	for _, item := range catalog {
		if !item.HasGenre(genre) {
			continue
		}
		matched = append(matched, item)
		if item.RatingCount > 0 || item.AvgRating > 0 {
			rated = true
		}
	}

	if rated {
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].AvgRating > matched[j].AvgRating
		})
	}

	if len(matched) > limit {
		matched = matched[:limit]
	}
	ids := make([]int64, len(matched))
	for i, item := range matched {
		ids[i] = item.ID
	}
	return ids
}
