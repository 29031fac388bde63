package models

// Dataset bundles the in-memory tables a training run consumes.
type Dataset struct {
	Ratings []Rating
	Items   []Item
	Users   []User

	// Vectors holds one fused content vector per item, aligned with Items.
	// Nil means the content pipeline has not run yet.
	Vectors [][]float64
}

// Empty reports whether the dataset has neither ratings nor catalog rows.
func (d *Dataset) Empty() bool {
	return d == nil || (len(d.Ratings) == 0 && len(d.Items) == 0)
}

// ItemByID indexes the catalog by item id.
func (d *Dataset) ItemByID() map[int64]Item {
	byID := make(map[int64]Item, len(d.Items))
	for _, item := range d.Items {
		byID[item.ID] = item
	}
	return byID
}
