// Package pages holds the server-rendered HTML views.
package pages

type PinListItem struct {
	ID        int64
	Latitude  float64
	Longitude float64
	Photos    int
	CreatedAt string
	Href      string
}

type IndexData struct {
	Pins []PinListItem
	// Region is the last saved viewport, empty when none was saved.
	Region string
}
