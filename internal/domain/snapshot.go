package domain

// Element is one sampled visible DOM element.
type Element struct {
	Tag     string  `json:"tag"`
	Text    string  `json:"text"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Classes string  `json:"classes"`
}

// Snapshot is the bounded structural description of a rendered page.
type Snapshot struct {
	Title         string    `json:"title"`
	Elements      []Element `json:"elements"`
	HasNavigation bool      `json:"hasNavigation"`
	HasHeader     bool      `json:"hasHeader"`
	HasFooter     bool      `json:"hasFooter"`
	HasCTA        bool      `json:"hasCTA"`
	FormCount     int       `json:"formCount"`
	ImageCount    int       `json:"imageCount"`
}
