package model

// Snippet is one ranked text fragment returned by the retrieval store.
type Snippet struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Citation is a reference to the source backing a tile or an answer.
type Citation struct {
	Source    string `json:"source"`
	Reference string `json:"reference,omitempty"`
	URL       string `json:"url,omitempty"`
}
