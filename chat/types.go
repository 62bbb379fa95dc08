package chat

// Source attributes part of an answer to an uploaded document.
type Source struct {
	Filename string
	Score    float64
	Preview  string
}

// Response is the outcome of one Ask call. HasContext is false when no
// indexed chunk matched the question; that is a normal outcome, not an error.
type Response struct {
	Answer     string
	Sources    []Source
	HasContext bool
	ChunksUsed int
}
