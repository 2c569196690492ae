package types

// PromptPoint is a click handed to the outline model, normalized to [0,1]
type PromptPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	// Foreground is false for clicks that mark background to exclude
	Foreground bool `json:"foreground"`
}

// Outline is the region the model traced around the prompted object
type Outline struct {
	Label      string       `json:"label"`
	Confidence float64      `json:"confidence"`
	Polygon    [][2]float64 `json:"polygon"`
}

// ModelConfig selects the inference backend
type ModelConfig struct {
	Backend string // "ollama" or "llamacpp"
	URL     string
	Model   string
	MaxDim  int // longest image side sent to the model
}
