package persona

// Persona is one simulated customer profile served by the training backend.
// Records are fetched read-only and passed by value through the call flow.
type Persona struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Desc      string `json:"desc"`
	Img       string `json:"img"`
	Address   string `json:"address,omitempty"`
	BirthDate string `json:"birthDate,omitempty"`
	Email     string `json:"email,omitempty"`
	Ownership string `json:"ownership,omitempty"`
	Language  string `json:"language,omitempty"`
}
