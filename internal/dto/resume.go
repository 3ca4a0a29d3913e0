package dto

// ResumeData is the validated shape of the AI parser output.
type ResumeData struct {
	Basics     ResumeBasics      `json:"basics" validate:"required"`
	Work       []ResumeWork      `json:"work" validate:"dive"`
	Education  []ResumeEducation `json:"education" validate:"dive"`
	Skills     []ResumeSkill     `json:"skills" validate:"dive"`
	Projects   []ResumeProject   `json:"projects,omitempty" validate:"dive"`
	Languages  []string          `json:"languages,omitempty" validate:"dive,required"`
	Highlights []string          `json:"highlights,omitempty" validate:"dive,required"`
}

type ResumeBasics struct {
	Name     string       `json:"name" validate:"required,max=200"`
	Headline string       `json:"headline,omitempty" validate:"max=300"`
	Email    string       `json:"email,omitempty" validate:"omitempty,email"`
	Phone    string       `json:"phone,omitempty" validate:"max=64"`
	Location string       `json:"location,omitempty" validate:"max=200"`
	Summary  string       `json:"summary,omitempty"`
	Links    []ResumeLink `json:"links,omitempty" validate:"dive"`
}

type ResumeLink struct {
	Label string `json:"label,omitempty"`
	URL   string `json:"url" validate:"required"`
}

type ResumeWork struct {
	Company    string   `json:"company" validate:"required"`
	Position   string   `json:"position,omitempty"`
	Location   string   `json:"location,omitempty"`
	StartDate  string   `json:"start_date,omitempty"`
	EndDate    string   `json:"end_date,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Highlights []string `json:"highlights,omitempty"`
}

type ResumeEducation struct {
	Institution string `json:"institution" validate:"required"`
	Degree      string `json:"degree,omitempty"`
	Field       string `json:"field,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
}

type ResumeSkill struct {
	Name     string   `json:"name" validate:"required"`
	Keywords []string `json:"keywords,omitempty"`
}

type ResumeProject struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}
