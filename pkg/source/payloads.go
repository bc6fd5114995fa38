package source

// DogImage is the random dog image response.
type DogImage struct {
	Message string `json:"message" validate:"required,url"`
	Status  string `json:"status" validate:"required,eq=success"`
}

// Joke is the random joke response.
type Joke struct {
	ID        int    `json:"id,omitempty"`
	Type      string `json:"type,omitempty"`
	Setup     string `json:"setup" validate:"required"`
	Punchline string `json:"punchline" validate:"required"`
}

// UserProfile is the random user response. Only the first result is shown.
type UserProfile struct {
	Results []User `json:"results" validate:"required,min=1,dive"`
}

type User struct {
	Name struct {
		First string `json:"first" validate:"required"`
		Last  string `json:"last" validate:"required"`
	} `json:"name"`
	Email   string `json:"email" validate:"required,email"`
	Picture struct {
		Large string `json:"large" validate:"omitempty,url"`
	} `json:"picture"`
	Location struct {
		City    string `json:"city"`
		Country string `json:"country"`
	} `json:"location"`
}

// First returns the first user of the profile, if any.
func (p UserProfile) First() (User, bool) {
	if len(p.Results) == 0 {
		return User{}, false
	}
	return p.Results[0], true
}
