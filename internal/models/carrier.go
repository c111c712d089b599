package models

type Carrier struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Actor is the staff member (or system component) performing an operation.
type Actor struct {
	Name string
	Role string
}

func (a Actor) String() string {
	if a.Name == "" {
		return "anonymous"
	}
	return a.Name
}

// SystemActor is used for changes driven by external events.
var SystemActor = Actor{Name: "system", Role: "system"}
