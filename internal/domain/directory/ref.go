package directory

import "strconv"

// Ref points at an entity by ID or by name. Either may be unset.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// RefOf returns the reference of an entity
func RefOf(e Entity) Ref {
	return Ref{Kind: e.Kind(), ID: e.EntityID(), Name: e.EntityName()}
}

// ByID creates a reference by ID
func ByID(kind Kind, id int64) Ref {
	return Ref{Kind: kind, ID: id}
}

// ByName creates a reference by name
func ByName(kind Kind, name string) Ref {
	return Ref{Kind: kind, Name: name}
}

// IsZero reports whether neither ID nor name is set
func (r Ref) IsZero() bool {
	return r.ID == 0 && r.Name == ""
}

// IsResolved reports whether both ID and name are known
func (r Ref) IsResolved() bool {
	return r.ID != 0 && r.Name != ""
}

func (r Ref) String() string {
	if r.ID != 0 {
		return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
	}
	return string(r.Kind) + ":" + r.Name
}
