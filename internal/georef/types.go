package georef

import "delivery-geolocation/pkg/geography"

// Ref is an {id, nombre} reference to a Georef entity.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"nombre"`
}

// Side holds the house numbers on each side of a street segment.
type Side struct {
	Right *int `json:"derecha"`
	Left  *int `json:"izquierda"`
}

// Heights is the numbering range of a street.
type Heights struct {
	Start Side `json:"inicio"`
	End   Side `json:"fin"`
}

// Street is one record of /calles.
type Street struct {
	ID           string  `json:"id"`
	Name         string  `json:"nombre"`
	Category     string  `json:"categoria"`
	Nomenclature string  `json:"nomenclatura"`
	Heights      Heights `json:"altura"`
	Department   Ref     `json:"departamento"`
	Province     Ref     `json:"provincia"`
}

// StreetQuery are the caller-controlled /calles parameters. Province and
// department come from the client configuration.
type StreetQuery struct {
	Name     string
	Category string
	Max      int
	Start    int
}

// StreetPage is a /calles response.
type StreetPage struct {
	Count   int      `json:"cantidad"`
	Total   int      `json:"total"`
	Start   int      `json:"inicio"`
	Streets []Street `json:"calles"`
}

// Location is nullable on both axes.
type Location struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// Coordinates reports the point when both axes are present.
func (l *Location) Coordinates() (geography.Coordinates, bool) {
	if l == nil || l.Lat == nil || l.Lon == nil {
		return geography.Coordinates{}, false
	}
	return geography.Coordinates{Lat: *l.Lat, Lon: *l.Lon}, true
}

// Address is one record of /direcciones.
type Address struct {
	Nomenclature string    `json:"nomenclatura"`
	Location     *Location `json:"ubicacion"`
	Street       Ref       `json:"calle"`
	Height       struct {
		Value *int `json:"valor"`
	} `json:"altura"`
	Department Ref `json:"departamento"`
	Province   Ref `json:"provincia"`
}

// AddressQuery are the /direcciones parameters.
type AddressQuery struct {
	Address  string
	Province string
	Max      int
}

// AddressPage is a /direcciones response.
type AddressPage struct {
	Count     int       `json:"cantidad"`
	Total     int       `json:"total"`
	Addresses []Address `json:"direcciones"`
}
