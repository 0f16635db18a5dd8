package domain

// DefaultRegion is the fallback bounding box returned when no sighting
// carries valid coordinates: the Salish Sea, the system's default region of
// interest.
var DefaultRegion = Bounds{
	North:  49.7,
	South:  47.0,
	East:   -122.2,
	West:   -125.0,
	Center: Coordinates{Lat: 48.35, Lng: -123.6},
}

// ComputeBounds derives the bounding box and center of all sightings with
// coordinates. With zero valid coordinates it returns DefaultRegion, never an
// empty box.
func ComputeBounds(sightings []Sighting) Bounds {
	found := false
	var b Bounds

	for i := range sightings {
		c := sightings[i].Coordinates
		if c == nil {
			continue
		}
		if !found {
			b = Bounds{North: c.Lat, South: c.Lat, East: c.Lng, West: c.Lng}
			found = true
			continue
		}
		if c.Lat > b.North {
			b.North = c.Lat
		}
		if c.Lat < b.South {
			b.South = c.Lat
		}
		if c.Lng > b.East {
			b.East = c.Lng
		}
		if c.Lng < b.West {
			b.West = c.Lng
		}
	}

	if !found {
		return DefaultRegion
	}

	b.Center = Coordinates{
		Lat: (b.North + b.South) / 2,
		Lng: (b.East + b.West) / 2,
	}
	return b
}

// Contains reports whether the point lies inside the box. The flat-plane
// check is adequate for the region sizes this system handles.
func (b Bounds) Contains(c Coordinates) bool {
	return c.Lat <= b.North && c.Lat >= b.South &&
		c.Lng <= b.East && c.Lng >= b.West
}
