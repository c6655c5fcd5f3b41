package naturallanguage

// TryGetBestMatchFromList finds the best match for target in a list that is
// already sorted by code (see SortByCode). More specific data is preferred:
//
//  1. language, script and country all match;
//  2. language and country match, ignoring the script;
//  3. language alone matches.
//
// The first tier to produce a match wins.
func TryGetBestMatchFromList[T Coded](codeSorted []T, target Coded) (T, bool) {
	t := target.Coords()
	for _, candidate := range []Coordinates{t, t.WithoutScript(), t.LanguageOnly()} {
		if found, ok := findByCoordinates(codeSorted, candidate); ok {
			return found, true
		}
	}
	var zero T
	return zero, false
}

// findByCoordinates scans until the sorted position passes where want would sit.
func findByCoordinates[T Coded](codeSorted []T, want Coordinates) (T, bool) {
	for _, item := range codeSorted {
		c := CompareByCode(item.Coords(), want)
		if c == 0 {
			return item, true
		}
		if c > 0 {
			break
		}
	}
	var zero T
	return zero, false
}
