package text

// Truncate keeps the first max runes of s and appends "..." when anything
// was cut. A non-positive max disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
