package bootstrap

// Group is one overlapping electrode window along the ordered channel
// sequence. Channels holds recording channel indices; Center is the
// position within Channels whose peak-energy rule decides cluster
// retention. First and Last relax that rule at the array edges.
type Group struct {
	Channels []int
	Center   int
	First    bool
	Last     bool
}

// Groups builds sliding windows of width channels over order, stepping
// one channel at a time so neighboring groups overlap by all but one
// channel. A width at or above the channel count yields a single group
// covering everything.
func Groups(order []int, width int) []Group {
	if len(order) == 0 {
		return nil
	}
	if width < 1 {
		width = 1
	}
	if width >= len(order) {
		return []Group{{
			Channels: append([]int(nil), order...),
			Center:   len(order) / 2,
			First:    true,
			Last:     true,
		}}
	}
	n := len(order) - width + 1
	groups := make([]Group, n)
	for i := 0; i < n; i++ {
		groups[i] = Group{
			Channels: append([]int(nil), order[i:i+width]...),
			Center:   width / 2,
			First:    i == 0,
			Last:     i == n-1,
		}
	}
	return groups
}
