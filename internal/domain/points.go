package domain

// CalculatePoints converts a discipline rank into points.
//
// The scored field Y is totalParticipants minus participantsWithDNF
// (never below zero). The best non-DNF finisher earns Y points, each later
// position one less, and positions outside 1..Y earn nothing. Points are
// never negative.
//
// Example: with 15 participants of which 2 averaged DNF, position 1 earns
// 13 points and position 3 earns 11.
func CalculatePoints(position, totalParticipants, participantsWithDNF int) int {
	scored := max(totalParticipants-participantsWithDNF, 0)
	if position < 1 || position > scored {
		return 0
	}
	return scored - position + 1
}
