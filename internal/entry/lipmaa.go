package entry

// Lipmaa returns the deterministic logarithmic-distance ancestor sequence
// number for n, used to decide when a skiplink is required (spec §3,
// GLOSSARY). Positions split into a recursive ternary structure around
// the milestones m(k) = (3^k - 1) / 2, and n's lipmaa link is either its
// block's own milestone or, in the first third of the block, a recursive
// call into the equivalent smaller position. It agrees with bamboo's
// lipmaa at 2, 3, 4, 5, 6, 8 and 13 but not everywhere: it gives 7->4,
// 9->4 and 12->4 where bamboo gives 6, 8 and 8, so skiplinks chosen
// here are not those of a bamboo log.
//
// This is a direct, deterministic function of n; it never allocates.
func Lipmaa(n uint64) uint64 {
	if n <= 3 {
		return n - 1
	}

	x := n - 1

	// Find the smallest milestone boundary (3^k-1)/2 that overshoots x,
	// then back off one power of three so p/2-ish brackets the block
	// containing x.
	var p uint64 = 3
	for (p-1)/2 <= x {
		p *= 3
	}
	p /= 3

	milestone := (p - 1) / 2
	third := p / 3
	if x-milestone < third {
		// First third of the block: recurse into the structurally
		// identical smaller position, then shift back up by third.
		return Lipmaa(n-third) + third
	}
	// Middle or last third: the link is the block's own milestone.
	return milestone
}

// RequiresSkiplink reports whether an entry at seqNum needs an explicit
// skiplink because its lipmaa predecessor differs from its immediate
// backlink predecessor.
func RequiresSkiplink(seqNum SeqNum) bool {
	if seqNum <= 1 {
		return false
	}
	return Lipmaa(uint64(seqNum)) != uint64(seqNum)-1
}
