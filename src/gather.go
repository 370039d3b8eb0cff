package samewatch

/*------------------------------------------------------------------
 *
 * Purpose:	Accumulate decoded characters and decide when a SAME
 *		message is complete.
 *
 *		A header begins with ZCZC and ends three dashes after the
 *		"+" that closes the location list.  An end-of-message
 *		burst is just NNNN.  There is no length field and no
 *		checksum, so these structural rules are all we have.
 *
 *---------------------------------------------------------------*/

type gatherer struct {
	buf             []byte
	parityOK        []bool
	eom             bool
	plusSeen        bool
	dashesAfterPlus int
	done            bool
	failed          bool
}

// push adds one decoded character.  Characters that fail parity are kept
// (as '?' when unprintable) so that confidence scoring and majority voting
// still line up by position.  A clean but unprintable character means we
// are not looking at a real transmission.
func (g *gatherer) push(c byte, parityOK bool) {
	if g.done || g.failed {
		return
	}

	if c < 0x20 || c > 0x7e {
		if parityOK {
			g.failed = true
			return
		}
		c = '?'
	}

	g.buf = append(g.buf, c)
	g.parityOK = append(g.parityOK, parityOK)

	if len(g.buf) == len(headerStart) {
		switch {
		case g.marker(eomMarker):
			g.eom = true
			g.done = true
		case g.marker(headerStart):
			// Header; keep gathering.
		default:
			g.failed = true
		}
		return
	}

	if c == '+' {
		g.plusSeen = true
		g.dashesAfterPlus = 0
	}
	if g.plusSeen && c == '-' {
		g.dashesAfterPlus++
		if g.dashesAfterPlus == 3 {
			g.done = true
		}
	}

	if len(g.buf) > maxHeaderLen {
		g.failed = true
	}
}

// marker reports whether the first four characters look like the given
// start marker.  One mismatch is tolerated when that character also failed
// parity, so a single damaged sync character does not cost the whole burst.
func (g *gatherer) marker(want string) bool {
	var mismatches = 0
	for i := 0; i < len(want); i++ {
		if g.buf[i] != want[i] {
			if g.parityOK[i] {
				return false
			}
			mismatches++
		}
	}
	return mismatches <= 1
}

func (g *gatherer) len() int {
	return len(g.buf)
}

func (g *gatherer) message() string {
	return string(g.buf)
}

func (g *gatherer) parityFailures() int {
	var n = 0
	for _, ok := range g.parityOK {
		if !ok {
			n++
		}
	}
	return n
}
