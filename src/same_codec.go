package samewatch

/*------------------------------------------------------------------
 *
 * Purpose:	Pack an alert header into the SAME framed bitstream and
 *		unpack received bitstreams back into header fields.
 *
 * Description:	A header transmission looks like:
 *
 *		ZCZC-ORG-EEE-PSSCCC(-PSSCCC...)+TTTT-JJJHHMM-LLLLLLLL-
 *
 *		preceded by sixteen 0xAB preamble bytes for carrier and
 *		bit clock settling.  Preamble bytes go out as raw 8 bit
 *		sync bytes.  Every message character is framed as a start
 *		bit (0), seven data bits LSB first, a computed even parity
 *		bit, and a stop bit (1).
 *
 *		The parity bit is always popcount(char) mod 2.  It must
 *		never be a constant: a hardcoded zero silently corrupts
 *		every character with an odd bit count (space, 0x20, being
 *		the classic victim).
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// Modem properties.  The bit rate is 520 5/6 bits per second, so a bit
// time is exactly 1920 2/3 microseconds.
const (
	SameBaud  = 520.833333333333
	MarkFreq  = 2083.33333333333 // Hz, binary one
	SpaceFreq = 1562.5           // Hz, binary zero
)

const (
	preambleByte  = 0xAB
	preambleCount = 16

	headerStart = "ZCZC"
	eomMarker   = "NNNN"

	maxLocationCodes = 31
	locationLen      = 6
	maxStationLen    = 8
	maxHeaderLen     = 268 // longest legal header, all 31 location codes

	charBits  = 7
	frameBits = 10 // start + 7 data + parity + stop
)

// Purge duration bounds.  Up to one hour the step is 15 minutes, beyond
// one hour it is 30 minutes, and the TTTT field tops out at 99 hours
// 30 minutes.
const (
	minPurge      = 15 * time.Minute
	maxPurge      = 99*time.Hour + 30*time.Minute
	purgeStepLow  = 15 * time.Minute
	purgeStepHigh = 30 * time.Minute
)

var originators = map[string]string{
	"PEP": "Primary Entry Point",
	"CIV": "Civil authorities",
	"WXR": "National Weather Service",
	"EAS": "Broadcast station or cable system",
}

// HeaderFields is the structured form of one alert header.
type HeaderFields struct {
	Originator string        // one of PEP, CIV, WXR, EAS
	Event      string        // three character event code, e.g. RWT
	Locations  []string      // 1..31 PSSCCC codes, six digits each
	Purge      time.Duration // how long the alert remains valid
	IssueTime  time.Time     // zero means "now" at encode time
	Station    string        // 1..8 printable characters, no '-'
}

// InvalidFieldError reports a field that failed syntax validation.
// Validation is purely syntactic; whether the alert makes sense is the
// upstream collaborator's problem.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ParityError reports that a decoded header had characters whose parity
// bit did not match, and how many.
type ParityError struct {
	Failed int
	Total  int
}

func (e *ParityError) Error() string {
	return fmt.Sprintf("parity mismatch on %d of %d characters", e.Failed, e.Total)
}

// ErrFraming means no valid start/stop bit pattern could be located.
var ErrFraming = errors.New("no valid character framing found")

func (f *HeaderFields) Validate() error {
	if _, ok := originators[f.Originator]; !ok {
		return &InvalidFieldError{"originator", fmt.Sprintf("%q is not a recognized originator code", f.Originator)}
	}

	if len(f.Event) != 3 {
		return &InvalidFieldError{"event", "must be exactly three characters"}
	}
	for i := 0; i < len(f.Event); i++ {
		var c = f.Event[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return &InvalidFieldError{"event", fmt.Sprintf("character %q is not A-Z or 0-9", c)}
		}
	}

	if len(f.Locations) == 0 {
		return &InvalidFieldError{"locations", "at least one location code required"}
	}
	if len(f.Locations) > maxLocationCodes {
		return &InvalidFieldError{"locations", fmt.Sprintf("%d codes exceeds the maximum of %d", len(f.Locations), maxLocationCodes)}
	}
	for _, loc := range f.Locations {
		if len(loc) != locationLen {
			return &InvalidFieldError{"locations", fmt.Sprintf("%q is not six digits", loc)}
		}
		for i := 0; i < len(loc); i++ {
			if loc[i] < '0' || loc[i] > '9' {
				return &InvalidFieldError{"locations", fmt.Sprintf("%q is not six digits", loc)}
			}
		}
	}

	if f.Purge < minPurge || f.Purge > maxPurge {
		return &InvalidFieldError{"purge", fmt.Sprintf("%s outside the representable range %s..%s", f.Purge, minPurge, maxPurge)}
	}
	if f.Purge <= time.Hour {
		if f.Purge%purgeStepLow != 0 {
			return &InvalidFieldError{"purge", fmt.Sprintf("%s is not a multiple of %s", f.Purge, purgeStepLow)}
		}
	} else if f.Purge%purgeStepHigh != 0 {
		return &InvalidFieldError{"purge", fmt.Sprintf("%s is not a multiple of %s", f.Purge, purgeStepHigh)}
	}

	if len(f.Station) == 0 || len(f.Station) > maxStationLen {
		return &InvalidFieldError{"station", fmt.Sprintf("length %d outside 1..%d", len(f.Station), maxStationLen)}
	}
	for i := 0; i < len(f.Station); i++ {
		var c = f.Station[i]
		if c < 0x20 || c > 0x7e {
			return &InvalidFieldError{"station", fmt.Sprintf("character %q is not printable", c)}
		}
		if c == '-' {
			return &InvalidFieldError{"station", "'-' is the segment separator and cannot appear in a station id"}
		}
	}

	return nil
}

// HeaderString assembles the on-air header string.  A zero IssueTime is
// replaced with now.
func (f *HeaderFields) HeaderString(now time.Time) (string, error) {
	var validateErr = f.Validate()
	if validateErr != nil {
		return "", validateErr
	}

	var issue = f.IssueTime
	if issue.IsZero() {
		issue = now
	}
	issue = issue.UTC()

	var b strings.Builder
	b.WriteString(headerStart)
	b.WriteByte('-')
	b.WriteString(f.Originator)
	b.WriteByte('-')
	b.WriteString(f.Event)
	for _, loc := range f.Locations {
		b.WriteByte('-')
		b.WriteString(loc)
	}
	fmt.Fprintf(&b, "+%02d%02d", int(f.Purge.Hours()), int(f.Purge.Minutes())%60)
	fmt.Fprintf(&b, "-%03d%02d%02d-", issue.YearDay(), issue.Hour(), issue.Minute())
	b.WriteString(f.Station)
	b.WriteByte('-')

	var s = b.String()
	if len(s) > maxHeaderLen {
		return "", &InvalidFieldError{"header", fmt.Sprintf("assembled header is %d characters, maximum is %d", len(s), maxHeaderLen)}
	}
	return s, nil
}

// ParseHeader is the inverse of HeaderString.  The reference time resolves
// the year of the JJJHHMM issue time segment, since the wire format only
// carries the day of year.
func ParseHeader(s string, ref time.Time) (*HeaderFields, error) {
	if !strings.HasPrefix(s, headerStart+"-") {
		return nil, &InvalidFieldError{"header", "missing ZCZC start marker"}
	}
	if !strings.HasSuffix(s, "-") {
		return nil, &InvalidFieldError{"header", "missing trailing terminator"}
	}

	var plus = strings.IndexByte(s, '+')
	if plus < 0 {
		return nil, &InvalidFieldError{"header", "missing '+' before the purge time"}
	}

	var front = strings.Split(s[len(headerStart)+1:plus], "-")
	if len(front) < 3 {
		return nil, &InvalidFieldError{"header", "too few segments before '+'"}
	}

	var back = strings.Split(strings.TrimSuffix(s[plus+1:], "-"), "-")
	if len(back) != 3 {
		return nil, &InvalidFieldError{"header", "expected purge, issue time and station after '+'"}
	}

	var f = &HeaderFields{
		Originator: front[0],
		Event:      front[1],
		Locations:  front[2:],
		Station:    back[2],
	}

	if len(back[0]) != 4 {
		return nil, &InvalidFieldError{"purge", "TTTT segment is not four digits"}
	}
	var hh, hhErr = strconv.Atoi(back[0][:2])
	var mm, mmErr = strconv.Atoi(back[0][2:])
	if hhErr != nil || mmErr != nil {
		return nil, &InvalidFieldError{"purge", "TTTT segment is not four digits"}
	}
	f.Purge = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute

	var issue, issueErr = parseIssueTime(back[1], ref)
	if issueErr != nil {
		return nil, issueErr
	}
	f.IssueTime = issue

	var validateErr = f.Validate()
	if validateErr != nil {
		return nil, validateErr
	}
	return f, nil
}

func parseIssueTime(s string, ref time.Time) (time.Time, error) {
	if len(s) != 7 {
		return time.Time{}, &InvalidFieldError{"issue time", "JJJHHMM segment is not seven digits"}
	}
	var jjj, jErr = strconv.Atoi(s[:3])
	var hh, hErr = strconv.Atoi(s[3:5])
	var mm, mErr = strconv.Atoi(s[5:])
	if jErr != nil || hErr != nil || mErr != nil {
		return time.Time{}, &InvalidFieldError{"issue time", "JJJHHMM segment is not seven digits"}
	}
	if jjj < 1 || jjj > 366 || hh > 23 || mm > 59 {
		return time.Time{}, &InvalidFieldError{"issue time", fmt.Sprintf("%q out of range", s)}
	}

	// The wire format has no year.  Pick whichever of last year, this
	// year or next year lands closest to the reference time, which
	// handles headers heard around New Year.
	ref = ref.UTC()
	var best time.Time
	for _, year := range []int{ref.Year() - 1, ref.Year(), ref.Year() + 1} {
		var t = time.Date(year, 1, 1, hh, mm, 0, 0, time.UTC).AddDate(0, 0, jjj-1)
		if best.IsZero() || absDuration(t.Sub(ref)) < absDuration(best.Sub(ref)) {
			best = t
		}
	}
	return best, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// EvenParity returns the parity bit for a character: the count of one bits
// in the low seven bits, modulo 2.  Appending it makes the total number of
// ones across data and parity even.
func EvenParity(c byte) byte {
	return byte(bits.OnesCount8(c&0x7f) & 1)
}

// appendRawByte appends eight bits, LSB first, with no framing.  Only the
// preamble goes out this way.
func appendRawByte(dst []byte, b byte) []byte {
	for i := 0; i < 8; i++ {
		dst = append(dst, (b>>i)&1)
	}
	return dst
}

// appendFramedChar appends one message character: start bit, seven data
// bits LSB first, computed even parity, stop bit.
func appendFramedChar(dst []byte, c byte) []byte {
	dst = append(dst, 0)
	for i := 0; i < charBits; i++ {
		dst = append(dst, (c>>i)&1)
	}
	dst = append(dst, EvenParity(c))
	dst = append(dst, 1)
	return dst
}

// FrameMessage renders a message string as the complete bitstream for one
// burst: sixteen raw preamble bytes, then one framed character per byte of
// the message.  One bit per output byte, values 0 or 1.
func FrameMessage(s string) []byte {
	var out = make([]byte, 0, preambleCount*8+len(s)*frameBits)
	for i := 0; i < preambleCount; i++ {
		out = appendRawByte(out, preambleByte)
	}
	for i := 0; i < len(s); i++ {
		out = appendFramedChar(out, s[i])
	}
	return out
}

// EncodeHeader validates the fields and produces the header string plus the
// framed bitstream for one burst.
func EncodeHeader(f *HeaderFields, now time.Time) (string, []byte, error) {
	var s, err = f.HeaderString(now)
	if err != nil {
		return "", nil, err
	}
	return s, FrameMessage(s), nil
}

// EncodeEOM produces the bitstream for one end-of-message burst.
func EncodeEOM() []byte {
	return FrameMessage(eomMarker)
}

// deframeChar extracts the character whose start bit is at off.  The second
// return is whether the parity bit matched.  ErrFraming if the start/stop
// pattern is wrong or the bits run out.
func deframeChar(b []byte, off int) (byte, bool, error) {
	if off+frameBits > len(b) {
		return 0, false, ErrFraming
	}
	if b[off] != 0 || b[off+frameBits-1] != 1 {
		return 0, false, ErrFraming
	}
	var c byte
	for i := 0; i < charBits; i++ {
		c |= b[off+1+i] << i
	}
	var parityOK = b[off+1+charBits] == EvenParity(c)
	return c, parityOK, nil
}

// DecodeHeader is the bit-level inverse of EncodeHeader.  It expects the
// bitstream to begin with the preamble, recovers the message characters,
// and parses the header string.  Characters failing parity are kept, not
// discarded; if the header still parses they are only reported through the
// parity vector, otherwise the error is a *ParityError (or ErrFraming when
// the frame structure itself is broken).
func DecodeHeader(b []byte, ref time.Time) (*HeaderFields, []bool, error) {
	var off = 0
	for off+8 <= len(b) && rawByteAt(b, off) == preambleByte {
		off += 8
	}
	if off == 0 {
		return nil, nil, ErrFraming
	}

	var g gatherer
	for !g.done && !g.failed {
		var c, parityOK, err = deframeChar(b, off)
		if err != nil {
			return nil, nil, ErrFraming
		}
		off += frameBits
		g.push(c, parityOK)
	}
	if g.failed {
		return nil, nil, ErrFraming
	}

	var fields, parseErr = ParseHeader(g.message(), ref)
	if parseErr != nil {
		if n := g.parityFailures(); n > 0 {
			return nil, g.parityOK, &ParityError{Failed: n, Total: g.len()}
		}
		return nil, g.parityOK, parseErr
	}
	return fields, g.parityOK, nil
}

func rawByteAt(b []byte, off int) byte {
	var v byte
	for i := 0; i < 8; i++ {
		v |= b[off+i] << i
	}
	return v
}
