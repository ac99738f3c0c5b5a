// This file has one signicant function, 'Bar()' that converts the reconciled
// segments of a work day into a textual bar that can be printed. The algorithm
// it uses for doing this is:
// 1. break the workday window up into 60 "characters", and then break each
//    character up into 8 bits
// 2. A bit is "on" if most of its slot is covered by real (non-synthetic)
//    segments, and off otherwise (no data, or after the shift)
// 3. Once all the bits in a character have been determined, compare it to each
//    of the bytes in 'blockMask' below, and choose the blockMask byte that is
//    bitwise closest.
// 4. Each of the bytes maps to a unicode character (possibly in inverted video
//    mode--e.g. a partially-filled left box that has been inverted to become a
//    partially-filled right box). Print the control character/unicode character
//    corresponding to the blockMask byte from (3), in the color of the state
//    that covers most of the character.

package main

import (
	"bytes"
	"time"

	"github.com/msteffen/machine-chronograph/client"
	"github.com/msteffen/machine-chronograph/pkg/chrono"
	"github.com/msteffen/machine-chronograph/pkg/timecmp"
)

const resetAll = "0"
const invertColors = "7"
const uninvertColors = "27"
const boldText = "1"

// SGR code for setting the foreground or background color using 8-bit SGR
// terminal color codes
const setFGColor = "38;5"
const setBGColor = "48;5"

// BG color for 2.5-hour marks (chosen to look good on white or black BG)
const markColor = "247" // light gray

// labelColor is the color of the date and totals printed around a bar
const labelColor = "220"

// stateColor is the FG color of each state's characters, normally and on a
// mark (marks are highlighted so that bars are easier to read)
type stateColor struct {
	normal, dark string
}

var stateColors = map[client.StateLabel]stateColor{
	client.Running: {"34", "28"},   // green
	client.Idle:    {"220", "178"}, // yellow
	client.Error:   {"160", "124"}, // red
	"":             {"245", "240"}, // gray, for characters with no data
}

// Note that the unicode box drawing characters look like:
// full box -> left eighth box
// 0x2588 ...  0x258f
// █ ▉ ▊ ▋ ▌ ▍ ▎ ▏
const fullBlock = 0x2588

// Also used
const lightVerticalLine = 0x2502 // = [│], about 1/8
const thickVerticalLine = 0x2503 // = [┃], about 3/8

// barWidth is the number of characters in a bar
const barWidth = 60

var blockMask = [...]byte{
	// 0 - off, 1 - full
	0x00, 0xff,

	// [2-8] left boxes:
	0xfe, // 11111110
	0xfc, // 11111100
	0xf8, // 11111000
	0xf0, // 11110000
	0xe0, // 11100000
	0xc0, // 11000000
	0x80, // 10000000

	// [9-15] right boxes
	0x7f, // 01111111
	0x3f, // 00111111
	0x1f, // 00011111
	0x0f, // 00001111
	0x07, // 00000111
	0x03, // 00000011
	0x01, // 00000001

	// [16-26] thin vertical line
	0x40, // 01000000
	0x20, // 00100000
	0x10, // 00010000
	0x08, // 00001000
	0x04, // 00000100
	0x02, // 00000010
	0x60, // 01100000
	0x30, // 00110000
	0x18, // 00011000
	0x0c, // 00001100
	0x06, // 00000110

	// [27-37] inverted thin vertical line
	0xbf, // 10111111
	0xdf, // 11011111
	0xef, // 11101111
	0xf7, // 11110111
	0xfb, // 11111011
	0xfd, // 11111101
	0x9f, // 10011111
	0xcf, // 11001111
	0xe7, // 11100111
	0xf3, // 11110011
	0xf9, // 11111001

	// [38-47] thick vertical line
	0x70, // 01110000
	0x78, // 01111000
	0x7c, // 01111100
	0x7e, // 01111110
	0x38, // 00111000
	0x3c, // 00111100
	0x3e, // 00111110
	0x1c, // 00011100
	0x1e, // 00011110
	0x0e, // 00001110

	// [48-57] inverted thick vertical line
	0x8f, // 10001111
	0x87, // 10000111
	0x83, // 10000011
	0x81, // 10000001
	0xc7, // 11000111
	0xc3, // 11000011
	0xc1, // 11000001
	0xe3, // 11100011
	0xe1, // 11100001
	0xf1, // 11110001
}

// numBits counts the number of ones in 'c'
func numBits(c byte) byte {
	for i, m := range []byte{0x55, 0x33, 0x0f} {
		var p byte = 1 << byte(i)
		c = ((c >> p) & m) + (c & m)
	}
	return c
}

// closestMask returns the index of the blockMask byte that differs from
// 'window' in the fewest bits
func closestMask(window byte) int {
	if window == 0 || window == 0xff {
		return int(window >> 7) // off (0) or full (1)
	}
	best, bestCount := -1, byte(8)
	for bi, b := range blockMask {
		diff := numBits(b ^ window)
		if diff < bestCount {
			best, bestCount = bi, diff
		}
		if diff == 0 {
			break
		}
	}
	return best
}

type barBuf struct {
	// buf contains result of computing the day's bar
	buf bytes.Buffer

	// number of block characters that have been written
	size int

	// whether the buffer has set the terminal to be inverted
	inverted bool

	// the state whose color is currently the FG color ("" before the first
	// colored character)
	state client.StateLabel
	colored bool

	// whether the buffer is on a mark character or not
	onMark bool
}

// sgr takes the ANSI sgr codes in "codes", concatenates them, and wraps them
// in the ANSI escape code for sgr commands (yielding "0x1b[...m")
func sgr(codes ...string) []byte {
	var fullLen int
	for _, s := range codes {
		fullLen += len(s)
	}
	fullLen += len(codes) - 1 // also add space for intermediate semicolons

	// allocate result && copy initial SGR sequence
	result := make([]byte, fullLen+3)
	copy(result, "\x1b[")
	curLen := 2

	// copy codes separated by semicolons
	for i, s := range codes {
		if i == 0 {
			copy(result[curLen:], s) // no semicolon
			curLen += len(s)
			continue
		}
		copy(result[curLen:], ";")
		copy(result[curLen+1:], s)
		curLen += len(s) + 1
	}

	// copy final "m"
	result[curLen] = 'm'
	return result
}

func newBarBuf() *barBuf {
	op := &barBuf{}
	op.buf.WriteByte('[')
	return op
}

// writeInverted is a helper function that writes 'r' to b.buf with inverted
// colors (i.e. if colors are already inverted, it just writes 'r')
func (b *barBuf) writeInverted(r rune) {
	if !b.inverted {
		b.buf.Write(sgr(invertColors))
		b.inverted = true
	}
	b.buf.WriteRune(r)
}

// writeNormal is a helper function that writes 'r' to b.buf with non-inverted
// colors (if colors are already normal, it just writes 'r')
func (b *barBuf) writeNormal(r rune) {
	if b.inverted {
		b.buf.Write(sgr(uninvertColors))
		b.inverted = false
	}
	b.buf.WriteRune(r)
}

// finish adds the necessary trailing characters to b.buf and returns it as a
// string
func (b *barBuf) finish() string {
	// reset colors completely and close with ']'
	b.buf.Write(sgr(resetAll))
	b.buf.WriteByte(']')
	return b.buf.String()
}

// put writes blockMask character 'i' in the color of 'state'
func (b *barBuf) put(i int, state client.StateLabel) {
	// Determine FG and BG color changes needed
	onMark := b.size > 0 && b.size%15 == 0
	enableMark, disableMark := !b.onMark && onMark, !onMark && b.onMark
	// an empty character keeps the current color, so that runs of no data
	// don't flip colors back and forth
	changeState := i > 0 && (!b.colored || b.state != state)

	if enableMark {
		b.buf.Write(sgr(setBGColor, markColor))
		b.onMark = true
	} else if disableMark {
		b.buf.Write(sgr(resetAll))
		b.onMark = false
		b.inverted = false
	}
	if changeState {
		b.state, b.colored = state, true
	}
	// for {en,dis}ableMark, we always need to set the FG color
	if enableMark || disableMark || changeState {
		c := stateColors[b.state]
		if b.onMark {
			b.buf.Write(sgr(setFGColor, c.dark))
		} else {
			b.buf.Write(sgr(setFGColor, c.normal))
		}
	}

	// write 'i' to buf
	switch {
	case i == 0:
		// 0 - off
		b.writeInverted(fullBlock)
	case i == 1:
		// 1 - full
		b.writeNormal(fullBlock)
	case i <= 8:
		// [2-8] left boxes:
		b.writeNormal(fullBlock + rune(i) - 1)
	case i <= 15:
		// [9-15] right boxes
		b.writeInverted(fullBlock + 16 - rune(i))
	case i <= 26:
		// [16-26] thin vertical line
		b.writeNormal(lightVerticalLine)
	case i <= 37:
		// [27-37] inverted thin vertical line
		b.writeInverted(lightVerticalLine)
	case i <= 47:
		// [38-47] thick vertical line
		b.writeNormal(thickVerticalLine)
	case i <= 57:
		// [48-57] inverted thick vertical line
		b.writeInverted(thickVerticalLine)
	}
	b.size++
}

// dominant returns the real state covering the most time in 'covered' ("" if
// none)
func dominant(covered map[client.StateLabel]time.Duration) client.StateLabel {
	var best client.StateLabel
	var bestDuration time.Duration
	for _, s := range client.RealStates {
		if covered[s] > bestDuration {
			best, bestDuration = s, covered[s]
		}
	}
	return best
}

// Bar renders 'segments' (as returned by chrono.Reconcile) over the workday
// window 'w'
func Bar(w chrono.Window, segments []chrono.Segment) string {
	buf := newBarBuf()
	if len(segments) == 0 || w.Duration() <= 0 {
		for i := 0; i < barWidth; i++ {
			buf.put(0, "")
		}
		return buf.finish()
	}

	// - each bar/line is 60 chars, each char is 8 bits. Because bars are
	//   rendered from left to right, bits are "reversed" within their byte
	//   (high bit = earlier time of day)
	var (
		slot = w.Duration() / (barWidth * 8)

		// Current segment index
		n = 0

		// The current "character"
		window  byte
		covered = make(map[client.StateLabel]time.Duration)
	)
	for i := 0; i < barWidth*8; i++ {
		// each loop: render the i'th bit, covering [cl, cr)
		cl := w.Start.Add(time.Duration(i) * slot)
		cr := cl.Add(slot)

		// skip segments that end before this bit
		for n < len(segments) && timecmp.Leq(segments[n].End, cl) {
			n++
		}
		var onTime time.Duration
		for j := n; j < len(segments) && segments[j].Start.Before(cr); j++ {
			s := segments[j]
			d := timecmp.Min(cr, s.End).Sub(timecmp.Max(cl, s.Start))
			if d <= 0 || s.IsSynthetic {
				continue
			}
			onTime += d
			covered[s.State] += d
		}
		// set the bit in the current character being rendered
		if onTime > slot/2 {
			window |= (1 << byte(7-(i%8)))
		}

		// we've reached end of a byte--set the current character
		if i%8 == 7 {
			buf.put(closestMask(window), dominant(covered))
			window = 0
			clear(covered)
		}
	}
	return buf.finish()
}
