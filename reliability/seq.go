package reliability

// SeqNewer reports whether a is strictly newer than b in the 16-bit
// wrapping sequence space (spec §4.5): "newer if (a - b) mod 2^16 < 2^15".
// a == b is not newer — callers that need to distinguish "same" from
// "newer" (reliability.Engine.Receive) rely on that.
func SeqNewer(a, b uint16) bool {
	return a != b && uint16(a-b) < 0x8000
}

// SeqDistance returns a-b as an unsigned 16-bit wrapping difference,
// i.e. how many steps forward from b reaches a.
func SeqDistance(a, b uint16) uint16 {
	return a - b
}
