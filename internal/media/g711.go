package media

// G.711 mu-law companding, as used by the PCMU payload type.

// LinearToMulaw converts a 16-bit linear PCM sample to mu-law.
func LinearToMulaw(sample int16) byte {
	const bias = 0x84
	const clip = 0x7F7B

	// Widened so negating math.MinInt16 cannot overflow.
	s := int32(sample)

	var sign byte
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > clip {
		s = clip
	}

	biased := uint16(s) + bias

	var exponent byte
	for exponent = 7; exponent > 0; exponent-- {
		if biased >= uint16(1)<<(exponent+7) {
			break
		}
	}

	mantissa := byte((biased >> (exponent + 3)) & 0x0F)

	return ^(sign | (exponent << 4) | mantissa)
}

// MulawToLinear converts a mu-law encoded byte back to 16-bit linear PCM.
func MulawToLinear(mulaw byte) int16 {
	const bias = 0x84

	mulaw = ^mulaw
	sign := mulaw & 0x80
	exponent := (mulaw >> 4) & 0x07
	mantissa := mulaw & 0x0F

	sample := int16((uint16(mantissa)<<3 + bias) << exponent)
	sample -= bias
	if sign != 0 {
		return -sample
	}
	return sample
}
