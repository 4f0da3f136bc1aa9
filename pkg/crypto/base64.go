// Package crypto implements the primitives the update chain of trust is
// built on: the URL-safe base64 codec used throughout the update wire
// format, the public-key blob parser, and the streaming SHA-512 signature
// verifier that authenticates the manifest and every file it references.
package crypto

// Base64Encode encodes src with the URL-safe alphabet ('-' for 62, '_' for
// 63) and no '=' padding.
func Base64Encode(src []byte) string {
	out := make([]byte, 0, len(src)/3*4+4)
	for len(src) > 0 {
		out = append(out, to64(src[0]>>2))
		if len(src) == 1 {
			out = append(out, to64(src[0]<<4))
			break
		}
		out = append(out, to64(src[0]<<4|src[1]>>4))
		if len(src) == 2 {
			out = append(out, to64(src[1]<<2))
			break
		}
		out = append(out, to64(src[1]<<2|src[2]>>6), to64(src[2]))
		src = src[3:]
	}
	return string(out)
}

// Base64Decode decodes s, accepting both the URL-safe alphabet and the
// standard '+' and '/' forms for values 62 and 63. Decoding stops at the
// first byte outside the alphabet; whatever was decoded up to that point is
// returned. There is no error: a junk-terminated input simply yields a
// shorter output, which downstream length checks reject.
func Base64Decode(s string) []byte {
	out := make([]byte, 0, len(s)/4*3+3)
	var q [4]byte
	n := 0
	for i := 0; i < len(s); i++ {
		v := from64(s[i])
		if v == invalid64 {
			break
		}
		q[n] = v
		n++
		if n == 4 {
			out = append(out, q[0]<<2|q[1]>>4, q[1]<<4|q[2]>>2, q[2]<<6|q[3])
			n = 0
		}
	}
	switch n {
	case 2:
		out = append(out, q[0]<<2|q[1]>>4)
	case 3:
		out = append(out, q[0]<<2|q[1]>>4, q[1]<<4|q[2]>>2)
	}
	return out
}

const invalid64 = 0xFF

func to64(c byte) byte {
	c &= 63
	switch {
	case c < 26:
		return c + 'A'
	case c < 52:
		return c - 26 + 'a'
	case c < 62:
		return c - 52 + '0'
	case c == 62:
		return '-'
	}
	return '_'
}

func from64(c byte) byte {
	switch {
	case c >= 'A' && c <= 'Z':
		return c - 'A'
	case c >= 'a' && c <= 'z':
		return c - 'a' + 26
	case c >= '0' && c <= '9':
		return c - '0' + 52
	case c == '-' || c == '+':
		return 62
	case c == '_' || c == '/':
		return 63
	}
	return invalid64
}
