package sourcemap

import (
	"errors"
	"strings"
)

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Decode = func() [128]int {
	var t [128]int
	for i := range t {
		t[i] = -1
	}
	for i, c := range base64Chars {
		t[c] = i
	}
	return t
}()

const (
	vlqBaseShift   = 5
	vlqBase        = 1 << vlqBaseShift
	vlqBaseMask    = vlqBase - 1
	vlqContinueBit = vlqBase
)

// decodeMappings decodes a V3 source map's "mappings" field into the
// list of generated<->original position pairs it encodes. Generated line
// numbers are returned 1-based (the caller treats line 0 as "unset");
// original line numbers are likewise 1-based for consistency with how
// MappingInfo queries them (line0Based+1).
func decodeMappings(mappings string, numSources int) ([]generatedPos, error) {
	var out []generatedPos

	genLine := 1
	genCol := 0
	origSource := 0
	origLine := 1
	origCol := 0

	for _, group := range strings.Split(mappings, ";") {
		genCol = 0
		if group == "" {
			genLine++
			continue
		}

		for _, seg := range strings.Split(group, ",") {
			if seg == "" {
				continue
			}
			fields, err := decodeSegment(seg)
			if err != nil {
				return nil, err
			}

			genCol += fields[0]

			if len(fields) == 1 {
				// Generated-only segment: advances genCol but maps to
				// nothing on the original side.
				continue
			}

			origSource += fields[1]
			origLine += fields[2]
			origCol += fields[3]

			if origSource < 0 || origSource >= numSources {
				return nil, errors.New("sourcemap: source index out of range")
			}

			out = append(out, generatedPos{
				genLine:    genLine,
				genCol:     genCol,
				origSource: origSource,
				origLine:   origLine,
				origCol:    origCol,
			})
		}

		genLine++
	}

	return out, nil
}

// decodeSegment decodes one comma-separated VLQ segment into its 1, 4 or
// 5 delta fields.
func decodeSegment(seg string) ([]int, error) {
	var fields []int
	i := 0
	for i < len(seg) {
		value, consumed, err := decodeVLQ(seg[i:])
		if err != nil {
			return nil, err
		}
		fields = append(fields, value)
		i += consumed
	}
	if len(fields) != 1 && len(fields) != 4 && len(fields) != 5 {
		return nil, errors.New("sourcemap: malformed mapping segment")
	}
	return fields, nil
}

func decodeVLQ(s string) (value int, consumed int, err error) {
	result := 0
	shift := 0
	for _, c := range s {
		if c > 127 {
			return 0, 0, errors.New("sourcemap: invalid base64 character")
		}
		digit := base64Decode[c]
		if digit == -1 {
			return 0, 0, errors.New("sourcemap: invalid base64 character")
		}
		consumed++

		cont := digit & vlqContinueBit
		digit &= vlqBaseMask
		result += digit << shift
		shift += vlqBaseShift

		if cont == 0 {
			negate := result&1 == 1
			result >>= 1
			if negate {
				result = -result
			}
			return result, consumed, nil
		}
	}
	return 0, 0, errors.New("sourcemap: unterminated VLQ value")
}
