package macho

import (
	"bytes"
	"fmt"
	"io"
)

// ReadUleb128Strict decodes one ULEB128 value from r, rejecting overlong
// encodings: once the accumulated shift reaches 63 bits, any continuation
// byte whose payload is not 0 or 1 cannot be represented and is a decode
// error rather than silently truncated. trie.ReadUleb128 (used for export
// tries) does not enforce this; LC_FUNCTION_STARTS decoding wants the
// stricter form since a corrupt or adversarial delta stream must fail
// rather than wrap.
func ReadUleb128Strict(r *bytes.Reader) (uint64, error) {
	var result uint64
	var shift uint

	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && shift == 0 {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("uleb128: %v", err)
		}

		payload := uint64(b & 0x7f)

		if shift >= 63 {
			if payload > 1 {
				return 0, fmt.Errorf("uleb128: overlong encoding at shift %d", shift)
			}
		}

		result |= payload << shift

		if b&0x80 == 0 {
			return result, nil
		}

		shift += 7
		if shift > 63 {
			return 0, fmt.Errorf("uleb128: value exceeds 64 bits")
		}
	}
}

// PutUleb128 appends the ULEB128 encoding of v to dst and returns the
// extended slice. Used by tests to round-trip ReadUleb128Strict.
func PutUleb128(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
		} else {
			dst = append(dst, b)
			return dst
		}
	}
}
