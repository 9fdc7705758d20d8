package utils

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SixID is the 6-byte identifier used for every document in the system,
// rendered as a 10-character Crockford Base32 string and stored in BSON as
// binary with custom subtype 0x80.
type SixID [6]byte

const sixIDBinarySubtype = 0x80

// SixIDHookFunc is the signature of the NewSixID test hook. Returning
// override=true substitutes the returned ID for the random one.
type SixIDHookFunc func() (id SixID, override bool)

// NewSixIDHook lets tests control ID generation (e.g. to force duplicate-key
// collisions). Nil in production.
var NewSixIDHook SixIDHookFunc

// NewSixID returns a new random SixID.
func NewSixID() SixID {
	if NewSixIDHook != nil {
		if id, override := NewSixIDHook(); override {
			return id
		}
	}
	var id SixID
	if _, err := rand.Read(id[:]); err != nil {
		// A zero ID will collide on insert and be regenerated by the retry
		// path rather than crash the caller.
		return SixID{}
	}
	return id
}

// IsZero reports whether the ID is the all-zero value.
func (u SixID) IsZero() bool {
	return u == SixID{}
}

const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// crockfordValues maps input bytes to their 5-bit values, -1 for invalid.
// Lowercase and the usual confusables (o/O to 0, i/I/l/L to 1) are accepted.
var crockfordValues [256]int8

func init() {
	for i := range crockfordValues {
		crockfordValues[i] = -1
	}
	for i := 0; i < len(crockfordAlphabet); i++ {
		c := crockfordAlphabet[i]
		crockfordValues[c] = int8(i)
		if c >= 'A' && c <= 'Z' {
			crockfordValues[c+'a'-'A'] = int8(i)
		}
	}
	for _, c := range []byte{'o', 'O'} {
		crockfordValues[c] = 0
	}
	for _, c := range []byte{'i', 'I', 'l', 'L'} {
		crockfordValues[c] = 1
	}
}

// String returns the 10-character Crockford Base32 form, least significant
// bits first (48 bits in 5-bit groups).
func (u SixID) String() string {
	var out [10]byte
	var bits uint
	var nbits uint
	idx := 0
	for i := 0; i < len(u); i++ {
		bits |= uint(u[i]) << nbits
		nbits += 8
		for nbits >= 5 {
			out[idx] = crockfordAlphabet[bits&0x1F]
			idx++
			bits >>= 5
			nbits -= 5
		}
	}
	if nbits > 0 {
		out[idx] = crockfordAlphabet[bits&0x1F]
		idx++
	}
	return string(out[:idx])
}

// ParseSixID decodes a Crockford Base32 string into a SixID. Hyphens and
// spaces are ignored; an empty string decodes to the zero ID.
func ParseSixID(s string) (SixID, error) {
	if s == "" {
		return SixID{}, nil
	}
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	if len(s) != 10 {
		return SixID{}, errors.New("sixid: encoded form must be 10 characters")
	}

	var id SixID
	var bits uint64
	var nbits uint
	byteIdx := 0
	for i := 0; i < len(s); i++ {
		v := crockfordValues[s[i]]
		if v < 0 {
			return SixID{}, errors.New("sixid: invalid character in encoded form")
		}
		bits |= uint64(v) << nbits
		nbits += 5
		for nbits >= 8 && byteIdx < len(id) {
			id[byteIdx] = byte(bits & 0xFF)
			byteIdx++
			bits >>= 8
			nbits -= 8
		}
	}
	if byteIdx != len(id) {
		return SixID{}, errors.New("sixid: could not decode 6 bytes")
	}
	return id, nil
}

// MarshalBSONValue stores the ID as BSON binary with subtype 0x80.
func (u SixID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(primitive.Binary{Subtype: sixIDBinarySubtype, Data: u[:]})
}

// UnmarshalBSONValue accepts binary subtype 0x80, plus generic binary of
// length 6 for documents written by external tooling.
func (u *SixID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bsontype.Null {
		*u = SixID{}
		return nil
	}
	if t != bsontype.Binary {
		return errors.New("sixid: expected BSON binary")
	}
	raw := bson.RawValue{Type: t, Value: data}
	var bin primitive.Binary
	if err := raw.Unmarshal(&bin); err != nil {
		return err
	}
	if len(bin.Data) != 6 || (bin.Subtype != sixIDBinarySubtype && bin.Subtype != 0x00) {
		return errors.New("sixid: binary value has wrong length or subtype")
	}
	copy(u[:], bin.Data)
	return nil
}

// MarshalJSON renders the ID as its Crockford Base32 string.
func (u SixID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON parses the Crockford Base32 string form.
func (u *SixID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	id, err := ParseSixID(s)
	if err != nil {
		return err
	}
	*u = id
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (u SixID) MarshalBinary() ([]byte, error) {
	return u[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (u *SixID) UnmarshalBinary(data []byte) error {
	if len(data) != 6 {
		return errors.New("sixid: binary form must be 6 bytes")
	}
	copy(u[:], data)
	return nil
}
