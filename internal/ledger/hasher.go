package ledger

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/crypto/sha3"
)

// Schema versions pin both the canonical encoding and the digest algorithm.
const (
	// SchemaV1 hashes the canonical encoding with SHA-256.
	SchemaV1 uint16 = 1
	// SchemaV2 hashes the same canonical encoding with SHA3-256.
	SchemaV2 uint16 = 2

	DefaultSchemaVersion = SchemaV1
)

// ErrUnsupportedSchema is returned for records written under an unknown schema.
var ErrUnsupportedSchema = fmt.Errorf("unsupported schema version")

// SupportedSchema reports whether v can be hashed by this build.
func SupportedSchema(v uint16) bool {
	return v == SchemaV1 || v == SchemaV2
}

// Hasher computes content hashes. It is stateless.
type Hasher struct{}

// Hash binds content to its predecessor under the given schema version.
func (Hasher) Hash(schemaVersion uint16, previous Digest, c Content) (Digest, error) {
	data := CanonicalBytes(schemaVersion, previous, c)
	switch schemaVersion {
	case SchemaV1:
		return sha256.Sum256(data), nil
	case SchemaV2:
		return sha3.Sum256(data), nil
	default:
		return Digest{}, fmt.Errorf("%w: %d", ErrUnsupportedSchema, schemaVersion)
	}
}

// Matches recomputes a record's hash and compares it in constant time.
func (h Hasher) Matches(r Record) (bool, error) {
	want, err := h.Hash(r.schemaVersion, r.previousHash, r.content)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(want[:], r.contentHash[:]) == 1, nil
}

// CanonicalBytes is the byte encoding every implementation must hash. All
// integers are big-endian; strings are a u32 length followed by UTF-8 bytes;
// floats are their IEEE-754 bit patterns. Field order:
//
//	u16 schema_version
//	[32] previous_hash
//	str tier, str actor, str policy_class
//	f64 M, f64 Psi, f64 R, f64 F0
//	f64 time_density, f64 spatial_density, f64 context_risk
//	str weights_version, str thresholds_version
//	f64 score, str gate_result, i64 cooldown_ms, i64 timestamp_unix_nanos
func CanonicalBytes(schemaVersion uint16, previous Digest, c Content) []byte {
	buf := make([]byte, 0, 256)
	buf = binary.BigEndian.AppendUint16(buf, schemaVersion)
	buf = append(buf, previous[:]...)

	buf = appendString(buf, string(c.Scope.Tier))
	buf = appendString(buf, c.Scope.Actor)
	buf = appendString(buf, string(c.PolicyClass))

	buf = appendFloat(buf, c.Constants.M)
	buf = appendFloat(buf, c.Constants.Psi)
	buf = appendFloat(buf, c.Constants.R)
	buf = appendFloat(buf, c.Constants.F0)

	buf = appendFloat(buf, c.Environment.TimeDensity)
	buf = appendFloat(buf, c.Environment.SpatialDensity)
	buf = appendFloat(buf, c.Environment.ContextRisk)

	buf = appendString(buf, c.Versions.Weights)
	buf = appendString(buf, c.Versions.Thresholds)

	buf = appendFloat(buf, c.Score)
	buf = appendString(buf, string(c.Gate))
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.Cooldown.Milliseconds()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.Timestamp.UTC().UnixNano()))
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendFloat(buf []byte, f float64) []byte {
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
}
