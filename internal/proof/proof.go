// Package proof produces the deterministic digest attached to every
// execution result. The digest is a plain SHA-256 over the execution's
// inputs and outputs: it lets a caller detect tampering with a previously
// reported result, but it carries no signature — it attests only that the
// executor with the claimed identity produced this digest for these inputs,
// not anything a third party can verify without trusting that identity.
package proof

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"time"
)

// Inputs is the full set of fields bound by a proof digest. Output holds the
// execution's output on success or its error text on failure.
type Inputs struct {
	ExecutionID string
	Code        string
	Output      string
	Elapsed     time.Duration
	Timestamp   time.Time
	Network     string
	Executor    string
}

// Generate returns the hex digest for the given inputs. Pure: identical
// inputs always produce an identical digest.
func Generate(in Inputs) string {
	h := sha256.New()

	// Length-prefixed fields so no two distinct input tuples share an
	// encoding.
	writeField(h, in.ExecutionID)
	writeField(h, in.Code)
	writeField(h, in.Output)
	writeField(h, strconv.FormatInt(in.Elapsed.Milliseconds(), 10))
	writeField(h, strconv.FormatInt(in.Timestamp.UnixMilli(), 10))
	writeField(h, in.Network)
	writeField(h, in.Executor)

	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the digest for the inputs and compares it to the claimed
// digest. Equality is the only verification method.
func Verify(digest string, in Inputs) bool {
	computed := Generate(in)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
