// Package receipts produces and verifies signed settlement receipts.
//
// When an auction settles, the daemon encodes the outcome as a CBOR
// payload and signs it as COSE_Sign1 with ES256. External indexers and
// front-ends can verify a receipt offline against the issuer's public
// key without trusting the transport that delivered it.
package receipts

import (
	"crypto/sha256"
	"encoding/hex"
)

// Receipt is the signed settlement outcome. Amounts travel as decimal
// strings; the opaque settlement metadata is carried as a digest so a
// receipt stays small while still committing to the exact bytes.
type Receipt struct {
	ReceiptID      string `cbor:"receipt_id" json:"receipt_id"`
	Collection     string `cbor:"collection" json:"collection"`
	TokenID        uint64 `cbor:"token_id" json:"token_id"`
	Seller         string `cbor:"seller" json:"seller"`
	Winner         string `cbor:"winner" json:"winner"`
	Price          string `cbor:"price" json:"price"`
	MetadataDigest string `cbor:"metadata_digest,omitempty" json:"metadata_digest,omitempty"`
	IssuedAt       int64  `cbor:"issued_at" json:"issued_at"` // unix seconds
}

// DigestMetadata computes the hex SHA-256 digest committed to by a
// receipt. Empty metadata digests to the empty string.
func DigestMetadata(metadata []byte) string {
	if len(metadata) == 0 {
		return ""
	}
	sum := sha256.Sum256(metadata)
	return hex.EncodeToString(sum[:])
}
