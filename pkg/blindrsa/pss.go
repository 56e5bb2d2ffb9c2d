package blindrsa

import (
	"crypto"
	"errors"
	"hash"
)

// emsaPSSEncode produces the EMSA-PSS encoding of an already-hashed
// message (RFC 8017 §9.1.1). The blinding step needs the raw encoding
// as an integer, which crypto/rsa does not expose.
func emsaPSSEncode(mHash []byte, emBits int, salt []byte, h crypto.Hash) ([]byte, error) {
	hLen := h.Size()
	sLen := len(salt)
	emLen := (emBits + 7) / 8

	if len(mHash) != hLen {
		return nil, errors.New("blindrsa: message hash length mismatch")
	}
	if emLen < hLen+sLen+2 {
		return nil, errors.New("blindrsa: encoding error, key too small for salt")
	}

	em := make([]byte, emLen)
	db := em[:emLen-hLen-1]
	hOut := em[emLen-hLen-1 : emLen-1]

	// H = Hash(0x00*8 || mHash || salt)
	hs := h.New()
	var prefix [8]byte
	hs.Write(prefix[:])
	hs.Write(mHash)
	hs.Write(salt)
	hSum := hs.Sum(nil)
	copy(hOut, hSum)

	// DB = PS || 0x01 || salt, masked with MGF1(H)
	db[emLen-sLen-hLen-2] = 0x01
	copy(db[emLen-sLen-hLen-1:], salt)
	mgf1XOR(db, h.New, hSum)
	db[0] &= 0xff >> (8*emLen - emBits)

	em[emLen-1] = 0xbc
	return em, nil
}

// mgf1XOR XORs the MGF1 mask derived from seed into out (RFC 8017 §B.2.1).
func mgf1XOR(out []byte, newHash func() hash.Hash, seed []byte) {
	var counter [4]byte
	var digest []byte
	done := 0
	h := newHash()
	for done < len(out) {
		h.Reset()
		h.Write(seed)
		h.Write(counter[:])
		digest = h.Sum(digest[:0])
		for i := 0; i < len(digest) && done < len(out); i++ {
			out[done] ^= digest[i]
			done++
		}
		incCounter(&counter)
	}
}

func incCounter(c *[4]byte) {
	for i := 3; i >= 0; i-- {
		c[i]++
		if c[i] != 0 {
			return
		}
	}
}
