package stream

import (
	"encoding/binary"
)

// Keyspace:
//
//	runs/<runID>/e/<seq_be8>  CBOR encoded entry
//	runs/<runID>/m            last assigned seq (8 bytes big-endian)
const (
	runsPrefix = "runs/"
	entrySep   = "/e/"
	metaSuffix = "/m"
)

func entryPrefix(runID string) []byte {
	k := make([]byte, 0, len(runsPrefix)+len(runID)+len(entrySep)+8)
	k = append(k, runsPrefix...)
	k = append(k, runID...)
	return append(k, entrySep...)
}

func entryKey(runID string, seq uint64) []byte {
	return appendBE8(entryPrefix(runID), seq)
}

func metaKey(runID string) []byte {
	k := make([]byte, 0, len(runsPrefix)+len(runID)+len(metaSuffix))
	k = append(k, runsPrefix...)
	k = append(k, runID...)
	return append(k, metaSuffix...)
}

func appendBE8(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

// seqFromKey reads the trailing sequence number of an entry key.
func seqFromKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
