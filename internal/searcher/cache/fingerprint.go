package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Key lists everything that can change a response.
type Key struct {
	Collection string
	Generation uint64
	Text       string
	Vector     []float32
	Providers  []string
	Options    map[string]string
	MaxResults int
	// Verbatim keeps the text byte-exact, for patterns where whitespace is
	// significant.
	Verbatim bool
}

// Fingerprint hashes k into "<collection>:<hex sha256>". Provider order and
// option order do not matter; runs of whitespace in the text collapse unless
// k.Verbatim is set.
func Fingerprint(k Key) string {
	h := sha256.New()
	write := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	write(k.Collection)
	write(strconv.FormatUint(k.Generation, 10))
	if k.Verbatim {
		write(k.Text)
	} else {
		write(normalizeText(k.Text))
	}

	var buf [4]byte
	write(strconv.Itoa(len(k.Vector)))
	for _, f := range k.Vector {
		binary.BigEndian.PutUint32(buf[:], math.Float32bits(f))
		h.Write(buf[:])
	}

	providers := append([]string(nil), k.Providers...)
	sort.Strings(providers)
	write(strings.Join(providers, ","))

	keys := make([]string, 0, len(k.Options))
	for name := range k.Options {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	write(strconv.Itoa(len(keys)))
	for _, name := range keys {
		write(name)
		write(k.Options[name])
	}
	write(strconv.Itoa(k.MaxResults))
	return k.Collection + ":" + hex.EncodeToString(h.Sum(nil))
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
