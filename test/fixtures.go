// Package test provides fixtures shared by tests of the other packages.
package test

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
)

type Data struct {
	Name     string
	MimeType string
	Contents []byte
	// Hash is the hex encoded sha256 digest of Contents.
	Hash string
}

type DataTable map[string]Data

// GetTestDataTable returns testdata.
// It's a map with the following entries:
// a is the 5 bytes "hello".
// b is 300KiB of pseudo-random binary data, large enough to span multiple chunks.
// c is 2KiB of zero bytes.
func GetTestDataTable() DataTable {
	testDataT := make(DataTable, 3)

	// deterministic, so hashes are stable between runs
	rnd := rand.New(rand.NewSource(42))
	bContents := make([]byte, 300*1024)
	rnd.Read(bContents)

	for _, item := range []struct {
		key      string
		name     string
		mimeType string
		contents []byte
	}{
		{key: "a", name: "a.txt", mimeType: "text/plain", contents: []byte("hello")},
		{key: "b", name: "b.bin", mimeType: "application/octet-stream", contents: bContents},
		{key: "c", name: "zeroes.bin", mimeType: "application/octet-stream", contents: make([]byte, 2048)},
	} {
		digest := sha256.Sum256(item.contents)

		testDataT[item.key] = Data{
			Name:     item.name,
			MimeType: item.mimeType,
			Contents: item.contents,
			Hash:     hex.EncodeToString(digest[:]),
		}
	}

	return testDataT
}
