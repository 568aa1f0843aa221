package utils

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

var (
	hexRegex = regexp.MustCompile("^[0-9a-fA-F]{40}$")
)

// NormalizeInfoHash validates an infohash and returns its canonical
// lowercase hex form. 32-character inputs are treated as Base32 and
// converted.
func NormalizeInfoHash(input string) (string, error) {
	input = strings.TrimSpace(input)

	if hexRegex.MatchString(input) {
		return strings.ToLower(input), nil
	}

	if len(input) == 32 {
		// Ensure the input is uppercase and remove any padding
		padless := strings.ToUpper(strings.TrimRight(input, "="))
		decoded, err := base32.StdEncoding.DecodeString(padless)
		if err == nil && len(decoded) == 20 {
			return hex.EncodeToString(decoded), nil
		}
	}

	return "", fmt.Errorf("invalid infohash: %s", input)
}

// ConstructMagnet builds the canonical magnet URI for an infohash,
// magnet:?xt=urn:btih:<hex>.
func ConstructMagnet(infoHash string) (string, error) {
	hash, err := NormalizeInfoHash(infoHash)
	if err != nil {
		return "", err
	}
	m := metainfo.Magnet{InfoHash: metainfo.NewHashFromHex(hash)}
	return m.String(), nil
}
