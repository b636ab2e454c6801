package crypto

import "fmt"

var errNotBlockAligned = fmt.Errorf("data length not a multiple of the block size")
var errMACMismatch = fmt.Errorf("MAC verification failed")
var errKeyPairMismatch = fmt.Errorf("RSA signature verification failed")
var errOaepLabelMismatch = fmt.Errorf("OAEP label hash mismatch")
var errOaepPadding = fmt.Errorf("OAEP padding malformed")

func errKeyLen(want, got int) error {
	return fmt.Errorf("key must be %d bytes, got %d", want, got)
}
