package ticket

import "fmt"

var (
	errNoMatchingTicket = fmt.Errorf("no ticket record matches the requested rights id")
	errDeviceKeyRequired = fmt.Errorf("personalized ticket requires a device private key")
	errOaepFailure       = fmt.Errorf("oaep unmask failed")
	errUnknownKind       = fmt.Errorf("unknown ticket kind")
	errMissingTitlekek   = fmt.Errorf("titlekek for requested generation not available")
)
