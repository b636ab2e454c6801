package cartridge

import "fmt"

var errUnknownCertificate = fmt.Errorf("certificate digest matches no known label")
