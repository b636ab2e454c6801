package cnmt

import "fmt"

var (
	errTooShort                 = fmt.Errorf("buffer shorter than the fixed content-metadata header")
	errExtendedHeaderOutOfRange = fmt.Errorf("extended header size extends past end of buffer")
	errContentRecordOutOfRange  = fmt.Errorf("content record extends past end of buffer")
)
