package cartridge

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAreaRoutingSplitsAtSecureAreaStart(t *testing.T) {
	normal := bytes.Repeat([]byte{0xAA}, 0x200000)
	secure := bytes.Repeat([]byte{0xBB}, 0x200000)

	dev := &splitDevice{normal: normal, secure: secure, present: true}
	c := New(dev, nil)
	c.status = StatusInsertedAndInfoLoaded
	c.header = &Header{SecureAreaStartAddress: 0x100000 / mediaUnitSize}
	c.trimmedSize = uint64(len(normal) + len(secure))

	out := make([]byte, 0x200)
	n, err := c.Read(out, 0xFFF00)
	require.NoError(t, err)
	require.Equal(t, 0x200, n)

	wantNormal := normal[0xFFF00 : 0xFFF00+0x100]
	wantSecure := secure[0:0x100]
	want := append(append([]byte{}, wantNormal...), wantSecure...)
	require.Equal(t, want, out)
}

func TestReadPastTrimmedSizeFails(t *testing.T) {
	dev := &splitDevice{normal: make([]byte, 0x1000), present: true}
	c := New(dev, nil)
	c.status = StatusInsertedAndInfoLoaded
	c.header = &Header{SecureAreaStartAddress: 0x1000 / mediaUnitSize}
	c.trimmedSize = 0x1000

	out := make([]byte, 0x200)
	_, err := c.Read(out, 0xF00)
	require.Error(t, err)
}

func TestReadWithNoCartridgeFails(t *testing.T) {
	dev := &splitDevice{present: false}
	c := New(dev, nil)
	out := make([]byte, 0x10)
	_, err := c.Read(out, 0)
	require.Error(t, err)
}

func TestWatcherPublishesInsertionEdge(t *testing.T) {
	raw := make([]byte, HeaderSize)
	copy(raw[0x100:0x104], []byte(headerMagic))
	dev := &splitDevice{normal: raw, present: false}
	c := New(dev, nil)

	c.Start(5 * time.Millisecond)
	defer c.Stop()

	dev.present = true
	select {
	case s := <-c.StatusEvent():
		require.Equal(t, StatusInsertedAndInfoNotLoaded, s)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for insertion edge")
	}
}

type splitDevice struct {
	normal, secure []byte
	present        bool
}

func (d *splitDevice) Present() bool { return d.present }

func (d *splitDevice) ReadNormal(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(d.normal)) {
		return 0, errOutOfRange
	}
	return copy(p, d.normal[off:]), nil
}

func (d *splitDevice) ReadSecure(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(d.secure)) {
		return 0, errOutOfRange
	}
	return copy(p, d.secure[off:]), nil
}

var errOutOfRange = fmt.Errorf("offset out of range")
