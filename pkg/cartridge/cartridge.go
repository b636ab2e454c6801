package cartridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/cartkit/nxcart/pkg/corecb"
)

// Status mirrors gamecard.h's GameCardStatus.
type Status int

const (
	StatusNotInserted Status = iota
	StatusInsertedAndInfoNotLoaded
	StatusInsertedAndInfoLoaded
)

func (s Status) String() string {
	switch s {
	case StatusNotInserted:
		return "NotInserted"
	case StatusInsertedAndInfoNotLoaded:
		return "InsertedAndInfoNotLoaded"
	case StatusInsertedAndInfoLoaded:
		return "InsertedAndInfoLoaded"
	default:
		return "Unknown"
	}
}

// Cartridge is the storage-access component: it owns a Device, caches
// header/key-area/certificate/sizes across insertion edges, routes reads
// between the normal and secure storages, and runs a background watcher
// that polls presence and republishes edge-triggered events.
type Cartridge struct {
	mu sync.Mutex

	device      Device
	titlekekGen []byte // common titlekek generator key, selected by header.KeyIndex before DecryptKeyArea

	status       Status
	header       *Header
	keyArea      *KeyArea
	certificate  *Certificate
	totalSize    uint64
	trimmedSize  uint64
	xciHeaderKey []byte

	statusEvent chan Status
	stopWatcher chan struct{}
	watcherDone chan struct{}
}

// New constructs a Cartridge around device, not yet watching. Call Start
// to launch the background watcher.
func New(device Device, xciHeaderKey []byte) *Cartridge {
	return &Cartridge{
		device:       device,
		xciHeaderKey: xciHeaderKey,
		status:       StatusNotInserted,
		statusEvent:  make(chan Status, 8),
	}
}

// StatusEvent returns the channel the background watcher publishes status
// transitions on. Buffered; slow consumers may coalesce by draining once
// per poll instead of missing events.
func (c *Cartridge) StatusEvent() <-chan Status { return c.statusEvent }

// Status returns the last-observed status without touching the device.
func (c *Cartridge) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Start launches the presence-polling watcher on its own goroutine, ticking
// every interval. It never blocks a concurrent Read beyond the duration of
// a single poll's header/cert re-read.
func (c *Cartridge) Start(interval time.Duration) {
	c.stopWatcher = make(chan struct{})
	c.watcherDone = make(chan struct{})
	go c.watch(interval)
}

// Stop signals the watcher to exit and waits for it to do so. There is no
// force-kill path; the watcher checks its stop flag between ticks.
func (c *Cartridge) Stop() {
	if c.stopWatcher == nil {
		return
	}
	close(c.stopWatcher)
	<-c.watcherDone
}

func (c *Cartridge) watch(interval time.Duration) {
	defer close(c.watcherDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopWatcher:
			return
		case <-ticker.C:
			c.poll()
		}
	}
}

func (c *Cartridge) poll() {
	present := c.device.Present()

	c.mu.Lock()
	prev := c.status
	defer c.mu.Unlock()

	switch {
	case !present:
		if prev != StatusNotInserted {
			c.status = StatusNotInserted
			c.header, c.keyArea, c.certificate = nil, nil, nil
			c.totalSize, c.trimmedSize = 0, 0
			c.publishLocked(StatusNotInserted)
		}
	case present && prev == StatusNotInserted:
		c.status = StatusInsertedAndInfoNotLoaded
		c.publishLocked(StatusInsertedAndInfoNotLoaded)
		if err := c.reloadLocked(); err == nil {
			c.status = StatusInsertedAndInfoLoaded
			c.publishLocked(StatusInsertedAndInfoLoaded)
		}
	}
}

func (c *Cartridge) publishLocked(s Status) {
	select {
	case c.statusEvent <- s:
	default:
	}
}

// reloadLocked re-reads header, initial-data key area, and certificate, and
// caches total/trimmed sizes. Caller must hold c.mu.
func (c *Cartridge) reloadLocked() error {
	raw := make([]byte, HeaderSize)
	if _, err := c.device.ReadNormal(raw, 0); err != nil {
		return corecb.New(corecb.KindStorage, "cartridge.reload", err)
	}
	header, err := ParseHeader(raw, c.xciHeaderKey, nil)
	if err != nil {
		return err
	}
	c.header = header
	if fd, ok := c.device.(*FileDevice); ok {
		fd.SetSecureAreaStart(header.SecureAreaStartBytes())
	}

	c.trimmedSize = uint64(header.ValidDataEndAddress) * mediaUnitSize
	c.totalSize = uint64(header.NormalAreaEndAddress)*mediaUnitSize + (uint64(header.SecureAreaStartAddress) * mediaUnitSize)

	certRaw := make([]byte, certificateSize)
	if _, err := c.readLocked(certRaw, CertificateOffset); err == nil {
		var cert Certificate
		copy(cert[:], certRaw)
		c.certificate = &cert
	}

	return nil
}

// SetTitlekekGeneratorKey installs the common titlekek generator key used
// to open the key area's initial-data section (gamecard.h: "stored in the
// .rodata segment from the Lotus firmware"), normally sourced from the key
// vault.
func (c *Cartridge) SetTitlekekGeneratorKey(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titlekekGen = key
}

// LoadKeyArea decrypts the key area from raw initial-data bytes obtained
// out-of-band (the console's FS sysmodule hands this to callers directly;
// it isn't reachable through ReadNormal/ReadSecure). Populates KeyArea()
// for subsequent calls.
func (c *Cartridge) LoadKeyArea(rawInitialData []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.titlekekGen == nil {
		return corecb.New(corecb.KindKeyVault, "cartridge.LoadKeyArea", fmt.Errorf("titlekek generator key not set"))
	}
	ka, err := DecryptKeyArea(rawInitialData, c.titlekekGen)
	if err != nil {
		return err
	}
	c.keyArea = ka
	return nil
}

func (c *Cartridge) Header() *Header           { c.mu.Lock(); defer c.mu.Unlock(); return c.header }
func (c *Cartridge) KeyArea() *KeyArea         { c.mu.Lock(); defer c.mu.Unlock(); return c.keyArea }
func (c *Cartridge) CertificateData() *Certificate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.certificate
}
func (c *Cartridge) TotalSize() uint64   { c.mu.Lock(); defer c.mu.Unlock(); return c.totalSize }
func (c *Cartridge) TrimmedSize() uint64 { c.mu.Lock(); defer c.mu.Unlock(); return c.trimmedSize }

// RomCapacity maps the header's RomSize byte to a byte capacity, distinct
// from TotalSize (which reflects actually-used space).
func (c *Cartridge) RomCapacity() (uint64, error) {
	h := c.Header()
	if h == nil {
		return 0, corecb.New(corecb.KindStorage, "cartridge.RomCapacity", fmt.Errorf("no header loaded"))
	}
	switch h.RomSize {
	case 0xFA:
		return 1 << 30, nil
	case 0xF8:
		return 2 << 30, nil
	case 0xF0:
		return 4 << 30, nil
	case 0xE0:
		return 8 << 30, nil
	case 0xE1:
		return 16 << 30, nil
	case 0xE2:
		return 32 << 30, nil
	default:
		return 0, corecb.New(corecb.KindUnsupported, "cartridge.RomCapacity", fmt.Errorf("unknown rom_size 0x%02x", h.RomSize))
	}
}

// BundledFwVersion returns the encrypted area's cup_version field, the
// bundled firmware update version on the inserted cartridge.
func (c *Cartridge) BundledFwVersion() (uint32, error) {
	h := c.Header()
	if h == nil {
		return 0, corecb.New(corecb.KindStorage, "cartridge.BundledFwVersion", fmt.Errorf("no header loaded"))
	}
	return h.Encrypted.CupVersion, nil
}

// Read performs an area-routed raw read: a read spanning
// [offset, offset+len) is split at secure_area_start bytes,
// serving the low part from normal storage and the remainder from secure
// storage with its offset rebased to 0. A read past TrimmedSize fails with
// StorageReasonOutOfRange.
func (c *Cartridge) Read(out []byte, offset int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked(out, offset)
}

func (c *Cartridge) readLocked(out []byte, offset int64) (int, error) {
	if c.status == StatusNotInserted {
		return 0, corecb.NewStorage(corecb.StorageReasonEjected, "cartridge.Read", fmt.Errorf("no cartridge inserted"))
	}
	length := int64(len(out))
	if c.trimmedSize != 0 && offset+length > int64(c.trimmedSize) {
		return 0, corecb.NewStorage(corecb.StorageReasonOutOfRange, "cartridge.Read", fmt.Errorf("read [%d,%d) exceeds trimmed size %d", offset, offset+length, c.trimmedSize))
	}

	split := int64(0)
	if c.header != nil {
		split = c.header.SecureAreaStartBytes()
	}

	switch {
	case offset+length <= split:
		return c.device.ReadNormal(out, offset)

	case offset >= split:
		return c.device.ReadSecure(out, offset-split)

	default:
		normalLen := split - offset
		nNormal, err := c.device.ReadNormal(out[:normalLen], offset)
		if err != nil {
			return nNormal, c.wrapStorageErr(err)
		}
		nSecure, err := c.device.ReadSecure(out[normalLen:], 0)
		if err != nil {
			return nNormal + nSecure, c.wrapStorageErr(err)
		}
		return nNormal + nSecure, nil
	}
}

func (c *Cartridge) wrapStorageErr(err error) error {
	if _, ok := err.(*corecb.Error); ok {
		return err
	}
	return corecb.NewStorage(corecb.StorageReasonTransientIO, "cartridge.Read", err)
}
