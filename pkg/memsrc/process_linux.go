//go:build linux

package memsrc

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// SegmentType mirrors the MemoryProgramSegmentType bitmask from
// gcdumptool's mem.h: which mapped regions of a process's address space to
// pull into the scan.
type SegmentType int

const (
	SegmentRodata SegmentType = iota
	SegmentData
)

// ProcessSource scans the readable code/data pages of a running process,
// the real (Linux) backend for the memory scan: walking a
// process's memory map, filtering to readable pages, and concatenating the
// rodata (or read-write data) segment into one blob to search.
//
// This reads /proc/<pid>/maps for the region list and /proc/<pid>/mem for
// the bytes, via golang.org/x/sys/unix for the underlying syscalls
// (Pread64), rather than rolling a raw syscall wrapper by hand.
type ProcessSource struct {
	PID     int
	Segment SegmentType
}

type memRegion struct {
	start, end uint64
	perms      string
}

func (p ProcessSource) regions() ([]memRegion, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.PID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var regions []memRegion
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(bounds[0], 16, 64)
		end, err2 := strconv.ParseUint(bounds[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		perms := fields[1]
		if !strings.Contains(perms, "r") {
			continue
		}
		// rodata: readable, not writable, not the stack/heap. data: readable+writable.
		writable := strings.Contains(perms, "w")
		if p.Segment == SegmentRodata && writable {
			continue
		}
		if p.Segment == SegmentData && !writable {
			continue
		}
		regions = append(regions, memRegion{start: start, end: end, perms: perms})
	}
	return regions, scanner.Err()
}

// read concatenates every matching region's bytes via pread on
// /proc/<pid>/mem, skipping regions that fail to read (unmapped pages can
// race with the scan, which must not abort the whole scan).
func (p ProcessSource) read() ([]byte, error) {
	regions, err := p.regions()
	if err != nil {
		return nil, err
	}

	memPath := fmt.Sprintf("/proc/%d/mem", p.PID)
	fd, err := unix.Open(memPath, unix.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	var out []byte
	for _, r := range regions {
		size := r.end - r.start
		if size == 0 || size > 64<<20 {
			continue
		}
		buf := make([]byte, size)
		n, err := unix.Pread(fd, buf, int64(r.start))
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, buf[:n]...)
	}
	return out, nil
}

func (p ProcessSource) Scan(windowSize int, fn func(window []byte) bool) (int, bool) {
	data, err := p.read()
	if err != nil {
		return 0, false
	}
	return BlobSource{Data: data}.Scan(windowSize, fn)
}
