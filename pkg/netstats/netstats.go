package netstats

import (
	"fmt"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

// Reader pulls interface byte counters and link state out of netlink.
// Byte counters feed the data stall detector's goodput estimate; the
// counters are cumulative since interface up, exactly what the detector's
// delta logic expects.
type Reader struct {
	logger *logx.Logger
	iface  string
}

// NewReader creates a reader bound to one interface name
func NewReader(iface string, logger *logx.Logger) *Reader {
	return &Reader{
		logger: logger.WithComponent("netstats"),
		iface:  iface,
	}
}

// Interface returns the bound interface name
func (r *Reader) Interface() string { return r.iface }

// Counters returns the cumulative tx and rx byte counters
func (r *Reader) Counters() (tx, rx uint64, err error) {
	link, err := netlink.LinkByName(r.iface)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to look up %s: %w", r.iface, err)
	}
	stats := link.Attrs().Statistics
	if stats == nil {
		return 0, 0, fmt.Errorf("no statistics for %s", r.iface)
	}
	return stats.TxBytes, stats.RxBytes, nil
}

// IsUp reports whether the interface is administratively and operationally up
func (r *Reader) IsUp() bool {
	link, err := netlink.LinkByName(r.iface)
	if err != nil {
		r.logger.Debug("Link lookup failed", "iface", r.iface, "error", err)
		return false
	}
	return link.Attrs().OperState == netlink.OperUp
}

// FillLinkInfo copies the current byte counters into a link snapshot
func (r *Reader) FillLinkInfo(info *pkg.WifiLinkInfo) error {
	tx, rx, err := r.Counters()
	if err != nil {
		return err
	}
	info.TotalTxBytes = tx
	info.TotalRxBytes = rx
	return nil
}

// SystemClock implements pkg.Clock on the kernel clocks: boottime for the
// monotonic axis so suspend periods count, realtime for wall timestamps.
type SystemClock struct{}

// ElapsedSinceBootMillis returns milliseconds since boot including suspend
func (SystemClock) ElapsedSinceBootMillis() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		// Fall back to the suspend-unaware clock rather than fail
		unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	}
	return ts.Sec*1000 + ts.Nsec/1e6
}

// WallClockMillis returns milliseconds since the Unix epoch
func (SystemClock) WallClockMillis() int64 {
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_REALTIME, &ts)
	return ts.Sec*1000 + ts.Nsec/1e6
}
