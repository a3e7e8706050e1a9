package throughput

import (
	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
)

// Predictor estimates achievable PHY-level throughput in Mbps from radio
// parameters. All arithmetic is fixed-point integer so two calls with the
// same inputs always produce the same output; there are no failure states
// and invalid inputs fall back to conservative defaults.
type Predictor struct {
	logger *logx.Logger
	caps   pkg.DeviceCapabilities
}

// Fixed-point scale used for bits-per-tone values
const bitPerToneScale = 1000

const (
	noiseFloor20MHzDbm = -96
	snrMarginDb        = 16

	// Per 20 MHz width doubling the noise floor rises ~3 dB
	noiseFloorDbPerWidthStep = 3
)

// Channel utilization defaults (0..255 scale) when neither the BSS load
// element nor link layer stats supply a measurement.
const (
	utilizationDefault24      = 102 // congested home band assumption
	utilizationDefaultAbove24 = 38
	utilizationBoostBt24      = 64 // Bluetooth active on 2.4 GHz
)

// snrDbToBitPerTone maps effective SNR in dB (index = snr + 10, valid for
// -10..9 dB) to bits per tone scaled by bitPerToneScale. Above 9 dB the
// log-channel-capacity approximation snr/3 takes over.
var snrDbToBitPerTone = [20]int{
	0, 171, 212, 262, 323, 396, 484, 586, 706, 844,
	1000, 1176, 1370, 1583, 1812, 2058, 2317, 2588, 2870, 3161,
}

// ofdmParams are the static OFDM parameters of one (standard, width) pair
type ofdmParams struct {
	tonesPerSymbol   int
	symbolDurationNs int
	maxBitsPerTone   int // scaled by bitPerToneScale
	maxStreams       int
}

var tonesPerSymbolTable = map[pkg.WifiStandard][4]int{
	// indexed by pkg.ChannelWidth (20/40/80/160)
	pkg.StandardLegacy: {48, 48, 48, 48},
	pkg.Standard11N:    {52, 108, 108, 108},
	pkg.Standard11AC:   {52, 108, 234, 468},
	pkg.Standard11AX:   {234, 468, 980, 1960},
}

func paramsFor(standard pkg.WifiStandard, width pkg.ChannelWidth) ofdmParams {
	p := ofdmParams{tonesPerSymbol: tonesPerSymbolTable[standard][width]}
	switch standard {
	case pkg.Standard11AX:
		p.symbolDurationNs = 13600
		p.maxBitsPerTone = 8333 // 1024-QAM 5/6
		p.maxStreams = 8
	case pkg.Standard11AC:
		p.symbolDurationNs = 3600
		p.maxBitsPerTone = 6667 // 256-QAM 5/6
		p.maxStreams = 8
	case pkg.Standard11N:
		p.symbolDurationNs = 3600
		p.maxBitsPerTone = 5000 // 64-QAM 5/6
		p.maxStreams = 4
	default:
		p.symbolDurationNs = 4000
		p.maxBitsPerTone = 4500 // 64-QAM 3/4
		p.maxStreams = 1
	}
	return p
}

// maxWidthForStandard caps the channel width a standard can signal
func maxWidthForStandard(standard pkg.WifiStandard) pkg.ChannelWidth {
	switch standard {
	case pkg.StandardLegacy:
		return pkg.Width20
	case pkg.Standard11N:
		return pkg.Width40
	default:
		return pkg.Width160
	}
}

// NewPredictor creates a predictor for a device capability profile
func NewPredictor(caps pkg.DeviceCapabilities, logger *logx.Logger) *Predictor {
	if caps.MaxSpatialStreams < 1 {
		caps.MaxSpatialStreams = 1
	}
	return &Predictor{logger: logger, caps: caps}
}

// Predict computes the expected throughput in Mbps. bssLoadUtilization and
// linkLayerUtilization are on the 0..255 scale with pkg.UnknownUtilization
// (or any out-of-range value) meaning "no measurement".
func (p *Predictor) Predict(
	standard pkg.WifiStandard,
	apWidth pkg.ChannelWidth,
	rssiDbm int,
	frequencyMHz int,
	apMaxSpatialStreams int,
	bssLoadUtilization int,
	linkLayerUtilization int,
	bluetoothConnected bool,
) int {
	// Clamp the AP's advertised capabilities down to the device's
	effStandard := standard
	if effStandard > p.caps.MaxStandard {
		effStandard = p.caps.MaxStandard
	}

	deviceMaxWidth := p.caps.MaxWidth5
	if pkg.Is24GHz(frequencyMHz) {
		deviceMaxWidth = p.caps.MaxWidth24
	}
	effWidth := apWidth
	if effWidth > deviceMaxWidth {
		effWidth = deviceMaxWidth
	}
	if max := maxWidthForStandard(effStandard); effWidth > max {
		effWidth = max
	}

	params := paramsFor(effStandard, effWidth)

	streams := apMaxSpatialStreams
	if streams < 1 {
		streams = 1
	}
	if streams > p.caps.MaxSpatialStreams {
		streams = p.caps.MaxSpatialStreams
	}
	if streams > params.maxStreams {
		streams = params.maxStreams
	}

	widthFactor := effWidth.Factor()

	// Effective SNR with the noise floor widened per width doubling
	snrDb := rssiDbm - (noiseFloor20MHzDbm + noiseFloorDbPerWidthStep*widthFactor + snrMarginDb)

	bitPerTone := bitPerToneFromSnr(snrDb)
	if bitPerTone > params.maxBitsPerTone {
		bitPerTone = params.maxBitsPerTone
	}

	// PHY rate in Mbps: bits/tone * tones/symbol * streams over the symbol
	// duration. The *1000 converts ns^-1 to Mbps given the tone scale.
	phyRateMbps := int(int64(bitPerTone) * int64(params.tonesPerSymbol) * int64(streams) * 1000 /
		(int64(params.symbolDurationNs) * bitPerToneScale))

	utilization := p.resolveUtilization(frequencyMHz, bssLoadUtilization, linkLayerUtilization, bluetoothConnected)
	airtime := airTimeFraction(utilization, widthFactor)

	tputMbps := phyRateMbps * airtime / pkg.MaxChannelUtilization
	if tputMbps < 0 {
		tputMbps = 0
	}

	if p.logger != nil {
		p.logger.LogDebugVerbose("throughput_predicted", map[string]interface{}{
			"standard":    effStandard.String(),
			"width_mhz":   effWidth.MHz(),
			"rssi_dbm":    rssiDbm,
			"snr_db":      snrDb,
			"streams":     streams,
			"phy_mbps":    phyRateMbps,
			"utilization": utilization,
			"tput_mbps":   tputMbps,
		})
	}
	return tputMbps
}

// PredictForEntry predicts throughput for one scan entry using the entry's
// own BSS load report plus an optional link-layer measurement for its band.
func (p *Predictor) PredictForEntry(entry *pkg.ScanEntry, linkLayerUtilization int, bluetoothConnected bool) int {
	return p.Predict(
		entry.Standard,
		entry.Width,
		entry.RssiDbm,
		entry.FrequencyMHz,
		entry.MaxSpatialStreams,
		entry.BssLoadUtilization,
		linkLayerUtilization,
		bluetoothConnected,
	)
}

func bitPerToneFromSnr(snrDb int) int {
	switch {
	case snrDb < -10:
		return 0
	case snrDb < 10:
		return snrDbToBitPerTone[snrDb+10]
	default:
		return snrDb * bitPerToneScale / 3
	}
}

// resolveUtilization picks the best available channel utilization estimate:
// BSS load report first, then the link-layer measurement, then a per-band
// default boosted when Bluetooth is active on 2.4 GHz. Out-of-range inputs
// take the default branch rather than failing.
func (p *Predictor) resolveUtilization(frequencyMHz, bssLoad, linkLayer int, bluetoothConnected bool) int {
	if bssLoad >= 0 && bssLoad <= pkg.MaxChannelUtilization {
		return bssLoad
	}
	if linkLayer >= 0 && linkLayer <= pkg.MaxChannelUtilization {
		return linkLayer
	}
	if pkg.Is24GHz(frequencyMHz) {
		utilization := utilizationDefault24
		if bluetoothConnected {
			utilization += utilizationBoostBt24
		}
		if utilization > pkg.MaxChannelUtilization {
			utilization = pkg.MaxChannelUtilization
		}
		return utilization
	}
	return utilizationDefaultAbove24
}

// airTimeFraction returns the available airtime on the 0..255 scale. Each
// width doubling squares the per-20MHz idle fraction, since all component
// channels must be idle simultaneously.
func airTimeFraction(utilization, widthFactor int) int {
	airtime := pkg.MaxChannelUtilization - utilization
	for i := 0; i < widthFactor; i++ {
		airtime = airtime * airtime / pkg.MaxChannelUtilization
	}
	return airtime
}
