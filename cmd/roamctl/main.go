package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/markus-lassfolk/roamcore/pkg"
	"github.com/markus-lassfolk/roamcore/pkg/audit"
	"github.com/markus-lassfolk/roamcore/pkg/config"
	"github.com/markus-lassfolk/roamcore/pkg/logx"
	"github.com/markus-lassfolk/roamcore/pkg/netstats"
	"github.com/markus-lassfolk/roamcore/pkg/selector"
	"github.com/markus-lassfolk/roamcore/pkg/store"
	"github.com/markus-lassfolk/roamcore/pkg/throughput"
)

var Version = "1.0.0"

var (
	configPath string
	logLevel   string
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "roamctl",
		Short:   "Inspect and exercise the roamcore decision engine",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/roamcore/roamcore.toml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "error", "log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(evaluateCommand())
	rootCmd.AddCommand(predictCommand())
	rootCmd.AddCommand(eventsCommand())
	return rootCmd
}

// evaluateCommand runs one offline selection round over a scan snapshot
func evaluateCommand() *cobra.Command {
	var (
		scanPath     string
		linkPath     string
		networksPath string
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run a selection round over a scan snapshot and show the ranking",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logx.NewLogger(logLevel, "roamctl")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if networksPath == "" {
				networksPath = cfg.NetworksPath
			}

			var entries []*pkg.ScanEntry
			if err := readJSON(scanPath, &entries); err != nil {
				return fmt.Errorf("failed to load scan snapshot: %w", err)
			}

			var link *pkg.WifiLinkInfo
			if linkPath != "" {
				link = &pkg.WifiLinkInfo{}
				if err := readJSON(linkPath, link); err != nil {
					return fmt.Errorf("failed to load link snapshot: %w", err)
				}
			}

			clock := netstats.SystemClock{}
			configStore, err := store.NewFileStore(networksPath, clock, logger)
			if err != nil {
				return err
			}

			predictor := throughput.NewPredictor(pkg.DefaultDeviceCapabilities(), logger)
			sel := selector.NewNetworkSelector(cfg, clock, configStore, predictor, nil, logger)

			connected := link != nil
			chosen := sel.SelectNetwork(entries, map[pkg.Bssid]struct{}{}, link, connected, !connected, false)

			if asJSON {
				out := map[string]interface{}{
					"chosen":      chosen,
					"skip_reason": sel.LastSkipReason(),
					"candidates":  sel.LastCandidates(),
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			candidates := sel.LastCandidates()
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"SSID", "BSSID", "RSSI", "FREQ", "NOMINATOR", "TPUT MBPS", "METERED", "CHOSEN"})
			for _, c := range candidates {
				mark := ""
				if chosen != nil && c.Entry.Bssid == chosen.Entry.Bssid {
					mark = "*"
				}
				metered := ""
				if c.Metered {
					metered = "yes"
				}
				table.Append([]string{
					string(c.Entry.Ssid),
					c.Entry.Bssid.String(),
					strconv.Itoa(c.Entry.RssiDbm),
					strconv.Itoa(c.Entry.FrequencyMHz),
					c.Nominator.String(),
					strconv.Itoa(c.PredictedTputMbps),
					metered,
					mark,
				})
			}
			table.Render()

			if chosen != nil {
				fmt.Printf("\nSelected %s (%s) score=%d scorer=%s nominator=%s\n",
					chosen.Entry.Ssid, chosen.Entry.Bssid, chosen.Score, chosen.ScorerName, chosen.NominatorName)
			} else {
				fmt.Printf("\nNo selection (%s)\n", sel.LastSkipReason())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scanPath, "scan", "/run/roamcore/scan.json", "scan snapshot file")
	cmd.Flags().StringVar(&linkPath, "link", "", "current link snapshot file (empty means disconnected)")
	cmd.Flags().StringVar(&networksPath, "networks", "", "networks file (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of a table")
	return cmd
}

// predictCommand prints the modeled throughput for one hypothetical AP
func predictCommand() *cobra.Command {
	var (
		rssi     int
		freq     int
		standard string
		widthMHz int
		streams  int
		util     int
		bt       bool
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Estimate achievable throughput for an access point",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logx.NewLogger(logLevel, "roamctl")

			std, err := parseStandard(standard)
			if err != nil {
				return err
			}
			width, err := parseWidth(widthMHz)
			if err != nil {
				return err
			}

			predictor := throughput.NewPredictor(pkg.DefaultDeviceCapabilities(), logger)
			mbps := predictor.Predict(std, width, rssi, freq, streams, util, pkg.UnknownUtilization, bt)
			fmt.Printf("%d Mbps (standard=%s width=%dMHz rssi=%d freq=%d streams=%d)\n",
				mbps, std, width.MHz(), rssi, freq, streams)
			return nil
		},
	}
	cmd.Flags().IntVar(&rssi, "rssi", -60, "RSSI in dBm")
	cmd.Flags().IntVar(&freq, "freq", 5180, "frequency in MHz")
	cmd.Flags().StringVar(&standard, "standard", "11ax", "wifi standard (legacy|11n|11ac|11ax)")
	cmd.Flags().IntVar(&widthMHz, "width", 80, "channel width in MHz (20|40|80|160)")
	cmd.Flags().IntVar(&streams, "streams", 2, "AP max spatial streams")
	cmd.Flags().IntVar(&util, "util", pkg.UnknownUtilization, "BSS load channel utilization 0..255, -1 unknown")
	cmd.Flags().BoolVar(&bt, "bluetooth", false, "bluetooth active")
	return cmd
}

// eventsCommand prints the tail of the persisted decision trail
func eventsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent decision trail records",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logx.NewLogger(logLevel, "roamctl")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			trail, err := audit.NewDecisionLog(cfg.AuditPath, cfg.HistoryRetentionDays*24, logger)
			if err != nil {
				return err
			}
			defer trail.Close()

			records, err := trail.Recent(limit)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"TIME", "KIND", "SSID", "BSSID", "REASON"})
			for _, rec := range records {
				table.Append([]string{
					rec.Timestamp.Format("01-02 15:04:05"),
					rec.Kind,
					rec.Ssid,
					rec.Bssid,
					rec.Reason,
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records to show")
	return cmd
}

func parseStandard(s string) (pkg.WifiStandard, error) {
	switch s {
	case "legacy":
		return pkg.StandardLegacy, nil
	case "11n":
		return pkg.Standard11N, nil
	case "11ac":
		return pkg.Standard11AC, nil
	case "11ax":
		return pkg.Standard11AX, nil
	default:
		return 0, fmt.Errorf("unknown standard %q", s)
	}
}

func parseWidth(mhz int) (pkg.ChannelWidth, error) {
	switch mhz {
	case 20:
		return pkg.Width20, nil
	case 40:
		return pkg.Width40, nil
	case 80:
		return pkg.Width80, nil
	case 160:
		return pkg.Width160, nil
	default:
		return 0, fmt.Errorf("unsupported width %d MHz", mhz)
	}
}

func readJSON(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
