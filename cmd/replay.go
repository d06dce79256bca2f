package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/spf13/cobra"

	"firestige.xyz/defrag/internal/config"
	"firestige.xyz/defrag/internal/core"
	"firestige.xyz/defrag/internal/core/decoder"
	"firestige.xyz/defrag/internal/core/defrag"
	"firestige.xyz/defrag/internal/core/notify"
	"firestige.xyz/defrag/internal/log"
	"firestige.xyz/defrag/internal/metrics"
)

var metricsAddr string

var replayCmd = &cobra.Command{
	Use:   "replay <capture.pcap>",
	Short: "Replay a pcap capture through the reassembly engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplay(args[0], cmd.OutOrStdout())
	},
}

func init() {
	replayCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"serve Prometheus metrics on this address during the replay")
}

func runReplay(path string, out io.Writer) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := log.Init(cfg.Log); err != nil {
		return err
	}
	logger := log.GetLogger()

	if metricsAddr == "" && cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		srv := metrics.NewServer(metricsAddr, cfg.Metrics.Path)
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop(context.Background())
	}

	engine, err := defrag.New(defrag.Config{
		HighWatermark: cfg.Engine.HighWatermarkBytes,
		LowWatermark:  cfg.Engine.LowWatermarkBytes,
		FragTTL:       cfg.Engine.FragTTL,
		RekeyInterval: cfg.Engine.RekeyInterval,
		BucketCount:   cfg.Engine.BucketCount,
		OnExpiry: func(f *core.Fragment) {
			msg, err := notify.TimeExceeded(f)
			if err != nil {
				logger.WithError(err).Warn("failed to build ICMP reassembly timeout")
				return
			}
			logger.WithFields(map[string]interface{}{
				"id":    f.Key.ID,
				"src":   fmt.Sprintf("%d.%d.%d.%d", f.Key.SrcIP[0], f.Key.SrcIP[1], f.Key.SrcIP[2], f.Key.SrcIP[3]),
				"bytes": len(msg),
			}).Info("reassembly timeout, ICMP Time Exceeded prepared")
		},
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer file.Close()

	reader, err := pcapgo.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to read pcap header: %w", err)
	}

	var (
		eth     layers.Ethernet
		ip4     layers.IPv4
		decoded []gopacket.LayerType

		packets   int
		fragments int
		delivered int
		dropped   = make(map[defrag.DropReason]int)
	)

	firstLayer := layers.LayerTypeEthernet
	if reader.LinkType() == layers.LinkTypeRaw || reader.LinkType() == layers.LinkTypeIPv4 {
		firstLayer = layers.LayerTypeIPv4
	}
	parser := gopacket.NewDecodingLayerParser(firstLayer, &eth, &ip4)
	parser.IgnoreUnsupported = true

	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read packet: %w", err)
		}
		packets++

		if err := parser.DecodeLayers(data, &decoded); err != nil {
			continue
		}
		sawIPv4 := false
		for _, lt := range decoded {
			if lt == layers.LayerTypeIPv4 {
				sawIPv4 = true
			}
		}
		if !sawIPv4 {
			continue
		}

		raw := make([]byte, 0, len(ip4.Contents)+len(ip4.Payload))
		raw = append(raw, ip4.Contents...)
		raw = append(raw, ip4.Payload...)

		frag, isFrag, err := decoder.Decode(raw, ci.InterfaceIndex, ci.Timestamp)
		if err != nil {
			logger.WithError(err).Debug("undecodable IPv4 packet")
			continue
		}
		if !isFrag {
			continue
		}
		fragments++

		res := engine.Ingest(frag)
		switch res.Status {
		case defrag.Delivered:
			delivered++
			logger.WithFields(map[string]interface{}{
				"id":      frag.Key.ID,
				"proto":   frag.Key.Protocol,
				"payload": len(res.Datagram.Payload),
			}).Info("datagram reassembled")
		case defrag.Dropped:
			dropped[res.Reason]++
		}
	}

	fmt.Fprintf(out, "packets:   %d\n", packets)
	fmt.Fprintf(out, "fragments: %d\n", fragments)
	fmt.Fprintf(out, "delivered: %d\n", delivered)
	for reason, n := range dropped {
		fmt.Fprintf(out, "dropped(%s): %d\n", reason, n)
	}
	fmt.Fprintf(out, "pending:   %d\n", engine.QueueCount())
	fmt.Fprintf(out, "memory:    %d bytes\n", engine.MemUsage())
	return nil
}
