package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bletinyflow/bletinyflow/internal/config"
	"github.com/bletinyflow/bletinyflow/internal/protoerr"
	"github.com/bletinyflow/bletinyflow/internal/sender"
	"github.com/bletinyflow/bletinyflow/internal/tcptransport"
	"github.com/bletinyflow/bletinyflow/internal/wire"
)

func main() {
	// CLI Flags
	addr := flag.String("addr", "127.0.0.1:4020", "Receiver address to dial")
	file := flag.String("file", "", "Path of the file to send (required)")
	mtu := flag.Int("mtu", 512, "Negotiated MTU to report to the receiver")
	batch := flag.Int("batch", config.DefaultBatch, "Preferred chunks per CHUNK_REQUEST (receiver-driven, advisory only)")
	timeout := flag.Duration("timeout", config.DefaultTimeout, "Idle timeout")
	maxSize := flag.Int("max-transfer-size", config.MaxTransferSize, "Maximum transfer size this sender will submit")
	retry := flag.Bool("retry", false, "Reconnect with exponential backoff on a FAILED(TIMEOUT)/connection error")
	logLevel := flag.String("log-level", "info", "Log level: debug/info/warn/error")
	memoryLimit := flag.Int("memory-limit", 200, "Memory limit in MB")

	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch *logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		log.Fatal().Str("level", *logLevel).Msg("Invalid log level")
	}

	// Set memory limit
	debug.SetMemoryLimit(int64(*memoryLimit) * 1024 * 1024)

	if *file == "" {
		log.Fatal().Msg("--file is required")
	}
	payload, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("failed to read file")
	}

	cfg := config.New().WithBatch(*batch).WithTimeout(*timeout).WithMaxTransferSize(*maxSize)

	if !*retry {
		if err := transferOnce(*addr, *mtu, cfg, payload); err != nil {
			log.Fatal().Err(err).Msg("transfer failed")
		}
		return
	}

	reconnectAndSend(*addr, *mtu, cfg, payload)
}

// reconnectAndSend retries transferOnce with exponential backoff (1s up to
// 30s) whenever the attempt fails on a timeout or connection error, mirroring
// the teacher's TunnelManager.Reconnect loop. A protocol-level rejection that
// isn't a timeout (e.g. TRANSFER_TOO_LARGE) is not retried, nor is the
// sender-local FILE_TOO_LARGE, since resending the same oversized payload
// would just fail the same way.
func reconnectAndSend(addr string, mtuVal int, cfg config.Config, payload []byte) {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		err := transferOnce(addr, mtuVal, cfg, payload)
		if err == nil {
			log.Info().Msg("transfer succeeded")
			return
		}

		if !isRetryable(err) {
			log.Fatal().Err(err).Msg("non-retryable transfer failure")
		}

		log.Warn().Err(err).Dur("backoff", backoff).Msg("transfer failed, retrying")
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func isRetryable(err error) bool {
	if errors.Is(err, sender.ErrFileTooLarge) {
		return false
	}
	return protoerr.IsTimeout(err) || !protoerr.IsProtocolError(err)
}

func transferOnce(addr string, mtuVal int, cfg config.Config, payload []byte) error {
	netConn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}
	defer netConn.Close()

	tc := tcptransport.New(netConn, mtuVal)

	result := make(chan sender.Result, 1)
	failure := make(chan error, 1)

	sess := sender.New(tc, cfg, sender.Callbacks{
		OnProgress: func(p sender.Progress) {
			log.Debug().Int("chunks_sent", p.ChunksSent).Int("total_chunks", p.TotalChunks).
				Int("bytes_sent", p.BytesSent).Msg("progress")
		},
		OnComplete: func(r sender.Result) {
			result <- r
		},
		OnError: func(err error) {
			failure <- err
		},
		OnDeviceInfo: func(info wire.DeviceInfo) {
			log.Info().Uint8("device_type", info.DeviceType).Uint8("battery_percent", info.BatteryPercent).
				Uint16("width", info.Width).Uint16("height", info.Height).Msg("received device info")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sess.Run(ctx)
	go tc.Run(ctx, sess)

	if err := sess.TransferFile(payload); err != nil {
		return err
	}

	select {
	case r := <-result:
		log.Info().Int("size", r.Size).Dur("elapsed", r.Elapsed).Float64("throughput_bps", r.Throughput).
			Msg("transfer complete")
		return nil
	case err := <-failure:
		return err
	}
}
