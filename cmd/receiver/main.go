package main

import (
	"context"
	"flag"
	"net"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bletinyflow/bletinyflow/internal/config"
	"github.com/bletinyflow/bletinyflow/internal/receiver"
	"github.com/bletinyflow/bletinyflow/internal/registry"
	"github.com/bletinyflow/bletinyflow/internal/tcptransport"
	"github.com/bletinyflow/bletinyflow/internal/wire"
)

func main() {
	// CLI Flags
	listen := flag.String("listen", "127.0.0.1:4020", "Listen address for incoming transfers")
	outDir := flag.String("out-dir", ".", "Directory to write received files into")
	mtu := flag.Int("mtu", 512, "Negotiated MTU to report to the sender")
	batch := flag.Int("batch", config.DefaultBatch, "Chunks requested per CHUNK_REQUEST")
	timeout := flag.Duration("timeout", config.DefaultTimeout, "Idle timeout")
	maxSize := flag.Int("max-transfer-size", config.MaxTransferSize, "Maximum accepted transfer size in bytes")
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

	cfg := config.New().WithBatch(*batch).WithTimeout(*timeout).WithMaxTransferSize(*maxSize)

	sessions := registry.New[*receiver.Session]()

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatal().Err(err).Str("addr", *listen).Msg("failed to listen")
	}
	log.Info().Str("addr", *listen).Msg("receiver listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Error().Err(err).Msg("accept failed")
			continue
		}
		go handleConn(conn, cfg, *mtu, *outDir, sessions)
	}
}

func handleConn(netConn net.Conn, cfg config.Config, mtuVal int, outDir string, sessions *registry.Registry[*receiver.Session]) {
	connID := netConn.RemoteAddr().String()
	logger := log.With().Str("conn", connID).Logger()
	defer netConn.Close()

	tc := tcptransport.New(netConn, mtuVal)

	done := make(chan struct{})
	sess := receiver.New(tc, cfg, receiver.Callbacks{
		OnTransferComplete: func(c receiver.Completion) {
			defer c.Release()
			logger.Info().Int("size", c.Size).Bool("jpeg", c.JPEGMagic).Msg("transfer complete")
			if err := writeReceived(outDir, connID, c.Buffer); err != nil {
				logger.Error().Err(err).Msg("failed to write received file")
			}
			close(done)
		},
		OnTransferError: func(err error) {
			logger.Error().Err(err).Msg("transfer failed")
			close(done)
		},
	})

	sessions.Put(connID, sess)
	defer sessions.Remove(connID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sess.Run(ctx)

	if err := sess.SendDeviceInfo(ctx, wire.DeviceInfo{DeviceType: 1, BatteryPercent: 100}); err != nil {
		logger.Warn().Err(err).Msg("failed to send device info")
	}

	tc.Run(ctx, sess)
	<-done
}

func writeReceived(outDir, connID string, buf []byte) error {
	name := outDir + "/" + sanitize(connID) + "-" + time.Now().UTC().Format("20060102T150405") + ".bin"
	return os.WriteFile(name, buf, 0o644)
}

func sanitize(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
