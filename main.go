package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"bitlet/file"
	"bitlet/torrent"

	"github.com/rs/zerolog"
)

func main() {
	config := torrent.DefaultConfig
	flag.BoolVar(&config.UseTrackers, "trackers", config.UseTrackers, "discover peers through trackers")
	flag.BoolVar(&config.UseDHT, "dht", config.UseDHT, "discover peers through the DHT")
	flag.BoolVar(&config.ShowDownloadProgress, "progress", config.ShowDownloadProgress, "show a progress bar")
	flag.IntVar(&config.MaxPeers, "peers", config.MaxPeers, "maximum number of peer connections")
	flag.IntVar(&config.PipelineDepth, "pipeline", config.PipelineDepth, "requests outstanding per peer")
	flag.StringVar(&config.Selection, "selection", config.Selection, "piece selection: sequential or rarest")
	port := flag.Uint("port", uint(config.Port), "port reported to trackers")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <torrent> <output>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	inputPath := flag.Arg(0)
	outputPath := flag.Arg(1)

	if *port > 0xFFFF {
		log.Fatal().Uint("port", *port).Msg("port out of range")
	}
	config.Port = uint16(*port)
	config, err := torrent.NewConfig(config)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	tf, err := file.Open(inputPath)
	if err != nil {
		log.Fatal().Err(err).Msg("could not open torrent")
	}
	log.Info().
		Str("name", tf.Name).
		Int("length", tf.Length).
		Int("pieces", tf.NumPieces()).
		Hex("info_hash", tf.InfoHash[:]).
		Msg("loaded torrent")

	t, err := torrent.New(tf, config, torrent.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("could not start download")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if _, err := t.Download(ctx); err != nil {
		log.Fatal().Err(err).Msg("download failed")
	}
	if err := t.OutputToFile(outputPath); err != nil {
		log.Fatal().Err(err).Msg("could not write output")
	}
	log.Info().Str("path", outputPath).Msg("saved file")
}
