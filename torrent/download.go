package torrent

import (
	"context"
	"errors"
	"os"
	"strconv"

	"bitlet/channel"
	"bitlet/peer"
	"bitlet/piece"

	"github.com/gosuri/uiprogress"
	"gopkg.in/tomb.v2"
)

// exit reports a finished connection back to the dispatcher.
type exit struct {
	addr string
	// banned peers broke the protocol and are never dialled again
	banned bool
}

// Download fetches every piece and returns the assembled file. It returns
// once the file is complete, ctx is cancelled, or peers ran out.
func (t *Torrent) Download(ctx context.Context) ([]byte, error) {
	if t.pieces.Complete() {
		return t.outputBuffer, nil
	}
	if t.config.ShowDownloadProgress {
		t.bar = t.downloadProgress()
		defer uiprogress.Stop()
	}

	tb, ctx := tomb.WithContext(ctx)
	tb.Go(func() error {
		sourcesDone := make(chan struct{}, len(t.sources))
		for _, src := range t.sources {
			src := src
			tb.Go(func() error {
				err := src.Run(ctx, t.peers)
				if err != nil && ctx.Err() == nil {
					t.log.Warn().Err(err).Msg("peer source stopped")
				}
				sourcesDone <- struct{}{}
				return nil
			})
		}
		return t.dispatch(ctx, tb, sourcesDone)
	})

	err := tb.Wait()
	if t.pieces.Complete() {
		return t.outputBuffer, nil
	}
	if err == nil {
		err = ctx.Err()
	}
	return nil, err
}

// dispatch hands peers from the sources to at most MaxPeers connections.
func (t *Torrent) dispatch(ctx context.Context, tb *tomb.Tomb, sourcesDone <-chan struct{}) error {
	var queue []peer.Peer
	seen := make(map[string]bool)
	exits := make(chan exit, t.config.MaxPeers)
	active := 0
	sourcesLeft := len(t.sources)

	for {
		for active < t.config.MaxPeers && len(queue) > 0 {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil
			}
			p := queue[0]
			queue = queue[1:]
			active++
			tb.Go(func() error {
				exits <- t.startDownloader(ctx, p)
				return nil
			})
		}
		if active == 0 && len(queue) == 0 && sourcesLeft == 0 {
			return ErrNoPeers
		}

		select {
		case <-tb.Dying():
			return nil
		case <-t.done:
			t.log.Info().Msg("download complete")
			tb.Kill(nil)
			return nil
		case peers := <-t.peers:
			for _, p := range peers {
				if addr := p.String(); !seen[addr] {
					seen[addr] = true
					queue = append(queue, p)
				}
			}
		case e := <-exits:
			active--
			// a peer that merely went away may be handed out again later
			if !e.banned {
				delete(seen, e.addr)
			}
		case <-sourcesDone:
			sourcesLeft--
		}
	}
}

func (t *Torrent) channelConfig() channel.Config {
	cfg := channel.DefaultConfig
	cfg.InfoHash = t.torrentFile.InfoHash
	cfg.PeerID = t.peerID
	cfg.PipelineDepth = t.config.PipelineDepth
	cfg.DialTimeout = t.config.DialTimeout
	cfg.HandshakeTimeout = t.config.HandshakeTimeout
	cfg.RequestTimeout = t.config.RequestTimeout
	cfg.Dial = t.dial
	cfg.OnBlock = func(_ piece.Outcome, n int) {
		t.downloaded.Add(int64(n))
	}
	return cfg
}

func (t *Torrent) startDownloader(ctx context.Context, p peer.Peer) exit {
	t.activePeers.Inc()
	defer t.activePeers.Dec()

	ch := channel.New(p, t.channelConfig(), t.pieces, t.log)
	err := ch.Run(ctx)
	switch {
	case err == nil:
		t.log.Debug().Str("peer", p.String()).Msg("finished with peer")
	case errors.Is(err, context.Canceled):
	case channel.IsProtocolError(err):
		t.log.Info().Str("peer", p.String()).Err(err).Msg("dropping misbehaving peer")
		return exit{addr: p.String(), banned: true}
	default:
		t.log.Debug().Str("peer", p.String()).Err(err).Msg("disconnected")
	}
	return exit{addr: p.String()}
}

// assemble copies a verified piece into the output buffer. Pieces never
// overlap, so concurrent calls for different pieces are safe.
func (t *Torrent) assemble(index int, buf []byte) {
	begin, end := t.torrentFile.PieceBounds(index)
	copy(t.outputBuffer[begin:end], buf)
	if t.bar != nil {
		t.bar.Incr()
	}
	if t.pieces.Complete() {
		t.finish.Do(func() { close(t.done) })
	}
}

func (t *Torrent) downloadProgress() *uiprogress.Bar {
	uiprogress.Start()
	numPieces := t.torrentFile.NumPieces()
	bar := uiprogress.AddBar(numPieces)
	bar.AppendCompleted()
	bar.AppendFunc(func(b *uiprogress.Bar) string {
		return "pieces: " + strconv.Itoa(t.pieces.Verified()) + "/" + strconv.Itoa(numPieces)
	})
	bar.AppendFunc(func(b *uiprogress.Bar) string {
		return "peers: " + strconv.Itoa(t.ActivePeers())
	})
	bar.AppendElapsed()
	return bar
}

// OutputToFile writes the downloaded file to path.
func (t *Torrent) OutputToFile(path string) error {
	outFile, err := os.Create(path)
	if err != nil {
		return err
	}
	_, err = outFile.Write(t.outputBuffer)
	if cerr := outFile.Close(); err == nil {
		err = cerr
	}
	return err
}
