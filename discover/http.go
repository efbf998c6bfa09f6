package discover

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"bitlet/bencode"
	"bitlet/peer"
)

// maxResponseSize bounds the body read from an HTTP tracker.
const maxResponseSize = 1 << 20

type HTTPTracker struct {
	URL    *url.URL
	Client *http.Client
}

func (tr *HTTPTracker) announceURL(req Request) string {
	params := url.Values{
		"info_hash":  []string{string(req.InfoHash[:])},
		"peer_id":    []string{string(req.PeerID[:])},
		"port":       []string{strconv.Itoa(int(req.Port))},
		"uploaded":   []string{strconv.FormatInt(req.Uploaded, 10)},
		"downloaded": []string{strconv.FormatInt(req.Downloaded, 10)},
		"compact":    []string{"1"},
		"left":       []string{strconv.FormatInt(req.Left, 10)},
	}
	if req.Event != EventNone {
		params.Set("event", string(req.Event))
	}

	base := *tr.URL
	// keep any query the tracker URL already carries, e.g. a passkey
	if base.RawQuery != "" {
		base.RawQuery += "&" + params.Encode()
	} else {
		base.RawQuery = params.Encode()
	}
	return base.String()
}

func (tr *HTTPTracker) Announce(ctx context.Context, req Request) (*Response, error) {
	client := tr.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, tr.announceURL(req), nil)
	if err != nil {
		return nil, err
	}
	response, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unable to make connection to tracker: status code %d", response.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	return parseHTTPResponse(body)
}

func parseHTTPResponse(body []byte) (*Response, error) {
	v, err := bencode.DecodeAll(body)
	if err != nil {
		return nil, fmt.Errorf("decoding tracker response: %w", err)
	}
	dict, ok := v.(bencode.Dict)
	if !ok {
		return nil, fmt.Errorf("expected tracker response dictionary")
	}

	if dict.Has("failure reason") {
		reason, err := dict.GetString("failure reason")
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, reason)
	}

	res := &Response{}
	if dict.Has("interval") {
		interval, err := dict.GetInt("interval")
		if err != nil {
			return nil, err
		}
		res.Interval = time.Duration(interval) * time.Second
	}
	if dict.Has("complete") {
		n, err := dict.GetInt("complete")
		if err != nil {
			return nil, err
		}
		res.Complete = int(n)
	}
	if dict.Has("incomplete") {
		n, err := dict.GetInt("incomplete")
		if err != nil {
			return nil, err
		}
		res.Incomplete = int(n)
	}

	peersValue, ok := dict.Get("peers")
	if !ok {
		return nil, fmt.Errorf("tracker response has no peers")
	}
	switch peers := peersValue.(type) {
	case bencode.String:
		res.Peers, err = peer.Unmarshal(peers)
		if err != nil {
			return nil, err
		}
	case bencode.List:
		return nil, ErrNonCompactPeers
	default:
		return nil, fmt.Errorf("unexpected peers value in tracker response")
	}
	return res, nil
}
