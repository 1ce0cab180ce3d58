package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nosqlbench/vecstore/pkg/catalog"
	"github.com/nosqlbench/vecstore/pkg/merkle"
	"github.com/nosqlbench/vecstore/pkg/store"
	"github.com/nosqlbench/vecstore/pkg/swarm"
	"github.com/nosqlbench/vecstore/pkg/transport"
)

// catalogCommand opens one facet of a dataset directory, wiring a
// swarm peer fetcher ahead of the origin transport when swarm flags
// are supplied, and reports its resolved size. This is the one
// production call path that exercises catalog.OpenFacetWithPeers and
// swarm.NewFetcher together: everywhere else swarm.Fetcher was only
// ever constructed from its own package's tests.
func catalogCommand(args []string) int {
	var dir, facetName, originURL, swarmID, bindAddr, peerAddr, peerID string
	if err := parseFlags(args, map[string]*string{
		"--dir":        &dir,
		"--facet":      &facetName,
		"--origin-url": &originURL,
		"--swarm-id":   &swarmID,
		"--bind":       &bindAddr,
		"--peer-addr":  &peerAddr,
		"--peer-id":    &peerID,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "vecstore catalog:", err)
		return exitUsageError
	}
	if dir == "" || facetName == "" {
		fmt.Fprintln(os.Stderr, "Usage: vecstore catalog --dir D --facet NAME [--origin-url U] [--swarm-id ID --peer-addr HOST:PORT --peer-id ID]")
		return exitUsageError
	}

	ds, err := catalog.Open(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitIOError
	}

	var originFetcher transport.Fetcher
	if originURL != "" {
		originFetcher = transport.NewHTTPFetcher(originURL, nil)
	} else {
		originFetcher = transport.NewFileFetcher(filepath.Join(dir, facetName))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var peerFetcher transport.Fetcher
	var node *swarm.Node
	if swarmID != "" && peerAddr != "" {
		node, peerFetcher, err = joinSwarmForFacet(ctx, dir, facetName, swarmID, bindAddr, peerAddr, peerID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vecstore catalog: swarm join failed, continuing with origin transport only: %v\n", err)
		} else {
			defer node.Stop()
		}
	}

	var facet *catalog.Facet
	if peerFetcher != nil {
		facet, err = ds.OpenFacetWithPeers(ctx, facetName, peerFetcher, originFetcher, store.ChannelConfig{})
	} else {
		facet, err = ds.OpenFacet(ctx, facetName, originFetcher, store.ChannelConfig{})
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitIOError
	}
	defer facet.Close()

	fmt.Printf("facet %s: %d bytes\n", facetName, facet.Size())
	return exitOK
}

// joinSwarmForFacet starts a local swarm node, dials the given
// bootstrap peer, and builds a Fetcher routing through that peer's
// gossip/directory view for facetName's dataset chunks. The caller
// falls back to originFetcher alone if this fails for any reason.
func joinSwarmForFacet(ctx context.Context, dir, facetName, swarmID, bindAddr, peerAddr, peerID string) (*swarm.Node, transport.Fetcher, error) {
	refPath := filepath.Join(dir, facetName) + ".mref"
	ref, err := merkle.LoadReference(refPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load reference for swarm shape: %w", err)
	}
	shape := ref.Shape()
	ref.Close()

	identity, err := swarm.GenerateIdentity()
	if err != nil {
		return nil, nil, fmt.Errorf("generate swarm identity: %w", err)
	}

	node, err := swarm.NewNode(swarm.NodeConfig{
		Identity: identity,
		SwarmID:  swarmID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("construct swarm node: %w", err)
	}

	if bindAddr == "" {
		bindAddr = "127.0.0.1:0"
	}
	if err := node.Start(ctx, bindAddr); err != nil {
		return nil, nil, fmt.Errorf("start swarm node: %w", err)
	}

	if peerID != "" {
		var peerStatic [32]byte
		if err := node.Dial(ctx, peerID, peerAddr, peerStatic); err != nil {
			node.Stop()
			return nil, nil, fmt.Errorf("dial bootstrap peer %s: %w", peerAddr, err)
		}
	}

	fetcher := swarm.NewFetcher(swarmID, facetName, shape, node.Directory, node.Gossip, node)
	return node, fetcher, nil
}
