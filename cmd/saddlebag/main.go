// Copyright 2024 The Saddlebag Authors.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command saddlebag is a thin demo driver, in the style of
// cmd/urls and cmd/bigslice: a flag-based main that runs one of the
// example applications over the in-process substrate/local backend
// and exits non-zero if any rank's worker reports a sticky error.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/grailbio/base/log"
	"golang.org/x/sync/errgroup"

	"github.com/saddlebag/saddlebag/example/hello"
	"github.com/saddlebag/saddlebag/example/pagerank"
	"github.com/saddlebag/saddlebag/substrate/local"
)

func main() {
	var (
		app        = flag.String("app", "hello", "example to run: hello, pagerank")
		ranks      = flag.Int("ranks", 4, "number of simulated ranks")
		cycles     = flag.Int("cycles", 4, "number of cycles to run")
		bufferSize = flag.Int("buffer", 64, "per-peer message buffer capacity")
	)
	flag.Parse()

	ctx := context.Background()
	var err error
	switch *app {
	case "hello":
		err = runHello(ctx, *ranks, *cycles, *bufferSize)
	case "pagerank":
		err = runPageRank(ctx, *ranks, *cycles, *bufferSize)
	default:
		log.Fatalf("saddlebag: unknown -app %q", *app)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runHello(ctx context.Context, ranks, cycles, bufferSize int) error {
	world := local.NewWorld(ranks)
	g, ctx := errgroup.WithContext(ctx)
	for r := 0; r < ranks; r++ {
		rank := r
		g.Go(func() error {
			w, it, err := hello.Build(ctx, world.New(rank), bufferSize)
			if err != nil {
				return fmt.Errorf("rank %d: build: %w", rank, err)
			}
			defer w.Close()
			if err := w.Cycle(ctx, cycles, true, true); err != nil {
				return fmt.Errorf("rank %d: cycle: %w", rank, err)
			}
			if werr := w.Err(); werr != nil {
				return fmt.Errorf("rank %d: %w", rank, werr)
			}
			log.Printf("rank %d: %s, received=%v", rank, w.StatusLine(), it.Received)
			return nil
		})
	}
	return g.Wait()
}

func runPageRank(ctx context.Context, ranks, cycles, bufferSize int) error {
	// A small fixed ring graph, split across the requested ranks'
	// hashed partitions by pagerank.Build itself.
	edges := map[int][]int{0: {1}, 1: {2}, 2: {3}, 3: {0}}

	world := local.NewWorld(ranks)
	g, ctx := errgroup.WithContext(ctx)
	for r := 0; r < ranks; r++ {
		rank := r
		g.Go(func() error {
			w, vertices, err := pagerank.Build(ctx, world.New(rank), bufferSize, edges)
			if err != nil {
				return fmt.Errorf("rank %d: build: %w", rank, err)
			}
			defer w.Close()
			if err := w.Cycle(ctx, cycles, true, true); err != nil {
				return fmt.Errorf("rank %d: cycle: %w", rank, err)
			}
			if werr := w.Err(); werr != nil {
				return fmt.Errorf("rank %d: %w", rank, werr)
			}
			for id, v := range vertices {
				log.Printf("rank %d: vertex %d: page_rank=%v", rank, id, v.PageRank)
			}
			return nil
		})
	}
	return g.Wait()
}
