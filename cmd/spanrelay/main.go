/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main implements spanrelay, which replays captured trace dumps
// through the relay pipeline.
//
//	spanrelay [-dry-run] [-drain 30s] dump.json [more.yaml ...]
//	spanrelay -schema
//
// Configuration comes from AGENTRELAY_* environment variables. With
// -dry-run the normalized records are printed as a table instead of being
// delivered.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/chainguard-dev/terraform-infra-common/pkg/httpmetrics"

	"chainguard.dev/agentrelay/telemetry/config"
	"chainguard.dev/agentrelay/telemetry/delivery"
	"chainguard.dev/agentrelay/telemetry/dump"
	"chainguard.dev/agentrelay/telemetry/metrics"
	"chainguard.dev/agentrelay/telemetry/pipeline"
	"chainguard.dev/agentrelay/telemetry/record"
)

var (
	dryRun = flag.Bool("dry-run", false, "print normalized records instead of delivering them")
	schema = flag.Bool("schema", false, "print the JSON schema of a span record and exit")
	drain  = flag.Duration("drain", 30*time.Second, "how long to wait for queued deliveries on exit")
)

func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *schema {
		if err := writeSchema(os.Stdout); err != nil {
			clog.FatalContextf(ctx, "writing schema: %v", err)
		}
		return
	}

	defer httpmetrics.SetupTracer(ctx)()

	if flag.NArg() == 0 {
		clog.FatalContextf(ctx, "usage: spanrelay [-dry-run] [-drain duration] dump...")
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	batches, err := dump.LoadAll(ctx, flag.Args())
	if err != nil {
		clog.FatalContextf(ctx, "loading dumps: %v", err)
	}
	clog.InfoContextf(ctx, "Loaded %d trace batches from %d files", len(batches), flag.NArg())

	relay := metrics.NewRelay(cfg.RelayName)
	genai := metrics.NewGenAI("chainguard.dev/agentrelay")

	var (
		sender pipeline.Sender
		table  *recordTable
	)
	if *dryRun {
		table = newRecordTable()
		sender = table
	} else {
		exp, err := delivery.New(ctx, cfg.DeliveryOptions(relay)...)
		if err != nil {
			clog.FatalContextf(ctx, "creating exporter: %v", err)
		}
		if !exp.Enabled() {
			clog.WarnContextf(ctx, "No API key configured; batches will be skipped")
		}
		clog.InfoContextf(ctx, "Delivering to %s", exp.Endpoint())
		sender = exp
	}

	p, err := pipeline.New(ctx, sender, cfg.PipelineOptions(genai, relay)...)
	if err != nil {
		clog.FatalContextf(ctx, "creating pipeline: %v", err)
	}

	for _, b := range batches {
		if ctx.Err() != nil {
			break
		}
		p.Observe(ctx, b.Trace, b.Spans...)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), *drain)
	defer cancelShutdown()
	if err := p.Shutdown(shutdownCtx); err != nil {
		clog.WarnContextf(ctx, "Shutdown did not drain: %v", err)
	}

	if table != nil {
		if err := table.Render(os.Stdout); err != nil {
			clog.FatalContextf(ctx, "rendering table: %v", err)
		}
	}
}

func writeSchema(w io.Writer) error {
	b, err := sonic.MarshalIndent(record.Schema(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
