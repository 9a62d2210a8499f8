package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	flags "github.com/jessevdk/go-flags"

	"github.com/forensicskween/invalidcurve/pkg/factorint"
	"github.com/forensicskween/invalidcurve/pkg/invalidcurve"
)

type config struct {
	Prime  string `short:"p" long:"prime" description:"field prime (decimal or 0x hex)" required:"true"`
	CoeffA string `short:"a" long:"coeff-a" description:"curve coefficient a (decimal or 0x hex)" required:"true"`
	Output string `short:"o" long:"output" description:"output curve file" default:"curves.json"`

	Count   int      `short:"n" long:"count" description:"accept this many randomly drawn curves"`
	BValues []string `short:"b" long:"b-value" description:"explicit b coefficient to try; may be repeated"`
	BFrom   string   `long:"b-from" description:"start of an inclusive b range"`
	BTo     string   `long:"b-to" description:"end of an inclusive b range"`

	Timeout    time.Duration `long:"timeout" description:"per-curve analysis deadline" default:"30s"`
	MaxTimeout time.Duration `long:"max-timeout" description:"deadline ceiling for escalating retries" default:"4m"`
	Deep       bool          `long:"deep" description:"enable the ECM factoring pass for stubborn cofactors"`
	Proof      bool          `long:"proof" description:"demand deterministic primality for all factors"`

	MinFactors      int      `long:"min-factors" description:"usable subgroups a curve must offer" default:"2"`
	MaxSubgroupBits int      `long:"max-subgroup-bits" description:"largest usable prime power, in bits" default:"48"`
	ExcludeB        []string `long:"exclude-b" description:"b coefficient to reject, typically the target's real one; may be repeated"`
	Generators      bool     `short:"g" long:"generators" description:"precompute a generator point per usable subgroup"`

	Seed    int64 `long:"seed" description:"random seed for reproducible runs (0 picks one)"`
	Workers int   `long:"workers" description:"concurrent curve analyses" default:"4"`

	DebugLevel string `short:"d" long:"debuglevel" description:"logging level: trace, debug, info, warn, error, critical" default:"info"`
	LogFile    string `long:"logfile" description:"also write logs to this file, with rotation"`
	DumpCurves bool   `long:"dump" description:"spew the accepted records to the log after writing"`
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func parseBig(name, s string) *big.Int {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	z, ok := new(big.Int).SetString(s, base)
	if !ok {
		fatalf("invalid %s: %q", name, s)
	}
	return z
}

func main() {
	var cfg config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.Usage = "[OPTIONS]"
	if _, err := parser.Parse(); err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := setLogLevels(cfg.DebugLevel); err != nil {
		fatalf("%v", err)
	}
	if cfg.LogFile != "" {
		if err := initLogRotator(cfg.LogFile); err != nil {
			fatalf("%v", err)
		}
		defer logRotator.Close()
	}

	p := parseBig("prime", cfg.Prime)
	a := parseBig("coeff-a", cfg.CoeffA)

	opts := []invalidcurve.Option{
		invalidcurve.WithTimeout(cfg.Timeout, cfg.MaxTimeout),
		invalidcurve.WithDeepFactoring(cfg.Deep),
		invalidcurve.WithPrimalityProofs(cfg.Proof),
		invalidcurve.WithMinFactors(cfg.MinFactors),
		invalidcurve.WithMaxSubgroupBits(cfg.MaxSubgroupBits),
		invalidcurve.WithWorkers(cfg.Workers),
		invalidcurve.WithGenerators(cfg.Generators),
		invalidcurve.WithFactorCache(factorint.NewCache()),
	}
	if cfg.Seed != 0 {
		opts = append(opts, invalidcurve.WithSeed(cfg.Seed))
	}
	if len(cfg.ExcludeB) > 0 {
		excluded := make([]*big.Int, 0, len(cfg.ExcludeB))
		for _, s := range cfg.ExcludeB {
			excluded = append(excluded, parseBig("exclude-b", s))
		}
		opts = append(opts, invalidcurve.WithExcludedB(excluded...))
	}

	gen, err := invalidcurve.NewGenerator(p, a, opts...)
	if err != nil {
		fatalf("%v", err)
	}

	var src invalidcurve.Source
	switch {
	case cfg.Count > 0:
		src.Count = cfg.Count
	case len(cfg.BValues) > 0:
		for _, s := range cfg.BValues {
			src.Values = append(src.Values, parseBig("b-value", s))
		}
	case cfg.BFrom != "" && cfg.BTo != "":
		src.Range = &invalidcurve.BRange{
			From: parseBig("b-from", cfg.BFrom),
			To:   parseBig("b-to", cfg.BTo),
		}
	default:
		fatalf("one of --count, --b-value or --b-from/--b-to is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("generating invalid curves over GF(%v) with a=%v", p, a)
	start := time.Now()
	file, err := gen.Generate(ctx, src)
	if err != nil {
		if file != nil && len(file.Curves) > 0 {
			// Partial output is still worth keeping.
			log.Warnf("generation incomplete: %v", err)
		} else {
			fatalf("generation failed: %v", err)
		}
	}
	log.Infof("accepted %d curves in %v", len(file.Curves), time.Since(start).Round(time.Millisecond))

	if err := invalidcurve.WriteCurveFile(cfg.Output, file); err != nil {
		fatalf("%v", err)
	}
	log.Infof("wrote %s", cfg.Output)

	if cfg.DumpCurves {
		log.Debugf("accepted records:\n%s", spew.Sdump(file.Curves))
	}
}
