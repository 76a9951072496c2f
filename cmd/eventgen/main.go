// Command eventgen is a reference event generator (§6 "CLI surface"): a
// standalone tool that injects synthetic tokens into a running place over
// UDP, using the same wire envelope and fork/join id encoding the places
// themselves use. It is not part of the core transport/dispatch engine —
// the spec treats event generators as external collaborators known only
// by their wire interaction with it — but it is the natural client for
// exercising a deployed workflow end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/lyzr/tokenmesh/common/envelope"
	"github.com/lyzr/tokenmesh/common/routing"
	"github.com/lyzr/tokenmesh/common/token"
	"github.com/lyzr/tokenmesh/common/transport"
)

// exit codes per §6: 0 success, 1 validation or fatal failure.
const (
	exitOK   = 0
	exitFail = 1
)

type config struct {
	version     string
	process     string
	place       string
	operation   string
	tokens      int
	expireMS    int64
	data        map[string]string
	sequenceID  int64
	generatorID string
	skipDeploy  bool
	noExit      bool
	forkCount   int
	joinArgs    []int64
	variant     string
	routingFile string
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "eventgen: %v\n", err)
		os.Exit(exitFail)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "eventgen: %v\n", err)
		os.Exit(exitFail)
	}
	os.Exit(exitOK)
}

func parseFlags(args []string) (config, error) {
	fs := flag.NewFlagSet("eventgen", flag.ContinueOnError)

	version := fs.String("version", "", "rule base version, vNNN (required)")
	process := fs.String("process", "", "business service name (required)")
	place := fs.String("place", "", "destination place id (required)")
	operation := fs.String("operation", "", "business operation, overrides the routing table's")
	tokens := fs.Int("tokens", 1, "number of tokens to emit")
	expire := fs.Int64("expire", 60_000, "token time-to-live in ms from now")
	data := fs.String("data", "", "comma-separated k=v pairs for the token's data map")
	sequenceID := fs.Int64("sequenceid", 1, "starting sequence id (auto-increments per token)")
	generator := fs.String("generator", "eventgen", "source event generator id")
	skipDeploy := fs.Bool("skipdeploy", false, "skip publishing the loaded routing table to sibling places before sending")
	noExit := fs.Bool("noexit", false, "block after sending until interrupted, instead of exiting immediately")
	forkCount := fs.Int("forkcount", 0, "when > 0, emit this many fork-branch tokens instead of a plain root token")
	joinArgs := fs.String("joinargs", "", "comma-separated parent token ids; one fork group is emitted per id (requires -forkcount)")
	variant := fs.String("variant", "", "free-form label recorded in the token data as 'variant'")
	routingFile := fs.String("routing-file", "routing.json", "routing table document used to resolve -place to a UDP destination")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg := config{
		version:     *version,
		process:     *process,
		place:       *place,
		operation:   *operation,
		tokens:      *tokens,
		expireMS:    *expire,
		sequenceID:  *sequenceID,
		generatorID: *generator,
		skipDeploy:  *skipDeploy,
		noExit:      *noExit,
		forkCount:   *forkCount,
		variant:     *variant,
		routingFile: *routingFile,
	}

	if cfg.version == "" || cfg.process == "" || cfg.place == "" {
		return config{}, fmt.Errorf("-version, -process and -place are required")
	}
	if err := token.ValidateVersion(cfg.version); err != nil {
		return config{}, err
	}
	if cfg.tokens < 1 {
		return config{}, fmt.Errorf("-tokens must be >= 1")
	}
	if cfg.forkCount < 0 || cfg.forkCount > token.ForkBranchMax {
		return config{}, fmt.Errorf("-forkcount must be in [0,%d]", token.ForkBranchMax)
	}

	kv, err := parseData(*data)
	if err != nil {
		return config{}, err
	}
	if cfg.variant != "" {
		kv["variant"] = cfg.variant
	}
	cfg.data = kv

	if *joinArgs != "" {
		ids, err := parseJoinArgs(*joinArgs)
		if err != nil {
			return config{}, err
		}
		if cfg.forkCount == 0 {
			return config{}, fmt.Errorf("-joinargs requires -forkcount > 0")
		}
		cfg.joinArgs = ids
	}

	return cfg, nil
}

func parseData(raw string) (map[string]string, error) {
	out := make(map[string]string)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("-data entry %q is not of the form k=v", pair)
		}
		out[k] = v
	}
	return out, nil
}

func parseJoinArgs(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("-joinargs entry %q is not an integer: %w", p, err)
		}
		if !token.IsRoot(id) {
			return nil, fmt.Errorf("-joinargs entry %d is not a clean parent id (must be a multiple of 100)", id)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// run loads the routing table, optionally fans it out to sibling places,
// resolves the destination, and sends every generated envelope.
func run(cfg config) error {
	table := routing.NewTable()
	if err := routing.LoadFile(table, cfg.routingFile); err != nil {
		return fmt.Errorf("load routing table: %w", err)
	}

	if !cfg.skipDeploy {
		if err := deployRoutingTable(table, cfg.process); err != nil {
			return err
		}
	}

	route, ok := table.PlaceRoute(cfg.place)
	if !ok {
		return fmt.Errorf("place %q not found in routing table", cfg.place)
	}
	serviceName, operation := route.ServiceName, route.Operation
	if cfg.process != "" {
		serviceName = cfg.process
	}
	if cfg.operation != "" {
		operation = cfg.operation
	}

	endpoint, ok := table.Resolve(serviceName, operation)
	if !ok {
		return fmt.Errorf("no endpoint for (%s, %s) in routing table", serviceName, operation)
	}
	port, err := routing.Port(endpoint.ChannelID, endpoint.BasePort)
	if err != nil {
		return fmt.Errorf("compute destination port: %w", err)
	}

	sender, err := transport.NewSender()
	if err != nil {
		return fmt.Errorf("open send socket: %w", err)
	}
	defer sender.Close()

	// Paces bursts of -tokens N so a large run doesn't flood the target
	// place's buffer (§4.2 "bounded buffering with lossy overload
	// policy") faster than its firing loop can drain it.
	limiter := rate.NewLimiter(rate.Limit(200), 1)
	ctx := context.Background()

	plan := buildPlan(cfg)
	sent := 0
	for _, env := range plan {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		xmlStr, err := buildEnvelope(cfg, serviceName, operation, env)
		if err != nil {
			return fmt.Errorf("build envelope: %w", err)
		}
		if err := sender.Send(endpoint.Host, port, xmlStr); err != nil {
			return fmt.Errorf("send to %s:%d: %w", endpoint.Host, port, err)
		}
		sent++
	}

	fmt.Printf("eventgen: sent %d envelope(s) to place %s (%s:%d)\n", sent, cfg.place, endpoint.Host, port)

	if cfg.noExit {
		waitForSignal()
	}
	return nil
}

// deployRoutingTable publishes the loaded table as a bulk JSON-Patch
// "replace" document to serviceName's routing sync channel, so already-
// running places pick it up the same way a hot PATCH /routing would
// arrive — acting as a minimal stand-in for the out-of-scope Rule
// Deployer. Only runs when REDIS_ADDR is set; otherwise a real deployer
// or each place's own ROUTING_TABLE_FILE is assumed to have put the
// table in place already, and -skipdeploy is the explicit way to say so.
func deployRoutingTable(table *routing.Table, serviceName string) error {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	snapshot := table.Snapshot()
	patch, err := json.Marshal([]map[string]interface{}{
		{"op": "replace", "path": "", "value": snapshot},
	})
	if err != nil {
		return fmt.Errorf("marshal routing deploy patch: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := routing.Publish(ctx, client, serviceName, patch); err != nil {
		return fmt.Errorf("publish routing table to %s: %w", addr, err)
	}
	return nil
}

// envelopeSpec is one envelope's worth of per-send fields.
type envelopeSpec struct {
	tokenID      int64
	sequenceID   int64
	joinID       *int64
	attrName     string
	fork         *envelope.ForkFields
}

// buildPlan expands cfg into the concrete list of envelopes to send:
// plain root tokens by default, or fork-branch groups when -forkcount is
// set (one group per -joinargs id, or a single synthesized group keyed
// off -sequenceid when -joinargs is absent).
func buildPlan(cfg config) []envelopeSpec {
	if cfg.forkCount == 0 {
		specs := make([]envelopeSpec, 0, cfg.tokens)
		for i := 0; i < cfg.tokens; i++ {
			parentID := (cfg.sequenceID + int64(i)) * 100
			specs = append(specs, envelopeSpec{
				tokenID:    parentID,
				sequenceID: cfg.sequenceID + int64(i),
				attrName:   envelope.NormalAttrName(),
			})
		}
		return specs
	}

	parents := cfg.joinArgs
	if len(parents) == 0 {
		parents = []int64{(cfg.sequenceID) * 100}
	}

	var specs []envelopeSpec
	seq := cfg.sequenceID
	for _, parent := range parents {
		for branch := 1; branch <= cfg.forkCount; branch++ {
			childID, err := token.ChildID(parent, branch)
			if err != nil {
				// Caller already validated -forkcount <= ForkBranchMax,
				// so this can only happen for a malformed -joinargs id;
				// skip it rather than abort the whole run.
				continue
			}
			specs = append(specs, envelopeSpec{
				tokenID:    childID,
				sequenceID: seq,
				joinID:     int64Ptr(parent),
				attrName:   envelope.BranchAttrName(branch),
				fork: &envelope.ForkFields{
					ParentTokenID: parent,
					BranchNumber:  branch,
					ForkCount:     cfg.forkCount,
				},
			})
			seq++
		}
	}
	return specs
}

func buildEnvelope(cfg config, serviceName, operation string, spec envelopeSpec) (string, error) {
	now := time.Now().UnixMilli()

	t := &token.Token{
		ID:                spec.tokenID,
		Version:           cfg.version,
		NotAfter:          now + cfg.expireMS,
		CurrentPlace:      cfg.place,
		WorkflowStartTime: now,
		Data:              token.FromMap(cfg.data),
	}

	body, err := envelope.BuildTokenBody(t, spec.fork)
	if err != nil {
		return "", err
	}

	return envelope.Build(envelope.BuildOpts{
		ServiceName:             serviceName,
		Operation:               operation,
		SequenceID:              spec.sequenceID,
		RuleBaseVersion:         cfg.version,
		JoinID:                  spec.joinID,
		JoinAttrName:            spec.attrName,
		TokenJSONBody:           body,
		NotAfter:                t.NotAfter,
		ProcessStartTime:        now,
		ProcessElapsedTime:      0,
		SourceEventGeneratorID:  cfg.generatorID,
		EventGeneratorTimestamp: now,
	})
}

func int64Ptr(v int64) *int64 { return &v }

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
