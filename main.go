// Copyright 2025 Certen Protocol
//
// Command certen-validator boots the verifiable-database-proxy core: it
// loads the JSON configuration (spec section 6), initializes the
// state-capture manager from a genesis block, wires the verification
// orchestrator to the challenge ledger, and demonstrates the
// WAL-ingestion-to-block-close path the wire protocol front end (out of
// scope here) would otherwise drive. The front end, SQL parser, and
// on-chain contract plumbing are external collaborators this binary stubs
// out only far enough to exercise the core end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/challenge"
	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/certen/independant-validator/pkg/model"
	"github.com/certen/independant-validator/pkg/orchestrator"
	"github.com/certen/independant-validator/pkg/replay"
	"github.com/certen/independant-validator/pkg/schema"
	"github.com/certen/independant-validator/pkg/statecapture"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to the JSON configuration document (spec section 6); defaults are used when empty")
		replayDSN  = flag.String("replay-dsn", "", "connection string of the backend hosting the replay isolation schema; replay is disabled when empty")
		showHelp   = flag.Bool("help", false, "show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	logger := log.New(os.Stdout, "[Core] ", log.LstdFlags|log.Lmicroseconds)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load configuration from %s: %v", *configPath, err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	algo := cryptohash.Algorithm(cfg.Merkle.HashAlgorithm)

	usersSchema := &model.TableSchema{
		Name: "users",
		Columns: []model.ColumnDef{
			{Name: "id", Type: model.ColumnType{Kind: model.ColumnInteger}, PrimaryKey: true},
			{Name: "name", Type: model.ColumnType{Kind: model.ColumnVarChar, Length: 100}},
		},
		PrimaryKey: []string{"id"},
	}
	usersSchema.Hash = usersSchema.ComputeHash(algo)
	if err := schema.ValidateTableSchema(usersSchema); err != nil {
		log.Fatalf("genesis schema invalid: %v", err)
	}

	schemas := schema.Map{"users": usersSchema}
	if err := schema.ValidateIntegrity(schemas); err != nil {
		log.Fatalf("genesis schema integrity check failed: %v", err)
	}

	genesisUsers := model.NewTableState(algo, usersSchema)
	genesisRoots := map[string]cryptohash.Hash{"users": genesisUsers.Root()}
	genesis := model.NewGenesisBlock(algo, genesisRoots, model.BlockMetadata{
		BackendVersion:  cfg.Database.BackendVersion,
		ProtocolVersion: "1",
		OperatorID:      "demo-operator",
	}, time.Now().UTC())

	manager := statecapture.NewManager(schemas,
		statecapture.WithAlgorithm(algo),
		statecapture.WithLogger(log.New(os.Stdout, "[StateCapture] ", log.LstdFlags)),
	)
	if err := manager.Initialize(genesis, map[string]*model.TableState{"users": genesisUsers}); err != nil {
		log.Fatalf("failed to initialize state-capture manager: %v", err)
	}
	logger.Printf("initialized genesis block %d, state root %s", genesis.Header.Number, genesis.Header.StateRoot)

	challenges := challenge.NewLedger(algo)

	orchCfg := orchestrator.Config{
		VerificationEnabled: true,
		VerifyDDL:           cfg.Verification.VerifyStateTransitions,
		VerifyAll:           cfg.Verification.VerifyAll,
		CommitEvery:         100,
		ExecutionTimeout:    cfg.Verification.Timeout,
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(log.New(os.Stdout, "[Orchestrator] ", log.LstdFlags)),
		orchestrator.WithChallengeLedger(challenges),
	}

	if *replayDSN != "" {
		pool, err := replay.NewPool(*replayDSN, replay.Config{
			PoolSize:          cfg.Database.PoolSize,
			ConnectionTimeout: cfg.Database.ConnectionTimeout,
			StatementTimeout:  cfg.Database.StatementTimeout,
			IsolationSchema:   "certen_replay",
		}, log.New(os.Stdout, "[Replay] ", log.LstdFlags))
		if err != nil {
			log.Fatalf("failed to open replay backend: %v", err)
		}
		defer pool.Close()

		limiter := replay.NewLimiter(replay.Limits{
			MemoryLimitBytes: uint64(cfg.Verification.ResourceLimitMB) << 20,
			WallTimeLimit:    cfg.Verification.Timeout,
			MaxConcurrent:    cfg.Verification.MaxConcurrent,
		})
		env := replay.NewEnvironment(pool, algo, log.New(os.Stdout, "[Replay] ", log.LstdFlags), replay.WithLimiter(limiter))
		orchOpts = append(orchOpts, orchestrator.WithReplayEnvironment(env))
	}

	orch := orchestrator.NewOrchestrator(
		manager,
		algo,
		orchestrator.NewDefaultAnalyzer(schemas),
		orchCfg,
		orchOpts...,
	)

	// Demonstrate one WAL-driven commit: a single INSERT closing block 1.
	// A real deployment feeds manager.BeginWALTransaction/CommitWALTransaction
	// from the inbound WAL event stream (spec section 6); this binary has no
	// wire-protocol front end of its own.
	row, err := model.NewRow(usersSchema.PrimaryKey, map[string]model.Value{
		"id":   model.NewInteger(1),
		"name": model.NewText("Alice"),
	})
	if err != nil {
		log.Fatalf("failed to build demo row: %v", err)
	}

	manager.BeginWALTransaction(nil)
	if err := manager.ApplyInsert("users", row); err != nil {
		log.Fatalf("apply insert failed: %v", err)
	}
	block, err := manager.CommitWALTransaction(10, nil, cfg.Database.BackendVersion, "1", "demo-operator")
	if err != nil {
		log.Fatalf("commit failed: %v", err)
	}
	logger.Printf("closed block %d, state root %s", block.Header.Number, block.Header.StateRoot)

	// Demonstrate the verification orchestrator's begin/complete lifecycle
	// against a second statement (spec section 4.5). A failed replay would
	// be handed to the challenge ledger via challenges.Submit; this demo
	// transaction records whatever the replay environment (none configured
	// here) or the skip path produces.
	ctx, cancel := context.WithTimeout(context.Background(), orchCfg.ExecutionTimeout)
	defer cancel()

	txID, err := orch.Begin("INSERT INTO users VALUES (2, 'Bob')", nil)
	if err != nil {
		log.Fatalf("begin failed: %v", err)
	}
	if txID == uuid.Nil {
		logger.Printf("verification skipped for demo statement (disabled or ineligible)")
		return
	}
	rec, err := orch.Complete(ctx, txID, orchestrator.CompleteRequest{
		RowsAffected:    1,
		ClaimedPostRoot: manager.StateRoot(),
	})
	if err != nil {
		log.Fatalf("complete failed: %v", err)
	}
	logger.Printf("transaction %s status=%s", rec.ID, rec.Status)
}

func printHelp() {
	fmt.Println(`certen-validator — verifiable database proxy core

Usage:
  certen-validator [-config path/to/config.json] [-replay-dsn postgres://...]

This binary demonstrates wiring of the core commitment engine (state
capture, deterministic replay, the verification orchestrator, and the
challenge ledger). The wire-protocol front end, SQL parser, and on-chain
contract plumbing are external collaborators outside this module's scope
(see spec.md section 1) and are not implemented here.`)
}
