package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"evidence-rag/internal/config"
	"evidence-rag/internal/embedding"
	"evidence-rag/internal/helper"
	"evidence-rag/internal/indexer"
	"evidence-rag/internal/llmservice"
	"evidence-rag/internal/models"
	"evidence-rag/internal/parser"
	"evidence-rag/internal/rag"
	"evidence-rag/internal/rag/expansion"
	"evidence-rag/internal/snapshot"
	"evidence-rag/internal/store"
)

const configFilePath = "./configs/config.yaml"

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	index := flag.Bool("index", false, "Build and publish a snapshot of the corpus")
	corpus := flag.String("corpus", "", "Corpus root (overrides store.corpus_root)")
	query := flag.String("query", "", "Two-pass evidence retrieval for a query")
	k1 := flag.Int("k1", 0, "Precision pass size (overrides rag.k1)")
	k2 := flag.Int("k2", 0, "Recall pass size (overrides rag.k2)")
	search := flag.String("search", "", "Single-pass evidence retrieval for a query")
	k := flag.Int("k", 0, "Single-pass size (overrides rag.search_k)")
	source := flag.String("source", "", "Source path for exact lookup")
	locatorFlag := flag.String("locator", "", "Page number or sheet name for exact lookup")
	sheet := flag.String("sheet", "", "Sheet name for exact lookup, for sheets named like numbers")
	ask := flag.String("ask", "", "Answer a question from retrieved evidence")
	stats := flag.Bool("stats", false, "Print metadata of the published snapshot")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	setupLogger(&cfg.Log)
	log.Debug().Str("path", *configPath).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *corpus != "" {
		cfg.Store.CorpusRoot = *corpus
	}
	if *k1 > 0 {
		cfg.RAG.K1 = *k1
	}
	if *k2 > 0 {
		cfg.RAG.K2 = *k2
	}
	if *k > 0 {
		cfg.RAG.SearchK = *k
	}

	switch {
	case *index:
		buildIndex(ctx, cfg)
	case *query != "":
		r := newRAG(ctx, cfg)
		out, err := r.Retrieve(ctx, *query, cfg.RAG.K1, cfg.RAG.K2)
		if err != nil {
			log.Fatal().Err(err).Msg("Error retrieving evidence")
		}
		printEvidence(*query, out)
	case *search != "":
		r := newRAG(ctx, cfg)
		out, err := r.Search(ctx, *search, cfg.RAG.SearchK)
		if err != nil {
			log.Fatal().Err(err).Msg("Error searching")
		}
		printEvidence(*search, out)
	case *source != "":
		locator := models.ParseLocator(*locatorFlag)
		if *sheet != "" {
			locator = models.Sheet(*sheet)
		}
		r := newRAG(ctx, cfg)
		out, err := r.GetExact(ctx, *source, locator)
		if err != nil {
			log.Fatal().Err(err).Msg("Error looking up location")
		}
		printEvidence(fmt.Sprintf("%s p.%s", *source, locator), out)
	case *ask != "":
		askQuestion(ctx, cfg, *ask)
	case *stats:
		printStats(ctx, cfg)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func setupLogger(cfg *config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

func buildIndex(ctx context.Context, cfg *config.Config) {
	embedder, err := embedding.New(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	builder, err := indexer.NewBuilder(parser.NewParser(cfg.RAG.MaxTableRows), embedder, &cfg.RAG)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing builder")
	}

	start := time.Now()
	snap, err := builder.BuildCorpus(ctx, cfg.Store.CorpusRoot)
	if err != nil {
		log.Fatal().Err(err).Str("corpus", cfg.Store.CorpusRoot).Msg("Error building index")
	}

	if cfg.Store.Backend == config.BackendFile {
		if err := helper.CreateFolder(cfg.Store.Dir); err != nil {
			log.Fatal().Err(err).Msg("Error creating store folder")
		}
		snap.Metadata.StoreDir = cfg.Store.Dir
	}

	backend, err := snapshot.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening snapshot backend")
	}
	defer backend.Close()

	if err := backend.Publish(ctx, snap); err != nil {
		log.Fatal().Err(err).Msg("Error publishing snapshot")
	}
	log.Info().
		Str("version", snap.Metadata.SnapshotVersion).
		Int("chunks", snap.Metadata.NumChunks).
		Dur("took", time.Since(start)).
		Msg("Published snapshot")
}

func loadStore(ctx context.Context, cfg *config.Config) *store.Store {
	embedder, err := embedding.New(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	backend, err := snapshot.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening snapshot backend")
	}
	defer backend.Close()

	s, err := store.Load(ctx, backend, embedder, cfg.RAG.StrictModel)
	if err != nil {
		if errors.Is(err, models.ErrSnapshotNotFound) {
			log.Fatal().Err(err).Msg("No snapshot published yet, run with -index first")
		}
		log.Fatal().Err(err).Msg("Error loading snapshot")
	}
	return s
}

func newRAG(ctx context.Context, cfg *config.Config) *rag.RAG {
	expander, err := expansion.New(cfg.RAG.Expansion)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing expansion")
	}
	return rag.NewRAG(loadStore(ctx, cfg), expander, &cfg.RAG, llmservice.Client{Config: &cfg.InferenceLLM})
}

func askQuestion(ctx context.Context, cfg *config.Config, question string) {
	answer, err := newRAG(ctx, cfg).Ask(ctx, question)
	if err != nil {
		log.Fatal().Err(err).Msg("Error answering")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", question)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", strings.Join(answer.Sources, "\n"))

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer.Text)
}

func printEvidence(label, out string) {
	log.Info().Str("for", label).Msg("Evidence: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Println(out)
}

func printStats(ctx context.Context, cfg *config.Config) {
	backend, err := snapshot.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening snapshot backend")
	}
	defer backend.Close()

	snap, err := backend.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading snapshot")
	}
	helper.PrettyPrint(snap.Metadata)
}
