// Command marsdemo exercises the embedded database's direct (bypass) API
// end to end: create a table, insert vectors with metadata, run a
// similarity search, persist to disk, and reload.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/mars/mars/pkg/config"
	"github.com/mars/mars/pkg/database"
	"github.com/mars/mars/pkg/graph"
	"github.com/mars/mars/pkg/logging"
	"github.com/mars/mars/pkg/schema"
)

func main() {
	logger, err := logging.New(logging.Config{Level: "info", Format: "text", Output: "stdout"})
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer logger.Close()

	dbPath := "marsdemo.mars"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	defer os.Remove(dbPath)

	cfg := config.DefaultConfig()
	cfg.Database.VectorDim = 8
	cfg.Graph.MaxNeighbors = 16

	graphConfig := graph.DefaultConfig(cfg.Database.VectorDim)
	graphConfig.MaxNeighbors = cfg.Graph.MaxNeighbors
	graphConfig.AlphaStrict = cfg.Graph.AlphaStrict
	graphConfig.AlphaRelaxed = cfg.Graph.AlphaRelaxed

	db, err := database.Open(graphConfig, dbPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	logger.Info("opened database", "path", dbPath)

	err = db.CreateTable("documents", []database.ColumnDef{
		{Name: "title", Type: schema.TypeText, NotNull: true},
		{Name: "embedding", Type: schema.TypeVector, Dimension: cfg.Database.VectorDim},
	})
	if err != nil {
		log.Fatalf("creating table: %v", err)
	}

	titles := []string{
		"central bank monetary policy",
		"quarterly earnings report",
		"renewable energy outlook",
		"interest rate decision",
		"archipelago geography overview",
	}

	for i, title := range titles {
		vec := mockEmbedding(title, cfg.Database.VectorDim)
		id, err := db.InsertDirect("documents", vec, map[string]schema.Value{
			"title": schema.Text(title),
		})
		if err != nil {
			log.Fatalf("inserting row %d: %v", i, err)
		}
		logger.Debug("inserted row", "id", id, "title", title)
	}

	query := mockEmbedding("central bank interest rate policy", cfg.Database.VectorDim)
	results, err := db.SearchSimilar("documents", query, 3, graphConfig.SearchBuffer)
	if err != nil {
		log.Fatalf("searching: %v", err)
	}

	fmt.Println("Top matches for \"central bank interest rate policy\":")
	for i, r := range results {
		title, _ := r.Row.Values[0].AsText()
		fmt.Printf("  %d. %s (distance=%.4f)\n", i+1, title, r.Distance)
	}

	if err := db.Save(); err != nil {
		log.Fatalf("saving: %v", err)
	}
	logger.Info("saved database", "path", dbPath)

	reloaded, err := database.Open(graphConfig, dbPath)
	if err != nil {
		log.Fatalf("reopening database: %v", err)
	}

	tbl, err := reloaded.GetTable("documents")
	if err != nil {
		log.Fatalf("getting table after reload: %v", err)
	}
	fmt.Printf("Reloaded database has %d row(s) in table \"documents\"\n", tbl.Len())
}

// mockEmbedding produces a deterministic pseudo-embedding from text, standing
// in for a real embedding model call.
func mockEmbedding(text string, dim int) []float32 {
	embedding := make([]float32, dim)

	hash := int64(0)
	for _, c := range text {
		hash = hash*31 + int64(c)
	}

	for i := range embedding {
		hash = hash*1103515245 + 12345
		embedding[i] = float32(hash%1000) / 1000.0
	}

	return embedding
}
