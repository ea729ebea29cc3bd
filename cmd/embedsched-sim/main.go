// Command embedsched-sim drives an in-memory embedsched.Engine through a
// scripted demo: program a handful of embedding-table pages across the
// die array, submit a lookup config referencing them, drain the
// scheduler, then read the result back and print how many result sectors
// were sent, the host DMA transfers and the engine's metrics.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/oss-ssd/embedsched"
	"github.com/oss-ssd/embedsched/backend/simnand"
	"github.com/oss-ssd/embedsched/internal/logging"
	"github.com/oss-ssd/embedsched/internal/lrubuf"
	"github.com/oss-ssd/embedsched/internal/pagemap"
	"github.com/oss-ssd/embedsched/internal/translate"
)

func main() {
	var (
		verbose         = flag.Bool("v", false, "verbose logging")
		embeddingLength = flag.Int("embedding-length", 8, "attributes per embedding vector")
		lookupCount     = flag.Int("lookups", 4, "number of embedding rows to gather and sum")
		maxTicks        = flag.Int("max-ticks", 10000, "tick budget for each drain")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	geom := embedsched.DefaultGeometry()
	controller := simnand.New(geom.Channels, geom.WaysPerChannel, geom.PageSize, geom.SectorSize, 2)
	dma := simnand.NewDMA()
	pm := pagemap.NewSimple(geom.Dies())
	lru := lrubuf.NewSimple(16, geom.PageSize)

	engine := embedsched.NewEngine(geom, controller, dma, pm, lru, &embedsched.Options{Logger: logger})

	const tableID = uint32(0)
	attributeSize := 4
	vecBytes := attributeSize * *embeddingLength

	// Program one page on die 0 holding lookupCount embedding vectors
	// back to back, then map that logical page so the translation engine
	// resolves it through flash instead of treating it as unmapped.
	page := make([]byte, geom.PageSize)
	for row := 0; row < *lookupCount; row++ {
		for a := 0; a < *embeddingLength; a++ {
			v := float32(row+1) + float32(a)*0.1
			off := row*vecBytes + a*attributeSize
			binary.LittleEndian.PutUint32(page[off:], math.Float32bits(v))
		}
	}

	const ch, way, lpn = 0, 0, 0
	row := geom.RowAddressFromLPA(lpn)
	if err := engine.HandleHostWrite(ch, way, row, page, make([]byte, geom.SectorSize)); err != nil {
		log.Fatalf("programming embedding page: %v", err)
	}
	if err := engine.Flush(*maxTicks); err != nil {
		log.Fatalf("draining program: %v", err)
	}
	pm.Set(0, lpn, row)

	pairs := make([]translate.IDPair, *lookupCount)
	for i := range pairs {
		pairs[i] = translate.IDPair{Result: 0, EmbeddingID: uint32(i)}
	}

	idx, err := engine.HandleTranslationConfigWrite(0, 1, translate.Config{
		AttributeSize:    attributeSize,
		EmbeddingLength:  *embeddingLength,
		ResultEmbeddings: 1,
		InputEmbeddings:  *lookupCount,
		TableID:          tableID,
		IDPairs:          pairs,
	})
	if err != nil {
		log.Fatalf("submitting lookup config: %v", err)
	}

	engine.HandleTranslationRead(idx)
	if err := engine.Flush(*maxTicks); err != nil {
		log.Fatalf("draining lookup: %v", err)
	}

	resultSectors := uint32(vecBytes+geom.SectorSize-1) / uint32(geom.SectorSize)
	sent := engine.HandleTranslationResultRead(idx, 0, 0, resultSectors, 0, 0)

	fmt.Printf("sent %d result sector(s) back to host\n", sent)
	for _, t := range dma.Transfers() {
		fmt.Printf("  dma transfer dir=%d tag=%d sectors=%d entry=%d devAddr=%d\n",
			t.Dir, t.Tag, t.SectorCount, t.BufferEntry, t.DevAddr)
	}

	snap := engine.Metrics().Snapshot()
	fmt.Printf("metrics: triggers=%d transfers=%d programs=%d cacheHits=%d cacheMisses=%d pagesTranslated=%d\n",
		snap.ReadTriggers, snap.ReadTransfers, snap.Programs, snap.CacheHits, snap.CacheMisses, snap.PagesTranslated)

	os.Exit(0)
}
