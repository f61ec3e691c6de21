// pwm-generate 维护田块拓扑存储并产出控制配置单元。
// 重复执行是安全的：既有设备绑定按格田名沿用，除非 -overwrite/-prune。
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/generator"
	"github.com/PKmac78/paddisense-release/internal/topology"
)

func main() {
	var (
		name      = flag.String("name", "", "paddock display name (required)")
		prefix    = flag.String("prefix", "B-", "bay name prefix")
		count     = flag.Int("count", 0, "number of bays (required)")
		start     = flag.Int("start", 1, "first bay index")
		pad       = flag.Int("pad", 2, "zero padding width for bay indexes")
		overwrite = flag.Bool("overwrite", false, "rebuild the paddock entry, resetting all device bindings to unset")
		prune     = flag.Bool("prune", false, "implies -overwrite and removes out-of-range bay unit files")
		storePath = flag.String("store", generator.DefaultStorePath, "topology store path")
		outDir    = flag.String("out", generator.DefaultOutDir, "output directory for generated units")
	)
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	store := topology.NewStore(*storePath, logger)
	engine := generator.NewEngine(store, *outDir, generator.DefaultBaySettings, logger)

	result, err := engine.Generate(generator.Params{
		Name:      *name,
		Prefix:    *prefix,
		Count:     *count,
		Start:     *start,
		Pad:       *pad,
		Overwrite: *overwrite,
		Prune:     *prune,
	})
	if err != nil {
		log.Fatalf("generate: %v", err)
	}

	action := "merged"
	if result.Rebuilt {
		action = "rebuilt"
	}
	fmt.Printf("OK: paddock %q (%s) %s in %s\n", result.Slug, result.DisplayName, action, *storePath)
	fmt.Printf("OK: %d bays (%s .. %s), drain %q\n",
		len(result.BayNames), result.BayNames[0], result.BayNames[len(result.BayNames)-1], result.DrainName)
	if result.Preserved > 0 {
		fmt.Printf("OK: preserved %d device bindings\n", result.Preserved)
	}
	if len(result.PrunedUnits) > 0 {
		fmt.Printf("OK: pruned %d unit files (%s)\n", len(result.PrunedUnits), strings.Join(result.PrunedUnits, ", "))
	}
	fmt.Printf("OK: units written to %s\n", *outDir)
}
