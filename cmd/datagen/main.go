// Datagen generates synthetic datasets for exercising mini-spark locally:
// a catalog/sales pair keyed by product id (for join_by_key) and a text
// corpus (for the tokenize/count pipeline). Emits one file per partition so
// the output globs directly into storage.AssignPartitions.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"
)

var (
	outDir     = flag.String("out", "data", "output directory")
	numSales   = flag.Int("sales", 1000000, "number of sales records")
	numCatalog = flag.Int("products", 1000, "number of catalog products")
	linesText  = flag.Int("lines", 500000, "number of text lines")
	partitions = flag.Int("partitions", 4, "number of partition files per dataset")
)

func main() {
	flag.Parse()
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	rand.Seed(time.Now().UnixNano())

	fmt.Println("generating mini-spark sample datasets")
	generateCatalog()
	generateSales()
	generateText()
	fmt.Printf("done: %s/catalog.csv, %s/sales_*.csv, %s/text_*.csv\n", *outDir, *outDir, *outDir)
}

// generateCatalog writes a single catalog.csv of product_id,product_name
// rows; the join's right-hand side is small enough to stay unpartitioned.
func generateCatalog() {
	f, err := os.Create(fmt.Sprintf("%s/catalog.csv", *outDir))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	for i := 1; i <= *numCatalog; i++ {
		name := fmt.Sprintf("product_%d_category_%c", i, rune('A'+rand.Intn(26)))
		fmt.Fprintf(w, "%d,%s\n", i, name)
	}
}

// generateSales writes numSales rows of product_id,date|amount split
// round-robin across *partitions files (sales_0.csv ... sales_{P-1}.csv).
func generateSales() {
	writers, closers := openPartitions("sales", *partitions)
	defer closeAll(closers)

	for i := 0; i < *numSales; i++ {
		prodID := rand.Intn(*numCatalog) + 1
		amount := rand.Float64() * 100.0
		date := time.Now().AddDate(0, 0, -rand.Intn(365)).Format("2006-01-02")
		fmt.Fprintf(writers[i%len(writers)], "%d,%s|$%.2f\n", prodID, date, amount)
	}
	for _, w := range writers {
		w.Flush()
	}
}

// generateText writes linesText lines of space-separated vocabulary words
// split round-robin across *partitions files (text_0.csv ... text_{P-1}.csv).
func generateText() {
	words := []string{
		"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing",
		"elit", "data", "spark", "go", "distributed", "system", "batch",
		"processing", "node", "network", "failure", "recovery",
	}

	writers, closers := openPartitions("text", *partitions)
	defer closeAll(closers)

	for i := 0; i < *linesText; i++ {
		numWords := rand.Intn(10) + 5
		line := make([]string, numWords)
		for j := range line {
			line[j] = words[rand.Intn(len(words))]
		}
		fmt.Fprintln(writers[i%len(writers)], strings.Join(line, " "))
	}
	for _, w := range writers {
		w.Flush()
	}
}

func openPartitions(prefix string, p int) ([]*bufio.Writer, []*os.File) {
	if p < 1 {
		p = 1
	}
	writers := make([]*bufio.Writer, p)
	files := make([]*os.File, p)
	for i := 0; i < p; i++ {
		f, err := os.Create(fmt.Sprintf("%s/%s_%d.csv", *outDir, prefix, i))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		files[i] = f
		writers[i] = bufio.NewWriter(f)
	}
	return writers, files
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}
