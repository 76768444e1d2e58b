// Ingest tool for loading policy documents into a running Kestrel
// instance.
//
// Usage:
//   go run cmd/ingest/main.go -dir ./policies -url http://localhost:8080
//
// This tool:
//  1. Walks a directory of .md / .txt policy documents
//  2. Derives the document ID, title and category from each file
//  3. POSTs each document to the Kestrel /documents endpoint
//  4. Reports ingestion counts and failures
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// IngestRequest is the Kestrel /documents request format.
type IngestRequest struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Version  string `json:"version,omitempty"`
	Content  string `json:"content"`
}

// IngestResponse is the Kestrel /documents response format.
type IngestResponse struct {
	DocumentID  string   `json:"documentId"`
	ChunkCount  int      `json:"chunkCount"`
	Collections []string `json:"collections"`
}

func main() {
	dir := flag.String("dir", "", "Directory containing policy documents (.md, .txt)")
	url := flag.String("url", "http://localhost:8080", "Kestrel server URL")
	category := flag.String("category", "", "Category for all documents (default: derived from filename)")
	version := flag.String("version", "1.0", "Document version tag")
	concurrency := flag.Int("concurrency", 4, "Concurrent uploads")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "error: -dir is required")
		flag.Usage()
		os.Exit(1)
	}

	var paths []string
	err := filepath.WalkDir(*dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to walk %s: %v\n", *dir, err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "error: no .md or .txt files under %s\n", *dir)
		os.Exit(1)
	}

	fmt.Printf("Ingesting %d documents into %s\n\n", len(paths), *url)
	start := time.Now()

	client := &http.Client{Timeout: 60 * time.Second}
	var ingested, failed, chunks int64

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup
	for _, path := range paths {
		wg.Add(1)
		sem <- struct{}{}
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()

			resp, err := ingestFile(client, *url, path, *category, *version)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				fmt.Fprintf(os.Stderr, "  FAIL %s: %v\n", path, err)
				return
			}
			atomic.AddInt64(&ingested, 1)
			atomic.AddInt64(&chunks, int64(resp.ChunkCount))
			fmt.Printf("  ok   %-40s %3d chunks -> %s\n",
				resp.DocumentID, resp.ChunkCount, strings.Join(resp.Collections, ", "))
		}(path)
	}
	wg.Wait()

	fmt.Printf("\nDone in %s: %d ingested (%d chunks), %d failed\n",
		time.Since(start).Round(time.Millisecond), ingested, chunks, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func ingestFile(client *http.Client, baseURL, path, category, version string) (*IngestResponse, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	req := IngestRequest{
		ID:       docID(name),
		Title:    docTitle(string(content), name),
		Category: category,
		Version:  version,
		Content:  string(content),
	}
	if req.Category == "" {
		req.Category = deriveCategory(name)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpResp, err := client.Post(baseURL+"/documents", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(httpResp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("server returned %d: %s", httpResp.StatusCode, apiErr.Error)
	}

	var resp IngestResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// docID normalizes a filename into a stable document identifier.
func docID(name string) string {
	id := strings.ToLower(name)
	id = strings.ReplaceAll(id, " ", "_")
	return id
}

// docTitle takes the first markdown heading, falling back to the
// filename.
func docTitle(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "# "))
		}
		if line != "" {
			break
		}
	}
	return fallback
}

// deriveCategory guesses a category from filename conventions used in
// the policy corpus.
func deriveCategory(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "faq"):
		return "faq"
	case strings.Contains(lower, "fraud"):
		return "fraud_policy"
	case strings.Contains(lower, "complaint"), strings.Contains(lower, "dispute"):
		return "complaint_policy"
	case strings.Contains(lower, "product"), strings.Contains(lower, "loan"), strings.Contains(lower, "eligib"):
		return "product_policy"
	default:
		return "policy"
	}
}
