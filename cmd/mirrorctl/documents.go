package main

import (
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"os"

	"github.com/spf13/cobra"
)

var (
	ingestID             string
	ingestTitle          string
	ingestCollectionType string
	ingestFieldName      string
	ingestNoChunk        bool
	searchK              int
	searchThreshold      float32
	askTopK              int
)

func init() {
	ingestCmd.Flags().StringVar(&ingestID, "id", "", "explicit record id")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title")
	ingestCmd.Flags().StringVar(&ingestCollectionType, "collection-type", "", "source collection type")
	ingestCmd.Flags().StringVar(&ingestFieldName, "field", "", "source field name")
	ingestCmd.Flags().BoolVar(&ingestNoChunk, "no-chunk", false, "store the content as a single record without chunking")

	searchCmd.Flags().IntVar(&searchK, "k", 5, "number of results")
	searchCmd.Flags().Float32Var(&searchThreshold, "threshold", 0, "maximum distance (0 disables the cutoff)")

	askCmd.Flags().IntVar(&askTopK, "top-k", 5, "number of documents to ground the answer on")
}

// ingestCmd materializes a document from a file or stdin
var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document into both stores",
	Long: `Ingest a document from a file or stdin. Long content is chunked
automatically and written to the vector store and the mirror store.

Examples:
  # Ingest a file
  mirrorctl ingest --title "Release Notes" notes.md

  # Ingest from stdin
  cat notes.md | mirrorctl ingest --title "Release Notes" -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

// deleteCmd removes a record and its chunk group
var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its chunk group",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

// searchCmd runs a semantic search
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the vector store",
	Long: `Run a semantic search against the vector store.

Examples:
  mirrorctl search "how do I rotate credentials"
  mirrorctl search --k 10 --threshold 0.4 "backup policy"`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

// askCmd asks a question grounded on stored documents
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question using stored documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

// DocumentRequest matches internal/http/types.go DocumentRequest
type DocumentRequest struct {
	ID             string `json:"id,omitempty"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	CollectionType string `json:"collectionType,omitempty"`
	FieldName      string `json:"fieldName,omitempty"`
	AutoChunk      *bool  `json:"autoChunk,omitempty"`
}

// DocumentResponse matches internal/http/types.go DocumentResponse
type DocumentResponse struct {
	Anchor         *RecordSummary  `json:"anchor"`
	Records        []RecordSummary `json:"records"`
	Chunked        bool            `json:"chunked"`
	VectorFailures int             `json:"vectorFailures"`
}

// RecordSummary is the subset of a mirror record the CLI prints.
type RecordSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	VectorRef string `json:"vectorRef,omitempty"`
}

// SearchHit matches internal/http/types.go SearchHit
type SearchHit struct {
	ID       string  `json:"id"`
	RecordID string  `json:"recordId,omitempty"`
	Title    string  `json:"title,omitempty"`
	Content  string  `json:"content"`
	Distance float32 `json:"distance"`
}

// SearchResponse matches internal/http/types.go SearchResponse
type SearchResponse struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
}

// AskResponse matches internal/http/types.go AskResponse
type AskResponse struct {
	Question string      `json:"question"`
	Answer   string      `json:"answer"`
	Sources  []SearchHit `json:"sources"`
}

// runIngest handles the ingest command
func runIngest(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	if len(content) == 0 {
		return fmt.Errorf("no content to ingest")
	}

	req := DocumentRequest{
		ID:             ingestID,
		Title:          ingestTitle,
		Content:        string(content),
		CollectionType: ingestCollectionType,
		FieldName:      ingestFieldName,
	}
	if ingestNoChunk {
		autoChunk := false
		req.AutoChunk = &autoChunk
	}

	var resp DocumentResponse
	url := fmt.Sprintf("%s/api/v1/documents", serverURL)
	if err := doJSON(http.MethodPost, url, req, http.StatusCreated, &resp); err != nil {
		return err
	}

	fmt.Printf("Ingested %d record(s)", len(resp.Records))
	if resp.Chunked {
		fmt.Printf(" (chunked)")
	}
	fmt.Println()
	for _, rec := range resp.Records {
		fmt.Printf("  %s  %s\n", rec.ID, rec.Title)
	}
	if resp.VectorFailures > 0 {
		fmt.Fprintf(os.Stderr, "[mirrorctl] %d vector write(s) failed; run `mirrorctl sync` to converge\n", resp.VectorFailures)
	}

	return nil
}

// runDelete handles the delete command
func runDelete(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/documents/%s", serverURL, neturl.PathEscape(args[0]))
	if err := doJSON(http.MethodDelete, url, nil, http.StatusNoContent, nil); err != nil {
		return err
	}

	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

// runSearch handles the search command
func runSearch(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/search?q=%s&k=%d&threshold=%g",
		serverURL, neturl.QueryEscape(args[0]), searchK, searchThreshold)

	var resp SearchResponse
	if err := doJSON(http.MethodGet, url, nil, http.StatusOK, &resp); err != nil {
		return err
	}

	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		return nil
	}

	for i, hit := range resp.Results {
		fmt.Printf("%d. %s (distance %.4f)\n", i+1, hit.Title, hit.Distance)
		fmt.Printf("   %s\n", truncate(hit.Content, 160))
	}

	return nil
}

// runAsk handles the ask command
func runAsk(cmd *cobra.Command, args []string) error {
	req := map[string]any{
		"question": args[0],
		"topK":     askTopK,
	}

	var resp AskResponse
	url := fmt.Sprintf("%s/api/v1/ask", serverURL)
	if err := doJSON(http.MethodPost, url, req, http.StatusOK, &resp); err != nil {
		return err
	}

	fmt.Println(resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range resp.Sources {
			fmt.Printf("  - %s\n", src.Title)
		}
	}

	return nil
}

// truncate shortens s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	out := ""
	for _, r := range runes {
		if len(out)+len(string(r)) > n-3 {
			break
		}
		out += string(r)
	}
	return out + "..."
}
