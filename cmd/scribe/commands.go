package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/scribe/internal/config"
)

// --- add ---

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a document to the knowledge base",
	Long: `Add a document to the knowledge base.

Examples:
  scribe add --text "Go favors composition over inheritance" --title "Go notes"
  scribe add --url https://example.com/article
  scribe add --url https://www.youtube.com/watch?v=dQw4w9WgXcQ --type youtube
  scribe add --file ./paper.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		docType, _ := cmd.Flags().GetString("type")

		if text == "" && url == "" && file == "" {
			return fmt.Errorf("one of --text, --url, or --file is required")
		}

		client, baseURL, err := newAPIClient()
		if err != nil {
			return err
		}

		switch {
		case file != "":
			return uploadPDF(client, baseURL, file)
		case url != "":
			if docType == "" {
				docType = "url"
				if strings.Contains(url, "youtube.com") || strings.Contains(url, "youtu.be") {
					docType = "youtube"
				}
			}
			body := map[string]string{"type": docType, "url": url}
			if title != "" {
				body["title"] = title
			}
			return postJSON(client, baseURL+"/api/documents/url", body)
		default:
			body := map[string]string{"type": "text", "text": text}
			if title != "" {
				body["title"] = title
			}
			return postJSON(client, baseURL+"/api/documents/text", body)
		}
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question over the ingested documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		conversationID, _ := cmd.Flags().GetString("conversation")

		client, baseURL, err := newAPIClient()
		if err != nil {
			return err
		}

		body, err := json.Marshal(map[string]string{
			"question":        question,
			"conversation_id": conversationID,
		})
		if err != nil {
			return err
		}

		resp, err := client.Post(baseURL+"/api/chat/stream", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("is the server running? %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return apiError(resp)
		}

		return printStream(resp.Body)
	},
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List ingested documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, baseURL, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.Get(baseURL + "/api/documents/")
		if err != nil {
			return fmt.Errorf("is the server running? %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return apiError(resp)
		}

		var docs []struct {
			ID              string `json:"id"`
			Type            string `json:"type"`
			Title           string `json:"title"`
			Processed       bool   `json:"processed"`
			ProcessingError string `json:"processing_error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
			return err
		}

		for _, d := range docs {
			status := "pending"
			if d.Processed {
				status = "ready"
			} else if d.ProcessingError != "" {
				status = "failed: " + d.ProcessingError
			}
			fmt.Printf("%s  %-8s  %-10s  %s\n", d.ID, d.Type, status, d.Title)
		}
		return nil
	},
}

func init() {
	addCmd.Flags().String("text", "", "text content to add")
	addCmd.Flags().String("url", "", "web page or YouTube URL to add")
	addCmd.Flags().String("file", "", "path to a PDF file to upload")
	addCmd.Flags().String("title", "", "document title")
	addCmd.Flags().String("type", "", "document type (url or youtube; inferred if empty)")
	askCmd.Flags().String("conversation", "", "conversation id to continue")
}

func newAPIClient() (*http.Client, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	return &http.Client{Timeout: 5 * time.Minute}, baseURL, nil
}

func postJSON(client *http.Client, url string, body map[string]string) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	fmt.Printf("queued document %s\n", out["id"])
	return nil
}

func uploadPDF(client *http.Client, baseURL, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := client.Post(baseURL+"/api/documents/pdf", mw.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	fmt.Printf("queued document %s\n", out["id"])
	return nil
}

// printStream renders an SSE answer: deltas inline, then the citation
// list from the final event.
func printStream(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var event struct {
			Delta   string `json:"delta"`
			Error   string `json:"error"`
			Done    bool   `json:"done"`
			Sources []struct {
				Title string `json:"title"`
				Type  string `json:"type"`
			} `json:"sources"`
			ConversationID string `json:"conversation_id"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch {
		case event.Error != "":
			fmt.Println()
			return fmt.Errorf("%s", event.Error)
		case event.Done:
			fmt.Println()
			if len(event.Sources) > 0 {
				fmt.Println("\nSources:")
				for _, s := range event.Sources {
					fmt.Printf("  - %s (%s)\n", s.Title, s.Type)
				}
			}
			fmt.Printf("\nconversation: %s\n", event.ConversationID)
		default:
			fmt.Print(event.Delta)
		}
	}
	return scanner.Err()
}

func apiError(resp *http.Response) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error.Message)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
