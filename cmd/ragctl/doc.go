package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/internal/app"
	"github.com/OFFIS-RIT/kiwi/rag/internal/service"
	"github.com/OFFIS-RIT/kiwi/rag/internal/storage"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"

	"github.com/spf13/cobra"
)

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Manage documents of an index",
}

var docAddCmd = &cobra.Command{
	Use:   "add [index]",
	Short: "Add a document from inline content, a local file or an object key",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocAdd,
}

var docGetCmd = &cobra.Command{
	Use:   "get [index] [doc-id]",
	Short: "Show a document",
	Args:  cobra.ExactArgs(2),
	RunE:  runDocGet,
}

var docListCmd = &cobra.Command{
	Use:   "list [index]",
	Short: "List documents, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocList,
}

var docDeleteCmd = &cobra.Command{
	Use:   "delete [index] [doc-id]",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(2),
	RunE:  runDocDelete,
}

var (
	docID        string
	docContent   string
	docFile      string
	docS3Key     string
	docBuildKG   bool
	docSchemaKey string
	docResolve   bool
	docMeta      map[string]string
	docLimit     int
)

func init() {
	docAddCmd.Flags().StringVar(&docID, "id", "", "Document id (generated when empty)")
	docAddCmd.Flags().StringVar(&docContent, "content", "", "Inline document text")
	docAddCmd.Flags().StringVarP(&docFile, "file", "f", "", "Read the document from a local file")
	docAddCmd.Flags().StringVar(&docS3Key, "s3-key", "", "Read the document from the configured bucket")
	docAddCmd.Flags().BoolVar(&docBuildKG, "build-kg", false, "Extract entities and relationships into the graph")
	docAddCmd.Flags().StringVar(&docSchemaKey, "schema", "", "Schema key used for extraction")
	docAddCmd.Flags().BoolVar(&docResolve, "resolve", true, "Run exact entity resolution after extraction")
	docAddCmd.Flags().StringToStringVar(&docMeta, "meta", nil, "Metadata as key=value pairs")
	docAddCmd.MarkFlagsMutuallyExclusive("content", "file", "s3-key")
	docListCmd.Flags().IntVar(&docLimit, "limit", 0, "Maximum number of documents")

	docCmd.AddCommand(docAddCmd)
	docCmd.AddCommand(docGetCmd)
	docCmd.AddCommand(docListCmd)
	docCmd.AddCommand(docDeleteCmd)
	rootCmd.AddCommand(docCmd)
}

// docView is a document without its embedding.
type docView struct {
	DocID     string         `json:"doc_id"`
	IndexName string         `json:"index_name"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toDocView(d common.Document) docView {
	return docView{
		DocID:     d.DocID,
		IndexName: d.IndexName,
		Content:   d.Content,
		Metadata:  d.Metadata,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func readDocument(ctx context.Context, a *app.App) (string, map[string]any, error) {
	meta := map[string]any{}
	switch {
	case docContent != "":
		return docContent, meta, nil
	case docFile != "":
		body, err := os.ReadFile(docFile)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read %s: %w", docFile, err)
		}
		text, err := storage.ExtractText(storage.Object{Key: filepath.Base(docFile), Body: body})
		if err != nil {
			return "", nil, err
		}
		meta["source_file"] = filepath.Base(docFile)
		return text, meta, nil
	case docS3Key != "":
		if a.Bucket == nil {
			return "", nil, errors.New("object storage is not configured, set AWS_BUCKET")
		}
		obj, err := a.Bucket.GetFile(ctx, docS3Key)
		if err != nil {
			return "", nil, err
		}
		text, err := storage.ExtractText(obj)
		if err != nil {
			return "", nil, err
		}
		meta["s3_key"] = docS3Key
		return text, meta, nil
	}
	return "", nil, errors.New("one of --content, --file or --s3-key is required")
}

func runDocAdd(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		text, meta, err := readDocument(ctx, a)
		if err != nil {
			return err
		}
		for k, v := range docMeta {
			meta[k] = v
		}
		meta[service.MetaBuildKG] = docBuildKG
		meta[service.MetaResolve] = docResolve
		if docSchemaKey != "" {
			meta[service.MetaSchemaKey] = docSchemaKey
		}

		doc, err := a.Services.Documents.Create(ctx, args[0], service.DocumentInput{
			DocID:    docID,
			Content:  text,
			Metadata: meta,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, toDocView(doc))
	})
}

func runDocGet(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		doc, err := a.Services.Documents.Get(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, toDocView(doc))
	})
}

func runDocList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		docs, err := a.Services.Documents.List(ctx, args[0], docLimit)
		if err != nil {
			return err
		}
		out := make([]docView, 0, len(docs))
		for _, d := range docs {
			out = append(out, toDocView(d))
		}
		return printJSON(cmd, out)
	})
}

func runDocDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Services.Documents.Delete(ctx, args[0], args[1]); err != nil {
			return err
		}
		cmd.Printf("Deleted document %s from %s\n", args[1], args[0])
		return nil
	})
}
