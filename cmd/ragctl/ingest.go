package main

import (
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kiwi/rag/internal/queue"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [index]",
	Short: "Queue a document for the worker",
	Long:  `Publish an ingest job to RabbitMQ. The worker stores the document and builds its graph.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var (
	ingestDocID   string
	ingestContent string
	ingestS3Key   string
	ingestSchema  string
)

func init() {
	ingestCmd.Flags().StringVar(&ingestDocID, "id", "", "Document id (generated when empty)")
	ingestCmd.Flags().StringVar(&ingestContent, "content", "", "Inline document text")
	ingestCmd.Flags().StringVar(&ingestS3Key, "s3-key", "", "Object key in the configured bucket")
	ingestCmd.Flags().StringVar(&ingestSchema, "schema", "", "Schema key used for extraction")
	ingestCmd.MarkFlagsMutuallyExclusive("content", "s3-key")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestContent == "" && ingestS3Key == "" {
		return errors.New("one of --content or --s3-key is required")
	}
	conn, err := queue.Init(queue.URLFromEnv())
	if err != nil {
		return err
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		return err
	}

	err = queue.EnqueueIngest(cmd.Context(), queue.ChannelPublisher{Ch: ch}, queue.IngestJob{
		IndexName: args[0],
		DocID:     ingestDocID,
		Content:   ingestContent,
		S3Key:     ingestS3Key,
		SchemaKey: ingestSchema,
	})
	if err != nil {
		return err
	}
	cmd.Printf("Queued document for %s\n", args[0])
	return nil
}
