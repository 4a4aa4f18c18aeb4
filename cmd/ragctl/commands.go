package main

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/chongs12/learning-rag/pkg/utils"
)

var (
	querySubject string
	queryJSON    bool
)

var resetIndexCmd = &cobra.Command{
	Use:   "reset-index",
	Short: "Drop and rebuild the similarity index; stored chunks are kept",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res := container.Vectors.ResetIndex(cmd.Context())
		if !res.Success {
			return fmt.Errorf("reset failed: %s", res.Message)
		}
		cmd.Println(res.Message)
		return nil
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess [document-id]",
	Short: "Queue a new ingestion run for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		doc, err := container.Documents.ReprocessDocument(cmd.Context(), ownerID, args[0])
		if err != nil {
			return fmt.Errorf("reprocess failed: %w", err)
		}
		cmd.Printf("document %s queued as run %d\n", doc.ID, doc.IngestionRun)
		// the inline dispatcher has already finished the run
		if current, err := container.Documents.GetDocument(cmd.Context(), ownerID, args[0]); err == nil {
			cmd.Printf("status: %s, chunks: %d\n", current.Status, current.ChunkCount)
		}
		return nil
	},
}

var deleteDocumentCmd = &cobra.Command{
	Use:   "delete-document [document-id]",
	Short: "Delete a document, its file and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		if err := container.Documents.DeleteDocument(cmd.Context(), ownerID, args[0]); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		cmd.Printf("document %s deleted\n", args[0])
		return nil
	},
}

var deleteSubjectCmd = &cobra.Command{
	Use:   "delete-subject [subject-id]",
	Short: "Delete a subject with all of its documents and chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		if err := container.Documents.DeleteSubject(cmd.Context(), ownerID, args[0]); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		cmd.Printf("subject %s deleted\n", args[0])
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Run a retrieval query the way the api does",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		res, err := container.Query.Query(cmd.Context(), ownerID, strings.Join(args, " "), querySubject)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		if queryJSON {
			out, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		}
		if !res.Found {
			cmd.Printf("No relevant passages (scope %s, fallback %t, degraded %t).\n", res.Scope, res.FallbackUsed, res.Degraded)
			return nil
		}
		for i, p := range res.Passages {
			cmd.Printf("  [%d] %.3f  %s#%d\n", i+1, p.Score, p.DocumentID, p.ChunkIndex)
			cmd.Printf("      %s\n", utils.TruncateString(strings.Join(strings.Fields(p.Text), " "), 160))
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&querySubject, "subject", "", "restrict the query to a subject")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the raw result as JSON")

	rootCmd.AddCommand(resetIndexCmd, reprocessCmd, deleteDocumentCmd, deleteSubjectCmd, queryCmd)
}
