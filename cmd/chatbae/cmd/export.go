package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/username/chatbae/internal/domain/services"
	"github.com/username/chatbae/internal/export"
	"github.com/username/chatbae/internal/pkg/factory"
)

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export <conversation-id>",
	Short: "Write a stored conversation to a file",
	Long:  "Exports one conversation as plain text, markdown or JSON. The file is named after the conversation title unless --output is given; --output - writes to stdout.",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := factory.NewLogger(cfg)
	ctx := cmd.Context()

	store, err := factory.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	repo := services.NewStateRepository(store, logger)
	snap := repo.LoadSnapshot(ctx)

	id := args[0]
	for _, conv := range snap.Conversations {
		if conv.ID != id {
			continue
		}

		exporter, err := export.New(format, cfg.Chat.AssistantName)
		if err != nil {
			return err
		}
		data, err := exporter.Export(conv, snap.Profile.Name)
		if err != nil {
			return err
		}

		if exportOutput == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}

		path := exportOutput
		if path == "" {
			path = export.FileName(conv.Title, exporter)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %q to %s\n", conv.Title, path)
		return nil
	}

	return fmt.Errorf("conversation %q not found", id)
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", string(export.FormatText), "export format: txt, md or json")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file, - for stdout")
}
