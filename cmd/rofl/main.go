package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m0w0kuma/rofl/pkg/patch"
	"github.com/m0w0kuma/rofl/pkg/pipeline"
	"github.com/m0w0kuma/rofl/pkg/replay"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rofl",
		Short: "Decode ward placements and player movement out of replay files",
	}
	root.AddCommand(newFileCmd(), newFolderCmd())
	return root
}

func newFileCmd() *cobra.Command {
	var replayFile, outputFile, patchFile string

	cmd := &cobra.Command{
		Use:   "file",
		Short: "Decode a single replay file",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(replayFile)
			if err != nil {
				return err
			}
			if patchFile == "" {
				md, err := replay.ParseMetadata(raw)
				if err != nil {
					return err
				}
				patchFile = patchPathForVersion(md.Version)
			}
			img, err := patch.Load(patchFile)
			if err != nil {
				return err
			}
			return decodeOne(replayFile, outputFile, img)
		},
	}
	cmd.Flags().StringVar(&replayFile, "replay-file", "", "path to the replay file")
	cmd.Flags().StringVar(&outputFile, "output-file", "", "path to write the decoded JSON report")
	cmd.Flags().StringVar(&patchFile, "patch-file", "", "override the patch archive chosen from the replay's version")
	cmd.MarkFlagRequired("replay-file")
	cmd.MarkFlagRequired("output-file")
	return cmd
}

func newFolderCmd() *cobra.Command {
	var replayFolder, outputFolder, patchVersion string

	cmd := &cobra.Command{
		Use:   "folder",
		Short: "Decode every replay file in a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := patch.Load(patchPathForVersion(patchVersion))
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(replayFolder)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outputFolder, 0o755); err != nil {
				return err
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				in := filepath.Join(replayFolder, entry.Name())
				out := filepath.Join(outputFolder, strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))+".json")
				if err := decodeOne(in, out, img); err != nil {
					log.Error().Err(err).Str("replay", in).Msg("decode failed")
					continue
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&replayFolder, "replay-folder", "", "directory of replay files")
	cmd.Flags().StringVar(&outputFolder, "output-folder", "", "directory to write decoded JSON reports")
	cmd.Flags().StringVar(&patchVersion, "patch-version", "", "game version all replays in the folder were recorded on")
	cmd.MarkFlagRequired("replay-folder")
	cmd.MarkFlagRequired("output-folder")
	cmd.MarkFlagRequired("patch-version")
	return cmd
}

func decodeOne(replayPath, outputPath string, img *patch.Image) error {
	orch := pipeline.NewOrchestrator(0)
	report, err := orch.Run(replayPath, img)
	if err != nil {
		return err
	}
	if orch.WardFailures > 0 {
		log.Warn().Int64("count", orch.WardFailures).Str("replay", replayPath).Msg("ward spawn decodes skipped")
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, out, 0o644)
}

// patchPathForVersion transforms a game version like "14.9.1" into the
// on-disk patch archive name "./patch/14-9.patch": dots become hyphens
// and the last dotted segment is dropped (spec.md §6).
func patchPathForVersion(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) > 1 {
		parts = parts[:len(parts)-1]
	}
	return filepath.Join("patch", strings.Join(parts, "-")+".patch")
}
