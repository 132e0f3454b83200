package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-exam-grader/internal/segment"
	"github.com/noah-isme/gema-exam-grader/internal/service"
)

type segmentOutput struct {
	File  string         `json:"file"`
	Count int            `json:"count"`
	Pairs []segment.Pair `json:"pairs"`
}

func newSegmentCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "segment <file>",
		Short: "Print the question/answer pairs found in a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := readDocument(args[0])
			if err != nil {
				return err
			}

			pairs := segment.Segment(lines)
			if pairs == nil {
				pairs = []segment.Pair{}
			}
			rt.logger.Debug().Str("file", args[0]).Int("pairs", len(pairs)).Msg("document segmented")
			return writeJSON(cmd, segmentOutput{File: args[0], Count: len(pairs), Pairs: pairs})
		},
	}
}

func readDocument(path string) ([]string, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines, err := service.DecodeDocument(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lines, nil
}
