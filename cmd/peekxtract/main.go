// Command peekxtract is a one-shot CLI over the peekxtract engine: list,
// search, and extract members of a ZIP archive from its URL alone.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ArKT-7/PeekXtract"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "peekxtract",
		Short:         "Peek into and extract from remote ZIP archives without downloading them",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelInfo
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log transport and extraction detail")

	root.AddCommand(newListCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newExtractCmd())
	return root
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <url>",
		Short: "Print the archive's member catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := peekxtract.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer h.Close()

			for _, m := range h.List() {
				printMember(m)
			}
			return nil
		},
	}
}

func newSearchCmd() *cobra.Command {
	var useGlob bool

	cmd := &cobra.Command{
		Use:   "search <url> <pattern>",
		Short: "List members matching a pattern",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := peekxtract.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer h.Close()

			var matches []peekxtract.Member
			if useGlob {
				matches = h.SearchGlob(args[1])
			} else {
				matches = h.Search(args[1])
			}
			for _, m := range matches {
				printMember(m)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useGlob, "glob", false, "match with a doublestar glob pattern instead of regex/substring")
	return cmd
}

func newExtractCmd() *cobra.Command {
	var outDir string
	var noVerify bool

	cmd := &cobra.Command{
		Use:   "extract <url> <index...>",
		Short: "Extract one or more members by catalog index",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := peekxtract.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer h.Close()

			if !cmd.Flags().Changed("out") {
				outDir = rootDirName(h.URL(), h.Header())
			}

			indices, err := parseIndices(args[1:])
			if err != nil {
				return err
			}

			for _, idx := range indices {
				if err := extractOne(cmd.Context(), h, idx, outDir, noVerify); err != nil {
					fmt.Fprintf(os.Stderr, "peekxtract: index %d: %v\n", idx, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "directory to materialize extracted members into (default: derived from the archive's URL)")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip CRC-32 verification")
	return cmd
}

func extractOne(ctx context.Context, h *peekxtract.Handle, idx int, outDir string, noVerify bool) error {
	members := h.List()
	if idx < 1 || idx > len(members) {
		return fmt.Errorf("index out of range")
	}
	name := members[idx-1].Name

	sink, err := newFileSink(outDir, name)
	if err != nil {
		return err
	}
	defer sink.Close()

	bar := newProgressPrinter(name)
	res, err := h.Extract(ctx, idx, peekxtract.ExtractOptions{
		Sink:     sink,
		Progress: bar.update,
		NoVerify: noVerify,
	})
	bar.done()
	if err != nil {
		return err
	}
	if res.CRCChecked && !res.CRCOK {
		fmt.Fprintf(os.Stderr, "peekxtract: %s: CRC-32 mismatch\n", name)
	}
	return nil
}

func parseIndices(args []string) ([]int, error) {
	out := make([]int, 0, len(args))
	for _, a := range args {
		var n int
		if _, err := fmt.Sscanf(a, "%d", &n); err != nil {
			return nil, fmt.Errorf("invalid index %q", a)
		}
		out = append(out, n)
	}
	return out, nil
}

func printMember(m peekxtract.Member) {
	fmt.Printf("%4d  %10d  %-8s  %s\n", m.Index, m.UncompressedSize, methodName(m.Method), m.Name)
}

func methodName(method uint16) string {
	switch method {
	case 0:
		return "stored"
	case 8:
		return "deflate"
	case 12:
		return "bzip2"
	case 14:
		return "lzma"
	default:
		return fmt.Sprintf("method%d", method)
	}
}
