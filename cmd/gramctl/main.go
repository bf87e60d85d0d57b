package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gramsearch/internal/analysis"
	"gramsearch/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:   "gramctl",
		Short: "Inspect gramsearch analyzers",
		Long: `gramctl runs gramsearch analyzers locally and prints what they emit.

Examples:
  gramctl analyze --type edge-ngram-tokenizer --min-gram 1 --max-gram 3 "Hello"
  gramctl analyze --config gramsearch.toml --analyzer titles "說話 quickly"
  gramctl analyzers`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "TOML or YAML config declaring named analyzers")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log dictionary loads and truncation to stderr")

	rootCmd.AddCommand(c.newAnalyzeCmd(), c.newAnalyzersCmd())
	return rootCmd
}

// registry builds the built-in analyzers plus any the config declares.
func (c *cli) registry(cmd *cobra.Command) (*analysis.Registry, error) {
	level := slog.LevelError
	if c.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	return cfg.NewAnalyzerRegistry(logger)
}

func (c *cli) newAnalyzeCmd() *cobra.Command {
	var (
		name     string
		settings analysis.Settings
	)
	cmd := &cobra.Command{
		Use:   "analyze [flags] TEXT",
		Short: "Print the tokens an analyzer emits for TEXT",
		Long: `Print one line per token as position:[term]:(start-->end):type, followed by the
end-of-stream offset and position increment. Settings flags describe an ad-hoc analyzer;
--analyzer selects a registered one instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := c.registry(cmd)
			if err != nil {
				return err
			}

			var analyzer *analysis.Analyzer
			if name != "" {
				analyzer, err = registry.Get(name)
			} else {
				analyzer, err = registry.Build("gramctl", settings)
			}
			if err != nil {
				return err
			}

			pipeline, err := analyzer.TokenStream(strings.NewReader(strings.Join(args, " ")))
			if err != nil {
				return err
			}
			if err := analysis.Display(cmd.OutOrStdout(), pipeline); err != nil {
				return err
			}
			if pipeline.Truncated() {
				fmt.Fprintf(cmd.ErrOrStderr(), "input truncated at %d characters\n", analyzer.Settings().MaxInputChars)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&name, "analyzer", "a", "", "Registered analyzer name")
	flags.StringVarP(&settings.Type, "type", "t", analysis.TypeNGramAnalyzer, "Analyzer type")
	flags.IntVar(&settings.MinGram, "min-gram", analysis.DefaultMinGram, "Smallest gram size in characters")
	flags.IntVar(&settings.MaxGram, "max-gram", analysis.DefaultMaxGram, "Largest gram size in characters")
	flags.BoolVar(&settings.PreserveOriginal, "keep-original", false, "Also emit tokens outside the gram range")
	flags.StringVar(&settings.Side, "side", analysis.SideFront.String(), "Anchor side of edge grams (front or back)")
	flags.StringVar(&settings.ConvertType, "convert-type", "t2s", "Script conversion: t2s, s2t or none")
	flags.BoolVar(&settings.KeepBoth, "keep-both", false, "Emit converted and original terms")
	flags.StringVar(&settings.StopwordDictPath, "stopword-dict", "", "Stopword list, one word per line")
	flags.BoolVar(&settings.StopwordIgnoreCase, "stopword-ignore-case", false, "Match stopwords case-insensitively")
	flags.StringVar(&settings.ConversionDictPath, "conversion-dict", "", "Conversion dictionary replacing the built-in table")
	flags.IntVar(&settings.MaxInputChars, "max-input-chars", 0, "Read cap of whole-input tokenizers (0 keeps the default)")
	return cmd
}

func (c *cli) newAnalyzersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyzers",
		Short: "List registered analyzers and their settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := c.registry(cmd)
			if err != nil {
				return err
			}
			return listAnalyzers(cmd.OutOrStdout(), registry)
		},
	}
}

func listAnalyzers(w io.Writer, registry *analysis.Registry) error {
	for _, name := range registry.Names() {
		a, err := registry.Get(name)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", name, a.Settings()); err != nil {
			return err
		}
	}
	return nil
}
