// latexfogel renders LaTeX and Typst snippets from chat messages into
// images, inside a locked-down container.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "latexfogel",
	Short: "latexfogel — renders LaTeX and Typst from chat into images.",
	Long: `latexfogel is a chat bot that renders LaTeX and Typst snippets into
images. Untrusted markup is compiled inside a resource-capped, network-isolated
container; the bot also answers questions through Wolfram|Alpha.`,
	RunE:          runBot, // Default to bot mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(botCmd, renderLatexCmd, renderTypstCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
