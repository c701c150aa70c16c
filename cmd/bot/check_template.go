package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgard/marketbot/internal/template"
)

var errTemplateInvalid = errors.New("template is invalid")

func newCheckTemplateCmd() *cobra.Command {
	var withImage bool

	cmd := &cobra.Command{
		Use:   "check-template [text...]",
		Short: "Validate a market template",
		Long: `Parses a filled-in market template the same way the bot does and prints
every problem found. The text is read from stdin when no arguments are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read template: %w", err)
				}
				text = string(raw)
			}
			return checkTemplate(cmd.OutOrStdout(), text, withImage, time.Now())
		},
	}
	cmd.Flags().BoolVar(&withImage, "with-image", true, "Treat the message as carrying an image")
	return cmd
}

func checkTemplate(w io.Writer, text string, withImage bool, now time.Time) error {
	result := template.Parse(text, withImage, now)
	if !result.Success {
		fmt.Fprintln(w, "Template has problems:")
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
		return errTemplateInvalid
	}

	p := result.Params
	fmt.Fprintln(w, "Template OK")
	fmt.Fprintf(w, "  question:    %s\n", p.Question)
	fmt.Fprintf(w, "  category:    %s\n", p.Category)
	fmt.Fprintf(w, "  end:         %s\n", p.EndDate.Format(time.RFC3339))
	fmt.Fprintf(w, "  resolver:    %s\n", p.Resolver.Type)
	if len(p.Resolver.Voters) > 0 {
		fmt.Fprintf(w, "  voters:      %s\n", strings.Join(p.Resolver.Voters, ", "))
	}
	fmt.Fprintf(w, "  fee wallet:  %s\n", result.FeeReceiverWallet)
	return nil
}
